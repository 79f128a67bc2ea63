package instagram

import (
	"encoding/json"
	"time"
)

// MediaType distinguishes photo and video stories
type MediaType int

const (
	MediaTypePhoto MediaType = 1
	MediaTypeVideo MediaType = 2
)

func (m MediaType) String() string {
	switch m {
	case MediaTypePhoto:
		return "photo"
	case MediaTypeVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Story is one active story item. ImageURL is the first image candidate,
// which for video stories is the cover frame.
type Story struct {
	ID        string
	ImageURL  string
	TakenAt   time.Time
	MediaType MediaType
}

// apiStatus is the envelope every private API response carries
type apiStatus struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	ErrorType    string `json:"error_type"`
	RequireLogin bool   `json:"require_login"`
}

type loginResponse struct {
	apiStatus
	LoggedInUser struct {
		PK       json.Number `json:"pk"`
		Username string      `json:"username"`
	} `json:"logged_in_user"`
	TwoFactorRequired  bool `json:"two_factor_required"`
	InvalidCredentials bool `json:"invalid_credentials"`
}

type userResponse struct {
	apiStatus
	User struct {
		PK       json.Number `json:"pk"`
		Username string      `json:"username"`
	} `json:"user"`
}

type storyFeedResponse struct {
	apiStatus
	Reel *struct {
		Items []storyItem `json:"items"`
	} `json:"reel"`
}

type storyItem struct {
	PK             json.Number `json:"pk"`
	ID             string      `json:"id"`
	MediaType      MediaType   `json:"media_type"`
	TakenAt        int64       `json:"taken_at"`
	ImageVersions2 struct {
		Candidates []struct {
			URL    string `json:"url"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
		} `json:"candidates"`
	} `json:"image_versions2"`
}

// story converts a feed item; items without a pk fall back to the id prefix
func (i storyItem) story() Story {
	s := Story{
		ID:        i.PK.String(),
		MediaType: i.MediaType,
		TakenAt:   time.Unix(i.TakenAt, 0).UTC(),
	}
	if s.ID == "" {
		s.ID = i.ID
		for j := 0; j < len(i.ID); j++ {
			if i.ID[j] == '_' {
				s.ID = i.ID[:j]
				break
			}
		}
	}
	if len(i.ImageVersions2.Candidates) > 0 {
		s.ImageURL = i.ImageVersions2.Candidates[0].URL
	}
	return s
}
