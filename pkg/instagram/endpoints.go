package instagram

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// DefaultBaseURL is the private mobile API root
	DefaultBaseURL = "https://i.instagram.com/api/v1"

	// DefaultUserAgent mimics the Android app the private API expects
	DefaultUserAgent = "Instagram 269.0.0.18.75 Android (26/8.0.0; 480dpi; 1080x1920; OnePlus; 6T Dev; devitron; qcom; en_US; 314665256)"

	// AppID is the Android application id sent with every request
	AppID = "567067343352427"

	LoginEndpoint        = "/accounts/login/"
	CurrentUserEndpoint  = "/accounts/current_user/"
	UsernameInfoEndpoint = "/users/%s/usernameinfo/"
	UserStoryEndpoint    = "/feed/user/%s/story/"
)

func joinURL(base, path string, query url.Values) string {
	u := strings.TrimRight(base, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// UsernameInfoPath returns the lookup path for username
func UsernameInfoPath(username string) string {
	return fmt.Sprintf(UsernameInfoEndpoint, url.PathEscape(username))
}

// UserStoryPath returns the story feed path for a user id
func UserStoryPath(userID string) string {
	return fmt.Sprintf(UserStoryEndpoint, url.PathEscape(userID))
}

// IsValidUsername checks if a username is valid according to Instagram rules
func IsValidUsername(username string) bool {
	if username == "" || len(username) > 30 {
		return false
	}

	// Letters, numbers, periods and underscores only
	for _, char := range username {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '.' || char == '_') {
			return false
		}
	}

	return true
}

// SanitizeUsername strips a leading @ and trailing slashes or spaces
func SanitizeUsername(username string) string {
	username = strings.TrimSpace(username)
	username = strings.TrimPrefix(username, "@")
	return strings.TrimRight(username, "/ ")
}
