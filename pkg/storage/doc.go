// Package storage manages the download workspace for story images.
//
// Images live at <dir>/<post id><ext> and are written atomically by the feed
// adapter. The relay removes an image once its post has been delivered and
// leaves it in place otherwise, so Retained doubles as a list of posts that
// were downloaded but not relayed.
package storage
