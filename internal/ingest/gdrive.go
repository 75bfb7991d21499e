package ingest

import (
	"net/url"
	"regexp"
	"strings"
)

var driveFileIDPattern = regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)`)

// DriveDownloadURL rewrites a Google Drive share link into a direct download link.
// Links of the form ".../d/<id>/..." or "...?id=<id>" are converted; anything else is
// returned unchanged.
func DriveDownloadURL(link string) string {
	if !strings.Contains(link, "drive.google.com") {
		return link
	}
	id := ""
	if m := driveFileIDPattern.FindStringSubmatch(link); m != nil {
		id = m[1]
	} else if u, err := url.Parse(link); err == nil {
		id = u.Query().Get("id")
	}
	if id == "" {
		return link
	}
	return "https://drive.google.com/uc?export=download&id=" + id
}
