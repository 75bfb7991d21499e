package models

import "time"

// Source tracks one ingested file or URL and the item ids produced from it, so a changed
// or removed source can be re-ingested or purged.
type Source struct {
	Path       string    `json:"path"`
	ModTime    int64     `json:"mod_time"`
	Size       int64     `json:"size"`
	ItemIDs    []string  `json:"item_ids"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Unchanged reports whether the source still has the given modification time and size.
func (s *Source) Unchanged(modTime, size int64) bool {
	return s != nil && s.ModTime == modTime && s.Size == size
}
