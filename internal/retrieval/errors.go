package retrieval

import "errors"

var (
	// ErrArgumentMismatch is returned by BulkAddItems when its input slices differ in length.
	ErrArgumentMismatch = errors.New("argument length mismatch")
	// ErrEmptyContent is returned when an item has no content to embed.
	ErrEmptyContent = errors.New("item content is empty")
	// ErrEmptyQuery is returned by GetRetrievals for a blank query.
	ErrEmptyQuery = errors.New("query is empty")
	// ErrNotFound is returned for an unknown item id.
	ErrNotFound = errors.New("item not found")
)
