package domain

import "time"

// Episode is a generated podcast episode. Episodes are written by the
// generation workflow; this service only reads them.
type Episode struct {
	ContentHash   string
	Title         string
	Description   string
	ImageURL      string
	PublishedAt   time.Time
	Tags          []string
	TotalDuration float64
}

// Filename is the audio object name derived from the content hash.
func (e Episode) Filename() string {
	return e.ContentHash + ".mp3"
}
