package instagram

import (
	"time"

	errs "igbatch/pkg/errors"
)

// NoCaption is the placeholder caption when no strategy found one
const NoCaption = "No caption available"

// Post is the record extracted from one post page. It is never mutated
// after the extractor returns it.
type Post struct {
	URL  string    `json:"url"`
	Date time.Time `json:"date"`
	// DateEstimated marks a Date substituted with the extraction time
	// because the page exposed no timestamp.
	DateEstimated bool    `json:"dateEstimated,omitempty"`
	Caption       string  `json:"caption"`
	ImageURL      *string `json:"imageUrl"`
	VideoID       *string `json:"videoId"`
	Error         string  `json:"error,omitempty"`
}

// Status is the accessibility of a profile page
type Status string

const (
	StatusAccessible Status = "accessible"
	StatusPrivate    Status = "private"
	StatusNotFound   Status = "not_found"
	StatusNoPosts    Status = "no_posts"
	StatusUnknown    Status = "unknown"
)

// Err returns the classified error for an inaccessible status, or nil for
// accessible and no_posts.
func (s Status) Err(username string) error {
	switch s {
	case StatusPrivate:
		return errs.Newf(errs.ErrorTypePrivate, "Account %s is private", username)
	case StatusNotFound:
		return errs.Newf(errs.ErrorTypeNotFound, "Account %s not found", username)
	case StatusUnknown:
		return errs.Newf(errs.ErrorTypeUnknownStatus, "Could not determine the status of account %s", username)
	default:
		return nil
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
