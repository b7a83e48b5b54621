package scraper

import (
	"context"

	"igbatch/pkg/auth"
	"igbatch/pkg/browser"
)

// Authenticator logs a page in
type Authenticator interface {
	EnsureAuthenticated(ctx context.Context, page browser.Page, creds auth.Credentials) error
}

// Crawler lists the post URLs of a profile after classifying it
type Crawler interface {
	ListPostURLs(ctx context.Context, page browser.Page, username string, limit int) ([]string, error)
}
