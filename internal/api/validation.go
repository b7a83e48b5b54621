package api

import (
	"net/url"
	"strconv"
	"strings"

	"igbatch/pkg/instagram"
)

// Validation messages returned to clients with status 400
const (
	MsgNoCredentials        = "Instagram credentials not configured on server"
	MsgUsernamesRequired    = "Instagram usernames are required"
	MsgInvalidConcurrency   = "Invalid concurrency limit"
	MsgInvalidPostLimit     = "Invalid post limit"
	MsgInvalidTimeThreshold = "Invalid time threshold"
)

// Accepted parameter ranges, inclusive
const (
	MinConcurrency   = 1
	MaxConcurrency   = 4
	MinPostLimit     = 1
	MaxPostLimit     = 10
	MinTimeThreshold = 1
	MaxTimeThreshold = 36
)

// ScrapeRequest is a validated multi-account scrape request
type ScrapeRequest struct {
	Usernames     []string
	Concurrency   int
	PostLimit     int
	TimeThreshold int
}

// Defaults fill parameters the client left out
type Defaults struct {
	Concurrency   int
	PostLimit     int
	TimeThreshold int
}

// ValidationError is a client error with a fixed message
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ParseScrapeRequest checks the query of a scrape request. Checks run in a
// fixed order and the first failure is reported.
func ParseScrapeRequest(q url.Values, hasCredentials bool, d Defaults) (ScrapeRequest, error) {
	if !hasCredentials {
		return ScrapeRequest{}, &ValidationError{MsgNoCredentials}
	}

	usernames := instagram.ParseUsernames(q.Get("usernames"))
	if len(usernames) == 0 {
		return ScrapeRequest{}, &ValidationError{MsgUsernamesRequired}
	}

	req := ScrapeRequest{Usernames: usernames}
	var ok bool
	if req.Concurrency, ok = intParam(q, "concurrency", d.Concurrency, MinConcurrency, MaxConcurrency); !ok {
		return ScrapeRequest{}, &ValidationError{MsgInvalidConcurrency}
	}
	if req.PostLimit, ok = intParam(q, "postLimit", d.PostLimit, MinPostLimit, MaxPostLimit); !ok {
		return ScrapeRequest{}, &ValidationError{MsgInvalidPostLimit}
	}
	if req.TimeThreshold, ok = intParam(q, "timeThreshold", d.TimeThreshold, MinTimeThreshold, MaxTimeThreshold); !ok {
		return ScrapeRequest{}, &ValidationError{MsgInvalidTimeThreshold}
	}
	return req, nil
}

// intParam returns def when name is absent and false when it is present
// but not an integer within [lo, hi]
func intParam(q url.Values, name string, def, lo, hi int) (int, bool) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return 0, false
	}
	return v, true
}
