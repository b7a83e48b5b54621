package storage

import (
	"errors"
	"time"
)

var (
	// ErrAccountNotFound is returned for usernames that are not tracked
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists is returned when adding a tracked username again
	ErrAccountExists = errors.New("account already exists")
	// ErrInvalidUsername is returned for names Instagram would not accept
	ErrInvalidUsername = errors.New("invalid Instagram username")
)

// Account is a tracked Instagram profile
type Account struct {
	Username    string       `json:"username"`
	LastScraped *time.Time   `json:"lastScraped,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	LastPosts   []StoredPost `json:"lastPosts"`
}

// StoredPost is the persisted subset of a scraped post
type StoredPost struct {
	URL           string    `json:"url"`
	Date          time.Time `json:"date"`
	DateEstimated bool      `json:"dateEstimated,omitempty"`
	Caption       string    `json:"caption"`
	ImageURL      *string   `json:"imageUrl"`
	VideoID       *string   `json:"videoId"`
}

// Run is one row of batch history
type Run struct {
	ID               string    `json:"id"`
	StartedAt        time.Time `json:"startedAt"`
	FinishedAt       time.Time `json:"finishedAt"`
	Total            int       `json:"total"`
	SuccessCount     int       `json:"successCount"`
	TotalRecentPosts int       `json:"totalRecentPosts"`
	Trigger          string    `json:"trigger"`
}
