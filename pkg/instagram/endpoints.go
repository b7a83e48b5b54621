package instagram

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// BaseURL is the base URL for Instagram
	BaseURL = "https://www.instagram.com"

	// LoginPath is the interactive login form
	LoginPath = "/accounts/login/"

	// MaxUsernameLength is the longest username Instagram accepts
	MaxUsernameLength = 30
)

// HomeURL returns the feed page only a logged-in browser can see
func HomeURL() string {
	return BaseURL + "/"
}

// LoginURL returns the login form URL
func LoginURL() string {
	return BaseURL + LoginPath
}

// ProfileURL constructs the public profile URL for a user
func ProfileURL(username string) string {
	if username == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/", BaseURL, username)
}

// PostURL constructs the URL for a specific post
func PostURL(shortcode string) string {
	if shortcode == "" {
		return ""
	}
	return fmt.Sprintf("%s/p/%s/", BaseURL, shortcode)
}

// AbsoluteURL resolves an href found on an Instagram page
func AbsoluteURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	base, _ := url.Parse(BaseURL)
	resolved := base.ResolveReference(u)
	resolved.RawQuery = ""
	resolved.Fragment = ""
	return resolved.String()
}

// IsPostURL reports whether link points at a post or reel
func IsPostURL(link string) bool {
	_, kind := splitMediaPath(link)
	return kind != ""
}

// VideoID returns the reel identifier when postURL is a short-video URL
func VideoID(postURL string) (string, bool) {
	id, kind := splitMediaPath(postURL)
	if kind != "reel" && kind != "reels" {
		return "", false
	}
	return id, id != ""
}

// splitMediaPath extracts the shortcode and its path kind ("p", "reel",
// "reels") from a media URL. A profile-prefixed path such as
// /someone/p/abc/ is accepted as well.
func splitMediaPath(link string) (id, kind string) {
	u, err := url.Parse(link)
	if err != nil {
		return "", ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		switch parts[i] {
		case "p", "reel", "reels":
			if parts[i+1] != "" {
				return parts[i+1], parts[i]
			}
		}
	}
	return "", ""
}

// IsValidUsername checks if a username is valid according to Instagram rules
func IsValidUsername(username string) bool {
	if username == "" || len(username) > MaxUsernameLength {
		return false
	}

	// Instagram usernames can only contain letters, numbers, periods, and underscores
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

// SanitizeUsername strips the decorations people paste along with a
// username: a leading @, surrounding spaces and trailing slashes.
func SanitizeUsername(username string) string {
	username = strings.TrimSpace(username)
	username = strings.TrimPrefix(username, "@")
	return strings.TrimRight(username, "/ ")
}

// ParseUsernames splits a comma separated list. Empty entries are dropped
// but duplicates are kept so every requested name gets a result.
func ParseUsernames(list string) []string {
	var out []string
	for _, raw := range strings.Split(list, ",") {
		if name := SanitizeUsername(raw); name != "" {
			out = append(out, name)
		}
	}
	return out
}
