package auth

import (
	"os"
	"time"
)

// EnvironmentStore reads a single identity from the environment. The
// IGBATCH_ prefixed names win over the plain INSTAGRAM_ ones.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func envCredentials() (string, string) {
	user := firstEnv("IGBATCH_INSTAGRAM_USERNAME", "INSTAGRAM_USERNAME")
	pass := firstEnv("IGBATCH_INSTAGRAM_PASSWORD", "INSTAGRAM_PASSWORD")
	return user, pass
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(creds *Credentials) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment identity. An empty username matches it;
// any other username must equal the one in the environment.
func (e *EnvironmentStore) Retrieve(username string) (*Credentials, error) {
	user, pass := envCredentials()
	if user == "" || pass == "" {
		return nil, ErrCredentialsNotFound
	}
	if username != "" && username != user {
		return nil, ErrCredentialsNotFound
	}

	return &Credentials{
		Username:     user,
		Password:     pass,
		LastModified: time.Now(),
	}, nil
}

// List returns a single identity if environment variables are set
func (e *EnvironmentStore) List() ([]*Credentials, error) {
	creds, err := e.Retrieve("")
	if err != nil {
		return []*Credentials{}, nil
	}
	return []*Credentials{creds}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(username string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(username string) bool {
	_, err := e.Retrieve(username)
	return err == nil
}
