package auth

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestCredentialsValidate(t *testing.T) {
	assert.Error(t, (*Credentials)(nil).Validate())
	assert.EqualError(t, (&Credentials{Password: "x"}).Validate(), "username is required")
	assert.EqualError(t, (&Credentials{Username: "scraper"}).Validate(), "password is required")
	assert.NoError(t, (&Credentials{Username: "scraper", Password: "hunter22"}).Validate())
}

func TestCredentialsStringMasksPassword(t *testing.T) {
	c := Credentials{Username: "scraper", Password: "hunter2hunter2"}
	assert.NotContains(t, c.String(), "hunter2hunter2")
	assert.Contains(t, c.String(), "scraper")
}

func TestCredentialManager(t *testing.T) {
	manager, mockStore := NewMockManager()

	require.NoError(t, manager.Store(&Credentials{Username: "scraper", Password: "secret-pass"}))

	retrieved, err := manager.Retrieve("scraper")
	require.NoError(t, err)
	assert.Equal(t, "secret-pass", retrieved.Password)
	assert.False(t, retrieved.LastModified.IsZero())

	list, err := manager.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, manager.Delete("scraper"))
	_, err = manager.Retrieve("scraper")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	assert.Equal(t, 0, mockStore.Count())
}

func TestManagerRejectsIncompleteCredentials(t *testing.T) {
	manager, store := NewMockManager()
	assert.Error(t, manager.Store(&Credentials{Username: "scraper"}))
	assert.Equal(t, 0, store.Count())
}

func TestManagerFallsBackToNextStore(t *testing.T) {
	failing := NewMockStore()
	failing.StoreError = errors.New("keychain locked")
	backup := NewMockStore()

	manager := NewManagerWithStores(failing, backup)
	require.NoError(t, manager.Store(&Credentials{Username: "scraper", Password: "pw-123456"}))
	assert.Equal(t, 1, backup.Count())
}

func TestManagerListPrefersNewest(t *testing.T) {
	older := NewMockStore()
	newer := NewMockStore()
	require.NoError(t, older.Store(&Credentials{Username: "scraper", Password: "old", LastModified: time.Now().Add(-time.Hour)}))
	require.NoError(t, newer.Store(&Credentials{Username: "scraper", Password: "new", LastModified: time.Now()}))

	list, err := NewManagerWithStores(older, newer).List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].Password)
}

func TestRetrieveDefaultPrefersEnvironment(t *testing.T) {
	t.Setenv("INSTAGRAM_USERNAME", "env-user")
	t.Setenv("INSTAGRAM_PASSWORD", "env-pass")

	stored := NewMockStore()
	require.NoError(t, stored.Store(&Credentials{Username: "stored", Password: "pw"}))

	creds, err := NewManagerWithStores(stored, NewEnvironmentStore()).RetrieveDefault()
	require.NoError(t, err)
	assert.Equal(t, "env-user", creds.Username)
}

func TestRetrieveDefaultFallsBackToStored(t *testing.T) {
	t.Setenv("INSTAGRAM_USERNAME", "")
	t.Setenv("INSTAGRAM_PASSWORD", "")
	t.Setenv("IGBATCH_INSTAGRAM_USERNAME", "")
	t.Setenv("IGBATCH_INSTAGRAM_PASSWORD", "")

	manager, store := NewMockManager()
	_, err := manager.RetrieveDefault()
	assert.ErrorIs(t, err, ErrCredentialsNotFound)

	require.NoError(t, store.Store(&Credentials{Username: "stored", Password: "pw"}))
	creds, err := manager.RetrieveDefault()
	require.NoError(t, err)
	assert.Equal(t, "stored", creds.Username)
}

func TestEncryptedFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.enc")
	store, err := NewEncryptedFileStoreWithPassphrase(path, "test_passphrase_123")
	require.NoError(t, err)

	require.NoError(t, store.Store(&Credentials{Username: "encrypted_user", Password: "plaintext-password"}))
	require.NoError(t, store.Store(&Credentials{Username: "second", Password: "another"}))

	retrieved, err := store.Retrieve("encrypted_user")
	require.NoError(t, err)
	assert.Equal(t, "plaintext-password", retrieved.Password)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(content, []byte("plaintext-password")), "file must not hold the plaintext password")

	list, err := store.List()
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, store.Delete("encrypted_user"))
	require.NoError(t, store.Delete("second"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "file removed with the last identity")
}

func TestEncryptedFileStoreWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.enc")
	store, err := NewEncryptedFileStoreWithPassphrase(path, "right")
	require.NoError(t, err)
	require.NoError(t, store.Store(&Credentials{Username: "u", Password: "p"}))

	other, err := NewEncryptedFileStoreWithPassphrase(path, "wrong")
	require.NoError(t, err)
	_, err = other.Retrieve("u")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCredentialsNotFound)
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv("INSTAGRAM_USERNAME", "env-user")
	t.Setenv("INSTAGRAM_PASSWORD", "env-pass")
	store := NewEnvironmentStore()

	creds, err := store.Retrieve("")
	require.NoError(t, err)
	assert.Equal(t, "env-user", creds.Username)
	assert.Equal(t, "env-pass", creds.Password)

	_, err = store.Retrieve("someone-else")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)

	assert.ErrorIs(t, store.Store(creds), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Delete("env-user"), ErrStoreUnavailable)
	assert.True(t, store.Exists("env-user"))
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()

	store, err := NewKeyringStore()
	require.NoError(t, err)

	require.NoError(t, store.Store(&Credentials{Username: "alpha", Password: "a-pass"}))
	require.NoError(t, store.Store(&Credentials{Username: "beta", Password: "b-pass"}))

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Username)

	require.NoError(t, store.Delete("alpha"))
	assert.False(t, store.Exists("alpha"))
	assert.ErrorIs(t, store.Delete("alpha"), ErrCredentialsNotFound)

	list, err = store.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
