package tokenfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testSession() *File {
	return &File{
		Token: &oauth2.Token{
			AccessToken:  "access-123",
			RefreshToken: "refresh-456",
			TokenType:    "Bearer",
			Expiry:       time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		UserID: "0b1d6c9e-user",
		Email:  "alice@example.com",
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	f, err := Load("/nonexistent/path/session.json")
	assert.Nil(t, f)
	assert.NoError(t, err)
}

func TestLoad_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	require.NoError(t, Save(path, testSession()))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "access-123", f.Token.AccessToken)
	assert.Equal(t, "refresh-456", f.Token.RefreshToken)
	assert.Equal(t, "Bearer", f.Token.TokenType)
	assert.True(t, f.Token.Expiry.Equal(time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "0b1d6c9e-user", f.UserID)
	assert.Equal(t, "alice@example.com", f.Email)
}

func TestLoad_MissingTokenField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	require.NoError(t, os.WriteFile(path, []byte(`{"user_id":"u1"}`), 0o600))

	f, err := Load(path)
	assert.Nil(t, f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing token field")
}

func TestLoad_MissingUserID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	require.NoError(t, os.WriteFile(path, []byte(`{"token":{"access_token":"a"}}`), 0o600))

	f, err := Load(path)
	assert.Nil(t, f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing user_id")
}

func TestLoad_EmptyCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	require.NoError(t, os.WriteFile(path, []byte(`{"token":{"token_type":"Bearer"},"user_id":"u1"}`), 0o600))

	f, err := Load(path)
	assert.Nil(t, f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty credentials")
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	require.NoError(t, os.WriteFile(path, []byte(`{not json}`), 0o600))

	f, err := Load(path)
	assert.Nil(t, f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding")
}

func TestSave_CreatesDirectoryWithOwnerOnlyPerms(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "sub", "dir", "session.json")

	require.NoError(t, Save(nested, testSession()))

	info, err := os.Stat(nested)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(nested))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestSave_NilToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	err := Save(path, &File{UserID: "u1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to save nil token")
}

func TestUpdateToken_KeepsIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	require.NoError(t, Save(path, testSession()))
	require.NoError(t, UpdateToken(path, &oauth2.Token{AccessToken: "fresh", RefreshToken: "r2"}))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fresh", f.Token.AccessToken)
	assert.Equal(t, "0b1d6c9e-user", f.UserID)
	assert.Equal(t, "alice@example.com", f.Email)
}

func TestUpdateToken_NoSession(t *testing.T) {
	err := UpdateToken(filepath.Join(t.TempDir(), "session.json"), &oauth2.Token{AccessToken: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no session file")
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	require.NoError(t, Save(path, testSession()))
	require.NoError(t, Remove(path))
	require.NoError(t, Remove(path), "removing a missing session is not an error")

	f, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, f)
}
