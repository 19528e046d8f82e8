package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoSession means nobody is logged in on this machine.
var ErrNoSession = errors.New("no saved session")

// Session is the login kept between bb invocations. It is bound to the API it
// was issued by.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Email        string    `json:"email"`
	UserID       string    `json:"user_id"`
	APIBaseURL   string    `json:"api_base_url"`
	SavedAt      time.Time `json:"saved_at"`
}

// BaseDir is ~/.bb, where bb keeps its session and offline queue.
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".bb"), nil
}

type SessionStore struct {
	path string
}

func OpenSessionStore(dir string) (*SessionStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &SessionStore{path: filepath.Join(dir, "session.json")}, nil
}

func (s *SessionStore) Save(sess Session) error {
	if strings.TrimSpace(sess.AccessToken) == "" {
		return errors.New("refusing to save a session without an access token")
	}
	if sess.SavedAt.IsZero() {
		sess.SavedAt = time.Now().UTC()
	}
	body, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, body, 0o600)
}

// Load returns the saved session for apiBaseURL. A session issued by another
// API is treated as missing.
func (s *SessionStore) Load(apiBaseURL string) (Session, error) {
	body, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal(body, &sess); err != nil {
		return Session{}, fmt.Errorf("read %s: %w", s.path, err)
	}
	if strings.TrimSpace(sess.AccessToken) == "" {
		return Session{}, ErrNoSession
	}
	want := strings.TrimRight(strings.TrimSpace(apiBaseURL), "/")
	if sess.APIBaseURL != "" && want != "" && sess.APIBaseURL != want {
		return Session{}, fmt.Errorf("%w for %s (logged in to %s)", ErrNoSession, want, sess.APIBaseURL)
	}
	return sess, nil
}

func (s *SessionStore) Clear() error {
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
