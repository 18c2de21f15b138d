package session

import "sync"

// Credentials identify the signed-in user to the chat backend.
type Credentials struct {
	UserID int    `json:"user_id"`
	Token  string `json:"token"`
}

// Valid reports whether both the user id and the token are present.
func (c Credentials) Valid() bool {
	return c.UserID != 0 && c.Token != ""
}

// CredentialStore holds the credentials of the active session.
type CredentialStore struct {
	mu    sync.RWMutex
	creds Credentials
}

func (s *CredentialStore) Set(creds Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
}

func (s *CredentialStore) Clear() {
	s.Set(Credentials{})
}

func (s *CredentialStore) Get() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// Token returns the bearer token for REST calls.
func (s *CredentialStore) Token() string {
	return s.Get().Token
}

func (s *CredentialStore) UserID() int {
	return s.Get().UserID
}
