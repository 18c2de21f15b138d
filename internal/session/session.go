package session

import (
	"context"
	"errors"
	"sync"

	"campus-chat/internal/logger"
	"campus-chat/internal/models"
	"campus-chat/internal/observability"
	"campus-chat/internal/ws"
)

var ErrNotActive = errors.New("no active chat session")

// Connection is the live transport owned by the session.
type Connection interface {
	Connect(ctx context.Context, userID int, token string) error
	Close()
	Subscribe(fn func(models.ChatEvent)) int
	Unsubscribe(id int)
	State() ws.State
}

// Store is the conversation state reset at session boundaries.
type Store interface {
	Init(userID int)
	Teardown()
	HandleEvent(ev models.ChatEvent)
}

type Windows interface {
	ResetAll()
}

type Poller interface {
	Start(ctx context.Context)
	Stop()
}

type Auditor interface {
	Emit(ctx context.Context, level, text, requestID string, userID int)
}

// Status describes the session for the view layer.
type Status struct {
	Active     bool     `json:"active"`
	UserID     int      `json:"user_id,omitempty"`
	Connection ws.State `json:"connection"`
}

// Session wires the chat core to one signed-in user.
type Session struct {
	conn    Connection
	store   Store
	windows Windows
	poller  Poller
	creds   *CredentialStore
	audit   Auditor

	mu     sync.Mutex
	active bool
	subID  int
}

// New constructs a Session. audit may be nil.
func New(conn Connection, store Store, windows Windows, poller Poller, creds *CredentialStore, audit Auditor) *Session {
	return &Session{
		conn:    conn,
		store:   store,
		windows: windows,
		poller:  poller,
		creds:   creds,
		audit:   audit,
	}
}

// Start begins a session for creds, replacing the active one. Without a user
// id or token nothing is connected. A failed connection is logged and the
// session stays usable for history.
func (s *Session) Start(ctx context.Context, creds Credentials) error {
	if !creds.Valid() {
		logger.Warn().Int("user_id", creds.UserID).Bool("has_token", creds.Token != "").Msg("missing chat credentials, session not started")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		s.teardownLocked(ctx, "chat session replaced")
	}

	s.creds.Set(creds)
	s.store.Init(creds.UserID)
	s.subID = s.conn.Subscribe(s.store.HandleEvent)
	if err := s.conn.Connect(ctx, creds.UserID, creds.Token); err != nil {
		logger.Warn().Err(err).Int("user_id", creds.UserID).Msg("chat transport unavailable, continuing with history only")
	}
	s.poller.Start(context.WithoutCancel(ctx))
	s.active = true

	logger.Info().Int("user_id", creds.UserID).Msg("chat session started")
	s.emit(ctx, "INFO", "chat session started", creds.UserID)
	return nil
}

// Teardown ends the active session and drops every piece of its state.
func (s *Session) Teardown(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.teardownLocked(ctx, "chat session ended")
}

func (s *Session) teardownLocked(ctx context.Context, reason string) {
	userID := s.creds.UserID()

	s.poller.Stop()
	s.windows.ResetAll()
	s.conn.Unsubscribe(s.subID)
	s.conn.Close()
	s.store.Teardown()
	s.creds.Clear()
	s.active = false
	s.subID = 0

	logger.Info().Int("user_id", userID).Msg(reason)
	s.emit(ctx, "INFO", reason, userID)
}

// Reconnect dials the transport again for the active session.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNotActive
	}
	creds := s.creds.Get()
	if err := s.conn.Connect(ctx, creds.UserID, creds.Token); err != nil {
		return err
	}
	s.emit(ctx, "INFO", "chat transport reconnected", creds.UserID)
	return nil
}

// Status reports the session and connection state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Active: s.active, Connection: s.conn.State()}
	if s.active {
		st.UserID = s.creds.UserID()
	}
	return st
}

func (s *Session) emit(ctx context.Context, level, text string, userID int) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, level, text, observability.RequestIDFromContext(ctx), userID)
}
