package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-chat/internal/observability"
	"campus-chat/internal/session"
	"campus-chat/internal/ws"
)

type fakeSession struct {
	started      []session.Credentials
	requestIDs   []string
	tornDown     int
	reconnectErr error
	status       session.Status
}

func (f *fakeSession) Start(ctx context.Context, creds session.Credentials) error {
	f.started = append(f.started, creds)
	f.requestIDs = append(f.requestIDs, observability.RequestIDFromContext(ctx))
	f.status = session.Status{Active: true, UserID: creds.UserID, Connection: ws.StateOpen}
	return nil
}

func (f *fakeSession) Teardown(ctx context.Context) {
	f.tornDown++
	f.status = session.Status{}
}

func (f *fakeSession) Reconnect(ctx context.Context) error {
	return f.reconnectErr
}

func (f *fakeSession) Status() session.Status {
	return f.status
}

func setupSessionRouter(s *fakeSession) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewSessionHandler(s)
	r := gin.New()
	r.GET("/session", h.GetStatus)
	r.POST("/session/login", h.Login)
	r.POST("/session/reconnect", h.Reconnect)
	r.POST("/session/logout", h.Logout)
	return r
}

func serve(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestLoginStartsSession(t *testing.T) {
	s := &fakeSession{}
	r := setupSessionRouter(s)

	rec := serve(r, http.MethodPost, "/session/login", `{"user_id":7,"token":"abc"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []session.Credentials{{UserID: 7, Token: "abc"}}, s.started)
	assert.Equal(t, []string{"req-1"}, s.requestIDs)

	var status map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, true, status["active"])
	assert.Equal(t, "open", status["connection"])
}

func TestLoginRejectsIncompleteCredentials(t *testing.T) {
	s := &fakeSession{}
	r := setupSessionRouter(s)

	require.Equal(t, http.StatusBadRequest, serve(r, http.MethodPost, "/session/login", `{"user_id":7}`).Code)
	require.Equal(t, http.StatusBadRequest, serve(r, http.MethodPost, "/session/login", `not json`).Code)
	assert.Empty(t, s.started)
}

func TestReconnectErrors(t *testing.T) {
	s := &fakeSession{reconnectErr: session.ErrNotActive}
	r := setupSessionRouter(s)
	require.Equal(t, http.StatusConflict, serve(r, http.MethodPost, "/session/reconnect", "").Code)

	s.reconnectErr = assert.AnError
	require.Equal(t, http.StatusBadGateway, serve(r, http.MethodPost, "/session/reconnect", "").Code)

	s.reconnectErr = nil
	require.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/session/reconnect", "").Code)
}

func TestLogoutTearsDown(t *testing.T) {
	s := &fakeSession{status: session.Status{Active: true, UserID: 7}}
	r := setupSessionRouter(s)

	rec := serve(r, http.MethodPost, "/session/logout", "")

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, s.tornDown)

	rec = serve(r, http.MethodGet, "/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"active":false,"connection":"closed"}`, rec.Body.String())
}
