package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"campus-chat/internal/models"
)

func TestOpenWindowLoadsHistory(t *testing.T) {
	f := newBridgeFixture(t)
	f.history.On("History", mock.Anything, me, bob).Return([]models.Message{}, nil).Once()

	rec := f.do(http.MethodPost, "/windows/2", bytes.NewBufferString(`{"username":"bob"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.registry.IsOpen(bob))

	rec = f.do(http.MethodGet, "/windows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Windows []models.PeerInfo `json:"windows"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []models.PeerInfo{{ID: bob, Username: "bob"}}, resp.Windows)
	f.history.AssertExpectations(t)
}

func TestOpenWindowWithoutBody(t *testing.T) {
	f := newBridgeFixture(t)
	f.history.On("History", mock.Anything, me, bob).Return([]models.Message{}, nil).Once()

	rec := f.do(http.MethodPost, "/windows/2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestOpenWindowHistoryFailureKeepsWindow(t *testing.T) {
	f := newBridgeFixture(t)
	f.history.On("History", mock.Anything, me, bob).Return(([]models.Message)(nil), assert.AnError).Once()

	rec := f.do(http.MethodPost, "/windows/2", nil)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.True(t, f.registry.IsOpen(bob))
}

func TestOpenWindowWithoutSession(t *testing.T) {
	f := newBridgeFixture(t)
	f.store.Teardown()

	rec := f.do(http.MethodPost, "/windows/2", nil)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, f.registry.IsOpen(bob))
}

func TestFocusAndCloseWindow(t *testing.T) {
	f := newBridgeFixture(t)
	f.history.On("History", mock.Anything, me, bob).Return([]models.Message{}, nil).Once()
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/windows/2", nil).Code)

	require.Equal(t, http.StatusNoContent, f.do(http.MethodPost, "/windows/2/focus", nil).Code)
	require.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/windows/3/focus", nil).Code)

	require.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/windows/2", nil).Code)
	assert.False(t, f.registry.IsOpen(bob))
	require.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/windows/2", nil).Code)
}
