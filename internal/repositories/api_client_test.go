package repositories

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIClientHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/chat/history/2", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"sender_id":2,"receiver_id":1,"content":"hi","file_url":null,"message_type":"text","timestamp":"2024-05-01T12:00:00"}]`))
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL+"/", srv.Client(), func() string { return "tok" })
	msgs, err := client.History(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1), msgs[0].ID)
	assert.Equal(t, "hi", msgs[0].Content)
}

func TestAPIClientConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/chat/conversations", r.URL.Path)
		_, _ = w.Write([]byte(`[{"user_id":3,"username":"carol","last_message":"ok","message_type":"text","timestamp":"2024-05-01T12:00:00Z","is_sender":true,"unread_count":0}]`))
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL, srv.Client(), nil)
	list, err := client.Conversations(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].PeerID)
	assert.True(t, list[0].IsSender)
}

func TestAPIClientStatusErrors(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusInternalServerError, ErrUnexpectedStatus},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		client := NewAPIClient(srv.URL, srv.Client(), func() string { return "" })
		_, err := client.History(context.Background(), 1, 2)
		require.Error(t, err)
		assert.True(t, errors.Is(err, tc.want), "status %d", tc.status)

		_, err = client.Conversations(context.Background(), 1)
		assert.True(t, errors.Is(err, tc.want), "status %d", tc.status)
		srv.Close()
	}
}

func TestAPIClientMarkReadFetchesHistory(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/chat/chat/history/2", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	var client ReadMarker = NewAPIClient(srv.URL, srv.Client(), func() string { return "tok" })
	require.NoError(t, client.MarkRead(context.Background(), 1, 2))
	assert.Equal(t, 1, hits)
}
