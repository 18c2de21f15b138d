package mocks

import (
	"context"
	"io"
	"sync"

	"github.com/stretchr/testify/mock"

	"campus-chat/internal/models"
	"campus-chat/internal/repositories"
	"campus-chat/internal/upload"
	"campus-chat/internal/ws"
)

type HistorySourceMock struct {
	mock.Mock
}

func (m *HistorySourceMock) History(ctx context.Context, userID int, peerID int) ([]models.Message, error) {
	args := m.Called(ctx, userID, peerID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type SummarySourceMock struct {
	mock.Mock
}

func (m *SummarySourceMock) Conversations(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

type TransportMock struct {
	mock.Mock
}

func (m *TransportMock) Ready() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *TransportMock) Send(msg models.OutboundMessage) error {
	args := m.Called(msg)
	return args.Error(0)
}

type ConnectionMock struct {
	mock.Mock
}

func (m *ConnectionMock) Connect(ctx context.Context, userID int, token string) error {
	args := m.Called(ctx, userID, token)
	return args.Error(0)
}

func (m *ConnectionMock) Close() {
	m.Called()
}

func (m *ConnectionMock) Subscribe(fn func(models.ChatEvent)) int {
	args := m.Called(fn)
	return args.Int(0)
}

func (m *ConnectionMock) Unsubscribe(id int) {
	m.Called(id)
}

func (m *ConnectionMock) State() ws.State {
	args := m.Called()
	return args.Get(0).(ws.State)
}

type AuditorMock struct {
	mock.Mock
}

func (m *AuditorMock) Emit(ctx context.Context, level, text, requestID string, userID int) {
	m.Called(ctx, level, text, requestID, userID)
}

type UploaderMock struct {
	mock.Mock
}

func (m *UploaderMock) Upload(ctx context.Context, name string, contentType string, body io.Reader) (string, error) {
	args := m.Called(ctx, name, contentType, body)
	return args.String(0), args.Error(1)
}

// NotifierRecorder collects store notifications.
type NotifierRecorder struct {
	mu     sync.Mutex
	events []models.ChatEvent
}

func (r *NotifierRecorder) Notify(ev models.ChatEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *NotifierRecorder) Events() []models.ChatEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ChatEvent, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of one type.
func (r *NotifierRecorder) OfType(typ string) []models.ChatEvent {
	var out []models.ChatEvent
	for _, ev := range r.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

var _ repositories.HistorySource = (*HistorySourceMock)(nil)
var _ repositories.SummarySource = (*SummarySourceMock)(nil)
var _ upload.Uploader = (*UploaderMock)(nil)
var _ interface {
	Ready() bool
	Send(models.OutboundMessage) error
} = (*TransportMock)(nil)
