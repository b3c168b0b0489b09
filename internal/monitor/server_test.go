package monitor

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuchenw/deepresearch/internal/domain"
	"go.uber.org/zap"
)

func postEvent(t *testing.T, srv *Server, ev domain.Event) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	return rec
}

func TestIngestAndGetSession(t *testing.T) {
	srv := NewServer(zap.NewNop())

	rec := postEvent(t, srv, domain.Event{
		SessionID: "sess_1",
		TurnID:    "turn_1",
		Kind:      domain.EventPlan,
		Payload:   map[string]any{"steps": 2},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/sess_1", nil)
	rec = httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var view sessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Contains(t, view.LastByKind, domain.EventPlan)
}

func TestIngest_RejectsMissingSession(t *testing.T) {
	srv := NewServer(zap.NewNop())
	rec := postEvent(t, srv, domain.Event{Kind: domain.EventStep})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSession_UnknownIs404(t *testing.T) {
	srv := NewServer(zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/nope", nil)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventLogIsCapped(t *testing.T) {
	srv := NewServer(zap.NewNop())
	for i := 0; i < maxEventsPerSession+50; i++ {
		postEvent(t, srv, domain.Event{SessionID: "sess_1", Kind: domain.EventAction})
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/sess_1/events", nil)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var events []domain.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Len(t, events, maxEventsPerSession)
}

func TestHTTPSink_PublishNeverBlocks(t *testing.T) {
	// No server behind the URL; posts fail quietly in the background.
	sink := NewSink("http://127.0.0.1:1", zap.NewNop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < sinkBuffer*4; i++ {
			sink.Publish(domain.Event{SessionID: "s", Kind: domain.EventStep, Time: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked")
	}
	sink.Close()
}

func TestHTTPSink_PublishAfterCloseIsDropped(t *testing.T) {
	sink := NewSink("http://127.0.0.1:1", zap.NewNop())
	sink.Close()

	assert.NotPanics(t, func() {
		sink.Publish(domain.Event{SessionID: "s", Kind: domain.EventStep})
	})
	// Close twice is also harmless.
	assert.NotPanics(t, sink.Close)
}

func TestNewSink_EmptyURLIsNop(t *testing.T) {
	sink := NewSink("", zap.NewNop())
	if _, ok := sink.(NopSink); !ok {
		t.Fatalf("sink = %T, want NopSink", sink)
	}
	sink.Publish(domain.Event{})
	sink.Close()
}
