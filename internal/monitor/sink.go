package monitor

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yuchenw/deepresearch/internal/domain"
	"go.uber.org/zap"
)

const sinkBuffer = 256

// HTTPSink forwards events to a monitor server from a background
// goroutine. Publish never blocks the research loop: when the buffer is
// full the event is dropped and counted.
type HTTPSink struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger

	ch      chan domain.Event
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewSink returns an HTTPSink posting to url, or a NopSink when url is
// empty.
func NewSink(url string, logger *zap.Logger) domain.EventSink {
	if url == "" {
		return NopSink{}
	}

	s := &HTTPSink{
		url:        url,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
		ch:         make(chan domain.Event, sinkBuffer),
		done:       make(chan struct{}),
	}
	go s.drain()
	return s
}

func (s *HTTPSink) Publish(ev domain.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Close stops accepting events and waits for the buffer to flush. Events
// published after Close are dropped, never a panic.
func (s *HTTPSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	<-s.done

	if n := s.dropped.Load(); n > 0 {
		s.logger.Warn("monitor events dropped", zap.Int64("count", n))
	}
}

func (s *HTTPSink) drain() {
	defer close(s.done)
	for ev := range s.ch {
		s.post(ev)
	}
}

func (s *HTTPSink) post(ev domain.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("marshal monitor event", zap.Error(err))
		return
	}

	resp, err := s.httpClient.Post(s.url+"/v1/events", "application/json", bytes.NewReader(body))
	if err != nil {
		s.logger.Debug("post monitor event", zap.Error(err))
		return
	}
	_ = resp.Body.Close()
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Publish(domain.Event) {}
func (NopSink) Close()               {}
