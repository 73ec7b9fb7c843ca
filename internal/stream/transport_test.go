package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"palchat/internal/models"
)

type recorder struct {
	mu         sync.Mutex
	statuses   []models.StatusEvent
	responses  []models.ResponseEvent
	interrupts []models.InterruptEvent
	errs       []error
	firstEvent chan struct{}
	once       sync.Once
}

func newRecorder() *recorder {
	return &recorder{firstEvent: make(chan struct{})}
}

func (r *recorder) handlers() Handlers {
	mark := func() { r.once.Do(func() { close(r.firstEvent) }) }
	return Handlers{
		OnStatus: func(ev models.StatusEvent) {
			r.mu.Lock()
			r.statuses = append(r.statuses, ev)
			r.mu.Unlock()
			mark()
		},
		OnResponse: func(ev models.ResponseEvent) {
			r.mu.Lock()
			r.responses = append(r.responses, ev)
			r.mu.Unlock()
			mark()
		},
		OnInterrupt: func(ev models.InterruptEvent) {
			r.mu.Lock()
			r.interrupts = append(r.interrupts, ev)
			r.mu.Unlock()
			mark()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
			mark()
		},
	}
}

func (r *recorder) terminalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.responses) + len(r.interrupts) + len(r.errs)
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("exchange did not finish")
	}
}

func sseServer(t *testing.T, fn func(w http.ResponseWriter, r *http.Request, send func(string))) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Errorf("response writer cannot flush")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		send := func(frame string) {
			_, _ = io.WriteString(w, frame)
			flusher.Flush()
		}
		fn(w, r, send)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTransportStatusesThenResponse(t *testing.T) {
	bodies := make(chan map[string]any, 1)
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, send func(string)) {
		if r.URL.Path != "/chat" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies <- body
		w.WriteHeader(http.StatusOK)
		send(`data: {"type":"status","node":"doc_resolver","message":"Reading document..."}` + "\n\n")
		send(`data: {"type":"response","response":"Capital [1][2].",`)
		send(`"citations":[{"id":1,"source_type":"document","title":"A"},{"id":2,"source_type":"web","title":"B","url":"https://b"}]}` + "\n\n")
	})

	rec := newRecorder()
	tr := NewTransport(srv.URL)
	h := tr.Open(context.Background(), "/chat", models.ChatRequest{Message: "Summarize", ThreadID: "t-1"}, rec.handlers())
	waitDone(t, h)

	if len(rec.errs) != 0 {
		t.Fatalf("unexpected errors %v", rec.errs)
	}
	if len(rec.statuses) != 1 || rec.statuses[0].Message != "Reading document..." {
		t.Fatalf("unexpected statuses %+v", rec.statuses)
	}
	if len(rec.responses) != 1 || rec.responses[0].Response != "Capital [1][2]." || len(rec.responses[0].Citations) != 2 {
		t.Fatalf("unexpected responses %+v", rec.responses)
	}
	gotBody := <-bodies
	if gotBody["thread_id"] != "t-1" || gotBody["message"] != "Summarize" {
		t.Fatalf("unexpected request body %v", gotBody)
	}
}

func TestTransportInterruptEndsStream(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, send func(string)) {
		send(`data: {"type":"interrupt","interrupt_type":"doc_choice","message":"Which document?","options":[{"id":"a","label":"A"},{"id":"b","label":"B"},{"id":"all","label":"All of these"}]}` + "\n\n")
		send(`data: {"type":"response","response":"must not be delivered"}` + "\n\n")
	})

	rec := newRecorder()
	h := NewTransport(srv.URL).Open(context.Background(), "/chat/resume", nil, rec.handlers())
	waitDone(t, h)

	if len(rec.interrupts) != 1 || len(rec.interrupts[0].Options) != 3 {
		t.Fatalf("unexpected interrupts %+v", rec.interrupts)
	}
	if rec.terminalCount() != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", rec.terminalCount())
	}
}

func TestTransportBackendErrorFrame(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, send func(string)) {
		send(`data: {"type":"error","message":"Graph completed without producing a response."}` + "\n\n")
	})

	rec := newRecorder()
	h := NewTransport(srv.URL).Open(context.Background(), "/chat", nil, rec.handlers())
	waitDone(t, h)

	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], ErrBackend) {
		t.Fatalf("expected backend error, got %v", rec.errs)
	}
	var se *Error
	if !errors.As(rec.errs[0], &se) || se.Detail != "Graph completed without producing a response." {
		t.Fatalf("unexpected detail %v", rec.errs[0])
	}
}

func TestTransportSkipsMalformedFrame(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, send func(string)) {
		send("data: {not json\n\n")
		send(`data: {"type":"response","response":"ok","citations":[]}` + "\n\n")
	})

	rec := newRecorder()
	h := NewTransport(srv.URL).Open(context.Background(), "/chat", nil, rec.handlers())
	waitDone(t, h)

	if len(rec.errs) != 0 || len(rec.responses) != 1 {
		t.Fatalf("malformed frame should be skipped: errs=%v responses=%d", rec.errs, len(rec.responses))
	}
}

func TestTransportUnexpectedEndAfterZeroBytes(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, send func(string)) {
		w.WriteHeader(http.StatusOK)
	})

	rec := newRecorder()
	h := NewTransport(srv.URL).Open(context.Background(), "/chat", nil, rec.handlers())
	waitDone(t, h)

	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], ErrUnexpectedEnd) {
		t.Fatalf("expected unexpected end, got %v", rec.errs)
	}
}

func TestTransportUnexpectedEndAfterStatusAndFragment(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, send func(string)) {
		send(`data: {"type":"status","node":"intent_resolver","message":"m"}` + "\n\n")
		send(`data: {"type":"response","response":"cut off"}`)
	})

	rec := newRecorder()
	h := NewTransport(srv.URL).Open(context.Background(), "/chat", nil, rec.handlers())
	waitDone(t, h)

	if len(rec.responses) != 0 {
		t.Fatalf("an unterminated fragment must never be dispatched")
	}
	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], ErrUnexpectedEnd) {
		t.Fatalf("expected unexpected end, got %v", rec.errs)
	}
}

func TestTransportRequestRejectedCarriesDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"detail":"No pending action to resume for this conversation."}`)
	}))
	defer srv.Close()

	rec := newRecorder()
	h := NewTransport(srv.URL).Open(context.Background(), "/chat/resume", nil, rec.handlers())
	waitDone(t, h)

	if len(rec.errs) != 1 {
		t.Fatalf("expected one error, got %v", rec.errs)
	}
	var se *Error
	if !errors.As(rec.errs[0], &se) || se.Kind != RequestRejected {
		t.Fatalf("expected request rejected, got %v", rec.errs[0])
	}
	if se.Status != http.StatusBadRequest || se.Detail != "No pending action to resume for this conversation." {
		t.Fatalf("unexpected rejection %+v", se)
	}
	if errors.Is(se, ErrConnectionFailure) {
		t.Fatalf("rejection must be distinguishable from connection failure")
	}
}

func TestTransportConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rec := newRecorder()
	h := NewTransport(url).Open(context.Background(), "/chat", nil, rec.handlers())
	waitDone(t, h)

	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], ErrConnectionFailure) {
		t.Fatalf("expected connection failure, got %v", rec.errs)
	}
}

func TestTransportInactivityTimeout(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, send func(string)) {
		send(`data: {"type":"status","node":"intent_resolver","message":"m"}` + "\n\n")
		<-r.Context().Done()
	})

	rec := newRecorder()
	start := time.Now()
	h := NewTransport(srv.URL, WithInactivityTimeout(100*time.Millisecond)).Open(context.Background(), "/chat", nil, rec.handlers())
	waitDone(t, h)

	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], ErrTimeout) {
		t.Fatalf("expected timeout, got %v", rec.errs)
	}
	if len(rec.statuses) != 1 {
		t.Fatalf("status before the timeout should be delivered")
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("timed out too early: %v", elapsed)
	}
}

func TestTransportStatusResetsInactivityTimer(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, send func(string)) {
		for i := 0; i < 5; i++ {
			send(fmt.Sprintf(`data: {"type":"status","node":"n%d","message":"step"}`+"\n\n", i))
			time.Sleep(60 * time.Millisecond)
		}
		send(`data: {"type":"response","response":"done"}` + "\n\n")
	})

	rec := newRecorder()
	h := NewTransport(srv.URL, WithInactivityTimeout(200*time.Millisecond)).Open(context.Background(), "/chat", nil, rec.handlers())
	waitDone(t, h)

	if len(rec.errs) != 0 {
		t.Fatalf("statuses should keep the exchange alive: %v", rec.errs)
	}
	if len(rec.statuses) != 5 || len(rec.responses) != 1 {
		t.Fatalf("unexpected events: %d statuses, %d responses", len(rec.statuses), len(rec.responses))
	}
}

func TestTransportCommentFramesDoNotResetInactivityTimer(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, send func(string)) {
		ticker := time.NewTicker(40 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				send(": keep-alive\n\n")
			}
		}
	})

	rec := newRecorder()
	start := time.Now()
	h := NewTransport(srv.URL, WithInactivityTimeout(150*time.Millisecond)).Open(context.Background(), "/chat", nil, rec.handlers())
	waitDone(t, h)

	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], ErrTimeout) {
		t.Fatalf("expected timeout despite keep-alive comments, got %v", rec.errs)
	}
	if len(rec.responses) != 0 || len(rec.statuses) != 0 {
		t.Fatalf("comment frames must not dispatch events")
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond || elapsed > 2*time.Second {
		t.Fatalf("unexpected time to timeout: %v", elapsed)
	}
}

func TestTransportCancelIsSilentAndIdempotent(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, send func(string)) {
		send(`data: {"type":"status","node":"intent_resolver","message":"m"}` + "\n\n")
		<-r.Context().Done()
	})

	rec := newRecorder()
	h := NewTransport(srv.URL).Open(context.Background(), "/chat", nil, rec.handlers())
	<-rec.firstEvent
	h.Cancel()
	h.Cancel()
	waitDone(t, h)

	if len(rec.errs) != 0 {
		t.Fatalf("cancel must not raise, got %v", rec.errs)
	}
	if !h.Canceled() {
		t.Fatalf("expected handle to report cancellation")
	}
}

func TestTransportOpenCancelsPreviousExchange(t *testing.T) {
	var calls sync.WaitGroup
	calls.Add(1)
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, send func(string)) {
		if r.URL.Path == "/slow" {
			send(`data: {"type":"status","node":"intent_resolver","message":"m"}` + "\n\n")
			<-r.Context().Done()
			calls.Done()
			return
		}
		send(`data: {"type":"response","response":"second"}` + "\n\n")
	})

	tr := NewTransport(srv.URL)
	first := newRecorder()
	h1 := tr.Open(context.Background(), "/slow", nil, first.handlers())
	<-first.firstEvent

	second := newRecorder()
	h2 := tr.Open(context.Background(), "/fast", nil, second.handlers())
	waitDone(t, h1)
	waitDone(t, h2)
	calls.Wait()

	if !h1.Canceled() {
		t.Fatalf("first exchange should have been cancelled")
	}
	if first.terminalCount() != 0 {
		t.Fatalf("cancelled exchange must not deliver a terminal event")
	}
	if len(second.responses) != 1 || second.responses[0].Response != "second" {
		t.Fatalf("unexpected second exchange result %+v", second.responses)
	}
}
