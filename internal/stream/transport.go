// Package stream opens cancelable streamed exchanges with the agent backend
// and turns the event-stream body into typed events.
package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/imroc/req/v3"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"palchat/internal/models"
)

const (
	DefaultInactivityTimeout = 30 * time.Second

	readChunkSize  = 4 << 10
	maxRejectBytes = 64 << 10
)

// Handlers receive the events of one exchange, in arrival order, from the
// exchange's reader goroutine. Exactly one of OnResponse, OnInterrupt or
// OnError ends an exchange unless it is cancelled first.
type Handlers struct {
	OnStatus    func(models.StatusEvent)
	OnResponse  func(models.ResponseEvent)
	OnInterrupt func(models.InterruptEvent)
	OnError     func(error)
}

type Option func(*Transport)

// WithInactivityTimeout sets the window allowed between two parsed frames.
func WithInactivityTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithClient replaces the underlying HTTP client. Auto-read is disabled on it.
func WithClient(c *req.Client) Option {
	return func(t *Transport) {
		if c != nil {
			t.client = c
		}
	}
}

// Transport runs at most one exchange at a time: opening a new one cancels
// the previous one first.
type Transport struct {
	client  *req.Client
	timeout time.Duration

	mu     sync.Mutex
	active *Handle
}

func NewTransport(baseURL string, opts ...Option) *Transport {
	t := &Transport{
		client:  req.C(),
		timeout: DefaultInactivityTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	// the inactivity timer owns the deadline
	t.client.SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(0).
		DisableAutoReadResponse()
	return t
}

// Client exposes the HTTP client so collaborators can install middleware.
func (t *Transport) Client() *req.Client {
	return t.client
}

// Handle controls one exchange.
type Handle struct {
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
	canceled atomic.Bool
	timedOut atomic.Bool
}

// NewHandle wraps cancel into a handle whose Done channel stays open until
// the owner closes it through Finish.
func NewHandle(cancel context.CancelFunc) *Handle {
	return &Handle{cancel: cancel, done: make(chan struct{})}
}

// Cancel aborts the exchange. It is idempotent, never fails and suppresses
// any further callback, OnError included.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.canceled.Store(true)
	h.cancel()
}

// Canceled reports whether Cancel was called.
func (h *Handle) Canceled() bool {
	return h != nil && h.canceled.Load()
}

// Done is closed once the exchange has stopped dispatching.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) Finish() {
	h.once.Do(func() { close(h.done) })
}

func (h *Handle) expire() {
	h.timedOut.Store(true)
	h.cancel()
}

// Open posts body to path and streams the reply into hs.
func (t *Transport) Open(ctx context.Context, path string, body any, hs Handlers) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := NewHandle(cancel)

	t.mu.Lock()
	if t.active != nil {
		t.active.Cancel()
	}
	t.active = h
	t.mu.Unlock()

	go t.run(ctx, h, path, body, hs)
	return h
}

func (t *Transport) run(ctx context.Context, h *Handle, path string, body any, hs Handlers) {
	defer func() {
		t.mu.Lock()
		if t.active == h {
			t.active = nil
		}
		t.mu.Unlock()
		h.Finish()
	}()

	logger := log.WithFields(log.Fields{"path": path})
	// covers the wait for response headers too
	timer := time.AfterFunc(t.timeout, h.expire)
	defer timer.Stop()

	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Accept", "text/event-stream").
		SetBodyJsonMarshal(body).
		Post(path)
	if err != nil {
		t.fail(h, hs, &Error{Kind: ConnectionFailure, Err: err})
		return
	}
	if resp.Response == nil || resp.Body == nil {
		t.fail(h, hs, &Error{Kind: ConnectionFailure, Err: errors.New("empty response")})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxRejectBytes))
		t.fail(h, hs, &Error{Kind: RequestRejected, Status: resp.StatusCode, Detail: rejectDetail(raw)})
		return
	}

	var (
		dec Decoder
		buf = make([]byte, readChunkSize)
	)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			for _, payload := range dec.Feed(buf[:n]) {
				ev, perr := parseEvent(payload)
				if perr != nil {
					logger.WithError(perr).Warn("skipping malformed frame")
					continue
				}
				timer.Reset(t.timeout)
				if t.dispatch(h, hs, ev) {
					return
				}
			}
		}
		if rerr == nil {
			continue
		}
		if pending := dec.Pending(); pending > 0 {
			logger.WithField("bytes", pending).Debug("discarding unterminated fragment")
		}
		if errors.Is(rerr, io.EOF) {
			t.fail(h, hs, &Error{Kind: UnexpectedEnd})
		} else {
			t.fail(h, hs, &Error{Kind: ConnectionFailure, Err: rerr})
		}
		return
	}
}

// dispatch delivers ev and reports whether the exchange is over.
func (t *Transport) dispatch(h *Handle, hs Handlers, ev models.StreamEvent) bool {
	if h.Canceled() {
		return true
	}
	switch e := ev.(type) {
	case models.StatusEvent:
		if hs.OnStatus != nil {
			hs.OnStatus(e)
		}
		return false
	case models.ResponseEvent:
		if hs.OnResponse != nil {
			hs.OnResponse(e)
		}
	case models.InterruptEvent:
		if hs.OnInterrupt != nil {
			hs.OnInterrupt(e)
		}
	case models.ErrorEvent:
		t.fail(h, hs, &Error{Kind: BackendError, Detail: e.Message})
	}
	return true
}

func (t *Transport) fail(h *Handle, hs Handlers, err *Error) {
	if h.Canceled() {
		return
	}
	if h.timedOut.Load() {
		err = &Error{Kind: Timeout, Err: err.Err}
	}
	log.WithFields(log.Fields{"kind": err.Kind.String(), "status": err.Status}).WithError(err).Debug("stream failed")
	if hs.OnError != nil {
		hs.OnError(err)
	}
}

// rejectDetail pulls the human readable part out of an error body: the
// structured "detail" or "error" field when present, else the raw text.
func rejectDetail(raw []byte) string {
	if gjson.ValidBytes(raw) {
		for _, key := range []string{"detail", "error", "message"} {
			if v := gjson.GetBytes(raw, key); v.Exists() {
				if v.Type == gjson.String {
					return v.String()
				}
				return v.Raw
			}
		}
	}
	return strings.TrimSpace(string(raw))
}
