// Package session drives one conversation through submit, stream, interrupt
// and resume.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"palchat/internal/history"
	"palchat/internal/mention"
	"palchat/internal/models"
	"palchat/internal/stream"
)

type State int

const (
	Idle State = iota
	Streaming
	AwaitingChoice
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case AwaitingChoice:
		return "awaiting_choice"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	ChatPath   = "/chat"
	ResumePath = "/chat/resume"
)

var (
	ErrAwaitingChoice     = errors.New("session: a choice is pending, resume or cancel it first")
	ErrNoPendingInterrupt = errors.New("session: no pending interrupt to resume")
	ErrEmptyMessage       = errors.New("session: message is empty")
)

// Streamer opens exchanges. It must deliver events asynchronously.
type Streamer interface {
	Open(ctx context.Context, path string, body any, h stream.Handlers) *stream.Handle
}

// Staler is told when a thread's persisted history has moved on.
type Staler interface {
	MarkStale(threadID string)
}

// Listener callbacks are invoked without the controller's lock held and may
// call its accessors. Nil callbacks are skipped.
type Listener struct {
	OnStateChange func(State)
	OnMessage     func(models.Message)
	// OnStatus receives the smoothed status display, nil when it is cleared.
	OnStatus func(*models.StatusEvent)
	// OnInterrupt receives the pending interrupt, nil once it is resumed.
	OnInterrupt func(*models.Interrupt)
	OnError     func(error)
}

type Options struct {
	// StatusMinDisplay defaults to DefaultStatusMinDisplay when zero;
	// NoStatusSmoothing turns pacing off.
	StatusMinDisplay time.Duration
	Clock            Clock
	Staler           Staler
	NewID            func() string
}

// Draft is a composed message ready to submit.
type Draft struct {
	Payload  mention.Payload
	Document json.RawMessage
}

// NewDraft extracts the payload of doc and keeps its encoded tree.
func NewDraft(doc mention.Node) (Draft, error) {
	raw, err := mention.Encode(doc)
	if err != nil {
		return Draft{}, err
	}
	return Draft{Payload: mention.Extract(doc), Document: raw}, nil
}

func (d Draft) request(threadID string) models.ChatRequest {
	docs := d.Payload.TaggedDocumentIDs
	if docs == nil {
		docs = []string{}
	}
	sets := d.Payload.TaggedSetIDs
	if sets == nil {
		sets = []string{}
	}
	return models.ChatRequest{
		Message:         d.Payload.Text,
		TiptapJSON:      d.Document,
		ThreadID:        threadID,
		TaggedDocIDs:    docs,
		TaggedSetIDs:    sets,
		Action:          d.Payload.Action,
		EnableWebSearch: d.Payload.EnableWebSearch,
	}
}

// Controller owns the state of one conversation. At most one exchange is
// live; events of a superseded exchange are dropped.
type Controller struct {
	threadID string
	streamer Streamer
	listener Listener
	staler   Staler
	newID    func() string
	smoother *Smoother

	mu            sync.Mutex
	state         State
	messages      []models.Message
	interrupt     *models.Interrupt
	reasoning     []models.StatusEvent
	handle        *stream.Handle
	gen           uint64
	statusEpoch   uint64
	cancelPending bool
}

func NewController(threadID string, streamer Streamer, l Listener, opts Options) *Controller {
	if threadID == "" {
		threadID = uuid.NewString()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	minDisplay := opts.StatusMinDisplay
	switch {
	case minDisplay == 0:
		minDisplay = DefaultStatusMinDisplay
	case minDisplay < 0:
		minDisplay = 0
	}
	c := &Controller{
		threadID: threadID,
		streamer: streamer,
		listener: l,
		staler:   opts.Staler,
		newID:    opts.NewID,
	}
	c.smoother = NewSmoother(minDisplay, opts.Clock, func(ev *models.StatusEvent) {
		if l.OnStatus != nil {
			l.OnStatus(ev)
		}
	})
	return c
}

func (c *Controller) ThreadID() string { return c.threadID }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.messages...)
}

func (c *Controller) PendingInterrupt() *models.Interrupt {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interrupt == nil {
		return nil
	}
	in := *c.interrupt
	return &in
}

// Reasoning returns the statuses received so far in the live exchange.
func (c *Controller) Reasoning() []models.StatusEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.StatusEvent(nil), c.reasoning...)
}

// Seed replaces the conversation with a persisted snapshot, restoring a
// pending interrupt if there is one.
func (c *Controller) Seed(snap history.Snapshot) {
	c.mu.Lock()
	c.abortLocked()
	c.messages = append([]models.Message(nil), snap.Messages...)
	c.interrupt = nil
	c.state = Idle
	if snap.PendingInterrupt != nil {
		in := *snap.PendingInterrupt
		c.interrupt = &in
		c.state = AwaitingChoice
	}
	state, in := c.state, c.pendingCopyLocked()
	c.mu.Unlock()

	c.smoother.Clear()
	c.emitState(state)
	if in != nil {
		c.emitInterrupt(in)
	}
}

// Submit sends a new message. While a free-text interrupt is pending the
// submit resolves it instead: the value is the single tagged document id, or
// else the typed text. Any other pending interrupt rejects the submit.
func (c *Controller) Submit(ctx context.Context, d Draft) error {
	if d.Payload.Empty() {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.state == AwaitingChoice {
		in := c.interrupt
		if in == nil || in.Kind != models.KindFreeText {
			c.mu.Unlock()
			return ErrAwaitingChoice
		}
		value := d.Payload.Text
		if len(d.Payload.TaggedDocumentIDs) == 1 {
			value = d.Payload.TaggedDocumentIDs[0]
		}
		msg := c.appendLocked(models.RoleUser, d.Payload.Text, d.Document, nil)
		c.resumeLocked(ctx, models.NewResumeValue(in.WireType, value), &msg)
		return nil
	}

	msg := c.appendLocked(models.RoleUser, d.Payload.Text, d.Document, nil)
	gen := c.beginLocked()
	c.mu.Unlock()

	c.resetStatus(gen)
	c.emitMessage(msg)
	c.emitState(Streaming)
	c.open(ctx, gen, ChatPath, d.request(c.threadID))
	return nil
}

// Resume resolves the pending interrupt. The interrupt is cleared before the
// reply arrives. An empty kind defaults to the interrupt's wire type.
func (c *Controller) Resume(ctx context.Context, rv models.ResumeValue) error {
	c.mu.Lock()
	if c.state != AwaitingChoice || c.interrupt == nil {
		c.mu.Unlock()
		return ErrNoPendingInterrupt
	}
	if rv.Kind == "" {
		rv.Kind = c.interrupt.WireType
	}
	c.resumeLocked(ctx, rv, nil)
	return nil
}

// CancelInterrupt is a resume with {kind: cancel, value: null}; the backend
// stays suspended until it gets one.
func (c *Controller) CancelInterrupt(ctx context.Context) error {
	return c.Resume(ctx, models.CancelResume())
}

// Leave aborts the live exchange and drops ephemeral state.
func (c *Controller) Leave() {
	c.mu.Lock()
	wasStreaming := c.state == Streaming
	c.abortLocked()
	if wasStreaming {
		c.state = Idle
	}
	c.mu.Unlock()

	c.smoother.Clear()
	if wasStreaming {
		c.emitState(Idle)
	}
}

// resumeLocked is entered with c.mu held and releases it.
func (c *Controller) resumeLocked(ctx context.Context, rv models.ResumeValue, userMsg *models.Message) {
	c.interrupt = nil
	c.cancelPending = rv.IsCancel()
	gen := c.beginLocked()
	c.mu.Unlock()

	c.resetStatus(gen)
	if userMsg != nil {
		c.emitMessage(*userMsg)
	}
	c.emitInterrupt(nil)
	c.emitState(Streaming)
	c.open(ctx, gen, ResumePath, models.ResumeRequest{ThreadID: c.threadID, ResumeValue: rv})
}

// resetStatus blanks the status display for exchange gen. Statuses of an
// older exchange still on their way to the smoother are refused by epoch.
func (c *Controller) resetStatus(gen uint64) {
	epoch := c.smoother.Clear()
	c.mu.Lock()
	if c.gen == gen {
		c.statusEpoch = epoch
	}
	c.mu.Unlock()
}

func (c *Controller) beginLocked() uint64 {
	c.abortLocked()
	c.state = Streaming
	return c.gen
}

// abortLocked cancels the live exchange and invalidates its callbacks.
func (c *Controller) abortLocked() {
	if c.handle != nil {
		c.handle.Cancel()
		c.handle = nil
	}
	c.gen++
	c.reasoning = nil
}

func (c *Controller) open(ctx context.Context, gen uint64, path string, body any) {
	h := c.streamer.Open(ctx, path, body, stream.Handlers{
		OnStatus:    func(ev models.StatusEvent) { c.onStatus(gen, ev) },
		OnResponse:  func(ev models.ResponseEvent) { c.onResponse(gen, ev) },
		OnInterrupt: func(ev models.InterruptEvent) { c.onInterrupt(gen, ev) },
		OnError:     func(err error) { c.onError(gen, err) },
	})

	c.mu.Lock()
	superseded := c.gen != gen
	if !superseded && c.state == Streaming {
		c.handle = h
	}
	c.mu.Unlock()
	if superseded {
		h.Cancel()
	}
}

func (c *Controller) liveLocked(gen uint64) bool {
	return gen == c.gen && c.state == Streaming
}

func (c *Controller) finishLocked() {
	c.handle = nil
	c.reasoning = nil
	c.cancelPending = false
}

func (c *Controller) onStatus(gen uint64, ev models.StatusEvent) {
	c.mu.Lock()
	if !c.liveLocked(gen) {
		c.mu.Unlock()
		return
	}
	c.reasoning = append(c.reasoning, ev)
	epoch := c.statusEpoch
	c.mu.Unlock()
	c.smoother.PushEpoch(epoch, ev)
}

func (c *Controller) onResponse(gen uint64, ev models.ResponseEvent) {
	c.mu.Lock()
	if !c.liveLocked(gen) {
		c.mu.Unlock()
		return
	}
	// the backend may answer a cancel with nothing to show
	suppress := c.cancelPending && strings.TrimSpace(ev.Response) == ""
	c.finishLocked()
	c.state = Idle
	var msg *models.Message
	if !suppress {
		m := c.appendLocked(models.RoleAssistant, ev.Response, nil, ev.Metadata())
		msg = &m
	}
	c.mu.Unlock()

	c.smoother.Clear()
	c.markStale()
	if msg != nil {
		c.emitMessage(*msg)
	}
	c.emitState(Idle)
}

func (c *Controller) onInterrupt(gen uint64, ev models.InterruptEvent) {
	c.mu.Lock()
	if !c.liveLocked(gen) {
		c.mu.Unlock()
		return
	}
	c.finishLocked()
	in := ev.Interrupt()
	msg := c.appendLocked(models.RoleSystemNotice, in.Message, nil, nil)
	c.interrupt = &in
	c.state = AwaitingChoice
	pending := c.pendingCopyLocked()
	c.mu.Unlock()

	c.smoother.Clear()
	c.markStale()
	c.emitMessage(msg)
	c.emitInterrupt(pending)
	c.emitState(AwaitingChoice)
}

func (c *Controller) onError(gen uint64, err error) {
	c.mu.Lock()
	if !c.liveLocked(gen) {
		c.mu.Unlock()
		return
	}
	c.finishLocked()
	c.state = Idle
	c.mu.Unlock()

	log.WithFields(log.Fields{"thread_id": c.threadID}).WithError(err).Warn("exchange failed")
	c.smoother.Clear()
	// a failed resume may still have reached the backend
	c.markStale()
	if c.listener.OnError != nil {
		c.listener.OnError(err)
	}
	c.emitState(Idle)
}

func (c *Controller) appendLocked(role models.Role, text string, structured json.RawMessage, meta *models.ResponseMetadata) models.Message {
	msg := models.Message{
		ID:                c.newID(),
		Role:              role,
		Text:              text,
		StructuredContent: structured,
		Metadata:          meta,
		CreatedAt:         time.Now(),
	}
	c.messages = append(c.messages, msg)
	return msg
}

// pendingCopyLocked returns a copy of the pending interrupt; c.mu must be held.
func (c *Controller) pendingCopyLocked() *models.Interrupt {
	if c.interrupt == nil {
		return nil
	}
	in := *c.interrupt
	return &in
}

func (c *Controller) markStale() {
	if c.staler != nil {
		c.staler.MarkStale(c.threadID)
	}
}

func (c *Controller) emitState(s State) {
	if c.listener.OnStateChange != nil {
		c.listener.OnStateChange(s)
	}
}

func (c *Controller) emitMessage(m models.Message) {
	if c.listener.OnMessage != nil {
		c.listener.OnMessage(m)
	}
}

func (c *Controller) emitInterrupt(in *models.Interrupt) {
	if c.listener.OnInterrupt != nil {
		c.listener.OnInterrupt(in)
	}
}
