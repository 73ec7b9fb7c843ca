// Package mockagent is a scripted agent backend speaking the chat wire
// protocol. It keeps conversations in storage, suspends turns on interrupts
// and answers deterministically from a small document catalog.
package mockagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"palchat/internal/identity"
	"palchat/internal/models"
	"palchat/internal/storage"
)

const titleLimit = 60

type Option func(*Server)

// WithCatalog replaces the default document catalog.
func WithCatalog(docs []Document) Option {
	return func(s *Server) { s.catalog = newCatalog(docs) }
}

// WithStepDelay pauses before every status, to make streaming visible.
func WithStepDelay(d time.Duration) Option {
	return func(s *Server) { s.stepDelay = d }
}

type Server struct {
	store     *storage.Store
	catalog   *catalog
	stepDelay time.Duration
}

func New(store *storage.Store, opts ...Option) *Server {
	s := &Server{store: store, catalog: newCatalog(DefaultCatalog())}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes attaches the chat routes to the router.
func (s *Server) RegisterRoutes(router gin.IRouter) {
	chat := router.Group("/chat", identity.Middleware())
	chat.POST("", s.chat)
	chat.POST("/resume", s.resume)
	chat.GET("/history/:thread_id", s.history)
}

func validUUID(c *gin.Context, value, field string) bool {
	if _, err := uuid.Parse(value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf("Invalid %s format", field)})
		return false
	}
	return true
}

// owned loads the conversation and checks it belongs to userID. It writes the
// error response itself.
func (s *Server) owned(c *gin.Context, threadID, userID string) (*models.Conversation, bool) {
	conv, err := s.store.GetConversation(c.Request.Context(), threadID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Conversation not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return nil, false
	}
	if conv.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Conversation does not belong to this user"})
		return nil, false
	}
	return conv, true
}

func (s *Server) chat(c *gin.Context) {
	userID, _ := identity.UserIDFromContext(c)
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid request body"})
		return
	}
	if !validUUID(c, req.ThreadID, "thread_id") {
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" && req.Action == nil && len(req.TaggedDocIDs) == 0 && len(req.TaggedSetIDs) == 0 && !req.EnableWebSearch {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "message is required"})
		return
	}

	ctx := c.Request.Context()
	conv, err := s.store.EnsureConversation(ctx, req.ThreadID, userID, title(message))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	if conv.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Conversation does not belong to this user"})
		return
	}
	// a new message abandons whatever the thread was suspended on
	if err := s.store.ClearPendingInterrupt(ctx, req.ThreadID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	if _, err := s.store.AppendMessage(ctx, req.ThreadID, models.Message{Role: models.RoleUser, Text: message}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	t := turn{
		Message:   message,
		DocIDs:    appendUnique(nil, req.TaggedDocIDs...),
		SetIDs:    req.TaggedSetIDs,
		WebSearch: req.EnableWebSearch,
	}
	if req.Action != nil && isAction(*req.Action) {
		t.Action = *req.Action
	}
	s.stream(c, req.ThreadID, t, nil)
}

func (s *Server) resume(c *gin.Context) {
	userID, _ := identity.UserIDFromContext(c)
	var req models.ResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid request body"})
		return
	}
	if !validUUID(c, req.ThreadID, "thread_id") {
		return
	}
	ctx := c.Request.Context()

	noPending := func() {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "No pending action to resume for this conversation."})
	}
	conv, err := s.store.GetConversation(ctx, req.ThreadID)
	if errors.Is(err, storage.ErrNotFound) {
		noPending()
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	if conv.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Conversation does not belong to this user"})
		return
	}
	in, raw, err := s.store.PendingInterrupt(ctx, req.ThreadID)
	if errors.Is(err, storage.ErrNotFound) {
		noPending()
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	rv := req.ResumeValue
	if !rv.IsCancel() {
		if rv.Value == nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "resume value is required"})
			return
		}
		if len(in.Options) > 0 && !in.HasOption(strings.TrimSpace(*rv.Value)) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "resume value must be one of the offered options"})
			return
		}
	}
	var t turn
	if err := json.Unmarshal(raw, &t); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "corrupt checkpoint"})
		return
	}
	if err := s.store.ClearPendingInterrupt(ctx, req.ThreadID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	s.stream(c, req.ThreadID, t, &rv)
}

// stream runs t and writes its events as an event stream. Once the first byte
// is out failures can only be reported as error frames.
func (s *Server) stream(c *gin.Context, threadID string, t turn, resume *models.ResumeValue) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	sendError := func(msg string) {
		_ = sendEvent(models.ErrorEvent{Type: models.EventError, Message: msg})
	}

	ctx := c.Request.Context()
	logger := log.WithFields(log.Fields{"thread_id": threadID, "resume": resume != nil})
	out, err := s.run(ctx, t, resume, sendEvent)
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug("client went away")
			return
		}
		logger.WithError(err).Warn("run failed")
		sendError(fmt.Sprintf("An error occurred: %v", err))
		return
	}

	// persist with a context that outlives a client hang-up
	persistCtx := context.WithoutCancel(ctx)
	switch {
	case out.interrupt != nil:
		cp, err := json.Marshal(out.turn)
		if err == nil {
			err = s.store.SetPendingInterrupt(persistCtx, threadID, out.interrupt.Interrupt(), cp)
		}
		if err != nil {
			logger.WithError(err).Error("persist interrupt")
			sendError(fmt.Sprintf("An error occurred: %v", err))
			return
		}
		logger.WithField("interrupt_type", out.interrupt.InterruptType).Info("turn suspended")
		_ = sendEvent(out.interrupt)
	case out.response != nil:
		meta := out.response.Metadata()
		if _, err := s.store.AppendMessage(persistCtx, threadID, models.Message{
			Role:     models.RoleAssistant,
			Text:     out.response.Response,
			Metadata: meta,
		}); err != nil {
			logger.WithError(err).Error("persist response")
			sendError(fmt.Sprintf("An error occurred: %v", err))
			return
		}
		logger.WithField("action", out.response.Action).Info("turn completed")
		_ = sendEvent(out.response)
	default:
		sendError("Graph completed without producing a response.")
	}
}

func (s *Server) history(c *gin.Context) {
	userID, _ := identity.UserIDFromContext(c)
	threadID := c.Param("thread_id")
	if !validUUID(c, threadID, "thread_id") {
		return
	}
	if _, ok := s.owned(c, threadID, userID); !ok {
		return
	}
	ctx := c.Request.Context()
	msgs, err := s.store.ListMessages(ctx, threadID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	resp := models.HistoryResponse{ThreadID: threadID, Messages: make([]models.HistoryMessage, 0, len(msgs))}
	for _, m := range msgs {
		meta := json.RawMessage(`{}`)
		if m.Metadata != nil {
			if raw, err := json.Marshal(m.Metadata); err == nil {
				meta = raw
			}
		}
		resp.Messages = append(resp.Messages, models.HistoryMessage{ID: m.ID, Role: m.Role, Content: m.Text, Metadata: meta})
	}

	in, _, err := s.store.PendingInterrupt(ctx, threadID)
	switch {
	case err == nil:
		resp.PendingInterrupt = &models.InterruptEvent{
			Type:          models.EventInterrupt,
			InterruptType: in.WireType,
			Message:       in.Message,
			Options:       in.Options,
		}
	case !errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) pause(ctx context.Context) error {
	if s.stepDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.stepDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func title(message string) string {
	message = strings.Join(strings.Fields(message), " ")
	if message == "" {
		return "New conversation"
	}
	if r := []rune(message); len(r) > titleLimit {
		return string(r[:titleLimit]) + "..."
	}
	return message
}
