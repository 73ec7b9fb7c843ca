package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"palchat/internal/citation"
	"palchat/internal/config"
	"palchat/internal/history"
	"palchat/internal/identity"
	"palchat/internal/models"
	"palchat/internal/redis"
	"palchat/internal/session"
	"palchat/internal/storage"
	"palchat/internal/stream"
)

const chatHelp = `type a message; @doc:<id> @set:<id> @action:<id> @web tag it
/choose <option>  resolve the pending choice
/cancel           cancel the pending choice
/sources          show the sources panel
/hide             collapse the sources panel
/cite <group>     narrow the panel to one citation bubble
/all              show every source of the last answer
/quit             leave`

// printer renders conversation items to a terminal.
type printer struct {
	mu       sync.Mutex
	w        io.Writer
	rendered map[string]citation.Rendering
	last     string
	cites    []models.Citation
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, rendered: make(map[string]citation.Rendering)}
}

func (p *printer) message(m models.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch m.Role {
	case models.RoleUser:
		fmt.Fprintf(p.w, "you> %s\n", m.Text)
	case models.RoleSystemNotice:
		fmt.Fprintf(p.w, "  ! %s\n", m.Text)
	default:
		var cites []models.Citation
		if m.Metadata != nil {
			cites = m.Metadata.Citations
		}
		r := citation.Link(m.ID, m.Text, cites)
		p.rendered[m.ID] = r
		p.last = m.ID
		p.cites = cites

		var b strings.Builder
		for _, seg := range r.Segments {
			if seg.Kind == citation.SegmentGroup {
				fmt.Fprintf(&b, "[%s %s]", seg.Group.Label(), seg.Group.ID)
				continue
			}
			b.WriteString(seg.Text)
		}
		fmt.Fprintf(p.w, "agent> %s\n", b.String())
		if missing := r.Missing(); len(missing) > 0 {
			log.WithFields(log.Fields{"message_id": m.ID, "missing": missing}).Debug("markers without citations")
		}
	}
}

func (p *printer) interrupt(in *models.Interrupt) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "  ? %s\n", in.Message)
	for _, opt := range in.Options {
		fmt.Fprintf(p.w, "    [%s] %s\n", opt.ID, opt.Label)
	}
	if in.Kind == models.KindFreeText {
		fmt.Fprintln(p.w, "    reply with text or tag a document, or /cancel")
		return
	}
	fmt.Fprintln(p.w, "    /choose <option> or /cancel")
}

func (p *printer) failure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var se *stream.Error
	if errors.As(err, &se) && se.Detail != "" {
		fmt.Fprintf(p.w, "  x %s: %s\n", se.Kind, se.Detail)
		return
	}
	fmt.Fprintf(p.w, "  x %v\n", err)
}

// lastCitations returns every citation of the latest rendered answer.
func (p *printer) lastCitations() []models.Citation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cites
}

// group looks up a bubble of the latest rendered answer.
func (p *printer) group(id string) (*citation.Group, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.rendered[p.last]
	if !ok {
		return nil, false
	}
	return r.Group(id)
}

func describeCitation(c models.Citation) string {
	if c.SourceType == models.SourceWeb {
		return fmt.Sprintf("%s <%s>", c.Title, c.URL)
	}
	if c.Page != nil {
		return fmt.Sprintf("%s, p. %d", c.Title, *c.Page)
	}
	return c.Title
}

// sessionOptions maps stream config onto session options. A configured zero
// display time turns status pacing off.
func sessionOptions(cfg config.StreamConfig) session.Options {
	minDisplay := cfg.StatusMinDisplay
	if minDisplay == 0 {
		minDisplay = session.NoStatusSmoothing
	}
	return session.Options{StatusMinDisplay: minDisplay}
}

func newHistoryService(ctx context.Context, cfg *config.Config, client *history.Client) (*history.Service, func(), error) {
	memory := history.NewMemoryCache()
	if !cfg.Redis.Enabled {
		return history.NewService(client, memory), func() {}, nil
	}
	rdb, err := redis.NewRedisClient(cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("create redis client: %w", err)
	}
	shared := history.NewRedisCache(rdb, uuid.NewString())
	listenCtx, cancel := context.WithCancel(ctx)
	go func() {
		err := shared.Listen(listenCtx, func(threadID string) {
			memory.Invalidate(listenCtx, threadID)
		})
		if err != nil && listenCtx.Err() == nil {
			log.WithError(err).Warn("history stale listener stopped")
		}
	}()
	return history.NewService(client, memory, shared), func() {
		cancel()
		rdb.Close()
	}, nil
}

func runChat(ctx context.Context, cfg *config.Config, threadID string) error {
	user, err := requireUser(cfg)
	if err != nil {
		return err
	}
	store, closeDB, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	transport := stream.NewTransport(cfg.BasicConfig.BaseURL, stream.WithInactivityTimeout(cfg.Stream.InactivityTimeout))
	identity.Attach(transport.Client(), user)
	historyClient := history.NewClient(cfg.BasicConfig.BaseURL)
	identity.Attach(historyClient.HTTP(), user)

	loader, closeHistory, err := newHistoryService(ctx, cfg, historyClient)
	if err != nil {
		return err
	}
	defer closeHistory()

	sources := citation.NewStore()
	var events bridge
	unsubscribe := sources.Subscribe(func(snap citation.Snapshot) { events.send(sourcesMsg(snap)) })
	defer unsubscribe()

	listener := session.Listener{
		OnStateChange: func(s session.State) { events.send(stateMsg(s)) },
		OnMessage: func(m models.Message) {
			events.send(messageMsg(m))
			if m.Role == models.RoleAssistant && m.Metadata != nil {
				sources.SetCitations(m.Metadata.Citations)
			}
		},
		OnStatus:    func(ev *models.StatusEvent) { events.send(statusMsg{ev}) },
		OnInterrupt: func(in *models.Interrupt) { events.send(interruptMsg{in}) },
		OnError:     func(err error) { events.send(failureMsg{err}) },
	}

	mgr := session.NewManager(transport, loader, sessionOptions(cfg.Stream))
	defer mgr.Leave()
	ctrl, err := mgr.Enter(ctx, threadID, listener)
	if err != nil {
		return fmt.Errorf("enter conversation: %w", err)
	}

	model := newChatModel(ctx, ctrl, sources, ctrl.Messages(), ctrl.PendingInterrupt())
	model.index = func(text string) {
		indexThread(ctx, store, ctrl.ThreadID(), user.UserID(), text)
	}
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	events.attach(p)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

// bridge forwards controller and citation callbacks into the running
// program. Events raised before the program is attached are dropped; the
// model is built from the controller's state instead.
type bridge struct {
	mu sync.Mutex
	p  *tea.Program
}

func (b *bridge) attach(p *tea.Program) {
	b.mu.Lock()
	b.p = p
	b.mu.Unlock()
}

func (b *bridge) send(msg tea.Msg) {
	b.mu.Lock()
	p := b.p
	b.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// indexThread records the conversation in the local thread index.
func indexThread(ctx context.Context, store *storage.Store, threadID, userID, text string) {
	title := strings.Join(strings.Fields(text), " ")
	if r := []rune(title); len(r) > 60 {
		title = string(r[:60]) + "..."
	}
	if title == "" {
		title = "New conversation"
	}
	if _, err := store.EnsureConversation(ctx, threadID, userID, title); err != nil {
		log.WithError(err).Warn("index conversation")
		return
	}
	if err := store.TouchConversation(ctx, threadID); err != nil {
		log.WithError(err).Debug("touch conversation")
	}
}
