package main

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"palchat/internal/citation"
	"palchat/internal/models"
	"palchat/internal/session"
)

type fakeConversation struct {
	drafts  []session.Draft
	resumes []models.ResumeValue
	cancels int
	err     error
}

func (f *fakeConversation) ThreadID() string { return "t-1" }

func (f *fakeConversation) Submit(_ context.Context, d session.Draft) error {
	if f.err != nil {
		return f.err
	}
	f.drafts = append(f.drafts, d)
	return nil
}

func (f *fakeConversation) Resume(_ context.Context, rv models.ResumeValue) error {
	f.resumes = append(f.resumes, rv)
	return nil
}

func (f *fakeConversation) CancelInterrupt(context.Context) error {
	f.cancels++
	return nil
}

func update(t *testing.T, m chatModel, msg tea.Msg) (chatModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	cm, ok := next.(chatModel)
	if !ok {
		t.Fatalf("unexpected model type %T", next)
	}
	return cm, cmd
}

func typeLine(t *testing.T, m chatModel, line string) (chatModel, tea.Cmd) {
	t.Helper()
	m.input.SetValue(line)
	return update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
}

func TestChatModelSubmitsParsedDraft(t *testing.T) {
	conv := &fakeConversation{}
	m := newChatModel(context.Background(), conv, citation.NewStore(), nil, nil)
	var indexed string
	m.index = func(text string) { indexed = text }

	m, cmd := typeLine(t, m, "@doc:d1 summarize this")
	if cmd == nil {
		t.Fatalf("expected a submit command")
	}
	if m.input.Value() != "" {
		t.Fatalf("input should be cleared, got %q", m.input.Value())
	}
	if msg := cmd(); msg != nil {
		t.Fatalf("unexpected message %#v", msg)
	}
	if len(conv.drafts) != 1 {
		t.Fatalf("expected one submitted draft, got %d", len(conv.drafts))
	}
	p := conv.drafts[0].Payload
	if p.Text != "summarize this" || len(p.TaggedDocumentIDs) != 1 || p.TaggedDocumentIDs[0] != "d1" {
		t.Fatalf("unexpected payload %+v", p)
	}
	if indexed != "summarize this" {
		t.Fatalf("thread should be indexed after submit, got %q", indexed)
	}
}

func TestChatModelSubmitFailureLandsInTranscript(t *testing.T) {
	conv := &fakeConversation{err: session.ErrAwaitingChoice}
	m := newChatModel(context.Background(), conv, citation.NewStore(), nil, nil)
	m.index = func(string) { t.Fatalf("rejected submit must not be indexed") }

	m, cmd := typeLine(t, m, "hello")
	msg := cmd()
	if _, ok := msg.(failureMsg); !ok {
		t.Fatalf("expected failure message, got %#v", msg)
	}
	m, _ = update(t, m, msg)
	if !strings.Contains(m.transcript.String(), "x session: a choice is pending") {
		t.Fatalf("failure missing from transcript: %q", m.transcript.String())
	}
	if !strings.Contains(m.View(), "last request failed") {
		t.Fatalf("status line should report the failure")
	}
}

func TestChatModelShowsSmoothedStatus(t *testing.T) {
	m := newChatModel(context.Background(), &fakeConversation{}, citation.NewStore(), nil, nil)

	m, _ = update(t, m, stateMsg(session.Streaming))
	m, _ = update(t, m, statusMsg{&models.StatusEvent{Message: "Searching documents", DocsFound: make([]models.DocRef, 2)}})
	if !strings.Contains(m.View(), "Searching documents (2 documents)") {
		t.Fatalf("status missing from view")
	}

	m, _ = update(t, m, statusMsg{nil})
	if strings.Contains(m.View(), "Searching documents") {
		t.Fatalf("cleared status should disappear")
	}
	if !strings.Contains(m.View(), "waiting for the agent") {
		t.Fatalf("streaming without a status should say so")
	}

	m, _ = update(t, m, statusMsg{&models.StatusEvent{Message: "Drafting"}})
	m, _ = update(t, m, stateMsg(session.Idle))
	if m.statusLine != "" || strings.Contains(m.View(), "Drafting") {
		t.Fatalf("status should be dropped once the exchange settles")
	}
}

func TestChatModelInterruptCommands(t *testing.T) {
	conv := &fakeConversation{}
	pending := &models.Interrupt{
		Kind:    models.KindChoiceAction,
		Message: "What would you like to do?",
		Options: []models.Option{{ID: "summarize", Label: "Summarize"}},
	}
	m := newChatModel(context.Background(), conv, citation.NewStore(), nil, pending)
	if !strings.Contains(m.transcript.String(), "[summarize] Summarize") {
		t.Fatalf("restored interrupt not shown: %q", m.transcript.String())
	}

	m, cmd := typeLine(t, m, "/choose summarize")
	cmd()
	if len(conv.resumes) != 1 || conv.resumes[0].Kind != "" || *conv.resumes[0].Value != "summarize" {
		t.Fatalf("unexpected resumes %+v", conv.resumes)
	}

	m, cmd = typeLine(t, m, "/cancel")
	cmd()
	if conv.cancels != 1 {
		t.Fatalf("expected one cancel, got %d", conv.cancels)
	}

	m, _ = update(t, m, interruptMsg{nil})
	if m.pending != nil {
		t.Fatalf("resolved interrupt should be dropped")
	}

	_, cmd = typeLine(t, m, "/quit")
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("/quit should quit")
	}
}

func TestChatModelCitationCommandsGoThroughStore(t *testing.T) {
	store := citation.NewStore()
	m := newChatModel(context.Background(), &fakeConversation{}, store, nil, nil)
	cites := []models.Citation{
		{ID: 1, SourceType: models.SourceDocument, Title: "Policy"},
		{ID: 2, SourceType: models.SourceDocument, Title: "Framework"},
		{ID: 3, SourceType: models.SourceWeb, Title: "News", URL: "https://example.org"},
	}
	m, _ = update(t, m, messageMsg(models.Message{
		ID:       "m1",
		Role:     models.RoleAssistant,
		Text:     "Ratio holds [1][2]. Reported [3].",
		Metadata: &models.ResponseMetadata{Citations: cites},
	}))

	m, cmd := typeLine(t, m, "/cite m1-g9")
	if cmd != nil {
		t.Fatalf("unknown group should not touch the store")
	}
	if !strings.Contains(m.transcript.String(), "no such citation group") {
		t.Fatalf("unknown group not reported: %q", m.transcript.String())
	}

	m, cmd = typeLine(t, m, "/cite m1-g0")
	cmd()
	if store.Highlighted() != "m1-g0" || len(store.Active()) != 2 {
		t.Fatalf("group not selected: %q %+v", store.Highlighted(), store.Active())
	}
	m, _ = update(t, m, sourcesMsg(citation.Snapshot{Active: store.Active(), Highlighted: store.Highlighted(), Expanded: store.Expanded()}))
	if view := m.View(); !strings.Contains(view, "Sources for m1-g0") || !strings.Contains(view, "[2] Framework") {
		t.Fatalf("sources panel missing from view:\n%s", view)
	}

	m, cmd = typeLine(t, m, "/all")
	cmd()
	if store.Highlighted() != "" || len(store.Active()) != 3 {
		t.Fatalf("view all should restore every citation: %q %+v", store.Highlighted(), store.Active())
	}

	_, cmd = typeLine(t, m, "/hide")
	cmd()
	if store.Expanded() {
		t.Fatalf("panel should be collapsed")
	}
}

func TestBridgeDropsEventsBeforeAttach(t *testing.T) {
	var b bridge
	b.send(stateMsg(session.Idle))
}
