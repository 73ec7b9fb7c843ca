package main

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"palchat/internal/citation"
	"palchat/internal/config"
	"palchat/internal/models"
	"palchat/internal/session"
	"palchat/internal/stream"
)

func TestPrinterRendersCitationBubbles(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf)
	page := 4
	p.message(models.Message{
		ID:   "m1",
		Role: models.RoleAssistant,
		Text: "Capital must stay above 8% [1][2]. See the web [3].",
		Metadata: &models.ResponseMetadata{Citations: []models.Citation{
			{ID: 1, SourceType: models.SourceDocument, Title: "Capital Adequacy Framework", Page: &page},
			{ID: 2, SourceType: models.SourceDocument, Title: "Liquidity Coverage Ratio Policy"},
			{ID: 3, SourceType: models.SourceWeb, Title: "Regulator", URL: "https://example.org"},
		}},
	})

	got := buf.String()
	if !strings.Contains(got, "above 8% [+2 m1-g0].") || !strings.Contains(got, "web [+1 m1-g1].") {
		t.Fatalf("unexpected rendering %q", got)
	}
	g, ok := p.group("m1-g0")
	if !ok || len(g.Citations) != 2 {
		t.Fatalf("expected group with two citations, got %+v %v", g, ok)
	}
	if _, ok := p.group("m1-g9"); ok {
		t.Fatalf("unknown group should not resolve")
	}
	if len(p.lastCitations()) != 3 {
		t.Fatalf("expected every citation of the answer to be kept")
	}
}

func TestRenderSourcesPanel(t *testing.T) {
	page := 2
	cites := []models.Citation{
		{ID: 1, SourceType: models.SourceDocument, Title: "Policy", Page: &page},
		{ID: 2, SourceType: models.SourceWeb, Title: "News", URL: "https://example.org/n"},
	}

	if got := renderSources(citation.Snapshot{Active: cites, Expanded: false}); got != "" {
		t.Fatalf("collapsed panel should render nothing, got %q", got)
	}

	got := renderSources(citation.Snapshot{Active: cites, Highlighted: "m1-g0", Expanded: true})
	for _, want := range []string{"[1] Policy, p. 2", "[2] News <https://example.org/n>"} {
		if !strings.Contains(got, want) {
			t.Fatalf("panel missing %q: %q", want, got)
		}
	}
}

func TestPrinterFailureShowsBackendDetail(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf)
	p.failure(&stream.Error{Kind: stream.RequestRejected, Status: http.StatusBadRequest, Detail: "No pending action to resume for this conversation."})
	if !strings.Contains(buf.String(), "request rejected: No pending action") {
		t.Fatalf("unexpected output %q", buf.String())
	}

	buf.Reset()
	p.failure(errors.New("boom"))
	if strings.TrimSpace(buf.String()) != "x boom" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestPrinterInterruptHints(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf)
	p.interrupt(&models.Interrupt{
		Kind:    models.KindChoiceAction,
		Message: "What would you like to do?",
		Options: []models.Option{{ID: "summarize", Label: "Summarize"}},
	})
	if got := buf.String(); !strings.Contains(got, "[summarize] Summarize") || !strings.Contains(got, "/choose") {
		t.Fatalf("unexpected output %q", got)
	}

	buf.Reset()
	p.interrupt(&models.Interrupt{Kind: models.KindFreeText, Message: "Which document?"})
	if !strings.Contains(buf.String(), "reply with text") {
		t.Fatalf("free text hint missing: %q", buf.String())
	}
}

func TestSessionOptionsZeroDisablesPacing(t *testing.T) {
	if got := sessionOptions(config.StreamConfig{}).StatusMinDisplay; got != session.NoStatusSmoothing {
		t.Fatalf("zero display time should disable pacing, got %v", got)
	}
	if got := sessionOptions(config.StreamConfig{StatusMinDisplay: 250 * time.Millisecond}).StatusMinDisplay; got != 250*time.Millisecond {
		t.Fatalf("configured display time lost: %v", got)
	}
}
