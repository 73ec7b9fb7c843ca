package history

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"palchat/internal/models"
)

const historyBody = `{
  "thread_id": "t-1",
  "messages": [
    {"id": "u1", "role": "user", "content": "Summarize", "metadata": {}},
    {"id": "a1", "role": "assistant", "content": "Capital [1].",
     "metadata": {"citations": [{"id": 1, "source_type": "document", "title": "Policy"}], "action": "summarize"}}
  ],
  "pending_interrupt": {"type": "interrupt", "interrupt_type": "doc_choice", "message": "Which document?",
    "options": [{"id": "d1", "label": "Policy"}, {"id": "all", "label": "All of these"}]}
}`

func TestClientFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/history/t-1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, historyBody)
		case "/chat/history/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"detail":"Conversation not found"}`)
		default:
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"detail":"Conversation does not belong to this user"}`)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	snap, err := c.Fetch(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if snap.ThreadID != "t-1" || len(snap.Messages) != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Messages[0].Metadata != nil {
		t.Fatalf("empty metadata should be dropped")
	}
	meta := snap.Messages[1].Metadata
	if meta == nil || len(meta.Citations) != 1 || meta.Action != "summarize" {
		t.Fatalf("assistant metadata not decoded: %+v", meta)
	}
	if snap.PendingInterrupt == nil || snap.PendingInterrupt.Kind != models.KindChoiceDocument {
		t.Fatalf("pending interrupt not restored: %+v", snap.PendingInterrupt)
	}

	if _, err := c.Fetch(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := c.Fetch(context.Background(), "other"); err == nil {
		t.Fatalf("expected error for forbidden thread")
	}
}

type fakeFetcher struct {
	calls int
	snap  Snapshot
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, threadID string) (Snapshot, error) {
	f.calls++
	if f.err != nil {
		return Snapshot{}, f.err
	}
	snap := f.snap
	snap.ThreadID = threadID
	return snap, nil
}

func TestServiceCachesUntilMarkedStale(t *testing.T) {
	fetcher := &fakeFetcher{snap: Snapshot{Messages: []models.Message{{ID: "m1", Role: models.RoleUser, Text: "hi"}}}}
	svc := NewService(fetcher, NewMemoryCache())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		snap, err := svc.Load(ctx, "t-1")
		if err != nil || len(snap.Messages) != 1 {
			t.Fatalf("Load: %v %+v", err, snap)
		}
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected one fetch, got %d", fetcher.calls)
	}

	svc.MarkStale("t-1")
	if fetcher.calls != 1 {
		t.Fatalf("marking stale must not refetch eagerly")
	}
	if _, err := svc.Load(ctx, "t-1"); err != nil {
		t.Fatalf("Load after stale: %v", err)
	}
	if fetcher.calls != 2 {
		t.Fatalf("expected refetch after stale, got %d calls", fetcher.calls)
	}
}

func TestServiceBackfillsFasterTier(t *testing.T) {
	fast, slow := NewMemoryCache(), NewMemoryCache()
	ctx := context.Background()
	slow.Put(ctx, Snapshot{ThreadID: "t-2", Messages: []models.Message{{ID: "x"}}})

	fetcher := &fakeFetcher{}
	svc := NewService(fetcher, fast, slow)
	if _, err := svc.Load(ctx, "t-2"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatalf("slow tier hit should not fetch")
	}
	if _, ok := fast.Get(ctx, "t-2"); !ok {
		t.Fatalf("fast tier was not backfilled")
	}
}

func TestServiceUnknownThreadStartsEmpty(t *testing.T) {
	svc := NewService(&fakeFetcher{err: ErrNotFound}, NewMemoryCache())
	snap, err := svc.Load(context.Background(), "new-thread")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.ThreadID != "new-thread" || len(snap.Messages) != 0 || snap.PendingInterrupt != nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	boom := errors.New("boom")
	svc = NewService(&fakeFetcher{err: boom})
	if _, err := svc.Load(context.Background(), "t"); !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if _, err := svc.Load(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty thread id")
	}
}
