package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"marketplace-rtc/internal/directory"
	"marketplace-rtc/internal/session"
)

type fixture struct {
	svc   *Service
	store *session.Store
	dir   *directory.MemoryDirectory
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dir: directory.NewMemoryDirectory(),
		now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	n := 0
	f.store = session.NewStore(session.NewMemoryRepo()).
		WithClock(func() time.Time {
			// strictly increasing so list order is deterministic
			f.now = f.now.Add(time.Minute)
			return f.now
		}).
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("sess-%d", n)
		})
	f.dir.Put(directory.User{ID: "u-client", Name: "Ana Client"})
	f.dir.Put(directory.User{ID: "u-tech", Name: "Tom Technician", Role: "technician"})
	f.svc = NewService(f.store, f.dir)
	return f
}

func (f *fixture) createCall(t *testing.T, callerID, calleeID string) session.Session {
	t.Helper()
	sess, err := f.store.Create(context.Background(), callerID, calleeID, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func TestList_DirectionAndPeerResolution(t *testing.T) {
	f := newFixture(t)
	f.createCall(t, "u-client", "u-tech")
	f.createCall(t, "u-tech", "u-client")

	page, err := f.svc.List(context.Background(), "u-client", 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 2 || len(page.Entries) != 2 {
		t.Fatalf("expected 2 calls, got total=%d entries=%d", page.Total, len(page.Entries))
	}

	// Newest first: the technician-initiated call comes first.
	first := page.Entries[0]
	if first.Direction != "incoming" || first.Peer.ID != "u-tech" || first.Peer.Name != "Tom Technician" {
		t.Fatalf("unexpected first entry %+v", first)
	}
	second := page.Entries[1]
	if second.Direction != "outgoing" || second.Peer.ID != "u-tech" {
		t.Fatalf("unexpected second entry %+v", second)
	}
}

func TestList_Pagination(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.createCall(t, "u-client", "u-tech")
	}

	page, err := f.svc.List(context.Background(), "u-client", 2, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 5 || len(page.Entries) != 2 || page.Page != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Entries[0].SessionID != "sess-3" || page.Entries[1].SessionID != "sess-2" {
		t.Fatalf("unexpected page contents: %s, %s", page.Entries[0].SessionID, page.Entries[1].SessionID)
	}
}

func TestList_ClampsBadParams(t *testing.T) {
	f := newFixture(t)
	f.createCall(t, "u-client", "u-tech")

	page, err := f.svc.List(context.Background(), "u-client", -3, 10000)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Page != 1 || page.Limit != maxLimit {
		t.Fatalf("expected clamped params, got page=%d limit=%d", page.Page, page.Limit)
	}
}

func TestList_UnknownPeerStillListed(t *testing.T) {
	f := newFixture(t)
	f.createCall(t, "u-client", "u-gone")

	page, err := f.svc.List(context.Background(), "u-client", 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(page.Entries))
	}
	peer := page.Entries[0].Peer
	if peer.ID != "u-gone" || peer.Name != "" {
		t.Fatalf("expected bare peer record, got %+v", peer)
	}
}

func TestGet_ParticipantOnly(t *testing.T) {
	f := newFixture(t)
	sess := f.createCall(t, "u-client", "u-tech")

	if _, err := f.svc.Get(context.Background(), "u-client", sess.ID); err != nil {
		t.Fatalf("participant lookup failed: %v", err)
	}
	if _, err := f.svc.Get(context.Background(), "u-stranger", sess.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Get(context.Background(), "u-client", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_ReflectsTerminalOutcome(t *testing.T) {
	f := newFixture(t)
	sess := f.createCall(t, "u-client", "u-tech")

	started := f.now.Add(time.Minute)
	ended := started.Add(90 * time.Second)
	dur := 90
	if _, err := f.store.Transition(context.Background(), sess.ID, session.StatusActive, session.TransitionFields{StartedAt: &started}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := f.store.Transition(context.Background(), sess.ID, session.StatusEnded, session.TransitionFields{EndedAt: &ended, DurationSeconds: &dur}); err != nil {
		t.Fatalf("end: %v", err)
	}

	entry, err := f.svc.Get(context.Background(), "u-tech", sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.Status != session.StatusEnded || entry.DurationSeconds != 90 {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Direction != "incoming" || entry.Peer.ID != "u-client" {
		t.Fatalf("unexpected direction/peer %+v", entry)
	}
}
