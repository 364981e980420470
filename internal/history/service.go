package history

import (
	"context"
	"errors"
	"time"

	"marketplace-rtc/internal/directory"
	"marketplace-rtc/internal/session"
)

var (
	ErrNotFound  = errors.New("history: call not found")
	ErrForbidden = errors.New("history: not a participant")
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Entry is one call as seen by one participant: the session record plus
// the resolved identity of the other side.
type Entry struct {
	SessionID       string          `json:"session_id"`
	Direction       string          `json:"direction"` // outgoing or incoming
	Peer            directory.User  `json:"peer"`
	ContextRef      string          `json:"context_ref,omitempty"`
	Status          session.Status  `json:"status"`
	DurationSeconds int             `json:"duration_seconds"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Page is one page of a participant's history, newest first.
type Page struct {
	Entries []Entry `json:"calls"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	Limit   int     `json:"limit"`
}

// Service reads call history. It never mutates sessions.
type Service struct {
	store *session.Store
	dir   directory.Directory
}

func NewService(store *session.Store, dir directory.Directory) *Service {
	return &Service{store: store, dir: dir}
}

// List returns one page of userID's calls, newest first. Page numbers are
// 1-based; out-of-range values are clamped rather than rejected.
func (s *Service) List(ctx context.Context, userID string, page, limit int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	total, err := s.store.CountByParticipant(ctx, userID)
	if err != nil {
		return Page{}, err
	}
	rows, err := s.store.ListByParticipant(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return Page{}, err
	}

	out := Page{Entries: make([]Entry, 0, len(rows)), Total: total, Page: page, Limit: limit}
	for _, row := range rows {
		out.Entries = append(out.Entries, s.entry(ctx, userID, row))
	}
	return out, nil
}

// Get returns one call, visible only to its participants.
func (s *Service) Get(ctx context.Context, userID, sessionID string) (Entry, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	if !sess.Participant(userID) {
		return Entry{}, ErrForbidden
	}
	return s.entry(ctx, userID, sess), nil
}

func (s *Service) entry(ctx context.Context, userID string, sess session.Session) Entry {
	direction := "outgoing"
	peerID := sess.CalleeID
	if sess.CalleeID == userID {
		direction = "incoming"
		peerID = sess.CallerID
	}

	// A peer deleted from the directory still appears in history, just
	// without profile fields.
	peer, err := s.dir.Lookup(ctx, peerID)
	if err != nil {
		peer = directory.User{ID: peerID}
	}

	return Entry{
		SessionID:       sess.ID,
		Direction:       direction,
		Peer:            peer,
		ContextRef:      sess.ContextRef,
		Status:          sess.Status,
		DurationSeconds: sess.DurationSeconds,
		StartedAt:       sess.StartedAt,
		EndedAt:         sess.EndedAt,
		CreatedAt:       sess.CreatedAt,
	}
}
