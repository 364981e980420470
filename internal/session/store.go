package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("session: not found")
	ErrInvalidFields = errors.New("session: invalid transition fields")
)

// TransitionFields carries the timestamp/duration updates that accompany a
// status change. Nil pointers leave the stored value untouched.
type TransitionFields struct {
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds *int
}

// Repository is the persistence contract for call sessions.
//
// Transition persists whatever it is given; transition legality is the
// coordinator's responsibility, not the store's.
type Repository interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	Transition(ctx context.Context, id string, status Status, fields TransitionFields, updatedAt time.Time) error

	ListByParticipant(ctx context.Context, userID string, limit, offset int) ([]Session, error)
	CountByParticipant(ctx context.Context, userID string) (int, error)
}

// Store creates and mutates durable call records.
type Store struct {
	repo  Repository
	clock func() time.Time
	newID func() string
}

func NewStore(repo Repository) *Store {
	return &Store{repo: repo, clock: time.Now, newID: uuid.NewString}
}

// Create records a fresh call attempt in ringing state and returns it.
func (s *Store) Create(ctx context.Context, callerID, calleeID, contextRef string) (Session, error) {
	if s.repo == nil {
		return Session{}, errors.New("session: repository not configured")
	}
	if callerID == "" || calleeID == "" {
		return Session{}, ErrInvalidFields
	}

	now := s.clock().UTC()
	sess := Session{
		ID:         s.newID(),
		CallerID:   callerID,
		CalleeID:   calleeID,
		ContextRef: contextRef,
		Status:     StatusRinging,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *Store) Get(ctx context.Context, id string) (Session, error) {
	return s.repo.Get(ctx, id)
}

// Transition applies a new status plus accompanying fields.
// An ended write must carry the ended timestamp so the history record is
// never missing its terminal time.
func (s *Store) Transition(ctx context.Context, id string, status Status, fields TransitionFields) (Session, error) {
	if status == StatusEnded && fields.EndedAt == nil {
		return Session{}, ErrInvalidFields
	}
	if status == StatusActive && fields.StartedAt == nil {
		return Session{}, ErrInvalidFields
	}

	now := s.clock().UTC()
	if err := s.repo.Transition(ctx, id, status, fields, now); err != nil {
		return Session{}, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Store) ListByParticipant(ctx context.Context, userID string, limit, offset int) ([]Session, error) {
	return s.repo.ListByParticipant(ctx, userID, limit, offset)
}

func (s *Store) CountByParticipant(ctx context.Context, userID string) (int, error) {
	return s.repo.CountByParticipant(ctx, userID)
}

// WithClock overrides the store clock. Intended for tests.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// WithIDGenerator overrides session id generation. Intended for tests.
func (s *Store) WithIDGenerator(newID func() string) *Store {
	s.newID = newID
	return s
}
