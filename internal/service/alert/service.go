package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/alertcast/backend/internal/model/alert"
)

// Publisher pushes a freshly stored alert to realtime subscribers.
type Publisher interface {
	Publish(a alert.Alert)
}

// Service owns the receive → append → broadcast path.
type Service struct {
	mu        sync.Mutex
	store     alert.Store
	publisher Publisher
	now       func() time.Time
	log       zerolog.Logger
}

// NewService wires the alert log to a publisher. publisher may be nil.
func NewService(store alert.Store, publisher Publisher, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		now:       time.Now,
		log:       logger.With().Str("component", "alerts").Logger(),
	}
}

// List returns every stored alert, most recent first.
func (s *Service) List(ctx context.Context) []alert.Alert {
	return alert.Reversed(s.store.LoadAll(ctx))
}

// Submit stores a new alert built from sub and broadcasts it.
// Submissions from this process are serialized so ids stay sequential.
func (s *Service) Submit(ctx context.Context, sub alert.Submission) (alert.Alert, error) {
	s.mu.Lock()
	created := alert.New(s.store.NextID(ctx), sub, s.now())
	err := s.store.Append(ctx, created)
	s.mu.Unlock()

	if err != nil {
		return alert.Alert{}, fmt.Errorf("append alert: %w", err)
	}

	s.log.Info().
		Int("id", created.ID).
		Str("title", created.Title).
		Str("priority", created.Priority).
		Msg("alert stored")

	if s.publisher != nil {
		s.publisher.Publish(created)
	}
	return created, nil
}
