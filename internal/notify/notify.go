package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/eventdraw/internal/domain"
	"github.com/victornm/eventdraw/internal/event"
)

const defaultCapacity = 100

type Config struct {
	EventBus *event.Bus
	// Redis is optional; without it notifications are only kept in memory.
	Redis    Redis
	Prefix   string
	Capacity int
	Now      func() time.Time
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

const maxConcurrent = 8

// Message is the payload published on every channel.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type IdentityResolved struct {
	Kiosk    string          `json:"kiosk"`
	Attempt  uint64          `json:"attempt"`
	Identity domain.Identity `json:"identity"`
}

// Service is the operator notification sink.
type Service struct {
	eb     *event.Bus
	redis  Redis
	prefix string
	now    func() time.Time

	mu     sync.Mutex
	recent []domain.Notification
	next   int
	full   bool
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
		now:    c.Now,
	}

	capacity := c.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	s.recent = make([]domain.Notification, capacity)

	if s.now == nil {
		s.now = time.Now
	}

	if s.eb != nil && s.redis != nil {
		s.eb.Subscribe(domain.EventNameNotificationCreated, func(ctx context.Context, e event.Event) error {
			return s.publish(ctx, e, e.(domain.EventNotificationCreated).Notification, s.Channel())
		})
		s.eb.Subscribe(domain.EventNameCheckedIn, func(ctx context.Context, e event.Event) error {
			return s.publish(ctx, e, e.(domain.EventCheckedIn).Participant, s.EventsChannel())
		})
		s.eb.Subscribe(domain.EventNameWinnerMarked, func(ctx context.Context, e event.Event) error {
			return s.publish(ctx, e, e.(domain.EventWinnerMarked).Participant, s.EventsChannel())
		})
		s.eb.Subscribe(domain.EventNameIdentityResolved, func(ctx context.Context, e event.Event) error {
			r := e.(domain.EventIdentityResolved)
			data := IdentityResolved{Kiosk: r.Kiosk, Attempt: r.Attempt, Identity: r.Identity}
			return s.publish(ctx, e, data, s.EventsChannel(), s.KioskChannel(r.Kiosk))
		})
	}

	return s
}

// Notify records n and fans it out asynchronously.
func (s *Service) Notify(ctx context.Context, n domain.Notification) {
	if n.Time.IsZero() {
		n.Time = s.now()
	}

	s.mu.Lock()
	s.recent[s.next] = n
	s.next = (s.next + 1) % len(s.recent)
	if s.next == 0 {
		s.full = true
	}
	s.mu.Unlock()

	slog.InfoContext(ctx, "notify: "+n.Message, "level", n.Level)

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventNotificationCreated{Notification: n})
	}
}

func (s *Service) Success(ctx context.Context, format string, args ...any) {
	s.Notify(ctx, domain.Notification{Level: domain.LevelSuccess, Message: fmt.Sprintf(format, args...)})
}

func (s *Service) Warning(ctx context.Context, format string, args ...any) {
	s.Notify(ctx, domain.Notification{Level: domain.LevelWarning, Message: fmt.Sprintf(format, args...)})
}

func (s *Service) Error(ctx context.Context, format string, args ...any) {
	s.Notify(ctx, domain.Notification{Level: domain.LevelError, Message: fmt.Sprintf(format, args...)})
}

// Recent returns up to limit notifications, newest first. limit <= 0 returns all kept.
func (s *Service) Recent(limit int) []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.next
	if s.full {
		size = len(s.recent)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]domain.Notification, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.next - i + len(s.recent)) % len(s.recent)
		out = append(out, s.recent[idx])
	}

	return out
}

// Channel is the Redis channel notifications are published on.
func (s *Service) Channel() string {
	return fmt.Sprintf("%s:notifications", s.prefix)
}

// EventsChannel carries check-in and winner events.
func (s *Service) EventsChannel() string {
	return fmt.Sprintf("%s:events", s.prefix)
}

func (s *Service) KioskChannel(kiosk string) string {
	return fmt.Sprintf("%s:kiosk:%s", s.prefix, kiosk)
}

func (s *Service) publish(ctx context.Context, e event.Event, data any, channels ...string) error {
	b, err := json.Marshal(Message{
		Event: e.Name(),
		Data:  data,
	})
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", e.Name(), err)
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, ch := range channels {
		eg.Go(func() error {
			return s.redis.Publish(ctx, ch, b).Err()
		})
	}

	return eg.Wait()
}
