// Package identify resolves the person in front of a kiosk camera to a
// participant by voting over repeated recognition results.
package identify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/victornm/eventdraw/internal/domain"
	"github.com/victornm/eventdraw/internal/errors"
	"github.com/victornm/eventdraw/internal/event"
	"github.com/victornm/eventdraw/internal/participant"
	"github.com/victornm/eventdraw/internal/telemetry"
)

const (
	DefaultThreshold        = 3
	DefaultMaxRetries       = 15
	DefaultMaxNetworkErrors = 5
	DefaultNetworkBackoff   = 500 * time.Millisecond
)

type State string

const (
	StateResting State = "resting"
	StateLoading State = "loading"
	StateSuccess State = "success"
	StateFailed  State = "failed"
)

type (
	Camera interface {
		Capture(ctx context.Context) (domain.Frame, error)
	}

	Recognizer interface {
		Identify(ctx context.Context, f domain.Frame) ([]domain.Identity, error)
	}

	CheckInService interface {
		CheckIn(ctx context.Context, req participant.CheckInRequest) (*domain.Participant, error)
	}

	Notifier interface {
		Notify(ctx context.Context, n domain.Notification)
	}
)

type Config struct {
	Kiosk      string
	Camera     Camera
	Recognizer Recognizer
	CheckIn    CheckInService
	Notifier   Notifier
	EventBus   *event.Bus
	Metrics    *telemetry.Metrics

	Threshold        int
	MaxRetries       int
	MaxNetworkErrors int
	NetworkBackoff   time.Duration
}

// Snapshot is a point in time view of an engine.
type Snapshot struct {
	Kiosk         string             `json:"kiosk"`
	State         State              `json:"state"`
	Attempt       uint64             `json:"attempt"`
	Retries       int                `json:"retries"`
	NetworkErrors int                `json:"network_errors"`
	Tally         []domain.Candidate `json:"tally"`
	Identity      *domain.Identity   `json:"identity"`
	Alternatives  []domain.Candidate `json:"alternatives"`
}

// Engine runs identification attempts for one kiosk. Only one attempt is live
// at a time; results of superseded attempts never reach the tally.
type Engine struct {
	kiosk      string
	camera     Camera
	recognizer Recognizer
	checkIn    CheckInService
	notifier   Notifier
	eb         *event.Bus
	metrics    *telemetry.Metrics

	threshold        int
	maxRetries       int
	maxNetworkErrors int
	backoff          time.Duration

	mu            sync.Mutex
	state         State
	attempt       uint64
	tally         *tally
	retries       int
	networkErrors int
	identity      *domain.Identity
	cancel        context.CancelFunc
	done          chan struct{}
	stopped       bool

	wg sync.WaitGroup
}

func NewEngine(c Config) *Engine {
	e := &Engine{
		kiosk:            c.Kiosk,
		camera:           c.Camera,
		recognizer:       c.Recognizer,
		checkIn:          c.CheckIn,
		notifier:         c.Notifier,
		eb:               c.EventBus,
		metrics:          c.Metrics,
		threshold:        c.Threshold,
		maxRetries:       c.MaxRetries,
		maxNetworkErrors: c.MaxNetworkErrors,
		backoff:          c.NetworkBackoff,
		state:            StateResting,
		tally:            newTally(),
	}

	if e.threshold <= 0 {
		e.threshold = DefaultThreshold
	}
	if e.maxRetries <= 0 {
		e.maxRetries = DefaultMaxRetries
	}
	if e.maxNetworkErrors <= 0 {
		e.maxNetworkErrors = DefaultMaxNetworkErrors
	}
	if e.backoff <= 0 {
		e.backoff = DefaultNetworkBackoff
	}

	return e
}

func (e *Engine) Kiosk() string {
	return e.kiosk
}

// Begin starts a fresh attempt, abandoning the current one, and returns its ID.
// The attempt outlives ctx cancellation; use Reset or Stop to end it.
func (e *Engine) Begin(ctx context.Context) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return 0, errors.New(errors.CodeUnavailable, errors.WithMessagef("kiosk %s is shutting down", e.kiosk))
	}

	e.resetLocked(StateLoading)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.done = make(chan struct{})

	attempt, done := e.attempt, e.done
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(done)
		defer cancel()
		e.run(loopCtx, attempt)
	}()

	slog.InfoContext(ctx, "identify: attempt started", "kiosk", e.kiosk, "attempt", attempt)

	return attempt, nil
}

// Wait blocks until attempt ends and returns the resulting snapshot.
func (e *Engine) Wait(ctx context.Context, attempt uint64) (Snapshot, error) {
	e.mu.Lock()
	if attempt != e.attempt {
		e.mu.Unlock()
		return Snapshot{}, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("attempt %d was superseded", attempt))
	}
	done := e.done
	e.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return Snapshot{}, errors.New(errors.CodeUnavailable,
				errors.WithMessagef("stopped waiting for attempt %d", attempt),
				errors.WithCause(ctx.Err()))
		}
	}

	return e.Snapshot(), nil
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Kiosk:         e.kiosk,
		State:         e.state,
		Attempt:       e.attempt,
		Retries:       e.retries,
		NetworkErrors: e.networkErrors,
		Tally:         e.tally.candidates(),
		Alternatives:  []domain.Candidate{},
	}

	if e.identity != nil {
		id := *e.identity
		s.Identity = &id
		s.Alternatives = e.tally.without(id.Token)
	}

	return s
}

// CheckIn registers token as attending and returns the engine to resting. It
// accepts the resolved identity, an alternative or a manually entered ID.
func (e *Engine) CheckIn(ctx context.Context, token string) (*domain.Participant, error) {
	if token == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("identity token is required"))
	}

	p, err := e.checkIn.CheckIn(ctx, participant.CheckInRequest{EmpID: token, Registered: true})
	if err != nil {
		e.notify(ctx, domain.LevelError, "Failed to check in "+token+": "+errors.Convert(err).Message)
		return nil, err
	}

	e.notify(ctx, domain.LevelSuccess, p.Name+" checked in!")
	e.Reset()

	return p, nil
}

// Reset abandons any attempt and returns to resting.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.resetLocked(StateResting)
}

// Stop abandons the current attempt and waits for its loop to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	e.wg.Wait()
}

func (e *Engine) resetLocked(state State) {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}

	e.attempt++
	e.state = state
	e.tally = newTally()
	e.retries = 0
	e.networkErrors = 0
	e.identity = nil
	if state != StateLoading {
		e.done = nil
	}
}

func (e *Engine) run(ctx context.Context, attempt uint64) {
	for {
		ids, err := e.capture(ctx)

		out := e.apply(ctx, attempt, ids, err)
		if out.notification != nil {
			e.notify(ctx, out.notification.Level, out.notification.Message)
		}
		if out.resolved != nil && e.eb != nil {
			e.eb.Publish(ctx, domain.EventIdentityResolved{Kiosk: e.kiosk, Attempt: attempt, Identity: *out.resolved})
		}
		if out.outcome != "" {
			e.metrics.IdentifyAttempt(e.kiosk, out.outcome)
			slog.InfoContext(ctx, "identify: attempt finished", "kiosk", e.kiosk, "attempt", attempt, "outcome", out.outcome)
		}

		if out.stop {
			return
		}

		if out.backoff > 0 {
			t := time.NewTimer(out.backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}
}

// capture is one step: grab a frame and ask the recognizer about it.
func (e *Engine) capture(ctx context.Context) ([]domain.Identity, error) {
	f, err := e.camera.Capture(ctx)
	if err != nil {
		return nil, err
	}

	return e.recognizer.Identify(ctx, f)
}

type stepOutcome struct {
	stop         bool
	backoff      time.Duration
	outcome      string
	resolved     *domain.Identity
	notification *domain.Notification
}

// apply folds one step result into the attempt state.
func (e *Engine) apply(ctx context.Context, attempt uint64, ids []domain.Identity, err error) stepOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	if attempt != e.attempt || e.state != StateLoading {
		e.metrics.IdentifyStep(e.kiosk, "stale")
		return stepOutcome{stop: true}
	}
	if ctx.Err() != nil {
		return stepOutcome{stop: true}
	}

	if err != nil {
		e.networkErrors++
		e.metrics.IdentifyStep(e.kiosk, "error")
		slog.WarnContext(ctx, "identify: capture step failed",
			"kiosk", e.kiosk,
			"attempt", attempt,
			"network_errors", e.networkErrors,
			"error", err,
		)

		if e.networkErrors >= e.maxNetworkErrors {
			e.finishLocked(StateFailed)
			return stepOutcome{
				stop:         true,
				outcome:      string(StateFailed),
				notification: &domain.Notification{Level: domain.LevelError, Message: "Face recognition unavailable, please check in manually"},
			}
		}

		return stepOutcome{
			backoff:      e.backoff,
			notification: &domain.Notification{Level: domain.LevelError, Message: "Face recognition failed: " + errors.Convert(err).Message},
		}
	}

	e.networkErrors = 0

	if len(ids) == 0 {
		e.metrics.IdentifyStep(e.kiosk, "empty")
	} else {
		e.metrics.IdentifyStep(e.kiosk, "vote")
		e.tally.vote(ids[0])

		if c, ok := e.tally.leader(e.threshold); ok {
			id := c.Identity
			e.identity = &id
			e.finishLocked(StateSuccess)
			return stepOutcome{stop: true, outcome: string(StateSuccess), resolved: &id}
		}
	}

	if e.retries < e.maxRetries {
		e.retries++
		return stepOutcome{}
	}

	e.finishLocked(StateFailed)
	return stepOutcome{
		stop:         true,
		outcome:      string(StateFailed),
		notification: &domain.Notification{Level: domain.LevelWarning, Message: "Face not recognized, please check in manually"},
	}
}

func (e *Engine) finishLocked(state State) {
	e.state = state
}

func (e *Engine) notify(ctx context.Context, level domain.NotificationLevel, msg string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, domain.Notification{Level: level, Message: msg})
}
