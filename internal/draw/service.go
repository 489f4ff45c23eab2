// Package draw runs prize drawing sessions: picking a random eligible
// participant and committing or reverting the win against the quota ledger.
package draw

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/eventdraw/internal/domain"
	"github.com/victornm/eventdraw/internal/errors"
	"github.com/victornm/eventdraw/internal/participant"
	"github.com/victornm/eventdraw/internal/telemetry"
)

type (
	ParticipantService interface {
		List(ctx context.Context, req participant.ListRequest) ([]domain.Participant, error)
		MarkWinner(ctx context.Context, req participant.MarkWinnerRequest) (*domain.Participant, error)
		Servicelines(ctx context.Context) ([]string, error)
	}

	Ledger interface {
		Load(ctx context.Context, session string, prizes []domain.Prize) error
		List(ctx context.Context, session string) ([]domain.Prize, error)
		Adjust(ctx context.Context, session string, number, delta int) (domain.Prize, error)
		Summary(ctx context.Context, session string) (domain.PrizeSummary, error)
		Drop(ctx context.Context, session string) error
	}

	Notifier interface {
		Notify(ctx context.Context, n domain.Notification)
	}
)

type Config struct {
	Participants ParticipantService
	Ledger       Ledger
	Notifier     Notifier
	// Category returns the runtime default category filter.
	Category func() string
	Metrics  *telemetry.Metrics
	Intn     func(n int) int
	Now      func() time.Time
}

type session struct {
	mu           sync.Mutex
	id           string
	category     *string
	winner       *domain.Participant
	reveal       []domain.Participant
	committed    *int
	lastActivity time.Time
}

type Service struct {
	participants ParticipantService
	ledger       Ledger
	notifier     Notifier
	category     func() string
	metrics      *telemetry.Metrics
	intn         func(n int) int
	now          func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func NewService(c Config) *Service {
	s := &Service{
		participants: c.Participants,
		ledger:       c.Ledger,
		notifier:     c.Notifier,
		category:     c.Category,
		metrics:      c.Metrics,
		intn:         c.Intn,
		now:          c.Now,
		sessions:     make(map[string]*session),
	}

	if s.category == nil {
		s.category = func() string { return "" }
	}
	if s.intn == nil {
		s.intn = CryptoIntn
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// CreateSessionRequest represents a request to open a drawing session.
type CreateSessionRequest struct {
	Prizes []domain.Prize
	// Category, when set, overrides the runtime category for every draw of
	// the session; an empty value draws from all categories.
	Category *string
}

func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.DrawSession, error) {
	if len(req.Prizes) == 0 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("at least one prize is required"))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	if err := s.ledger.Load(ctx, id.String(), req.Prizes); err != nil {
		return nil, err
	}

	ss := &session{
		id:           id.String(),
		category:     req.Category,
		lastActivity: s.now(),
	}

	s.mu.Lock()
	s.sessions[ss.id] = ss
	s.mu.Unlock()

	slog.InfoContext(ctx, "draw: session created", "session_id", ss.id, "prizes", len(req.Prizes))

	ss.mu.Lock()
	defer ss.mu.Unlock()

	return s.view(ctx, ss)
}

func (s *Service) GetSession(ctx context.Context, id string) (*domain.DrawSession, error) {
	ss, err := s.acquire(id)
	if err != nil {
		return nil, err
	}
	defer ss.mu.Unlock()

	return s.view(ctx, ss)
}

func (s *Service) Summary(ctx context.Context, id string) (domain.PrizeSummary, error) {
	ss, err := s.acquire(id)
	if err != nil {
		return domain.PrizeSummary{}, err
	}
	defer ss.mu.Unlock()

	return s.ledger.Summary(ctx, ss.id)
}

// DrawRequest represents a request to draw a winner.
type DrawRequest struct {
	SessionID string
	// Category, when set, overrides the session category for this draw.
	Category *string
	// RandomServiceline narrows the eligible participants to one serviceline
	// picked at random from the distinct servicelines.
	RandomServiceline bool
}

// Draw picks a random eligible participant as the chosen winner. Nothing
// changes when nobody is eligible.
func (s *Service) Draw(ctx context.Context, req DrawRequest) (_ *domain.DrawSession, err error) {
	defer func() { s.metrics.Draw("draw", err) }()

	ss, err := s.acquire(req.SessionID)
	if err != nil {
		return nil, err
	}
	defer ss.mu.Unlock()

	lr := participant.NewListRequest()
	lr.Category = s.categoryFor(ss, req.Category)

	if req.RandomServiceline {
		lines, err := s.participants.Servicelines(ctx)
		if err != nil {
			s.notify(ctx, domain.LevelError, "Can't get servicelines: "+errors.Convert(err).Message)
			return nil, err
		}
		i, ok := pickString(lines, s.intn)
		if !ok {
			s.notify(ctx, domain.LevelWarning, "No servicelines to draw from")
			return nil, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("no servicelines available"))
		}
		lr.Serviceline = lines[i]
	}

	eligible, err := s.participants.List(ctx, lr)
	if err != nil {
		s.notify(ctx, domain.LevelError, "Can't get participants: "+errors.Convert(err).Message)
		return nil, err
	}

	winner, ok := PickRandomWinner(eligible, s.intn)
	if !ok {
		s.notify(ctx, domain.LevelWarning, "Can't get any participants")
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no eligible participants (category=%q serviceline=%q)", lr.Category, lr.Serviceline))
	}

	w := eligible[winner]
	ss.winner = &w
	ss.reveal = RevealOrder(eligible, winner)
	ss.committed = nil

	slog.InfoContext(ctx, "draw: winner chosen",
		"session_id", ss.id,
		"participant_id", w.ID,
		"eligible", len(eligible),
		"category", lr.Category,
		"serviceline", lr.Serviceline,
	)

	return s.view(ctx, ss)
}

// MarkWinner commits the chosen winner against the next available prize. The
// participant is marked first; if the ledger then refuses the increment the
// mark is reverted.
func (s *Service) MarkWinner(ctx context.Context, id string) (_ *domain.DrawSession, err error) {
	defer func() { s.metrics.Draw("mark_winner", err) }()

	ss, err := s.acquire(id)
	if err != nil {
		return nil, err
	}
	defer ss.mu.Unlock()

	if ss.winner == nil {
		s.notify(ctx, domain.LevelWarning, "No chosen winner")
		return nil, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("no chosen winner"))
	}
	if ss.committed != nil {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("%s already won prize %d", ss.winner.Name, *ss.committed))
	}

	prizes, err := s.ledger.List(ctx, ss.id)
	if err != nil {
		return nil, err
	}
	pz, ok := NextAvailablePrize(prizes)
	if !ok {
		s.notify(ctx, domain.LevelError, "No prizes remaining")
		return nil, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("no prizes remaining"))
	}

	number := pz.Number
	marked, err := s.participants.MarkWinner(ctx, participant.MarkWinnerRequest{
		ID:          ss.winner.ID,
		PrizeNumber: &number,
		Won:         true,
	})
	if err != nil {
		s.notify(ctx, domain.LevelError, "Failed to mark "+ss.winner.Name+" as a winner: "+errors.Convert(err).Message)
		return nil, err
	}

	if _, err := s.ledger.Adjust(ctx, ss.id, number, 1); err != nil {
		_, cerr := s.participants.MarkWinner(ctx, participant.MarkWinnerRequest{ID: ss.winner.ID})
		if cerr != nil {
			slog.ErrorContext(ctx, "draw: revert winner mark failed",
				"session_id", ss.id,
				"participant_id", ss.winner.ID,
				"error", cerr,
			)
			err = stderrors.Join(err, cerr)
		}
		s.notify(ctx, domain.LevelError, "Failed to mark "+ss.winner.Name+" as a winner: "+errors.Convert(err).Message)
		return nil, err
	}

	ss.winner = marked
	ss.committed = &number
	s.notify(ctx, domain.LevelSuccess, marked.Name+" marked as a winner!")

	return s.view(ctx, ss)
}

// UndoWinner reverts a committed win and returns the prize to the ledger.
func (s *Service) UndoWinner(ctx context.Context, id string) (_ *domain.DrawSession, err error) {
	defer func() { s.metrics.Draw("undo_winner", err) }()

	ss, err := s.acquire(id)
	if err != nil {
		return nil, err
	}
	defer ss.mu.Unlock()

	if ss.winner == nil || ss.committed == nil {
		s.notify(ctx, domain.LevelWarning, "No winner to undo")
		return nil, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("no committed winner"))
	}

	number := *ss.committed
	reverted, err := s.participants.MarkWinner(ctx, participant.MarkWinnerRequest{ID: ss.winner.ID})
	if err != nil {
		s.notify(ctx, domain.LevelError, "Failed to undo "+ss.winner.Name+": "+errors.Convert(err).Message)
		return nil, err
	}

	// The commit is kept until the prize is back in the ledger so a failed
	// undo can be retried.
	if _, err := s.ledger.Adjust(ctx, ss.id, number, -1); err != nil {
		remarked, cerr := s.participants.MarkWinner(ctx, participant.MarkWinnerRequest{
			ID:          ss.winner.ID,
			PrizeNumber: &number,
			Won:         true,
		})
		if cerr != nil {
			slog.ErrorContext(ctx, "draw: restore winner mark failed",
				"session_id", ss.id,
				"participant_id", ss.winner.ID,
				"error", cerr,
			)
			err = stderrors.Join(err, cerr)
			ss.winner = reverted
		} else {
			ss.winner = remarked
		}
		s.notify(ctx, domain.LevelError, fmt.Sprintf("Failed to return prize %d: %s", number, errors.Convert(err).Message))
		return nil, err
	}

	ss.winner = reverted
	ss.committed = nil

	s.notify(ctx, domain.LevelSuccess, reverted.Name+" is no longer a winner")

	return s.view(ctx, ss)
}

// StepPrizeRequest represents a manual quota adjustment.
type StepPrizeRequest struct {
	SessionID string
	// PrizeNumber selects the prize; 0 means the currently displayed one.
	PrizeNumber int
	// Delta is +1 or -1.
	Delta int
}

func (s *Service) StepPrize(ctx context.Context, req StepPrizeRequest) (_ *domain.DrawSession, err error) {
	defer func() { s.metrics.Draw("step_prize", err) }()

	if req.Delta != 1 && req.Delta != -1 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("delta must be 1 or -1, got %d", req.Delta))
	}

	ss, err := s.acquire(req.SessionID)
	if err != nil {
		return nil, err
	}
	defer ss.mu.Unlock()

	number := req.PrizeNumber
	if number == 0 {
		prizes, err := s.ledger.List(ctx, ss.id)
		if err != nil {
			return nil, err
		}
		pz, ok := NextAvailablePrize(prizes)
		if !ok {
			s.notify(ctx, domain.LevelError, "No prizes remaining")
			return nil, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("no prizes remaining"))
		}
		number = pz.Number
	}

	pz, err := s.ledger.Adjust(ctx, ss.id, number, req.Delta)
	if err != nil {
		s.notify(ctx, domain.LevelWarning, errors.Convert(err).Message)
		return nil, err
	}

	s.notify(ctx, domain.LevelSuccess, fmt.Sprintf("%d of %d %ss given!", pz.Given, pz.Quantity, pz.Name))

	return s.view(ctx, ss)
}

func (s *Service) Servicelines(ctx context.Context) ([]string, error) {
	return s.participants.Servicelines(ctx)
}

// Sweep forgets sessions idle for longer than maxIdle and drops their prizes.
func (s *Service) Sweep(ctx context.Context, maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	var idle []string
	for id, ss := range s.sessions {
		if !ss.mu.TryLock() {
			continue
		}
		if ss.lastActivity.Before(cutoff) {
			idle = append(idle, id)
			delete(s.sessions, id)
		}
		ss.mu.Unlock()
	}
	s.mu.Unlock()

	for _, id := range idle {
		if err := s.ledger.Drop(ctx, id); err != nil {
			slog.WarnContext(ctx, "draw: drop idle session prizes failed", "session_id", id, "error", err)
		}
	}

	if len(idle) > 0 {
		slog.InfoContext(ctx, "draw: idle sessions swept", "count", len(idle))
	}

	return len(idle)
}

// acquire returns the session locked; callers must unlock it.
func (s *Service) acquire(id string) (*session, error) {
	ss, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	return s.lock(ss)
}

func (s *Service) lookup(id string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ss, ok := s.sessions[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("draw session %q not found", id))
	}

	return ss, nil
}

// lock fails with NotFound when Sweep dropped the session while we waited for it.
func (s *Service) lock(ss *session) (*session, error) {
	ss.mu.Lock()

	s.mu.Lock()
	live := s.sessions[ss.id] == ss
	s.mu.Unlock()

	if !live {
		ss.mu.Unlock()
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("draw session %q not found", ss.id))
	}

	ss.lastActivity = s.now()
	return ss, nil
}

// categoryFor resolves the category filter; "" means every category.
func (s *Service) categoryFor(ss *session, override *string) string {
	switch {
	case override != nil:
		return *override
	case ss.category != nil:
		return *ss.category
	default:
		return s.category()
	}
}

func (s *Service) view(ctx context.Context, ss *session) (*domain.DrawSession, error) {
	prizes, err := s.ledger.List(ctx, ss.id)
	if err != nil {
		return nil, err
	}

	v := &domain.DrawSession{
		SessionID: ss.id,
		Category:  s.categoryFor(ss, nil),
		Prizes:    prizes,
		Reveal:    append([]domain.Participant(nil), ss.reveal...),
	}
	if pz, ok := NextAvailablePrize(prizes); ok {
		v.CurrentPrize = &pz
	}
	if ss.winner != nil {
		w := *ss.winner
		v.Winner = &w
	}
	if ss.committed != nil {
		n := *ss.committed
		v.CommittedPrize = &n
	}

	return v, nil
}

func (s *Service) notify(ctx context.Context, level domain.NotificationLevel, msg string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, domain.Notification{Level: level, Message: msg})
}

func pickString(ss []string, intn func(n int) int) (int, bool) {
	if len(ss) == 0 {
		return 0, false
	}
	return intn(len(ss)), true
}
