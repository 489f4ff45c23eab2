package participant

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/eventdraw/internal/domain"
	"github.com/victornm/eventdraw/internal/errors"
	"github.com/victornm/eventdraw/internal/event"
	"github.com/victornm/eventdraw/internal/telemetry"
)

const (
	DefaultTable = "participants"
	DefaultLimit = 1000

	columns = "id, empid, name, category, serviceline, registered, registereddatetime, isdrawn, prizewon"
)

type Config struct {
	// DB may be nil; the service then rejects every call until Open succeeds.
	DB       *pgxpool.Pool
	Table    string
	EventBus *event.Bus
	Metrics  *telemetry.Metrics
	Now      func() time.Time
}

type Service struct {
	db      atomic.Pointer[pgxpool.Pool]
	table   string
	eb      *event.Bus
	metrics *telemetry.Metrics
	now     func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		table:   c.Table,
		eb:      c.EventBus,
		metrics: c.Metrics,
		now:     c.Now,
	}

	if s.table == "" {
		s.table = DefaultTable
	}
	if s.now == nil {
		s.now = time.Now
	}
	if c.DB != nil {
		s.db.Store(c.DB)
	}

	return s
}

// Open connects to dsn and swaps the pool in, closing the previous one.
func (s *Service) Open(ctx context.Context, dsn string) error {
	db, err := Connect(ctx, dsn)
	if err != nil {
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("connect participant database failed"),
			errors.WithCause(err),
		)
	}

	if old := s.db.Swap(db); old != nil {
		old.Close()
	}

	slog.InfoContext(ctx, "participant: database connected", "table", s.table)
	return nil
}

// Close releases the pool, if any.
func (s *Service) Close() {
	if db := s.db.Swap(nil); db != nil {
		db.Close()
	}
}

// Connect opens and pings a pgx pool.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cc.MaxConns = 8
	cc.MaxConnIdleTime = 30 * time.Minute
	cc.HealthCheckPeriod = time.Minute
	cc.ConnConfig.ConnectTimeout = 5 * time.Second

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func (s *Service) pool() (*pgxpool.Pool, error) {
	db := s.db.Load()
	if db == nil {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("participant database not initialized, configure the database first"))
	}
	return db, nil
}

// ListRequest filters participants. The zero value is not useful, start from NewListRequest.
type ListRequest struct {
	Offset int
	Limit  int
	// Registered restricts the result to checked-in participants when true.
	Registered  bool
	IsDrawn     bool
	Category    string
	Serviceline string
}

// NewListRequest returns the eligibility filter used by the draw: registered
// participants that were not drawn yet.
func NewListRequest() ListRequest {
	return ListRequest{
		Limit:      DefaultLimit,
		Registered: true,
	}
}

// List returns participants matching req, ordered by id.
func (s *Service) List(ctx context.Context, req ListRequest) ([]domain.Participant, error) {
	db, err := s.pool()
	if err != nil {
		return nil, err
	}

	stmt, args := buildListQuery(s.table, req)
	rows, err := db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	ps, err := pgx.CollectRows(rows, scanParticipant)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	return ps, nil
}

func buildListQuery(table string, req ListRequest) (string, []any) {
	var (
		where []string
		args  []any
	)

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where = append(where, "isdrawn = "+arg(req.IsDrawn))
	if req.Registered {
		where = append(where, "registered = "+arg(true))
	}
	if req.Category != "" {
		where = append(where, "category = "+arg(req.Category))
	}
	if req.Serviceline != "" {
		where = append(where, "serviceline = "+arg(req.Serviceline))
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	offset := max(req.Offset, 0)

	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY id LIMIT %s OFFSET %s;",
		columns,
		pgx.Identifier{table}.Sanitize(),
		strings.Join(where, " AND "),
		arg(limit),
		arg(offset),
	)

	return stmt, args
}

type CheckInRequest struct {
	EmpID string
	// Registered false checks the participant out again.
	Registered bool
}

// CheckIn records attendance of the participant with the given employee ID.
func (s *Service) CheckIn(ctx context.Context, req CheckInRequest) (_ *domain.Participant, err error) {
	defer func() { s.metrics.CheckIn(err) }()

	if req.EmpID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("empid is required"))
	}

	db, err := s.pool()
	if err != nil {
		return nil, err
	}

	var at *time.Time
	if req.Registered {
		now := s.now()
		at = &now
	}

	stmt := fmt.Sprintf(`UPDATE %s SET registered = $1, registereddatetime = $2 WHERE empid = $3 RETURNING %s;`,
		pgx.Identifier{s.table}.Sanitize(), columns)

	p, err := s.updateOne(ctx, db, stmt, req.Registered, at, req.EmpID)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("participant not found: empid=%s", req.EmpID))
		}
		return nil, fmt.Errorf("check in %s: %w", req.EmpID, err)
	}

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventCheckedIn{Participant: *p})
	}

	return p, nil
}

type MarkWinnerRequest struct {
	ID          int64
	PrizeNumber *int
	Won         bool
}

// MarkWinner sets or clears the drawn flag and the prize won of a participant.
func (s *Service) MarkWinner(ctx context.Context, req MarkWinnerRequest) (*domain.Participant, error) {
	db, err := s.pool()
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf(`UPDATE %s SET isdrawn = $1, prizewon = $2 WHERE id = $3 RETURNING %s;`,
		pgx.Identifier{s.table}.Sanitize(), columns)

	p, err := s.updateOne(ctx, db, stmt, req.Won, req.PrizeNumber, req.ID)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("participant not found: id=%d", req.ID))
		}
		return nil, fmt.Errorf("mark winner %d: %w", req.ID, err)
	}

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventWinnerMarked{Participant: *p})
	}

	return p, nil
}

// updateOne runs stmt in a transaction and commits only when exactly one row
// changed; duplicate keys in the table are reported instead of updating them all.
func (s *Service) updateOne(ctx context.Context, db *pgxpool.Pool, stmt string, args ...any) (_ *domain.Participant, err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanParticipant)
	switch {
	case stderrors.Is(err, pgx.ErrNoRows):
		return nil, errors.New(errors.CodeNotFound, errors.WithCause(err))
	case stderrors.Is(err, pgx.ErrTooManyRows):
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("more than one participant matches"),
			errors.WithCause(err),
		)
	case err != nil:
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &p, nil
}

// Servicelines lists the distinct, non-null servicelines.
func (s *Service) Servicelines(ctx context.Context) ([]string, error) {
	db, err := s.pool()
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf(`SELECT DISTINCT serviceline FROM %s WHERE serviceline IS NOT NULL AND serviceline <> '' ORDER BY serviceline;`,
		pgx.Identifier{s.table}.Sanitize())

	rows, err := db.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("list servicelines: %w", err)
	}

	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanParticipant(r pgx.CollectableRow) (domain.Participant, error) {
	var (
		p           domain.Participant
		category    *string
		serviceline *string
		prize       *int32
	)

	if err := r.Scan(&p.ID, &p.EmpID, &p.Name, &category, &serviceline, &p.Registered, &p.RegisteredAt, &p.IsDrawn, &prize); err != nil {
		return domain.Participant{}, err
	}

	if category != nil {
		p.Category = *category
	}
	if serviceline != nil {
		p.Serviceline = *serviceline
	}
	if prize != nil {
		n := int(*prize)
		p.PrizeWon = &n
	}

	return p, nil
}
