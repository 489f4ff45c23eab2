package prize

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/victornm/eventdraw/internal/domain"
	"github.com/victornm/eventdraw/internal/errors"
	"github.com/victornm/eventdraw/internal/telemetry"
)

const defaultTTL = 12 * time.Hour

const (
	fieldNumber      = "number"
	fieldName        = "name"
	fieldQuantity    = "quantity"
	fieldGiven       = "given"
	fieldDescription = "description"
	fieldImageLink   = "image_link"
	fieldValue       = "value"
)

// Sentinels returned by adjustScript; a valid result is always >= 0.
const (
	adjustNotFound   = -1
	adjustBelowZero  = -2
	adjustAboveQuota = -3
)

// adjustScript moves "given" by ARGV[1] only if the result stays within [0, quantity].
var adjustScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local given = tonumber(redis.call('HGET', KEYS[1], 'given'))
local quantity = tonumber(redis.call('HGET', KEYS[1], 'quantity'))
local updated = given + tonumber(ARGV[1])
if updated < 0 then
	return -2
end
if updated > quantity then
	return -3
end
redis.call('HSET', KEYS[1], 'given', updated)
return updated
`)

type Config struct {
	Redis   redis.UniversalClient
	Prefix  string
	TTL     time.Duration
	Metrics *telemetry.Metrics
}

// Ledger keeps the quota of every prize of a draw session in Redis.
type Ledger struct {
	redis   redis.UniversalClient
	prefix  string
	ttl     time.Duration
	metrics *telemetry.Metrics
}

func NewLedger(c Config) *Ledger {
	l := &Ledger{
		redis:   c.Redis,
		prefix:  c.Prefix,
		ttl:     c.TTL,
		metrics: c.Metrics,
	}

	if l.ttl <= 0 {
		l.ttl = defaultTTL
	}

	return l
}

// Load stores the prizes of a session, replacing anything stored before.
func (l *Ledger) Load(ctx context.Context, session string, prizes []domain.Prize) error {
	if err := Validate(prizes); err != nil {
		return err
	}

	if err := l.Drop(ctx, session); err != nil {
		return err
	}

	_, err := l.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, pz := range prizes {
			key := l.prizeKey(session, pz.Number)
			p.HSet(ctx, key,
				fieldNumber, pz.Number,
				fieldName, pz.Name,
				fieldQuantity, pz.Quantity,
				fieldGiven, pz.Given,
				fieldDescription, pz.Description,
				fieldImageLink, pz.ImageLink,
				fieldValue, pz.Value.String(),
			)
			p.Expire(ctx, key, l.ttl)
			p.ZAdd(ctx, l.indexKey(session), redis.Z{Score: float64(pz.Number), Member: pz.Number})
		}
		p.Expire(ctx, l.indexKey(session), l.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load prizes: %w", err)
	}

	return nil
}

// Validate checks prize numbers are positive and unique and every quota is consistent.
func Validate(prizes []domain.Prize) error {
	seen := make(map[int]bool, len(prizes))
	for _, p := range prizes {
		switch {
		case p.Number <= 0:
			return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("prize number must be positive: %d", p.Number))
		case seen[p.Number]:
			return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("duplicate prize number: %d", p.Number))
		case p.Quantity < 0 || p.Given < 0 || p.Given > p.Quantity:
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("prize %d: given %d out of range [0, %d]", p.Number, p.Given, p.Quantity))
		}
		seen[p.Number] = true
	}

	return nil
}

// List returns the prizes of a session ordered by prize number.
func (l *Ledger) List(ctx context.Context, session string) ([]domain.Prize, error) {
	numbers, err := l.redis.ZRange(ctx, l.indexKey(session), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list prizes: %w", err)
	}

	if len(numbers) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("draw session not found: session=%s", session))
	}

	cmds := make([]*redis.MapStringStringCmd, 0, len(numbers))
	_, err = l.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, n := range numbers {
			cmds = append(cmds, p.HGetAll(ctx, fmt.Sprintf("%s:session:%s:prize:%s", l.prefix, session, n)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list prizes: %w", err)
	}

	prizes := make([]domain.Prize, 0, len(cmds))
	for _, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue
		}
		pz, err := decodePrize(m)
		if err != nil {
			return nil, fmt.Errorf("list prizes: %w", err)
		}
		prizes = append(prizes, pz)
	}

	sort.Slice(prizes, func(i, j int) bool { return prizes[i].Number < prizes[j].Number })
	return prizes, nil
}

// Get returns a single prize.
func (l *Ledger) Get(ctx context.Context, session string, number int) (domain.Prize, error) {
	m, err := l.redis.HGetAll(ctx, l.prizeKey(session, number)).Result()
	if err != nil {
		return domain.Prize{}, fmt.Errorf("get prize: %w", err)
	}
	if len(m) == 0 {
		return domain.Prize{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("prize not found: session=%s prize=%d", session, number))
	}

	return decodePrize(m)
}

// Adjust atomically moves the given counter of a prize by delta and returns the updated prize.
func (l *Ledger) Adjust(ctx context.Context, session string, number, delta int) (_ domain.Prize, err error) {
	defer func() { l.metrics.PrizeAdjustment(delta, err) }()

	res, err := adjustScript.Run(ctx, l.redis, []string{l.prizeKey(session, number)}, delta).Int()
	if err != nil {
		return domain.Prize{}, fmt.Errorf("adjust prize: %w", err)
	}

	switch res {
	case adjustNotFound:
		return domain.Prize{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("prize not found: session=%s prize=%d", session, number))
	case adjustBelowZero:
		return domain.Prize{}, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("prize %d: nothing given yet", number))
	case adjustAboveQuota:
		return domain.Prize{}, errors.New(errors.CodeResourceExhausted,
			errors.WithMessagef("prize %d: all given", number))
	}

	if err := l.touch(ctx, session); err != nil {
		slog.WarnContext(ctx, "prize: refresh ttl failed", "session", session, "error", err)
	}

	return l.Get(ctx, session, number)
}

// touch extends the expiry of every key of a session; an active session keeps its prizes.
func (l *Ledger) touch(ctx context.Context, session string) error {
	numbers, err := l.redis.ZRange(ctx, l.indexKey(session), 0, -1).Result()
	if err != nil {
		return err
	}

	_, err = l.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Expire(ctx, l.indexKey(session), l.ttl)
		for _, n := range numbers {
			p.Expire(ctx, fmt.Sprintf("%s:session:%s:prize:%s", l.prefix, session, n), l.ttl)
		}
		return nil
	})
	return err
}

// Summary totals quantity, given and the value given out over a session.
func (l *Ledger) Summary(ctx context.Context, session string) (domain.PrizeSummary, error) {
	prizes, err := l.List(ctx, session)
	if err != nil {
		return domain.PrizeSummary{}, err
	}

	return Summarize(prizes), nil
}

func Summarize(prizes []domain.Prize) domain.PrizeSummary {
	s := domain.PrizeSummary{ValueGiven: decimal.Zero}
	for _, p := range prizes {
		s.Quantity += p.Quantity
		s.Given += p.Given
		s.ValueGiven = s.ValueGiven.Add(p.Value.Mul(decimal.NewFromInt(int64(p.Given))))
	}
	return s
}

// Drop deletes every key of a session.
func (l *Ledger) Drop(ctx context.Context, session string) error {
	numbers, err := l.redis.ZRange(ctx, l.indexKey(session), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("drop prizes: %w", err)
	}

	keys := make([]string, 0, len(numbers)+1)
	keys = append(keys, l.indexKey(session))
	for _, n := range numbers {
		keys = append(keys, fmt.Sprintf("%s:session:%s:prize:%s", l.prefix, session, n))
	}

	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("drop prizes: %w", err)
	}

	return nil
}

func decodePrize(m map[string]string) (domain.Prize, error) {
	var (
		p   domain.Prize
		err error
	)

	if p.Number, err = strconv.Atoi(m[fieldNumber]); err != nil {
		return p, fmt.Errorf("decode prize number: %w", err)
	}
	if p.Quantity, err = strconv.Atoi(m[fieldQuantity]); err != nil {
		return p, fmt.Errorf("decode prize %d quantity: %w", p.Number, err)
	}
	if p.Given, err = strconv.Atoi(m[fieldGiven]); err != nil {
		return p, fmt.Errorf("decode prize %d given: %w", p.Number, err)
	}
	if p.Value, err = decimal.NewFromString(m[fieldValue]); err != nil {
		return p, fmt.Errorf("decode prize %d value: %w", p.Number, err)
	}
	p.Name = m[fieldName]
	p.Description = m[fieldDescription]
	p.ImageLink = m[fieldImageLink]

	return p, nil
}

func (l *Ledger) indexKey(session string) string {
	return fmt.Sprintf("%s:session:%s:prizes", l.prefix, session)
}

func (l *Ledger) prizeKey(session string, number int) string {
	return fmt.Sprintf("%s:session:%s:prize:%d", l.prefix, session, number)
}
