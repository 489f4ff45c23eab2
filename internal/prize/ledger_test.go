package prize_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/victornm/eventdraw/internal/domain"
	"github.com/victornm/eventdraw/internal/errors"
	"github.com/victornm/eventdraw/internal/prize"
)

func TestLedger_LoadList(t *testing.T) {
	l, _ := makeLedger(t)
	ctx := context.Background()

	err := l.Load(ctx, "s1", []domain.Prize{
		{Number: 2, Name: "Headphones", Quantity: 3, Given: 1, Value: decimal.RequireFromString("59.90")},
		{Number: 1, Name: "Mug", Quantity: 5, Given: 5, Description: "Ceramic", ImageLink: "https://img/mug.png"},
	})
	require.NoError(t, err)

	prizes, err := l.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, prizes, 2)

	require.Equal(t, 1, prizes[0].Number)
	require.Equal(t, "Mug", prizes[0].Name)
	require.Equal(t, 5, prizes[0].Given)
	require.Equal(t, "Ceramic", prizes[0].Description)
	require.Equal(t, "https://img/mug.png", prizes[0].ImageLink)
	require.True(t, prizes[0].Value.IsZero())

	require.Equal(t, 2, prizes[1].Number)
	require.Equal(t, 3, prizes[1].Quantity)
	require.Equal(t, "59.9", prizes[1].Value.String())
}

func TestLedger_LoadRejectsInvalidPrizes(t *testing.T) {
	tests := map[string][]domain.Prize{
		"duplicate number":  {{Number: 1, Quantity: 1}, {Number: 1, Quantity: 2}},
		"non positive":      {{Number: 0, Quantity: 1}},
		"given above quota": {{Number: 1, Quantity: 1, Given: 2}},
		"negative given":    {{Number: 1, Quantity: 1, Given: -1}},
		"negative quantity": {{Number: 3, Quantity: -1}},
	}

	for name, prizes := range tests {
		t.Run(name, func(t *testing.T) {
			l, _ := makeLedger(t)
			err := l.Load(context.Background(), "s1", prizes)
			require.True(t, errors.Is(err, errors.CodeInvalidArgument), "got %v", err)
		})
	}
}

func TestLedger_Adjust(t *testing.T) {
	type (
		inputs struct {
			number int
			deltas []int
		}

		outputs struct {
			prize domain.Prize
			err   error
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"increments within quota": {
			arrange: func() inputs { return inputs{number: 2, deltas: []int{1, 1}} },
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				require.Equal(t, 3, out.prize.Given)
			},
		},
		"rejects increment above quantity": {
			arrange: func() inputs { return inputs{number: 1, deltas: []int{1}} },
			assert: func(t *testing.T, out outputs) {
				require.True(t, errors.Is(out.err, errors.CodeResourceExhausted), "got %v", out.err)
			},
		},
		"rejects decrement below zero": {
			arrange: func() inputs { return inputs{number: 3, deltas: []int{-1}} },
			assert: func(t *testing.T, out outputs) {
				require.True(t, errors.Is(out.err, errors.CodeFailedPrecondition), "got %v", out.err)
			},
		},
		"unknown prize": {
			arrange: func() inputs { return inputs{number: 9, deltas: []int{1}} },
			assert: func(t *testing.T, out outputs) {
				require.True(t, errors.Is(out.err, errors.CodeNotFound), "got %v", out.err)
			},
		},
		"increment then decrement restores the original value": {
			arrange: func() inputs { return inputs{number: 2, deltas: []int{1, 1, -1, -1}} },
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				require.Equal(t, 1, out.prize.Given)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			l, _ := makeLedger(t)
			ctx := context.Background()

			require.NoError(t, l.Load(ctx, "s1", []domain.Prize{
				{Number: 1, Name: "Mug", Quantity: 5, Given: 5},
				{Number: 2, Name: "Headphones", Quantity: 3, Given: 1},
				{Number: 3, Name: "TV", Quantity: 1, Given: 0},
			}))

			in, out := tt.arrange(), outputs{}
			for _, d := range in.deltas {
				out.prize, out.err = l.Adjust(ctx, "s1", in.number, d)
				if out.err != nil {
					break
				}
			}

			tt.assert(t, out)

			// The ledger never leaves [0, quantity].
			prizes, err := l.List(ctx, "s1")
			require.NoError(t, err)
			for _, p := range prizes {
				require.GreaterOrEqual(t, p.Given, 0)
				require.LessOrEqual(t, p.Given, p.Quantity)
			}
		})
	}
}

func TestLedger_SessionsAreIsolatedAndExpire(t *testing.T) {
	l, mr := makeLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Load(ctx, "s1", []domain.Prize{{Number: 1, Quantity: 2}}))
	require.NoError(t, l.Load(ctx, "s2", []domain.Prize{{Number: 1, Quantity: 2}}))

	_, err := l.Adjust(ctx, "s1", 1, 1)
	require.NoError(t, err)

	p, err := l.Get(ctx, "s2", 1)
	require.NoError(t, err)
	require.Equal(t, 0, p.Given)

	mr.FastForward(2 * time.Hour)

	_, err = l.List(ctx, "s1")
	require.True(t, errors.Is(err, errors.CodeNotFound), "got %v", err)
}

func TestLedger_AdjustRefreshesExpiry(t *testing.T) {
	l, mr := makeLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Load(ctx, "s1", []domain.Prize{
		{Number: 1, Quantity: 2},
		{Number: 2, Quantity: 2},
	}))

	mr.FastForward(50 * time.Minute)

	_, err := l.Adjust(ctx, "s1", 2, 1)
	require.NoError(t, err)

	for _, key := range []string{"test:session:s1:prizes", "test:session:s1:prize:1", "test:session:s1:prize:2"} {
		require.Equal(t, time.Hour, mr.TTL(key), key)
	}

	mr.FastForward(50 * time.Minute)

	prizes, err := l.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, prizes, 2)
	require.Equal(t, 1, prizes[1].Given)
}

func TestLedger_Summary(t *testing.T) {
	l, _ := makeLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Load(ctx, "s1", []domain.Prize{
		{Number: 1, Quantity: 5, Given: 2, Value: decimal.RequireFromString("10.50")},
		{Number: 2, Quantity: 1, Given: 1, Value: decimal.RequireFromString("100")},
	}))

	s, err := l.Summary(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 6, s.Quantity)
	require.Equal(t, 3, s.Given)
	require.True(t, decimal.RequireFromString("121").Equal(s.ValueGiven), "got %s", s.ValueGiven)
}

func makeLedger(t *testing.T) (*prize.Ledger, *miniredis.Miniredis) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	mr := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	t.Cleanup(func() { rc.Close() })
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return prize.NewLedger(prize.Config{
		Redis:  rc,
		Prefix: "test",
		TTL:    time.Hour,
	}), mr
}
