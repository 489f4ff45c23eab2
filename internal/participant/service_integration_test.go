//go:build integration_test

package participant_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/eventdraw/internal/errors"
	"github.com/victornm/eventdraw/internal/participant"
)

// Requires PARTICIPANT_TEST_DSN pointing to a disposable Postgres database.
func TestService_Postgres(t *testing.T) {
	dsn := os.Getenv("PARTICIPANT_TEST_DSN")
	if dsn == "" {
		t.Skip("PARTICIPANT_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := participant.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	table := fmt.Sprintf("participants_test_%d", time.Now().UnixNano())
	_, err = db.Exec(ctx, fmt.Sprintf(`
CREATE TABLE %s (
	id SERIAL PRIMARY KEY,
	empid TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	category TEXT,
	serviceline TEXT,
	registered BOOLEAN NOT NULL DEFAULT FALSE,
	registereddatetime TIMESTAMPTZ,
	isdrawn BOOLEAN NOT NULL DEFAULT FALSE,
	prizewon INTEGER
);
INSERT INTO %s (empid, name, category, serviceline) VALUES
	('E1', 'Ada', 'general', 'audit'),
	('E2', 'Grace', 'general', 'tax'),
	('E3', 'Linus', 'vip', NULL);`, table, table))
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = db.Exec(context.Background(), "DROP TABLE "+table) })

	s := participant.NewService(participant.Config{DB: db, Table: table})

	eligible, err := s.List(ctx, participant.NewListRequest())
	require.NoError(t, err)
	require.Empty(t, eligible, "nobody is checked in yet")

	p, err := s.CheckIn(ctx, participant.CheckInRequest{EmpID: "E1", Registered: true})
	require.NoError(t, err)
	require.True(t, p.Registered)
	require.NotNil(t, p.RegisteredAt)

	_, err = s.CheckIn(ctx, participant.CheckInRequest{EmpID: "E2", Registered: true})
	require.NoError(t, err)

	_, err = s.CheckIn(ctx, participant.CheckInRequest{EmpID: "nope", Registered: true})
	require.True(t, errors.Is(err, errors.CodeNotFound))

	req := participant.NewListRequest()
	req.Serviceline = "tax"
	eligible, err = s.List(ctx, req)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	require.Equal(t, "Grace", eligible[0].Name)

	prize := 2
	p, err = s.MarkWinner(ctx, participant.MarkWinnerRequest{ID: eligible[0].ID, PrizeNumber: &prize, Won: true})
	require.NoError(t, err)
	require.True(t, p.IsDrawn)
	require.Equal(t, &prize, p.PrizeWon)

	eligible, err = s.List(ctx, participant.NewListRequest())
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	require.Equal(t, "E1", eligible[0].EmpID)

	p, err = s.MarkWinner(ctx, participant.MarkWinnerRequest{ID: p.ID})
	require.NoError(t, err)
	require.False(t, p.IsDrawn)
	require.Nil(t, p.PrizeWon)

	p, err = s.CheckIn(ctx, participant.CheckInRequest{EmpID: "E1"})
	require.NoError(t, err)
	require.False(t, p.Registered)
	require.Nil(t, p.RegisteredAt)

	lines, err := s.Servicelines(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"audit", "tax"}, lines)
}

func TestService_PostgresDuplicateEmpID(t *testing.T) {
	dsn := os.Getenv("PARTICIPANT_TEST_DSN")
	if dsn == "" {
		t.Skip("PARTICIPANT_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := participant.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	// The organiser's sheet is imported as is; empid is not guaranteed unique.
	table := fmt.Sprintf("participants_dup_%d", time.Now().UnixNano())
	_, err = db.Exec(ctx, fmt.Sprintf(`
CREATE TABLE %s (
	id SERIAL PRIMARY KEY,
	empid TEXT NOT NULL,
	name TEXT NOT NULL,
	category TEXT,
	serviceline TEXT,
	registered BOOLEAN NOT NULL DEFAULT FALSE,
	registereddatetime TIMESTAMPTZ,
	isdrawn BOOLEAN NOT NULL DEFAULT FALSE,
	prizewon INTEGER
);
INSERT INTO %s (empid, name) VALUES ('E1', 'Ada'), ('E1', 'Ada Lovelace');`, table, table))
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = db.Exec(context.Background(), "DROP TABLE "+table) })

	s := participant.NewService(participant.Config{DB: db, Table: table})

	_, err = s.CheckIn(ctx, participant.CheckInRequest{EmpID: "E1", Registered: true})
	require.True(t, errors.Is(err, errors.CodeFailedPrecondition), "got %v", err)
	require.Equal(t, "more than one participant matches", errors.Convert(err).Message)

	var registered int
	require.NoError(t, db.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s WHERE registered", table)).Scan(&registered))
	require.Zero(t, registered, "nothing is checked in when the empid is ambiguous")
}
