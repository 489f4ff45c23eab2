package notify_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/victornm/eventdraw/internal/domain"
	"github.com/victornm/eventdraw/internal/event"
	"github.com/victornm/eventdraw/internal/notify"
)

func TestService_Recent(t *testing.T) {
	s := notify.NewService(notify.Config{Capacity: 3})
	ctx := context.Background()

	require.Empty(t, s.Recent(0))

	s.Success(ctx, "Ada marked as a winner!")
	s.Warning(ctx, "No chosen winner yet")
	require.Equal(t, []string{"No chosen winner yet", "Ada marked as a winner!"}, messages(s.Recent(0)))

	s.Error(ctx, "e1")
	s.Error(ctx, "e2")
	require.Equal(t, []string{"e2", "e1", "No chosen winner yet"}, messages(s.Recent(0)), "oldest entry is evicted")
	require.Equal(t, []string{"e2"}, messages(s.Recent(1)))

	n := s.Recent(1)[0]
	require.Equal(t, domain.LevelError, n.Level)
	require.False(t, n.Time.IsZero())
}

func TestService_PublishesToRedis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mr := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { rc.Close() })

	eb := event.NewBus()
	s := notify.NewService(notify.Config{
		EventBus: eb,
		Redis:    rc,
		Prefix:   "test",
	})

	sub := rc.Subscribe(ctx, s.Channel())
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err, "subscription should be confirmed")

	s.Warning(ctx, "Can't get any participants")
	eb.Stop()

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got struct {
		Event string              `json:"event"`
		Data  domain.Notification `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	require.Equal(t, domain.EventNameNotificationCreated, got.Event)
	require.Equal(t, domain.LevelWarning, got.Data.Level)
	require.Equal(t, "Can't get any participants", got.Data.Message)
}

func TestService_PublishesIdentityToKioskChannel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mr := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { rc.Close() })

	eb := event.NewBus()
	s := notify.NewService(notify.Config{EventBus: eb, Redis: rc, Prefix: "test"})

	sub := rc.Subscribe(ctx, s.KioskChannel("lobby"), s.EventsChannel())
	t.Cleanup(func() { sub.Close() })
	for range 2 {
		_, err := sub.Receive(ctx)
		require.NoError(t, err, "subscription should be confirmed")
	}

	eb.Publish(ctx, domain.EventIdentityResolved{
		Kiosk:    "lobby",
		Attempt:  4,
		Identity: domain.Identity{Token: "E1", DisplayName: "Ada"},
	})
	eb.Stop()

	got := map[string]notify.IdentityResolved{}
	for range 2 {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)

		var m struct {
			Event string                  `json:"event"`
			Data  notify.IdentityResolved `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &m))
		require.Equal(t, domain.EventNameIdentityResolved, m.Event)
		got[msg.Channel] = m.Data
	}

	want := notify.IdentityResolved{Kiosk: "lobby", Attempt: 4, Identity: domain.Identity{Token: "E1", DisplayName: "Ada"}}
	require.Equal(t, map[string]notify.IdentityResolved{
		"test:kiosk:lobby": want,
		"test:events":      want,
	}, got)
}

func messages(ns []domain.Notification) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Message)
	}
	return out
}
