package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/eventdraw/internal/api"
	"github.com/victornm/eventdraw/internal/camera"
	"github.com/victornm/eventdraw/internal/draw"
	"github.com/victornm/eventdraw/internal/event"
	"github.com/victornm/eventdraw/internal/identify"
	"github.com/victornm/eventdraw/internal/notify"
	"github.com/victornm/eventdraw/internal/participant"
	"github.com/victornm/eventdraw/internal/prize"
	"github.com/victornm/eventdraw/internal/recognition"
	"github.com/victornm/eventdraw/internal/settings"
	"github.com/victornm/eventdraw/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Redis struct {
		Ledger struct {
			Addrs  []string
			Pass   string
			Prefix string
			TTL    time.Duration
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Participant struct {
			Addr  string
			User  string
			Pass  string
			Name  string
			Table string
		}
	}

	Recognition struct {
		URL     string
		Mode    string
		Resize  string
		Timeout time.Duration
	}

	Identify struct {
		Threshold        int
		MaxRetries       int           `mapstructure:"max_retries"`
		MaxNetworkErrors int           `mapstructure:"max_network_errors"`
		NetworkBackoff   time.Duration `mapstructure:"network_backoff"`
		WaitTimeout      time.Duration `mapstructure:"wait_timeout"`
	}

	Draw struct {
		Category      string
		IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	}

	Notify struct {
		Capacity int
	}

	Kiosks []Kiosk
}

type Kiosk struct {
	Name      string
	CameraURL string `mapstructure:"camera_url"`
}

// DefaultConfig returns the configuration used for every key the config file leaves out.
func DefaultConfig() Config {
	var c Config

	c.HTTP.Port = 8080
	c.GRPC.Port = 9090

	c.Redis.Ledger.Addrs = []string{"localhost:6379"}
	c.Redis.Ledger.Prefix = "eventdraw"
	c.Redis.Ledger.TTL = 12 * time.Hour
	c.Redis.Pubsub.Addrs = []string{"localhost:6379"}
	c.Redis.Pubsub.Prefix = "eventdraw"

	c.Postgres.Participant.Table = participant.DefaultTable

	c.Recognition.URL = "http://localhost:9001/check-face"
	c.Recognition.Mode = string(recognition.ModeJSON)
	c.Recognition.Timeout = 10 * time.Second

	c.Identify.Threshold = identify.DefaultThreshold
	c.Identify.MaxRetries = identify.DefaultMaxRetries
	c.Identify.MaxNetworkErrors = identify.DefaultMaxNetworkErrors
	c.Identify.NetworkBackoff = identify.DefaultNetworkBackoff
	c.Identify.WaitTimeout = time.Minute

	c.Draw.IdleTimeout = 6 * time.Hour
	c.Draw.SweepInterval = 10 * time.Minute

	c.Notify.Capacity = 100

	return c
}

type Server struct {
	c Config

	eb      *event.Bus
	metrics *telemetry.Metrics

	infra struct {
		redis struct {
			ledger redis.UniversalClient
			pubsub redis.UniversalClient
		}
	}

	service struct {
		settings    *settings.Store
		notify      *notify.Service
		participant *participant.Service
		ledger      *prize.Ledger
		recognition *recognition.Client
		draw        *draw.Service
		kiosks      *identify.Kiosks
	}

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server

	stop context.CancelFunc
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()
	s.metrics = telemetry.NewMetrics(prometheus.DefaultRegisterer)

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.ledger, err = connect(s.c.Redis.Ledger.Addrs, s.c.Redis.Ledger.Pass)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

// participantDSN is empty when no database is configured; the database can
// then be set at runtime from the settings.
func (s *Server) participantDSN() string {
	p := s.c.Postgres.Participant
	if p.Addr == "" {
		return ""
	}

	return fmt.Sprintf("postgres://%s:%s@%s/%s", p.User, p.Pass, p.Addr, p.Name)
}

func (s *Server) initService() error {
	dsn := s.participantDSN()

	s.service.settings = settings.NewStore(settings.Settings{
		FaceAPILink: s.c.Recognition.URL,
		Category:    s.c.Draw.Category,
		DatabaseURL: dsn,
	})

	s.service.notify = notify.NewService(notify.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.pubsub,
		Prefix:   s.c.Redis.Pubsub.Prefix,
		Capacity: s.c.Notify.Capacity,
	})

	s.service.participant = participant.NewService(participant.Config{
		Table:    s.c.Postgres.Participant.Table,
		EventBus: s.eb,
		Metrics:  s.metrics,
	})
	if dsn != "" {
		if err := s.service.participant.Open(context.Background(), dsn); err != nil {
			return fmt.Errorf("participant: %w", err)
		}
	}

	s.service.ledger = prize.NewLedger(prize.Config{
		Redis:   s.infra.redis.ledger,
		Prefix:  s.c.Redis.Ledger.Prefix,
		TTL:     s.c.Redis.Ledger.TTL,
		Metrics: s.metrics,
	})

	var resize *bool
	if s.c.Recognition.Resize != "" {
		v, err := strconv.ParseBool(s.c.Recognition.Resize)
		if err != nil {
			return fmt.Errorf("recognition: invalid resize %q: %w", s.c.Recognition.Resize, err)
		}
		resize = &v
	}

	s.service.recognition = recognition.NewClient(recognition.Config{
		Endpoint: s.service.settings.FaceAPILink,
		Mode:     recognition.Mode(s.c.Recognition.Mode),
		Resize:   resize,
		Timeout:  s.c.Recognition.Timeout,
	})

	s.service.draw = draw.NewService(draw.Config{
		Participants: s.service.participant,
		Ledger:       s.service.ledger,
		Notifier:     s.service.notify,
		Category:     s.service.settings.Category,
		Metrics:      s.metrics,
	})

	engines := make([]*identify.Engine, 0, len(s.c.Kiosks))
	for _, k := range s.c.Kiosks {
		engines = append(engines, identify.NewEngine(identify.Config{
			Kiosk:            k.Name,
			Camera:           camera.NewSnapshot(camera.Config{URL: k.CameraURL}),
			Recognizer:       s.service.recognition,
			CheckIn:          s.service.participant,
			Notifier:         s.service.notify,
			EventBus:         s.eb,
			Metrics:          s.metrics,
			Threshold:        s.c.Identify.Threshold,
			MaxRetries:       s.c.Identify.MaxRetries,
			MaxNetworkErrors: s.c.Identify.MaxNetworkErrors,
			NetworkBackoff:   s.c.Identify.NetworkBackoff,
		}))
	}
	s.service.kiosks = identify.NewKiosks(engines...)

	return nil
}

func (s *Server) initAPI() {
	e := newEngine(prometheus.DefaultGatherer)

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor()...)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)

	api.New(api.Config{
		Router:       e,
		Kiosks:       s.service.kiosks,
		Participants: s.service.participant,
		Draw:         s.service.draw,
		Notify:       s.service.notify,
		Settings:     s.service.settings,
		Recognition:  s.service.recognition,
		WaitTimeout:  s.c.Identify.WaitTimeout,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

// newEngine returns a gin engine serving metrics and pprof; middleware is
// installed first so every route gets it.
func newEngine(g prometheus.Gatherer) *gin.Engine {
	e := gin.New()
	e.Use(gin.Recovery())

	e.GET("/metrics", gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
	pprof.Register(e, "/debug/pprof")

	return e
}

func (s *Server) Start() {
	ctx, stop := context.WithCancel(context.Background())
	s.stop = stop

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port), "kiosks", s.service.kiosks.Names())
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		s.sweep(ctx)
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

// sweep forgets idle draw sessions until ctx is done.
func (s *Server) sweep(ctx context.Context) {
	if s.c.Draw.SweepInterval <= 0 {
		return
	}

	t := time.NewTicker(s.c.Draw.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.service.draw.Sweep(ctx, s.c.Draw.IdleTimeout)
		}
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.stop != nil {
		s.stop()
	}

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.service.kiosks.Stop()
	s.eb.Stop()
	s.service.participant.Close()

	for name, r := range map[string]redis.UniversalClient{
		"ledger": s.infra.redis.ledger,
		"pubsub": s.infra.redis.pubsub,
	} {
		if err := r.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "client", name, "error", err)
		}
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
