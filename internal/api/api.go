package api

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/victornm/eventdraw/internal/domain"
	"github.com/victornm/eventdraw/internal/draw"
	"github.com/victornm/eventdraw/internal/errors"
	"github.com/victornm/eventdraw/internal/identify"
	"github.com/victornm/eventdraw/internal/notify"
	"github.com/victornm/eventdraw/internal/participant"
	"github.com/victornm/eventdraw/internal/settings"
)

const defaultWaitTimeout = 60 * time.Second

type (
	ParticipantService interface {
		List(ctx context.Context, req participant.ListRequest) ([]domain.Participant, error)
		CheckIn(ctx context.Context, req participant.CheckInRequest) (*domain.Participant, error)
		Servicelines(ctx context.Context) ([]string, error)
		Open(ctx context.Context, dsn string) error
	}

	RecognitionProbe interface {
		Test(ctx context.Context) error
	}
)

type Config struct {
	Router       gin.IRouter
	Kiosks       *identify.Kiosks
	Participants ParticipantService
	Draw         *draw.Service
	Notify       *notify.Service
	Settings     *settings.Store
	Recognition  RecognitionProbe
	// WaitTimeout bounds how long a scan request with wait=true blocks.
	WaitTimeout time.Duration
}

type API struct {
	kiosks       *identify.Kiosks
	participants ParticipantService
	draw         *draw.Service
	notify       *notify.Service
	settings     *settings.Store
	recognition  RecognitionProbe
	waitTimeout  time.Duration
}

func New(c Config) *API {
	a := &API{
		kiosks:       c.Kiosks,
		participants: c.Participants,
		draw:         c.Draw,
		notify:       c.Notify,
		settings:     c.Settings,
		recognition:  c.Recognition,
		waitTimeout:  c.WaitTimeout,
	}

	if a.waitTimeout <= 0 {
		a.waitTimeout = defaultWaitTimeout
	}

	r := c.Router.Group("/", renderError)
	r.GET("/healthz", a.health)

	r.GET("/kiosks", a.listKiosks)
	r.GET("/kiosks/:kiosk", a.getKiosk)
	r.POST("/kiosks/:kiosk/scan", a.scan)
	r.POST("/kiosks/:kiosk/reset", a.resetKiosk)
	r.POST("/kiosks/:kiosk/checkin", a.kioskCheckIn)

	r.POST("/checkin", a.checkIn)
	r.GET("/participants", a.listParticipants)
	r.GET("/servicelines", a.servicelines)

	r.POST("/draw/sessions", a.createSession)
	r.GET("/draw/sessions/:id", a.getSession)
	r.GET("/draw/sessions/:id/summary", a.sessionSummary)
	r.POST("/draw/sessions/:id/draw", a.drawWinner)
	r.POST("/draw/sessions/:id/winner", a.markWinner)
	r.DELETE("/draw/sessions/:id/winner", a.undoWinner)
	r.POST("/draw/sessions/:id/prizes/:number/step", a.stepPrize)

	r.GET("/notifications", a.notifications)

	r.GET("/settings", a.getSettings)
	r.PUT("/settings", a.putSettings)
	r.GET("/settings/import", a.importSettings)
	r.POST("/settings/face-api/test", a.testFaceAPI)

	return a
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// renderError writes the last handler error as {"code", "message"}.
func renderError(c *gin.Context) {
	c.Next()

	if len(c.Errors) == 0 {
		return
	}

	err := c.Errors.Last().Err
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}

// bindJSON binds an optional JSON body; an empty body leaves v untouched.
func bindJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil && !stderrors.Is(err, io.EOF) {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid request body: %v", err),
			errors.WithCause(err))
	}

	return nil
}
