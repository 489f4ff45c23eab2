package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/victornm/eventdraw/internal/errors"
	"github.com/victornm/eventdraw/internal/settings"
)

type settingsResponse struct {
	FaceAPILink        string `json:"face_api_link"`
	Category           string `json:"category"`
	DatabaseConfigured bool   `json:"database_configured"`
}

func newSettingsResponse(s settings.Settings) settingsResponse {
	return settingsResponse{
		FaceAPILink:        s.FaceAPILink,
		Category:           s.Category,
		DatabaseConfigured: s.DatabaseURL != "",
	}
}

func (a *API) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, newSettingsResponse(a.settings.Get()))
}

func (a *API) putSettings(c *gin.Context) {
	var req settings.Patch
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	prev, next := a.settings.Update(req)
	a.applySettings(c, prev, next)
}

// importSettings applies base64 encoded settings from the query string, so a
// kiosk can be configured from a single link.
func (a *API) importSettings(c *gin.Context) {
	prev, next := a.settings.ApplyQuery(c.Request.URL.Query())
	a.applySettings(c, prev, next)
}

func (a *API) applySettings(c *gin.Context, prev, next settings.Settings) {
	ctx := c.Request.Context()

	if next.DatabaseURL != prev.DatabaseURL {
		if next.DatabaseURL == "" {
			a.settings.Restore(prev)
			_ = c.Error(errors.New(errors.CodeInvalidArgument, errors.WithMessagef("database url cannot be cleared")))
			return
		}
		if err := a.reconnect(ctx, next.DatabaseURL); err != nil {
			a.settings.Restore(prev)
			_ = c.Error(err)
			return
		}
	}

	slog.InfoContext(ctx, "api: settings updated",
		"face_api_link", next.FaceAPILink,
		"category", next.Category,
	)
	a.notify.Success(ctx, "Settings saved")

	c.JSON(http.StatusOK, newSettingsResponse(next))
}

func (a *API) reconnect(ctx context.Context, dsn string) error {
	if err := a.participants.Open(ctx, dsn); err != nil {
		a.notify.Error(ctx, "Database connection failed: %s", errors.Convert(err).Message)
		return err
	}

	a.notify.Success(ctx, "Database connected")
	return nil
}

func (a *API) testFaceAPI(c *gin.Context) {
	ctx := c.Request.Context()

	if err := a.recognition.Test(ctx); err != nil {
		a.notify.Error(ctx, "Face API test failed: %s", errors.Convert(err).Message)
		_ = c.Error(err)
		return
	}

	a.notify.Success(ctx, "Face API is working")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
