package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/victornm/eventdraw/internal/domain"
	"github.com/victornm/eventdraw/internal/errors"
	"github.com/victornm/eventdraw/internal/participant"
)

func (a *API) listKiosks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"kiosks": a.kiosks.Names()})
}

func (a *API) getKiosk(c *gin.Context) {
	e, err := a.kiosks.Get(c.Param("kiosk"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, e.Snapshot())
}

// scan starts an identification attempt. With wait=true the response is the
// final snapshot, otherwise the attempt ID is returned right away.
func (a *API) scan(c *gin.Context) {
	e, err := a.kiosks.Get(c.Param("kiosk"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	wait, err := strconv.ParseBool(c.DefaultQuery("wait", "false"))
	if err != nil {
		_ = c.Error(errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid wait: %q", c.Query("wait"))))
		return
	}

	attempt, err := e.Begin(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	if !wait {
		c.JSON(http.StatusAccepted, gin.H{"kiosk": e.Kiosk(), "attempt": attempt})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), a.waitTimeout)
	defer cancel()

	s, err := e.Wait(ctx, attempt)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, s)
}

func (a *API) resetKiosk(c *gin.Context) {
	e, err := a.kiosks.Get(c.Param("kiosk"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	e.Reset()
	c.JSON(http.StatusOK, e.Snapshot())
}

type kioskCheckInRequest struct {
	Token string `json:"token" binding:"required"`
}

func (a *API) kioskCheckIn(c *gin.Context) {
	e, err := a.kiosks.Get(c.Param("kiosk"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req kioskCheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.New(errors.CodeInvalidArgument, errors.WithMessagef("token is required"), errors.WithCause(err)))
		return
	}

	p, err := e.CheckIn(c.Request.Context(), req.Token)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, p)
}

type checkInRequest struct {
	EmpID string `json:"empid" binding:"required"`
	// Registered defaults to true; false checks the participant out.
	Registered *bool `json:"registered"`
}

// checkIn is the manual fallback when face recognition does not work out.
func (a *API) checkIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.New(errors.CodeInvalidArgument, errors.WithMessagef("empid is required"), errors.WithCause(err)))
		return
	}

	registered := req.Registered == nil || *req.Registered

	p, err := a.participants.CheckIn(c.Request.Context(), participant.CheckInRequest{
		EmpID:      req.EmpID,
		Registered: registered,
	})
	if err != nil {
		a.notify.Error(c.Request.Context(), "Failed to check in %s: %s", req.EmpID, errors.Convert(err).Message)
		_ = c.Error(err)
		return
	}

	if registered {
		a.notify.Success(c.Request.Context(), "%s checked in!", p.Name)
	} else {
		a.notify.Notify(c.Request.Context(), domain.Notification{Level: domain.LevelInfo, Message: p.Name + " checked out"})
	}

	c.JSON(http.StatusOK, p)
}

type listParticipantsQuery struct {
	Offset      int    `form:"offset" binding:"min=0"`
	Limit       *int   `form:"limit" binding:"omitempty,min=1"`
	Registered  *bool  `form:"registered"`
	IsDrawn     *bool  `form:"isdrawn"`
	Category    string `form:"category"`
	Serviceline string `form:"serviceline"`
}

func (a *API) listParticipants(c *gin.Context) {
	var q listParticipantsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid query: %v", err), errors.WithCause(err)))
		return
	}

	req := participant.NewListRequest()
	req.Offset = q.Offset
	req.Category = q.Category
	req.Serviceline = q.Serviceline
	if q.Limit != nil {
		req.Limit = *q.Limit
	}
	if q.Registered != nil {
		req.Registered = *q.Registered
	}
	if q.IsDrawn != nil {
		req.IsDrawn = *q.IsDrawn
	}

	ps, err := a.participants.List(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if ps == nil {
		ps = []domain.Participant{}
	}

	c.JSON(http.StatusOK, gin.H{"participants": ps})
}

func (a *API) servicelines(c *gin.Context) {
	lines, err := a.participants.Servicelines(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	if lines == nil {
		lines = []string{}
	}

	c.JSON(http.StatusOK, gin.H{"servicelines": lines})
}
