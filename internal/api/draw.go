package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/victornm/eventdraw/internal/domain"
	"github.com/victornm/eventdraw/internal/draw"
	"github.com/victornm/eventdraw/internal/errors"
)

type createSessionRequest struct {
	Prizes []domain.Prize `json:"prizes"`
	// Category, when present, fixes the session category; "" means every category.
	Category *string `json:"category"`
}

func (a *API) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	ds, err := a.draw.CreateSession(c.Request.Context(), draw.CreateSessionRequest{
		Prizes:   req.Prizes,
		Category: req.Category,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, ds)
}

func (a *API) getSession(c *gin.Context) {
	ds, err := a.draw.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, ds)
}

func (a *API) sessionSummary(c *gin.Context) {
	s, err := a.draw.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, s)
}

type drawRequest struct {
	Category          *string `json:"category"`
	RandomServiceline bool    `json:"random_serviceline"`
}

func (a *API) drawWinner(c *gin.Context) {
	var req drawRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	ds, err := a.draw.Draw(c.Request.Context(), draw.DrawRequest{
		SessionID:         c.Param("id"),
		Category:          req.Category,
		RandomServiceline: req.RandomServiceline,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, ds)
}

func (a *API) markWinner(c *gin.Context) {
	ds, err := a.draw.MarkWinner(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, ds)
}

func (a *API) undoWinner(c *gin.Context) {
	ds, err := a.draw.UndoWinner(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, ds)
}

type stepPrizeRequest struct {
	Delta int `json:"delta" binding:"required"`
}

// stepPrize moves the given counter of a prize by one; prize number 0 is the
// currently displayed prize.
func (a *API) stepPrize(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number < 0 {
		_ = c.Error(errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid prize number: %q", c.Param("number"))))
		return
	}

	var req stepPrizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.New(errors.CodeInvalidArgument, errors.WithMessagef("delta is required"), errors.WithCause(err)))
		return
	}

	ds, err := a.draw.StepPrize(c.Request.Context(), draw.StepPrizeRequest{
		SessionID:   c.Param("id"),
		PrizeNumber: number,
		Delta:       req.Delta,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, ds)
}

func (a *API) notifications(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		_ = c.Error(errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid limit: %q", c.Query("limit"))))
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": a.notify.Recent(limit)})
}
