package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tradelab/pkg/tradelab"
)

// handler serves the HTTP routes on top of a Service.
type handler struct {
	svc *Service
}

func (h *handler) register(r *gin.Engine) {
	r.GET("/health", h.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/strategies", h.listStrategies)

		v1.POST("/backtests", h.runBacktest)
		v1.GET("/backtests", h.listRuns)
		v1.GET("/backtests/:id", h.getRun)
	}
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) listStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, tradelab.StrategyList{Strategies: h.svc.Strategies()})
}

// runBacktest answers 201 when the run was persisted and 200 otherwise.
func (h *handler) runBacktest(c *gin.Context) {
	var req tradelab.BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("decoding request: %v: %w", err, ErrBadRequest))
		return
	}
	res, err := h.svc.RunBacktest(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if res.Persisted {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

func (h *handler) listRuns(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(c, fmt.Errorf("limit %q: %w", v, ErrBadRequest))
			return
		}
		limit = n
	}
	runs, err := h.svc.ListRuns(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tradelab.RunList{Runs: runs})
}

func (h *handler) getRun(c *gin.Context) {
	res, err := h.svc.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func writeError(c *gin.Context, err error) {
	c.JSON(httpStatus(err), tradelab.ErrorResponse{Error: err.Error()})
}
