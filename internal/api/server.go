// Package api exposes the operator-facing HTTP surface: signal intake,
// execution reads, health, metrics and a websocket event feed. The core
// never depends on this package.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signal-core/internal/engine"
	"signal-core/internal/events"
	"signal-core/internal/scheduler"
	"signal-core/internal/signal"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/binance"
	"signal-core/pkg/exchanges/bybit"
	"signal-core/pkg/exchanges/common"
	"signal-core/pkg/pool"
)

// Server wires HTTP endpoints around the dispatcher and the ledger.
type Server struct {
	Router     *gin.Engine
	Bus        *events.Bus
	Dispatcher *engine.Dispatcher
	Ledger     *db.Ledger
	Sched      *scheduler.Scheduler
	Pool       *pool.Pool

	JWTSecret        string
	OperatorUser     string
	OperatorPassHash string
}

// Deps carries the server's collaborators.
type Deps struct {
	Bus        *events.Bus
	Dispatcher *engine.Dispatcher
	Ledger     *db.Ledger
	Sched      *scheduler.Scheduler
	Pool       *pool.Pool

	JWTSecret        string
	OperatorUser     string
	OperatorPassHash string
}

func NewServer(deps Deps) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())

	s := &Server{
		Router:           r,
		Bus:              deps.Bus,
		Dispatcher:       deps.Dispatcher,
		Ledger:           deps.Ledger,
		Sched:            deps.Sched,
		Pool:             deps.Pool,
		JWTSecret:        deps.JWTSecret,
		OperatorUser:     deps.OperatorUser,
		OperatorPassHash: deps.OperatorPassHash,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/healthz", s.health)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.POST("/auth/login", s.login)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/signals", s.postSignal)
			protected.GET("/executions", s.getExecutions)
			protected.GET("/system/status", s.getSystemStatus)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// postSignal hands a validated signal to the dispatcher.
func (s *Server) postSignal(c *gin.Context) {
	var sig signal.Signal
	if err := c.BindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	res, err := s.Dispatcher.Dispatch(c.Request.Context(), sig)
	switch {
	case errors.Is(err, engine.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_SIGNAL",
			"error": err.Error(),
		})
		return
	case errors.Is(err, engine.ErrSchedulingTimeout):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":  "STALE_SIGNAL",
			"error": err.Error(),
		})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, res)
}

// getExecutions returns recent execution records for one account.
func (s *Server) getExecutions(c *gin.Context) {
	accountID := c.Query("account_id")
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "MISSING_ACCOUNT_ID",
			"error": "account_id query parameter is required",
		})
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	records, err := s.Ledger.ListExecutionsByAccount(c.Request.Context(), accountID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": records, "count": len(records)})
}

// getSystemStatus reports lane depths and pool session state.
func (s *Server) getSystemStatus(c *gin.Context) {
	status := gin.H{}

	if s.Sched != nil {
		lanes := gin.H{}
		for t, depth := range s.Sched.Depths() {
			lanes[string(t)] = depth
		}
		status["lanes"] = lanes
	}
	if s.Pool != nil {
		pools := gin.H{}
		for _, name := range []string{binance.Name, bybit.Name} {
			for _, env := range []common.Environment{common.EnvMain, common.EnvTestnet} {
				if st := s.Pool.Stats(name, env); st.Size > 0 {
					pools[name+"/"+string(env)] = st
				}
			}
		}
		status["pools"] = pools
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
