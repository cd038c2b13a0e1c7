// Package api exposes the HTTP control surface. JSON only, no auth by
// default; wrap in TLS/auth at the edge in production.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"gridflow/alert"
	"gridflow/logger"
	"gridflow/manager"
	"gridflow/market"
	"gridflow/store"
	"gridflow/trader"
)

// Server is the HTTP API server
type Server struct {
	router     *gin.Engine
	ctrl       *manager.Controller
	alerts     *alert.Router
	feed       *market.Feed
	st         *store.Store
	httpServer *http.Server
	port       int
}

// NewServer creates the API server
func NewServer(ctrl *manager.Controller, alerts *alert.Router, feed *market.Feed, st *store.Store, port int) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.Default()
	router.Use(corsMiddleware())

	s := &Server{
		router: router,
		ctrl:   ctrl,
		alerts: alerts,
		feed:   feed,
		st:     st,
		port:   port,
	}
	s.setupRoutes()
	return s
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Webhook-Signature")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/grids", s.handleGrids)
		api.GET("/grids/:symbol", s.handleGrid)
		api.POST("/grids/:symbol/start", s.handleStart)
		api.POST("/grids/:symbol/ack-stoploss", s.handleAckStopLoss)
		api.DELETE("/grids/:symbol", s.handleUndeploy)

		api.POST("/pause", s.handlePauseAll)
		api.POST("/pause/:symbol", s.handlePause)
		api.POST("/resume", s.handleResumeAll)
		api.POST("/resume/:symbol", s.handleResume)
		api.POST("/rebalance", s.handleRebalance)
		api.POST("/deploy", s.handleDeploy)

		api.GET("/risk", s.handleRisk)
		api.POST("/kill", s.handleKill)
		api.POST("/reset-kill", s.handleResetKill)

		api.GET("/prices", s.handlePrices)

		api.POST("/tv-alert", s.handleTradingViewAlert)
		api.GET("/alerts", s.handleAlerts)
	}
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "running",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"grid_engine":  true,
		"risk_manager": true,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"grids":     s.ctrl.Snapshot(),
		"risk":      s.ctrl.RiskSnapshot(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleGrids(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleGrid(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	snap, err := s.ctrl.GridSnapshot(symbol)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Grid not found: %s", symbol)})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleStart starts one grid. A kill latch yields 403; an ordinary
// gate block (stop-loss, BTC filter, exposure) yields a blocked body.
func (s *Server) handleStart(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	res, err := s.ctrl.Start(symbol)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "started", "symbol": symbol, "result": gin.H{
			"orders_placed": res.OrdersPlaced,
			"adopted":       res.Adopted,
		}})
	case errors.Is(err, manager.ErrUnknownSymbol):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, trader.ErrKilledByRisk):
		c.JSON(http.StatusForbidden, gin.H{"status": "blocked", "reason": err.Error()})
	case errors.Is(err, trader.ErrStopLossTripped), errors.Is(err, trader.ErrBlocked):
		c.JSON(http.StatusOK, gin.H{"status": "blocked", "reason": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleAckStopLoss(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	if err := s.ctrl.AckStopLoss(symbol); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "acknowledged", "symbol": symbol})
}

func (s *Server) handleUndeploy(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	if err := s.ctrl.Undeploy(symbol); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "undeployed", "symbol": symbol})
}

func (s *Server) handlePauseAll(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "paused", "results": s.ctrl.PauseAll()})
}

func (s *Server) handlePause(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	res, err := s.ctrl.Pause(symbol)
	s.respondSingle(c, "paused", symbol, res, err)
}

func (s *Server) handleResumeAll(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "resumed", "results": s.ctrl.ResumeAll()})
}

func (s *Server) handleResume(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	res, err := s.ctrl.Resume(symbol)
	s.respondSingle(c, "resumed", symbol, res, err)
}

func (s *Server) handleRebalance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "rebalanced", "results": s.ctrl.RebalanceAll()})
}

func (s *Server) respondSingle(c *gin.Context, status, symbol string, res trader.Result, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": status, "symbol": symbol, "result": res})
	case errors.Is(err, manager.ErrUnknownSymbol):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, trader.ErrKilledByRisk):
		c.JSON(http.StatusForbidden, gin.H{"status": "blocked", "reason": err.Error()})
	case errors.Is(err, trader.ErrStopLossTripped), errors.Is(err, trader.ErrBlocked):
		c.JSON(http.StatusOK, gin.H{"status": "blocked", "symbol": symbol, "reason": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleDeploy(c *gin.Context) {
	var params trader.GridParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed grid parameters: " + err.Error()})
		return
	}
	params.Symbol = strings.ToUpper(params.Symbol)
	if err := s.ctrl.Deploy(params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if cfg, err := json.Marshal(params); err == nil {
		s.st.GridConfig(params.Symbol, string(cfg))
	}
	c.JSON(http.StatusOK, gin.H{"status": "deployed", "symbol": params.Symbol, "config": params})
}

func (s *Server) handleRisk(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.RiskSnapshot())
}

func (s *Server) handleKill(c *gin.Context) {
	results := s.ctrl.Kill("Manual kill switch activated")
	c.JSON(http.StatusOK, gin.H{"status": "killed", "results": results})
}

func (s *Server) handleResetKill(c *gin.Context) {
	if err := s.ctrl.ResetKill(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (s *Server) handlePrices(c *gin.Context) {
	out := gin.H{}
	for sym, t := range s.feed.LastTicks() {
		out[sym] = gin.H{"price": t.Price, "timestamp": t.Ts.UTC().Format(time.RFC3339Nano)}
	}
	c.JSON(http.StatusOK, out)
}

// handleTradingViewAlert validates the HMAC over the exact received
// bytes before any parsing happens.
func (s *Server) handleTradingViewAlert(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	signature := c.GetHeader("X-Webhook-Signature")
	if !s.alerts.ValidateSignature(body, signature) {
		logger.Warnf("Webhook rejected: bad signature from %s", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	payload, err := s.alerts.Parse(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.alerts.Handle(payload)
	if err != nil {
		if errors.Is(err, alert.ErrKillActive) {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.st.Alert(payload.Symbol, payload.Action, resp.Action, payload.Price, payload.Zone, resp.Error == "")
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAlerts(c *gin.Context) {
	symbol := strings.ToUpper(c.Query("symbol"))
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"alerts": s.alerts.Recent(symbol, limit),
		"stats":  s.alerts.Counts(),
	})
}

// Router exposes the gin engine for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start begins serving; blocks until the listener fails or Shutdown
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}
	logger.Infof("🌐 API server listening on :%d", s.port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
