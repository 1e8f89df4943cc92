// Package api exposes a small read-only HTTP surface for inspecting the
// engine: live positions, recent audit rows, and scanner status. It never
// mutates trading state.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"signalbot/internal/database"
	"signalbot/internal/logging"
	"signalbot/internal/watcher"
)

const defaultListLimit = 50

// PositionSource exposes live positions
type PositionSource interface {
	TrackedPositions() []watcher.VirtualPosition
}

// AuditSource exposes persisted signals and trades
type AuditSource interface {
	RecentSignals(ctx context.Context, limit int) ([]database.SignalRecord, error)
	RecentTrades(ctx context.Context, limit int) ([]database.TradeRecord, error)
	SnapshotForSignal(ctx context.Context, signalID int64) (*database.MarketSnapshot, error)
}

// ScannerStatus is the engine's self-reported state
type ScannerStatus struct {
	Running        bool      `json:"running"`
	ActiveStrategy string    `json:"active_strategy"`
	Symbols        int       `json:"symbols"`
	LastScanID     string    `json:"last_scan_id,omitempty"`
	LastScanAt     time.Time `json:"last_scan_at,omitempty"`
	SignalsFound   int       `json:"signals_found"`
}

// StatusSource reports scanner state
type StatusSource interface {
	ScannerStatus() ScannerStatus
}

// Server is the read-only HTTP API
type Server struct {
	engine    *gin.Engine
	srv       *http.Server
	positions PositionSource
	audit     AuditSource
	status    StatusSource
	log       zerolog.Logger
}

// NewServer builds the router. Call Start to listen.
func NewServer(positions PositionSource, audit AuditSource, status StatusSource) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine:    gin.New(),
		positions: positions,
		audit:     audit,
		status:    status,
		log:       logging.Component("api"),
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(cors.Default())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)

	apiGroup := s.engine.Group("/api")
	{
		apiGroup.GET("/positions", s.handlePositions)
		apiGroup.GET("/signals/recent", s.handleRecentSignals)
		apiGroup.GET("/signals/:id/snapshot", s.handleSignalSnapshot)
		apiGroup.GET("/trades/recent", s.handleRecentTrades)
		apiGroup.GET("/scanner/status", s.handleScannerStatus)
	}
}

// Start listens on the given port in the background
func (s *Server) Start(port int) {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.engine,
	}
	go func() {
		s.log.Info().Int("port", port).Msg("api server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("api server failed")
		}
	}()
}

// Shutdown stops the listener gracefully
func (s *Server) Shutdown(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn().Err(err).Msg("api shutdown error")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handlePositions(c *gin.Context) {
	positions := s.positions.TrackedPositions()
	c.JSON(http.StatusOK, gin.H{
		"count":     len(positions),
		"positions": positions,
	})
}

func (s *Server) handleRecentSignals(c *gin.Context) {
	signals, err := s.audit.RecentSignals(c.Request.Context(), listLimit(c))
	if err != nil {
		s.log.Error().Err(err).Msg("recent signals query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if signals == nil {
		signals = []database.SignalRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals})
}

func (s *Server) handleSignalSnapshot(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signal id"})
		return
	}
	snap, err := s.audit.SnapshotForSignal(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleRecentTrades(c *gin.Context) {
	trades, err := s.audit.RecentTrades(c.Request.Context(), listLimit(c))
	if err != nil {
		s.log.Error().Err(err).Msg("recent trades query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if trades == nil {
		trades = []database.TradeRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleScannerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status.ScannerStatus())
}

// listLimit reads ?limit= with a sane default and cap
func listLimit(c *gin.Context) int {
	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	return limit
}
