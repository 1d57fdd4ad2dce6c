package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/jansgame/roundwatch/internal/assets"
	"github.com/jansgame/roundwatch/internal/chain"
	"github.com/jansgame/roundwatch/internal/metrics"
	"github.com/jansgame/roundwatch/internal/player"
	"github.com/jansgame/roundwatch/internal/processor"
	"github.com/jansgame/roundwatch/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	queryTimeout     = 20 * time.Second
	pingTimeout      = 2 * time.Second
	defaultRoundsLen = 20
	maxRoundsLen     = 200
)

// SnapshotSource exposes the last published cycle
type SnapshotSource interface {
	Latest() *processor.Snapshot
	Ready() bool
}

// PlayerQueries answers on-demand ticket lookups
type PlayerQueries interface {
	Tickets(ctx context.Context, roundID uint64, addr common.Address) ([]chain.Ticket, error)
	RoundSummary(ctx context.Context, roundID uint64) (*player.RoundSummary, error)
	Winners(ctx context.Context, roundID uint64) (*player.Winners, error)
}

// AssetStore serves the published snapshot and daily logs
type AssetStore interface {
	LatestSnapshot() (*assets.Snapshot, error)
	DailyLogIndex() ([]assets.LogEntry, error)
	DailyLog(name string) ([]byte, error)
}

// RoundHistory lists persisted rounds. Ping gates readiness on the database.
type RoundHistory interface {
	ListRounds(ctx context.Context, limit int) ([]storage.RoundRecord, error)
	Ping(ctx context.Context) error
}

// Server is the HTTP API over the polling state
type Server struct {
	snapshots SnapshotSource
	players   PlayerQueries
	assets    AssetStore
	history   RoundHistory
	log       *logrus.Logger
}

// NewServer creates the API. history may be nil when persistence is disabled.
func NewServer(snapshots SnapshotSource, players PlayerQueries, assetStore AssetStore, history RoundHistory, log *logrus.Logger) *Server {
	return &Server{
		snapshots: snapshots,
		players:   players,
		assets:    assetStore,
		history:   history,
		log:       log,
	}
}

// Router builds the gin engine
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.instrument(), cors())

	r.GET("/health", func(c *gin.Context) {
		metrics.RecordHealthCheck(true)
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/ready", s.ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/state", s.state)
	api.GET("/round", s.round)
	api.GET("/prices", s.prices)
	api.GET("/stats", s.stats)
	api.GET("/tickets", s.tickets)
	api.GET("/snapshot", s.snapshot)
	api.GET("/logs", s.logIndex)
	api.GET("/logs/:file", s.logFile)
	api.GET("/players/:address/tickets", s.playerTickets)
	api.GET("/rounds", s.rounds)
	api.GET("/rounds/:id/winners", s.winners)
	return r
}

func (s *Server) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		s.log.WithFields(logrus.Fields{
			"route":       route,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("HTTP request")
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) ready(c *gin.Context) {
	if !s.snapshots.Ready() {
		metrics.RecordHealthCheck(false)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "waiting for first cycle"})
		return
	}
	if s.history != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
		defer cancel()
		if err := s.history.Ping(ctx); err != nil {
			metrics.RecordHealthCheck(false)
			s.log.WithError(err).Warn("Database ping failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unavailable"})
			return
		}
	}
	metrics.RecordHealthCheck(true)
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// latest writes 503 and returns nil before the first cycle
func (s *Server) latest(c *gin.Context) *processor.Snapshot {
	snap := s.snapshots.Latest()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no data yet"})
	}
	return snap
}

func (s *Server) state(c *gin.Context) {
	if snap := s.latest(c); snap != nil {
		c.JSON(http.StatusOK, snap)
	}
}

func (s *Server) round(c *gin.Context) {
	snap := s.latest(c)
	if snap == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":            snap.Input.Round,
		"roundId":          snap.View.RoundID,
		"phase":            snap.View.Phase,
		"salesStatus":      snap.View.SalesStatus,
		"ticketPrice":      snap.View.TicketPrice,
		"salesRemaining":   snap.View.SalesRemaining,
		"purchasesAllowed": snap.View.PurchasesAllowed,
	})
}

func (s *Server) prices(c *gin.Context) {
	snap := s.latest(c)
	if snap == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"raw":            snap.Input.Prices,
		"tokenUsd":       snap.Input.Prices.TokenUSD(),
		"nativeUsdPrice": snap.View.NativeUSDPrice,
		"tokenUsdPrice":  snap.View.TokenUSDPrice,
	})
}

func (s *Server) stats(c *gin.Context) {
	snap := s.latest(c)
	if snap == nil {
		return
	}
	if snap.Input.StatsErr != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": snap.Input.StatsErr.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"raw":              snap.Input.Stats,
		"prizePool":        snap.View.PrizePool,
		"prizePoolUsd":     snap.View.PrizePoolUSD,
		"burned":           snap.View.Burned,
		"burnedUsd":        snap.View.BurnedUSD,
		"burnedPercentage": snap.View.BurnedPercentage,
		"burnCycle":        snap.View.BurnCycle,
		"lpBalance":        snap.View.LPBalance,
		"lpBalanceUsd":     snap.View.LPBalanceUSD,
	})
}

func (s *Server) tickets(c *gin.Context) {
	snap := s.latest(c)
	if snap == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"roundId":      snap.View.RoundID,
		"count":        len(snap.View.Transactions),
		"transactions": snap.View.Transactions,
	})
}

func (s *Server) snapshot(c *gin.Context) {
	snap, err := s.assets.LatestSnapshot()
	if err != nil {
		s.log.WithError(err).Warn("Failed to load prediction snapshot")
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) logIndex(c *gin.Context) {
	entries, err := s.assets.DailyLogIndex()
	if err != nil {
		s.log.WithError(err).Warn("Failed to load daily log index")
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) logFile(c *gin.Context) {
	content, err := s.assets.DailyLog(c.Param("file"))
	switch {
	case errors.Is(err, assets.ErrInvalidLogName):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusNotFound, gin.H{"error": "log not found"})
	default:
		c.Data(http.StatusOK, "text/plain; charset=utf-8", content)
	}
}

func (s *Server) playerTickets(c *gin.Context) {
	addr := c.Param("address")
	if !common.IsHexAddress(addr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid address %q", addr)})
		return
	}

	roundID, ok := s.roundParam(c, c.Query("round"))
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	summary, err := s.players.RoundSummary(ctx, roundID)
	if err != nil {
		s.queryFailed(c, "round summary", err)
		return
	}
	tickets, err := s.players.Tickets(ctx, roundID, common.HexToAddress(addr))
	if err != nil {
		s.queryFailed(c, "player tickets", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"player":  common.HexToAddress(addr).Hex(),
		"round":   summary,
		"tickets": tickets,
	})
}

func (s *Server) winners(c *gin.Context) {
	roundID, ok := s.roundParam(c, c.Param("id"))
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	w, err := s.players.Winners(ctx, roundID)
	if err != nil {
		s.queryFailed(c, "winners", err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) rounds(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "round history requires DATABASE_DSN"})
		return
	}
	limit := defaultRoundsLen
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRoundsLen)
	}

	rounds, err := s.history.ListRounds(c.Request.Context(), limit)
	if err != nil {
		s.queryFailed(c, "round history", err)
		return
	}
	c.JSON(http.StatusOK, rounds)
}

// roundParam parses an explicit round id, defaulting to the current round when raw is empty
func (s *Server) roundParam(c *gin.Context, raw string) (uint64, bool) {
	if raw == "" {
		snap := s.snapshots.Latest()
		if snap == nil || snap.Input.Round == nil || snap.Input.Round.Round.RoundID == 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no current round, pass ?round="})
			return 0, false
		}
		return snap.Input.Round.Round.RoundID, true
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid round id %q", raw)})
		return 0, false
	}
	return id, true
}

func (s *Server) queryFailed(c *gin.Context, what string, err error) {
	s.log.WithError(err).WithField("query", what).Warn("API query failed")
	status := http.StatusBadGateway
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
