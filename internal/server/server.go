// Package server exposes the relay submission endpoint over HTTP.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ligun0805/wallet-recovery/internal/config"
	"github.com/ligun0805/wallet-recovery/internal/logger"
	"github.com/ligun0805/wallet-recovery/internal/relay"
)

// BundleSubmitter is implemented by *relay.Submitter.
type BundleSubmitter interface {
	Submit(ctx context.Context, txs []*types.Transaction) (relay.Response, error)
}

// Server routes POST /relay to the submitter of the requested network.
type Server struct {
	submitters     map[int64]BundleSubmitter
	defaultNetwork int64
	inflight       *gocache.Cache
	metrics        *Metrics
	log            *zap.Logger
}

func New(submitters map[int64]BundleSubmitter, defaultNetwork int64, log *zap.Logger) *Server {
	return &Server{
		submitters:     submitters,
		defaultNetwork: defaultNetwork,
		inflight:       gocache.New(5*time.Minute, 10*time.Minute),
		metrics:        NewMetrics(),
		log:            logger.OrNop(log),
	}
}

func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.metrics.Middleware())
	r.POST("/relay", s.handleRelay)
	r.POST("/api/relay", s.handleRelay)
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	return r
}

func (s *Server) network(c *gin.Context) (int64, bool) {
	id := strings.TrimSpace(c.GetHeader(relay.NetworkHeader))
	if id == "" {
		return s.defaultNetwork, true
	}
	n, err := config.LookupNetwork(id)
	if err != nil {
		return 0, false
	}
	return n.ChainID, true
}

func (s *Server) handleRelay(c *gin.Context) {
	var req relay.Request
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Txs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"reason": relay.BadBundleReason})
		return
	}
	txs, err := relay.DecodeBundle(req.Txs)
	if err != nil {
		s.log.Info("rejecting bundle", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"reason": relay.BadBundleReason})
		return
	}
	chainID, ok := s.network(c)
	sub := s.submitters[chainID]
	if !ok || sub == nil {
		c.JSON(http.StatusBadRequest, gin.H{"reason": "Unsupported network"})
		return
	}

	key := crypto.Keccak256Hash([]byte(strings.Join(req.Txs, ","))).Hex()
	if err := s.inflight.Add(key, struct{}{}, gocache.DefaultExpiration); err != nil {
		c.JSON(http.StatusConflict, gin.H{"reason": "Bundle already in flight"})
		return
	}
	defer s.inflight.Delete(key)

	resp, err := sub.Submit(c.Request.Context(), txs)
	if err != nil {
		s.log.Error("submit bundle", zap.Int64("network", chainID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"reason": err.Error()})
		return
	}
	s.metrics.BundleOutcomes.WithLabelValues(config.NetworkLabel(chainID), resp.Outcome.String()).Inc()
	status := http.StatusOK
	if resp.Outcome == relay.OutcomeReverted {
		status = http.StatusNonAuthoritativeInfo
	}
	c.JSON(status, resp)
}
