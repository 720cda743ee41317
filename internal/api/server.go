// Package api exposes the HTTP control plane: engine status, configured
// limits, decision audit queries, and administrative mode control.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"risk-manager/internal/config"
	"risk-manager/internal/interfaces"
	"risk-manager/internal/logger"
	"risk-manager/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	server *http.Server
	cfg    *config.Config
	engine interfaces.RiskEngine
	store  interfaces.Store
}

func NewServer(cfg *config.Config, engine interfaces.RiskEngine, store interfaces.Store) *Server {
	s := &Server{
		cfg:    cfg,
		engine: engine,
		store:  store,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	risk := router.Group("/api/risk")
	{
		risk.GET("/status", s.handleStatus)
		risk.GET("/limits", s.handleLimits)
		risk.GET("/audit", s.handleAudit)
		risk.GET("/rejections", s.handleRejections)
		risk.POST("/reset-daily", s.handleResetDaily)
		risk.POST("/mode", s.handleMode)
	}

	s.server = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	return s
}

// Start runs the HTTP server until the context is cancelled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	logger.Info(ctx, "Starting control-plane server", "addr", s.server.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"mode":   s.engine.Mode(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	st := s.engine.Status()
	c.JSON(http.StatusOK, gin.H{
		"mode":          st.Mode,
		"modeReason":    st.ModeReason,
		"dailyStats":    st.Stats,
		"positions":     st.Positions,
		"totalExposure": st.TotalExposure,
		"drawdown":      st.Drawdown,
		"limits":        s.limitsDocument(),
	})
}

// handleLimits reports the active risk configuration so operators can
// verify what the engine is actually enforcing.
func (s *Server) handleLimits(c *gin.Context) {
	c.JSON(http.StatusOK, s.limitsDocument())
}

func (s *Server) limitsDocument() gin.H {
	return gin.H{
		"capital": gin.H{
			"initialCapital": s.cfg.Capital.InitialCapital,
			"currentEquity":  s.cfg.Capital.CurrentEquity,
		},
		"positionLimits": gin.H{
			"maxPositionSize":  s.cfg.PositionLimits.MaxPositionSize,
			"maxPositionValue": s.cfg.PositionLimits.MaxPositionValue,
			"perSymbol":        s.cfg.PositionLimits.PerSymbol,
		},
		"portfolioLimits": gin.H{
			"maxTotalExposure": s.cfg.PortfolioLimits.MaxTotalExposure,
		},
		"lossLimits": gin.H{
			"maxDailyLoss":  s.cfg.LossLimits.MaxDailyLoss,
			"defensiveLoss": s.cfg.LossLimits.DefensiveLoss,
		},
		"drawdown": gin.H{
			"defensiveThreshold": s.cfg.Drawdown.DefensiveThreshold,
			"lockdownThreshold":  s.cfg.Drawdown.LockdownThreshold,
		},
		"frequency": gin.H{
			"maxTradesPerSymbol": s.cfg.Frequency.MaxTradesPerSymbol,
			"maxTradesPerMinute": s.cfg.Frequency.MaxTradesPerMinute,
		},
		"buyingPower": gin.H{
			"maxLeverage": s.cfg.BuyingPower.MaxLeverage,
		},
	}
}

func (s *Server) handleAudit(c *gin.Context) {
	decision := c.Query("decision")
	if decision != "" && decision != "approved" && decision != "rejected" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "decision must be approved or rejected"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	events, err := s.store.QueryAuditEvents(c.Request.Context(), decision, limit)
	if err != nil {
		logger.ErrorWithErr(c.Request.Context(), "Audit query failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (s *Server) handleRejections(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	events, err := s.store.RecentRejections(c.Request.Context(), limit)
	if err != nil {
		logger.ErrorWithErr(c.Request.Context(), "Rejection query failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rejection query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rejections": events, "count": len(events)})
}

func (s *Server) handleResetDaily(c *gin.Context) {
	s.engine.ResetDaily(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"status": "reset",
		"mode":   s.engine.Mode(),
	})
}

type modeRequest struct {
	Mode   string `json:"mode" binding:"required"`
	Reason string `json:"reason"`
}

func (s *Server) handleMode(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode is required"})
		return
	}

	mode, err := types.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.ForceMode(c.Request.Context(), mode, req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"mode":   s.engine.Mode(),
	})
}
