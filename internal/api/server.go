// Package api exposes the candle store and the backtest engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"midas-engine/config"
	"midas-engine/internal/database"
	"midas-engine/internal/updater"
)

// Server is the HTTP API over the candle store.
type Server struct {
	cfg     config.ServerConfig
	db      *database.DB
	repo    *database.Repository
	updater *updater.Updater
	log     zerolog.Logger

	router *gin.Engine
	http   *http.Server
}

// NewServer assembles the router. updater may be nil; the update endpoint
// then responds 503.
func NewServer(cfg config.ServerConfig, db *database.DB, repo *database.Repository, upd *updater.Updater, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		cfg:     cfg,
		db:      db,
		repo:    repo,
		updater: upd,
		log:     log.With().Str("component", "api").Logger(),
		router:  router,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/symbols", s.handleSymbols)
		api.GET("/candles/:symbol/:interval", s.handleCandles)
		api.POST("/update/:symbol", s.handleUpdate)
		api.POST("/backtest", s.handleBacktest)
	}
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return <-errCh
}
