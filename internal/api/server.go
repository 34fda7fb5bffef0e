package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/heimdex/heimdex-matting/internal/config"
	"github.com/heimdex/heimdex-matting/internal/engine"
	"github.com/heimdex/heimdex-matting/internal/orchestrator"
	"github.com/heimdex/heimdex-matting/internal/runs"
)

// MattingRunner runs matting requests.
type MattingRunner interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// ArtifactStreamer writes an artifact file to the response.
type ArtifactStreamer interface {
	Stream(w http.ResponseWriter, r *http.Request, path, contentType, filename string) error
}

// Doctor reports engine capabilities.
type Doctor interface {
	Get(ctx context.Context) (*engine.Capabilities, error)
}

// GateStats reports engine gate occupancy.
type GateStats interface {
	InFlight() int
	Waiting() int
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Host      string
	Port      int
	AuthToken string // empty disables auth

	Orchestrator MattingRunner
	Streamer     ArtifactStreamer
	Runs         runs.Repository
	Doctor       Doctor
	Gate         GateStats
	Settings     config.EngineSettings

	Logger    *slog.Logger
	StartTime time.Time
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler: router,
			// Matting responses stream for as long as the engine ran, so
			// there is no write deadline.
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
