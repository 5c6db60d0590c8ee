package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"udig-server/internal/artifact"
	"udig-server/internal/config"
)

const (
	strokeLimitPerSecond = 30
	chatLimitPerTenSec   = 20
)

// Server wires the room registry, connection tracking, the telephone phase
// machine and the artifact store behind one websocket endpoint plus the
// HTTP snapshot API.
type Server struct {
	cfg         config.Config
	rooms       *RoomManager
	connections *ConnectionManager
	broadcaster Broadcaster
	artifacts   *artifact.Store

	strokeLimiter *RateLimiter
	chatLimiter   *RateLimiter

	sweepStop chan struct{}
}

// New builds a Server from explicit parts. Tests use it to swap in a
// recording broadcaster and a temp-dir artifact store.
func New(cfg config.Config, store *artifact.Store, broadcaster Broadcaster) *Server {
	rooms := NewRoomManager()
	connections := NewConnectionManager()
	s := &Server{
		cfg:           cfg,
		rooms:         rooms,
		connections:   connections,
		artifacts:     store,
		strokeLimiter: NewRateLimiter(strokeLimitPerSecond, time.Second),
		chatLimiter:   NewRateLimiter(chatLimitPerTenSec, 10*time.Second),
		sweepStop:     make(chan struct{}),
	}
	if broadcaster != nil {
		s.broadcaster = broadcaster
	} else {
		s.broadcaster = NewBroadcaster(connections, rooms)
	}
	return s
}

// NewServer loads configuration from the environment and returns the server
// together with an http.Server ready to listen.
func NewServer() (*Server, *http.Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	s := New(cfg, artifact.NewStore(cfg.UploadRoot), nil)
	s.startRetentionSweep()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s, httpServer, nil
}

// startRetentionSweep deletes step artifacts older than the retention window
// on a fixed interval, so the upload tree cannot grow without bound.
func (s *Server) startRetentionSweep() {
	go func() {
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cutoff := time.Duration(s.cfg.RetentionDays) * 24 * time.Hour
				removed, err := s.artifacts.Sweep(cutoff)
				if err != nil {
					log.Printf("artifact sweep failed: %v", err)
				} else if removed > 0 {
					log.Printf("artifact sweep removed %d entries", removed)
				}
			case <-s.sweepStop:
				return
			}
		}
	}()
}

// Shutdown stops background work. In-flight websocket handlers end when
// their connections close with the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.sweepStop)
	return nil
}
