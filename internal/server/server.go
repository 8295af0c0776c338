package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"BattleLedger/internal/battle"
	"BattleLedger/internal/observability"
)

// Server is the HTTP/JSON surface consumed by the presentation layer.
// It performs no fund movement; every response is derived from the
// director's in-memory state.
type Server struct {
	router   *mux.Router
	director *battle.Director
	health   *observability.HealthChecker
	addr     string
	log      zerolog.Logger
}

func New(addr string, director *battle.Director, health *observability.HealthChecker, log zerolog.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		director: director,
		health:   health,
		addr:     addr,
		log:      log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/v1/battles", s.handleStartBattle).Methods("POST")
	s.router.HandleFunc("/v1/battles", s.handleListBattles).Methods("GET")
	s.router.HandleFunc("/v1/battles/{battle_id}", s.handleBattleState).Methods("GET")
	s.router.HandleFunc("/v1/battles/{battle_id}/votes", s.handlePlaceVote).Methods("POST")
	s.router.HandleFunc("/v1/battles/{battle_id}/gifts", s.handleSendGift).Methods("POST")
	s.router.HandleFunc("/v1/battles/{battle_id}/settlement", s.handleSettlement).Methods("GET")
	s.router.HandleFunc("/v1/battles/{battle_id}/abort", s.handleAbort).Methods("POST")

	if s.health != nil {
		s.router.HandleFunc("/healthz", s.health.LivenessHandler).Methods("GET")
		s.router.HandleFunc("/readyz", s.health.ReadinessHandler).Methods("GET")
	}
}

// Handler returns the routed handler with CORS applied, for tests and
// embedding.
func (s *Server) Handler() http.Handler {
	corsOptions := cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}
	return cors.New(corsOptions).Handler(s.router)
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.log.Info().Str("addr", s.addr).Msg("HTTP API listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
