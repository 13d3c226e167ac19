package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"puborch/internal/config"
	"puborch/internal/infra/postgres"
	"puborch/internal/notifier"
	"puborch/internal/usecase"
)

type Server struct {
	router *chi.Mux
	notif  *notifier.Notifier
}

func NewServer(cfg *config.Config) (*Server, error) {
	db, err := postgres.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	queue := postgres.NewQueueStore(db)
	checkbacks := postgres.NewCheckbackStore(db)
	webhooks := postgres.NewWebhookStore(db)

	notif := notifier.New(webhooks, cfg.Webhook)

	h := &handlers{
		queue:      queue,
		checkbacks: checkbacks,
		webhooks:   webhooks,
		notif:      notif,
		enqueuer: usecase.Enqueuer{
			Queue:             queue,
			Notifier:          notif,
			DefaultMaxRetries: cfg.Publisher.MaxRetries,
		},
	}

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Route("/queue", func(r chi.Router) {
			r.Post("/", h.enqueue)
			r.Get("/stats", h.queueStats)
			r.Get("/{id}", h.getItem)
			r.Post("/{id}/cancel", h.cancelItem)
			r.Get("/{id}/checkbacks", h.listCheckbacks)
		})
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/", h.createEndpoint)
			r.Get("/", h.listEndpoints)
			r.Get("/stats", h.deliveryStats)
			r.Patch("/{id}", h.updateEndpoint)
			r.Delete("/{id}", h.deleteEndpoint)
			r.Get("/{id}/deliveries", h.listDeliveries)
		})
	})

	return &Server{router: r, notif: notif}, nil
}

// Run serves the management API on the given port with graceful shutdown.
func (s *Server) Run(port int) {
	addr := fmt.Sprintf(":%d", port)

	h := chainMiddleware(
		s.router,
		recoverHandler,
		loggerHandler(func(w http.ResponseWriter, r *http.Request) bool { return r.URL.Path == "/" }),
		realIPHandler,
		requestIDHandler,
		corsHandler,
	)

	httpServer := http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Fatal().Err(err).Msg("Server forced to shutdown")
		}

		s.notif.Close()
		close(done)
	}()

	log.Info().Msgf("server serving on port %d", port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Failed to listen and serve")
	}

	<-done
	log.Info().Msg("Server stopped")
}
