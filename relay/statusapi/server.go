// Package statusapi serves liveness and relay statistics over HTTP.
package statusapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/m3rciful/curatorbot/core/buildinfo"
	"github.com/m3rciful/curatorbot/core/logger"
	"github.com/m3rciful/curatorbot/relay"
)

// StatsSource provides the snapshot behind /stats.
type StatsSource interface {
	Stats(ctx context.Context) (relay.Status, error)
}

// Stats is the JSON shape of /stats.
type Stats struct {
	Total         int            `json:"total"`
	Active        int            `json:"active"`
	ByStatus      map[string]int `json:"by_status"`
	Submitters    int            `json:"submitters"`
	Queued        int            `json:"queued"`
	Armed         int            `json:"armed"`
	Mode          string         `json:"mode"`
	StartedAt     time.Time      `json:"started_at"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Version       string         `json:"version"`
}

// Server is the status HTTP server.
type Server struct {
	app *fiber.App
	src StatsSource
}

// New builds the server and its routes.
func New(src StatsSource) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{DisableStartupMessage: true}),
		src: src,
	}
	s.app.Get("/healthz", s.health)
	s.app.Get("/stats", s.stats)
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Start listens on addr in the background. A listen failure is logged;
// the bot keeps running without the status API.
func (s *Server) Start(addr string) {
	go func() {
		logger.Info(context.Background(), logger.CompStatus, "status.listen", slog.String("listen", addr))
		if err := s.app.Listen(addr); err != nil {
			logger.Error(context.Background(), logger.CompStatus, "status.listen",
				slog.String("status", "fail"),
				slog.String("listen", addr),
				logger.Err(err),
			)
		}
	}()
}

// Shutdown stops the server, waiting for open requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) stats(c *fiber.Ctx) error {
	st, err := s.src.Stats(c.UserContext())
	if err != nil {
		logger.Warn(c.UserContext(), logger.CompStatus, "status.stats", slog.String("status", "fail"), logger.Err(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "stats unavailable",
		})
	}
	by := make(map[string]int, len(st.ByStatus))
	for k, v := range st.ByStatus {
		by[string(k)] = v
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data": Stats{
			Total:         st.Total,
			Active:        st.Active(),
			ByStatus:      by,
			Submitters:    st.Submitters,
			Queued:        st.Queued,
			Armed:         st.Armed,
			Mode:          st.Mode,
			StartedAt:     st.StartedAt.UTC(),
			UptimeSeconds: int64(st.Uptime / time.Second),
			Version:       buildinfo.Version,
		},
	})
}
