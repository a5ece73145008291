// Package web serves the dispenser HTTP API: the firmware ingestion
// endpoint, history and statistics queries, medication metadata, and the
// admin surface.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sweeney/pillbox-sensor/internal/core"
	"github.com/sweeney/pillbox-sensor/internal/logic"
	"github.com/sweeney/pillbox-sensor/internal/mqtt"
)

// Info is static daemon configuration surfaced by the status endpoints.
type Info struct {
	Broker    string
	HTTPAddr  string
	PollMs    int64
	FlickerMs int64
}

// Options configures optional Server collaborators. Zero values disable the
// corresponding feature.
type Options struct {
	// Publisher receives dose events confirmed through POST /value.
	Publisher mqtt.Publisher
	// MQTTStatus is reported by the admin status endpoint.
	MQTTStatus mqtt.ConnectionStatus
	// Now and Mono override the clocks, for tests.
	Now  func() time.Time
	Mono func() time.Duration
	Info Info
}

// Server serves the HTTP API backed by a Core.
type Server struct {
	httpServer *http.Server
	core       *core.Core
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	info       Info

	now  func() time.Time
	mono func() time.Duration
}

// New creates a Server for the given core.
func New(addr string, c *core.Core, opts Options) *Server {
	s := &Server{
		core:       c,
		publisher:  opts.Publisher,
		mqttStatus: opts.MQTTStatus,
		info:       opts.Info,
		now:        opts.Now,
		mono:       opts.Mono,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.mono == nil {
		start := time.Now()
		s.mono = func() time.Duration { return time.Since(start) }
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)

	// Firmware wire protocol.
	r.Post("/value", s.handlePostValue)
	r.Get("/value", s.handleGetValues)
	r.Get("/value/{id}", s.handleGetValue)

	r.Route("/api", func(r chi.Router) {
		r.Get("/history", s.handleHistory)
		r.Delete("/history/{index}", s.handleDeleteHistory)
		r.Get("/daily", s.handleDaily)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/weekly", s.handleWeekly)
		r.Get("/reports/detailed", s.handleDetailedReport)
		r.Get("/dashboard/stats", s.handleDashboardStats)
		r.Get("/medications", s.handleGetMedications)
		r.Post("/medications", s.handleUpdateMedication)
		r.Get("/notifications/check", s.handleNotificationsCheck)
		r.Get("/chart/weekly", s.handleWeeklyChart)

		r.Post("/admin/reset", s.handleAdminReset)
		r.Get("/admin/status", s.handleAdminStatus)
	})

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// publishDose forwards a confirmed dose to MQTT when a publisher is wired.
// Publish failures never fail the ingestion request.
func (s *Server) publishDose(ev logic.DoseEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishDose(ev); err != nil {
		logPublishError(ev.SlotID, err)
	}
}
