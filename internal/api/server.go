package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/nodewatch/internal/api/models"
	"github.com/smazurov/nodewatch/internal/events"
	"github.com/smazurov/nodewatch/internal/logging"
	"github.com/smazurov/nodewatch/internal/metrics"
	"github.com/smazurov/nodewatch/internal/monitor"
	"github.com/smazurov/nodewatch/internal/supervisor"
	"github.com/smazurov/nodewatch/internal/version"
)

// MonitorStatus provides the watched node's state.
type MonitorStatus interface {
	Snapshot() monitor.Snapshot
}

// SupervisorStatus provides the child's state.
type SupervisorStatus interface {
	Status() supervisor.Status
}

// Options configures the API server.
type Options struct {
	Monitor           MonitorStatus
	Supervisor        SupervisorStatus
	EventBus          *events.Bus  // optional, enables /api/events
	PrometheusHandler http.Handler // optional Prometheus metrics handler
}

// Server is the Huma v2 status API server
type Server struct {
	api      huma.API
	mux      *http.ServeMux
	options  *Options
	eventBus *events.Bus
	logger   *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	stopped    bool
}

// NewServer creates a new API server with Huma v2 using Go 1.22+ native routing
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	config := huma.DefaultConfig("nodewatch API", "1.0.0")
	config.Info.Description = "Status of the watched node and its child process"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}

	api := humago.New(mux, config)

	server := &Server{
		api:      api,
		mux:      mux,
		options:  opts,
		eventBus: opts.EventBus,
		logger:   logging.GetLogger("api"),
	}

	api.UseMiddleware(requestLogger(logging.GetLogger("http")))

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()

	return server
}

// GetMux returns the underlying HTTP ServeMux for additional setup
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start starts the HTTP server on the specified address and blocks until it
// stops. It returns http.ErrServerClosed after Stop, even when Stop ran first.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Starting API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")
	return srv.ListenAndServe()
}

// Stop shuts the server down, closing open connections including event streams
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Stopping API server")
	return s.httpServer.Close()
}

// registerRoutes sets up all API endpoints
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Report whether the coordination session is alive",
		Tags:        []string{"health"},
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		st := s.options.Supervisor.Status()
		if st.Closed {
			return &models.HealthResponse{
				Body: models.HealthData{
					Status:  "closing",
					Message: "Session closed: " + st.CloseCode,
					Version: version.String(),
				},
			}, nil
		}
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "Session alive",
				Version: version.String(),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Status",
		Description: "Get the watched node and child process status",
		Tags:        []string{"status"},
	}, func(_ context.Context, _ *struct{}) (*models.StatusResponse, error) {
		return &models.StatusResponse{Body: s.status()}, nil
	})

	if s.eventBus != nil {
		s.registerSSERoutes()
	}
}

func (s *Server) status() models.StatusData {
	snap := s.options.Monitor.Snapshot()
	st := s.options.Supervisor.Status()

	data := models.StatusData{
		Path:          snap.Path,
		MonitorState:  snap.State,
		NodeExists:    snap.Known,
		ContentSize:   snap.Size,
		Descendants:   snap.Descendants,
		Checks:        snap.Checks,
		Retries:       snap.Retries,
		SessionClosed: st.Closed,
		CloseCode:     st.CloseCode,
	}
	if st.Child != nil {
		usage := metrics.GetChildUsage()
		data.Child = &models.ChildData{
			ID:         st.Child.ID,
			State:      string(st.Child.State),
			PID:        st.Child.PID,
			StartedAt:  st.Child.StartedAt,
			ExitCode:   st.Child.ExitCode,
			RSS:        usage.RSS,
			CPUPercent: usage.CPUPercent,
		}
	}
	return data
}
