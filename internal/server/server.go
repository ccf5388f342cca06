package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/audiolibrelab/fluentdrill/internal/config"
	"github.com/audiolibrelab/fluentdrill/internal/errors"
	"github.com/audiolibrelab/fluentdrill/internal/exercise"
	"github.com/audiolibrelab/fluentdrill/internal/service"
	"github.com/audiolibrelab/fluentdrill/internal/validate"
)

// Server exposes the practice session over HTTP.
type Server struct {
	service   service.Service
	cfg       *config.Config
	validator *validate.Validator
	server    *http.Server
}

type navigateRequest struct {
	Index *int `json:"index" validate:"required,gte=0"`
}

type volumeRequest struct {
	Volume *float64 `json:"volume" validate:"required"`
}

type displayRequest struct {
	Romanized *bool `json:"romanized" validate:"required"`
}

// New creates a web server around svc.
func New(svc service.Service, cfg *config.Config) *Server {
	s := &Server{
		service:   svc,
		cfg:       cfg,
		validator: validate.NewValidator(),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/languages", s.handleLanguages)
		r.Group(func(r chi.Router) {
			if limit := s.cfg.Server.GenerateRateLimit; limit > 0 {
				r.Use(httprate.Limit(limit, time.Minute,
					httprate.WithKeyFuncs(httprate.KeyByIP),
					httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
						s.sendErrorResponse(w, errors.New(errors.ErrRateLimited, "too many generation requests, try again later"),
							"operation", "generate", "remote_addr", r.RemoteAddr)
					}),
				))
			}
			r.Post("/exercises", s.handleGenerate)
		})

		r.Route("/session", func(r chi.Router) {
			r.Get("/", s.handleSession)
			r.Get("/exercises", s.handleSessions)
			r.Post("/navigate", s.handleNavigate)
			r.Post("/next", s.command("next", s.service.Next))
			r.Post("/previous", s.command("previous", s.service.Previous))
			r.Post("/capture/begin", s.handleBeginCapture)
			r.Post("/capture/end", s.command("end_capture", s.service.EndCapture))
			r.Post("/rerecord", s.command("rerecord", s.service.ReRecord))
			r.Post("/submit", s.handleSubmit)
			r.Post("/playback/play", s.command("play", s.service.Play))
			r.Post("/playback/pause", s.command("pause", s.service.Pause))
			r.Post("/playback/volume", s.handleVolume)
			r.Post("/display", s.handleDisplay)
		})
	})

	return r
}

// Start starts the web server and blocks until it is shut down.
func (s *Server) Start() error {
	localIP := getLocalIP()

	slog.Info("Starting fluentdrill Web Server",
		"port", s.cfg.Server.Port,
		"local_url", fmt.Sprintf("http://%s:%d", localIP, s.cfg.Server.Port),
		"localhost_url", fmt.Sprintf("http://localhost:%d", s.cfg.Server.Port))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and releases the session devices.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down web server")
	err := s.server.Shutdown(ctx)
	s.service.Close()
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
	})
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"languages":    exercise.Languages,
		"difficulties": exercise.Difficulties,
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req exercise.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, errors.Validation("invalid JSON body"), "operation", "generate")
		return
	}

	slog.Info("Server: generating exercises", "topic", req.Topic, "difficulty", req.Difficulty, "language", req.Language)
	set, err := s.service.GenerateExercises(r.Context(), req)
	if err != nil {
		s.sendErrorResponse(w, err, "operation", "generate", "topic", req.Topic)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"set":     set,
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.View()
	if err != nil {
		s.sendErrorResponse(w, err, "operation", "view")
		return
	}
	sendJSON(w, http.StatusOK, view)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.service.Sessions(),
	})
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if !s.decode(w, r, &req, "navigate") {
		return
	}
	if err := s.service.Navigate(*req.Index); err != nil {
		s.sendErrorResponse(w, err, "operation", "navigate", "index", *req.Index)
		return
	}
	s.sendView(w, http.StatusOK)
}

func (s *Server) handleBeginCapture(w http.ResponseWriter, r *http.Request) {
	// The capture outlives the request, so it must not inherit its context.
	if err := s.service.BeginCapture(context.Background()); err != nil {
		s.sendErrorResponse(w, err, "operation", "begin_capture")
		return
	}
	s.sendView(w, http.StatusOK)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	index, err := s.service.SubmitAsync()
	if err != nil {
		s.sendErrorResponse(w, err, "operation", "submit")
		return
	}
	sendJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"message": "Assessment started",
		"index":   index,
	})
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if !s.decode(w, r, &req, "set_volume") {
		return
	}
	if err := s.service.SetVolume(*req.Volume); err != nil {
		s.sendErrorResponse(w, err, "operation", "set_volume")
		return
	}
	s.sendView(w, http.StatusOK)
}

func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	var req displayRequest
	if !s.decode(w, r, &req, "display") {
		return
	}
	s.service.SetRomanized(*req.Romanized)
	s.sendView(w, http.StatusOK)
}

// command adapts a no-argument service command to a handler answering with
// the updated view.
func (s *Server) command(operation string, fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			s.sendErrorResponse(w, err, "operation", operation)
			return
		}
		s.sendView(w, http.StatusOK)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}, operation string) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.sendErrorResponse(w, errors.Validation("invalid JSON body"), "operation", operation)
		return false
	}
	if err := s.validator.Struct(dst); err != nil {
		appErr := errors.Validation(err.Error())
		if fe, ok := err.(*validate.FieldsError); ok {
			appErr = errors.Validation("invalid request").WithDetails(map[string]interface{}{"fields": fe.Fields})
		}
		s.sendErrorResponse(w, appErr, "operation", operation)
		return false
	}
	return true
}

func (s *Server) sendView(w http.ResponseWriter, status int) {
	view, err := s.service.View()
	if err != nil {
		s.sendErrorResponse(w, err, "operation", "view")
		return
	}
	sendJSON(w, status, view)
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, err error, logContext ...interface{}) {
	appErr, ok := errors.As(err)
	if !ok {
		appErr = errors.Wrap(errors.ErrInternal, err.Error(), err)
	}
	statusCode := appErr.HTTPStatus()

	logFields := []interface{}{"error_message", appErr.Error(), "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	body := map[string]interface{}{
		"success": false,
		"code":    appErr.Code,
		"error":   appErr.Message,
	}
	if len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}
	sendJSON(w, statusCode, body)
}

func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// getLocalIP returns the local IP address for network access
func getLocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
