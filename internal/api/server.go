// Package api exposes the booking engine over JSON HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"eyeclinic/internal/booking"
	"eyeclinic/internal/model"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
)

// MaxExportDays bounds GET /api/v1/diary/export.
const MaxExportDays = 62

// RulesStore reads and edits the clinic rules.
type RulesStore interface {
	Current() *model.ClinicConfig
	Apply(ctx context.Context, patch model.ConfigPatch) (*model.ClinicConfig, error)
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Options tunes the public surface of the API.
type Options struct {
	// AllowedOrigins lists the booking page origins allowed by CORS.
	AllowedOrigins []string
	// BookingsPerMinute caps POST /api/v1/appointments per client IP;
	// zero disables the limit.
	BookingsPerMinute int
}

// HTTPServer serves the public booking page and the staff diary.
type HTTPServer struct {
	booking *booking.Service
	rules   RulesStore
	server  *http.Server
	logger  zerolog.Logger
}

func NewHTTPServer(addr string, svc *booking.Service, rules RulesStore, opts Options, logger *zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		booking: svc,
		rules:   rules,
		logger:  logger.With().Str("component", "api").Logger(),
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(s.logRequests)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/services", s.handleServices)
		r.Get("/days/{date}", s.handleDay)
		r.Get("/slots", s.handleSlots)

		r.Route("/diary", func(r chi.Router) {
			r.Get("/", s.handleDiary)
			r.Post("/appointments", s.handleStaffCreate)
			r.Get("/stream", s.handleDiaryStream)
			r.Get("/export", s.handleDiaryExport)
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if opts.BookingsPerMinute > 0 {
					r.Use(httprate.LimitByIP(opts.BookingsPerMinute, time.Minute))
				}
				r.Post("/", s.handleCreate)
			})
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Patch("/", s.handleEdit)
				r.Delete("/", s.handleCancel)
				r.Post("/move", s.handleMove)
				r.Post("/status", s.handleStatus)
			})
		})

		r.Get("/clinic/config", s.handleGetConfig)
		r.Patch("/clinic/config", s.handlePatchConfig)
	})

	s.server = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown is called.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("API server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent events working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(started)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// errorStatus maps the booking error taxonomy onto HTTP.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, model.ErrInvalidDuration):
		return http.StatusBadRequest, "invalid_duration"
	case errors.Is(err, model.ErrInvalidConfig):
		return http.StatusBadRequest, "invalid_config"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrClinicClosed):
		return http.StatusUnprocessableEntity, "clinic_closed"
	case errors.Is(err, model.ErrOutOfHours):
		return http.StatusUnprocessableEntity, "out_of_hours"
	case errors.Is(err, model.ErrSlotUnavailable):
		return http.StatusConflict, "slot_unavailable"
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, model.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, booking.ErrLockTimeout):
		return http.StatusServiceUnavailable, "busy"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func parseDateParam(name, value string) (model.Date, error) {
	if value == "" {
		return model.Date{}, errors.New(name + " is required")
	}
	d, err := model.ParseDate(value)
	if err != nil {
		return model.Date{}, errors.New("invalid " + name + " format; expected YYYY-MM-DD")
	}
	return d, nil
}

func parseClockParam(name, value string) (model.Clock, error) {
	if value == "" {
		return 0, errors.New(name + " is required")
	}
	c, err := model.ParseClock(value)
	if err != nil {
		return 0, errors.New("invalid " + name + " format; expected HH:MM")
	}
	return c, nil
}
