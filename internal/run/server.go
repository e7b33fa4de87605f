package run

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dtnitsch/sku-date-checker/pkg/pipeline"
	"github.com/gorilla/mux"
)

// Lifecycle is the part of the controller exposed over HTTP.
type Lifecycle interface {
	Status() pipeline.Status
	Pause() error
	Resume() error
	Stop() error
}

// ControlHandler serves status and lifecycle requests for a running pipeline.
type ControlHandler struct {
	ctl    Lifecycle
	logger *slog.Logger
}

func NewControlHandler(ctl Lifecycle, logger *slog.Logger) *ControlHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlHandler{ctl: ctl, logger: logger}
}

// SetupRoutes registers the control endpoints.
func SetupRoutes(h *ControlHandler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/status", h.GetStatus).Methods("GET")
	r.HandleFunc("/pause", h.lifecycle("pause", h.ctl.Pause)).Methods("POST")
	r.HandleFunc("/resume", h.lifecycle("resume", h.ctl.Resume)).Methods("POST")
	r.HandleFunc("/stop", h.lifecycle("stop", h.ctl.Stop)).Methods("POST")

	return r
}

func (h *ControlHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Status())
}

func (h *ControlHandler) lifecycle(action string, fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, pipeline.ErrInvalidTransition) {
				status = http.StatusConflict
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		h.logger.Info("Control request", "action", action, "remote", r.RemoteAddr)
		writeJSON(w, http.StatusOK, map[string]string{"state": string(h.ctl.Status().State)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// serveControl runs the control API on addr until ctx is done.
func serveControl(ctx context.Context, addr string, ctl Lifecycle, logger *slog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           SetupRoutes(NewControlHandler(ctl, logger)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Control API listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("Control API stopped", "error", err)
	}
}
