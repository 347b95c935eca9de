package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/doctriage/doctriage/pkg/logging"
	"github.com/doctriage/doctriage/pkg/models"
	"github.com/doctriage/doctriage/pkg/queue"
	"github.com/doctriage/doctriage/pkg/scaler"
	"github.com/doctriage/doctriage/pkg/store"
	"github.com/doctriage/doctriage/pkg/worker"
)

// Handler serves the client and operator HTTP surface
type Handler struct {
	admission  *Admission
	store      store.Store
	queue      queue.Queue
	registry   worker.Registry
	controller *scaler.Controller
	hub        *Hub
	log        *logging.Logger
	startedAt  time.Time
}

// NewHandler creates the API handler
func NewHandler(adm *Admission, st store.Store, q queue.Queue, reg worker.Registry, ctrl *scaler.Controller, hub *Hub, log *logging.Logger) *Handler {
	return &Handler{
		admission:  adm,
		store:      st,
		queue:      q,
		registry:   reg,
		controller: ctrl,
		hub:        hub,
		log:        log.WithField("component", "api"),
		startedAt:  time.Now(),
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/jobs", h.CreateJob).Methods("POST")
	r.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	r.HandleFunc("/scaling", h.GetScaling).Methods("GET")
	r.HandleFunc("/scaling", h.PutScaling).Methods("PUT")
	r.HandleFunc("/workers", h.ListWorkers).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/ws", h.hub.HandleWS)
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// CreateJob handles multipart document submission
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart form must carry a 'file' part")
		return
	}
	defer file.Close()

	job, err := h.admission.Submit(r.Context(), header.Filename, file)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, models.ErrOverloaded):
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, models.ErrQueueUnavailable), errors.Is(err, models.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.log.Error("Submission failed", map[string]interface{}{"error": err.Error()})
			writeError(w, http.StatusInternalServerError, "submission failed")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// GetJob returns one job's client-facing view
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job.View())
}

// ListJobs returns jobs, optionally filtered by ?status=
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.JobStatusQueued, models.JobStatusProcessing, models.JobStatusCompleted, models.JobStatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}

	jobs, err := h.store.List(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	views := make([]models.JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, job.View())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  views,
		"count": len(views),
	})
}

// GetScaling returns the current load snapshot and scaling state
func (h *Handler) GetScaling(w http.ResponseWriter, r *http.Request) {
	policy, target, snap := h.controller.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policy":   policy,
		"target":   target,
		"snapshot": snap,
	})
}

// PutScaling applies a manual replica override
func (h *Handler) PutScaling(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Replicas int `json:"replicas"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	applied, err := h.controller.SetTarget(r.Context(), req.Replicas)
	if err != nil {
		h.log.Error("Manual scaling failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"replicas": applied})
}

// ListWorkers returns currently active workers
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.registry.Active(r.Context(), time.Minute)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workers": workers,
		"count":   len(workers),
	})
}

// Health reports backend reachability. Degraded states return 503 so
// load balancers rotate the instance out.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true

	if err := h.queue.Ping(r.Context()); err != nil {
		checks["queue"] = err.Error()
		healthy = false
	} else {
		checks["queue"] = "ok"
	}
	if err := h.store.Ping(r.Context()); err != nil {
		checks["store"] = err.Error()
		healthy = false
	} else {
		checks["store"] = "ok"
	}

	body := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.startedAt).String(),
		"checks": checks,
	}
	if counts, err := h.store.Counts(r.Context()); err == nil {
		body["jobs"] = counts
	}

	code := http.StatusOK
	if !healthy {
		body["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
