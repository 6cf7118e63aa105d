package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"recordsync/internal/config"
	"recordsync/internal/store"
	"recordsync/internal/sync"
)

type Handler struct {
	engine *sync.Engine
	store  store.Store
	cfg    config.ServerConfig
}

func NewHandler(engine *sync.Engine, auditStore store.Store, cfg config.ServerConfig) *Handler {
	return &Handler{
		engine: engine,
		store:  auditStore,
		cfg:    cfg,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(h.cfg.AuthToken))

		r.Post("/sync/trigger", h.TriggerSync)
		r.Post("/sync/pause", h.PauseSync)
		r.Post("/sync/resume", h.ResumeSync)
		r.Get("/sync/status", h.GetSyncStatus)
		r.Get("/sync/stats", h.GetStats)
		r.Get("/sync/history", h.GetHistory)
		r.Get("/sync/runs", h.ListSyncRuns)

		r.Get("/conflicts", h.ListConflicts)

		r.Route("/records/{type}", func(r chi.Router) {
			r.Get("/", h.ListRecords)
			r.Get("/{id}", h.GetRecord)
			r.Put("/{id}", h.PutRecord)
			r.Post("/{id}", h.UpdateRecord)
			r.Delete("/{id}", h.DeleteRecord)
		})
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.SyncNow(r.Context())
	if err != nil {
		if errors.Is(err, sync.ErrSyncInProgress) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) PauseSync(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Pause(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(h.engine.State())})
}

func (h *Handler) ResumeSync(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Resume(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(h.engine.State())})
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"state":     h.engine.State(),
		"pending":   len(h.engine.PendingChanges()),
		"conflicts": len(h.engine.Conflicts()),
	}
	if last := h.engine.LastSyncTime(); !last.IsZero() {
		status["last_sync"] = last.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := h.engine.ResolutionStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":        stats,
		"success_rate": stats.SuccessRate(),
	})
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.ResolutionHistory())
}

func (h *Handler) ListSyncRuns(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	limit, offset := pagination(r)
	runs, err := h.store.ListSyncRuns(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Conflicts())
}

func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	recordType := chi.URLParam(r, "type")
	records, err := h.engine.FetchAllRecords(r.Context(), recordType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.FetchRecord(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, sync.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) PutRecord(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.engine.SaveRecord(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"), payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.engine.UpdateRecord(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"), payload)
	if err != nil {
		if errors.Is(err, sync.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	err := h.engine.DeleteRecord(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, sync.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware requires a bearer token when one is configured. An empty
// token leaves the API open, matching single-host deployments.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
