package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/refulearn/cache-service/internal/domain/entity"
	"github.com/refulearn/cache-service/internal/platform/logger"
	"github.com/refulearn/cache-service/internal/repository"
	"github.com/refulearn/cache-service/internal/service"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	datasets service.DatasetService
	store    service.CacheStore
	queue    service.SyncQueue
	validate *validator.Validate
	log      logger.Logger
}

func NewHandler(datasets service.DatasetService, store service.CacheStore, queue service.SyncQueue, log logger.Logger) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		datasets: datasets,
		store:    store,
		queue:    queue,
		validate: v,
		log:      log.Named("http_handler"),
	}
}

type datasetResponse struct {
	Name     string          `json:"name"`
	Source   entity.Source   `json:"source"`
	Attempts int             `json:"attempts"`
	Data     json.RawMessage `json:"data"`
}

type enqueueRequest struct {
	Action  string          `json:"action" validate:"required,max=64"`
	Method  string          `json:"method" validate:"omitempty,oneof=POST PUT PATCH DELETE post put patch delete"`
	Path    string          `json:"path" validate:"required,startswith=/,max=512"`
	Payload json.RawMessage `json:"payload"`
}

type namespaceResponse struct {
	Prefix  string `json:"prefix"`
	Removed int    `json:"removed"`
}

type processResponse struct {
	Processed int   `json:"processed"`
	Failed    int   `json:"failed"`
	Pending   int64 `json:"pending"`
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (h *Handler) HandleListDatasets(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.datasets.Datasets())
}

func (h *Handler) HandleGetDataset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	res, err := h.datasets.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, repository.ErrUnknownDataset) {
			respondWithError(w, http.StatusNotFound, "unknown dataset")
			return
		}
		if errors.Is(err, repository.ErrCallerRequired) {
			respondWithError(w, http.StatusUnauthorized, "dataset requires a signed-in user")
			return
		}
		h.log.Errorf("Failed to load dataset %s: %v", name, err)
		respondWithError(w, http.StatusInternalServerError, "failed to load dataset")
		return
	}
	respondWithJSON(w, http.StatusOK, datasetResponse{
		Name:     name,
		Source:   res.Source,
		Attempts: res.Attempts,
		Data:     res.Value,
	})
}

func (h *Handler) HandleEnqueueSync(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: fieldErrors(err)})
		return
	}

	item, err := h.queue.Enqueue(r.Context(), req.Action, req.Method, req.Path, req.Payload)
	if err != nil {
		h.log.Warnf("Failed to enqueue %s: %v", req.Action, err)
		if errors.Is(err, repository.ErrCallerRequired) {
			respondWithError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondWithJSON(w, http.StatusAccepted, item)
}

func (h *Handler) HandleCacheStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.store.Status(r.Context()))
}

func (h *Handler) HandleClearAll(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(UserIDCtxKey).(string)
	h.log.Warnf("Clear-all requested by %s", userID)

	report := h.store.ClearAll(r.Context())
	status := http.StatusOK
	if !report.OK() {
		status = http.StatusMultiStatus
	}
	respondWithJSON(w, status, report)
}

func (h *Handler) HandleClearNamespace(w http.ResponseWriter, r *http.Request) {
	prefix := chi.URLParam(r, "prefix")
	if strings.TrimSpace(prefix) == "" {
		respondWithError(w, http.StatusBadRequest, "namespace prefix is required")
		return
	}
	removed := h.store.ClearNamespace(r.Context(), prefix)
	respondWithJSON(w, http.StatusOK, namespaceResponse{Prefix: prefix, Removed: removed})
}

func (h *Handler) HandleClearUserData(w http.ResponseWriter, r *http.Request) {
	removed := h.store.ClearUserData(r.Context())
	respondWithJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *Handler) HandleProcessSyncQueue(w http.ResponseWriter, r *http.Request) {
	processed, failed, err := h.queue.Process(r.Context())
	if err != nil {
		h.log.Errorf("Failed to process sync queue: %v", err)
		respondWithError(w, http.StatusServiceUnavailable, "sync queue unavailable")
		return
	}
	pending, err := h.queue.Pending(r.Context())
	if err != nil {
		h.log.Warnf("Failed to count pending sync items: %v", err)
	}
	respondWithJSON(w, http.StatusOK, processResponse{Processed: processed, Failed: failed, Pending: pending})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func fieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func respondWithError(w http.ResponseWriter, code int, msg string) {
	respondWithJSON(w, code, errorResponse{Error: msg})
}
