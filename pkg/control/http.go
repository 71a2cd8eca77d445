package control

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/tfplatform/eventfabric/pkg/config"
	"github.com/tfplatform/eventfabric/pkg/logger"
	"github.com/tfplatform/eventfabric/pkg/metrics"
	"github.com/tfplatform/eventfabric/pkg/store"
)

// Handler exposes the control service over HTTP, JSON in and out
type Handler struct {
	service *Service
}

// NewHandler wraps the service
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Router mounts the control-plane routes
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/status", h.getStatus).Methods(http.MethodGet)
	r.HandleFunc("/start", h.startAll).Methods(http.MethodPost)
	r.HandleFunc("/stop", h.stopAll).Methods(http.MethodPost)
	r.HandleFunc("/reconfigure", h.reconfigure).Methods(http.MethodPost)
	r.HandleFunc("/events", h.searchEvents).Methods(http.MethodGet)
	r.HandleFunc("/events/count", h.countEvents).Methods(http.MethodGet)
	r.HandleFunc("/events/resend", h.resendEvents).Methods(http.MethodPost)
	r.Handle("/metrics", metrics.GetProvider().Handler()).Methods(http.MethodGet)
	return r
}

func (h *Handler) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.service.GetStatus())
}

func (h *Handler) startAll(w http.ResponseWriter, r *http.Request) {
	if err := h.service.StartAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.GetStatus())
}

func (h *Handler) stopAll(w http.ResponseWriter, _ *http.Request) {
	h.service.StopAll()
	writeJSON(w, http.StatusOK, h.service.GetStatus())
}

func (h *Handler) reconfigure(w http.ResponseWriter, r *http.Request) {
	var cfg config.GatewayConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.service.Reconfigure(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.GetStatus())
}

func (h *Handler) searchEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	events, err := h.service.SearchEvents(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []store.RawEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) countEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	count, err := h.service.CountEvents(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

type resendRequest struct {
	IDs            []int64            `json:"ids,omitempty"`
	Filter         *store.EventFilter `json:"filter,omitempty"`
	ForceMessageID bool               `json:"force_message_id"`
}

func (h *Handler) resendEvents(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var result ResendResult
	var err error
	switch {
	case len(req.IDs) > 0:
		result, err = h.service.ResendEvents(r.Context(), req.IDs, req.ForceMessageID)
	case req.Filter != nil:
		result, err = h.service.ResendAllByFilter(r.Context(), *req.Filter, req.ForceMessageID)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ids or filter required"})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func filterFromQuery(r *http.Request) (store.EventFilter, error) {
	q := r.URL.Query()
	filter := store.EventFilter{
		EventType: q.Get("event_type"),
		MessageID: q.Get("message_id"),
	}
	for name, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		if raw := q.Get(name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return filter, err
			}
			*dst = &t
		}
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if raw := q.Get(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return filter, err
			}
			*dst = n
		}
	}
	return filter, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	// Trim wrapped SQL noise out of operator responses
	if i := strings.Index(msg, "\n"); i > 0 {
		msg = msg[:i]
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
