package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	gwebsocket "github.com/gorilla/websocket" // Alias to avoid name conflict
	"github.com/sirupsen/logrus"

	"road-state-gateway/internal/data"
	"road-state-gateway/internal/ingest"
	"road-state-gateway/internal/storage"
	"road-state-gateway/internal/websocket"
)

const maxBodyBytes = 4 << 20

type APIHandler struct {
	store    storage.Store
	pipeline *ingest.Pipeline
	hub      *websocket.Hub
	wsOpts   websocket.Options
	upgrader gwebsocket.Upgrader
	metrics  http.Handler
	log      logrus.FieldLogger
}

// NewAPIHandler wires the HTTP surface. metricsHandler may be nil, in which
// case /metrics is not served.
func NewAPIHandler(store storage.Store, pipeline *ingest.Pipeline, hub *websocket.Hub, wsOpts websocket.Options, metricsHandler http.Handler, log logrus.FieldLogger) *APIHandler {
	return &APIHandler{
		store:    store,
		pipeline: pipeline,
		hub:      hub,
		wsOpts:   wsOpts,
		upgrader: gwebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		metrics: metricsHandler,
		log:     log.WithField("component", "api"),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Warn("writing response")
	}
}

// writeError maps the error taxonomy onto status codes: validation -> 422,
// not found -> 404, everything else -> 500.
func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *data.ValidationError
	switch {
	case errors.As(err, &vErr):
		h.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: vErr.Error()})
	case errors.Is(err, storage.ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "processed agent data not found"})
	default:
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func (h *APIHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.log.WithError(err).Debug("reading request body")
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "cannot read request body"})
		return nil, false
	}
	return body, true
}

func pathInt(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func (h *APIHandler) recordID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := pathInt(r, "id")
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "id must be an integer"})
		return 0, false
	}
	return id, true
}

// HandleCreate ingests a JSON array of records and answers with one result
// per item.
func (h *APIHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	items, err := data.ParseBatch(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	results, err := h.pipeline.Ingest(r.Context(), items)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, results)
}

func (h *APIHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *APIHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, recs)
}

// HandleUpdate replaces a record with the body, which has the same shape as
// one element of the ingest array.
func (h *APIHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	item, err := data.ParseItem(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := h.pipeline.Replace(r.Context(), id, item)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// HandleDelete removes a record and returns what was deleted.
func (h *APIHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	rec, err := h.store.Delete(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.log.WithError(err).Warn("health check failed")
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSubscribe upgrades the request and registers the connection for the
// records of {user_id} until the peer goes away.
func (h *APIHandler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt(r, "user_id")
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id must be an integer"})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the client.
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	client := websocket.NewClient(h.hub, conn, userID, h.wsOpts, h.log)
	if err := h.hub.Subscribe(userID, client); err != nil {
		h.log.WithError(err).WithField("user_id", userID).Warn("rejecting subscriber")
		msg := gwebsocket.FormatCloseMessage(gwebsocket.CloseTryAgainLater, err.Error())
		conn.WriteControl(gwebsocket.CloseMessage, msg, time.Now().Add(h.wsOpts.WriteWait))
		conn.Close()
		return
	}

	// ReadPump unsubscribes on every exit path.
	go client.WritePump()
	go client.ReadPump()
}
