package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"ddos-guard/api/internal/storage"
	"ddos-guard/internal/capture"
	"ddos-guard/internal/control"
	"ddos-guard/internal/enforcement"
	"ddos-guard/internal/metrics"
	"ddos-guard/internal/model"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Handlers struct {
	surface     *control.Surface
	store       *storage.Storage
	promClient  *metrics.PrometheusClient
	promTimeout time.Duration
	logger      *logrus.Logger
	upgrader    websocket.Upgrader
}

// NewHandlers creates the HTTP adapters. promClient may be nil, in which
// case the traffic history endpoint answers 503.
func NewHandlers(surface *control.Surface, store *storage.Storage, promClient *metrics.PrometheusClient, promTimeout time.Duration, logger *logrus.Logger) *Handlers {
	return &Handlers{
		surface:     surface,
		store:       store,
		promClient:  promClient,
		promTimeout: promTimeout,
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				logger.Debugf("WebSocket origin check: %s", origin)
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Control handlers
func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": h.surface.Liveness()})
}

func (h *Handlers) PacketCounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"packet_counts": h.surface.PacketCounts()})
}

func (h *Handlers) BlockedIPs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"blocked_ips": h.surface.BlockedIPs()})
}

func (h *Handlers) UnblockIP(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]

	result, err := h.surface.RequestUnblock(ip)
	if err != nil {
		h.writeControlError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   result.Message(),
		"unblocked": result.WasBlocked,
	})
}

type blockRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) BlockIP(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]

	var req blockRequest
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	result, err := h.surface.RequestBlock(ip, req.Reason)
	if err != nil {
		h.writeControlError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": result.Message(),
		"blocked": !result.AlreadyBlocked,
	})
}

func (h *Handlers) StartSniffing(w http.ResponseWriter, r *http.Request) {
	started, err := h.surface.StartCapture()
	if err != nil {
		h.writeControlError(w, err)
		return
	}

	message := "Packet sniffing started."
	if !started {
		message = "Packet sniffing already running."
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": message,
		"started": started,
	})
}

func (h *Handlers) StopSniffing(w http.ResponseWriter, r *http.Request) {
	stopped := h.surface.StopCapture()

	message := "Packet sniffing stopped."
	if !stopped {
		message = "Packet sniffing is not running."
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": message,
		"stopped": stopped,
	})
}

func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.surface.Status())
}

// writeControlError maps surface errors onto HTTP statuses.
func (h *Handlers) writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, control.ErrInvalidIP), errors.Is(err, enforcement.ErrInvalidSource):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, enforcement.ErrEnforcement):
		h.logger.Errorf("Enforcement failed: %v", err)
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, capture.ErrStartAborted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, capture.ErrCaptureSource):
		h.logger.Errorf("Capture failed to start: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		h.logger.Errorf("Request failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// Events handlers
func (h *Handlers) GetEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	events := h.store.GetEvents(limit, filterFromQuery(r))

	response := map[string]interface{}{
		"items": events,
		"total": len(events),
	}

	writeJSON(w, http.StatusOK, response)
}

func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	event := h.store.GetEventByID(id)
	if event == nil {
		writeError(w, http.StatusNotFound, "Event not found")
		return
	}

	writeJSON(w, http.StatusOK, event)
}

func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	h.logger.Infof("WebSocket event stream opened from %s", r.RemoteAddr)

	sub := &storage.EventSubscriber{
		ID:      generateID(),
		Channel: make(chan model.Event, 100),
		Filter:  filterFromQuery(r),
	}

	h.store.Subscribe(sub)
	defer h.store.Unsubscribe(sub)

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(map[string]string{"type": "connected", "message": "WebSocket connection established"}); err != nil {
		h.logger.Errorf("Failed to send initial message: %v", err)
		return
	}

	done := make(chan struct{})
	once := &sync.Once{}
	closeDone := func() {
		once.Do(func() {
			close(done)
		})
	}

	// Read messages (for pong and close detection)
	go func() {
		defer closeDone()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Send ping to keep connection alive
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub.Channel:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debugf("WebSocket write error: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				h.logger.Debugf("Ping failed: %v", err)
				return
			}
		case <-done:
			h.logger.Debugf("WebSocket event stream closed for %s", r.RemoteAddr)
			return
		}
	}
}

// Metrics handlers
func (h *Handlers) TrafficHistory(w http.ResponseWriter, r *http.Request) {
	if h.promClient == nil {
		writeError(w, http.StatusServiceUnavailable, "Prometheus is not configured")
		return
	}

	minutes, _ := strconv.Atoi(r.URL.Query().Get("minutes"))
	if minutes < 1 {
		minutes = 15
	}
	if minutes > 1440 {
		minutes = 1440
	}

	points, err := h.promClient.TrafficHistory(r.Context(), minutes, 15*time.Second, h.promTimeout)
	if err != nil {
		h.logger.Warnf("Traffic history query failed: %v", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":   metrics.TrafficRateQuery,
		"minutes": minutes,
		"points":  points,
	})
}

func filterFromQuery(r *http.Request) storage.EventFilter {
	q := r.URL.Query()
	return storage.EventFilter{
		Severity: q.Get("severity"),
		Type:     q.Get("type"),
		Source:   q.Get("source"),
	}
}

// Helper functions
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

func generateID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
