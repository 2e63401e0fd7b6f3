package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"FlowScope/internal/broadcast"
	"FlowScope/internal/model"
	"FlowScope/internal/state"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	liveTopN       = 50
	defaultHistory = 100
)

// Counters exposes the diagnostic counters the stats endpoint reports
// alongside the live totals.
type Counters struct {
	RingDrops     func() uint64
	DecodeErrors  func() uint64
	WriteFailures func() uint64
	Degraded      func() bool
}

// Handler serves the read-only query surface over the live flow table and
// the durable store. It performs no mutation of either.
type Handler struct {
	state     *state.Store
	store     model.Store
	stream    *broadcast.Broadcaster
	metrics   http.Handler
	counters  Counters
	startTime time.Time
	upgrader  websocket.Upgrader
}

// NewHandler creates the API handler. store may be nil when the agent runs
// without persistence; history queries then report 503.
func NewHandler(st *state.Store, store model.Store, stream *broadcast.Broadcaster, metrics http.Handler, counters Counters) *Handler {
	return &Handler{
		state:     st,
		store:     store,
		stream:    stream,
		metrics:   metrics,
		counters:  counters,
		startTime: time.Now(),
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Router wires the routes, with the allowlist middleware applied when the
// list is non-empty.
func (h *Handler) Router(allowlist *Allowlist) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/live", h.liveHandler).Methods("GET")
	r.HandleFunc("/api/history", h.historyHandler).Methods("GET")
	r.HandleFunc("/api/health", h.healthHandler).Methods("GET")
	r.HandleFunc("/api/stats", h.statsHandler).Methods("GET")
	r.HandleFunc("/api/stream", h.streamHandler).Methods("GET")
	r.Handle("/metrics", h.metrics).Methods("GET")

	if allowlist != nil {
		r.Use(allowlist.Middleware)
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func (h *Handler) liveHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state.TopN(liveTopN))
}

func (h *Handler) historyHandler(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "persistence disabled", http.StatusServiceUnavailable)
		return
	}
	limit := defaultHistory
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if limit > model.HistoryLimit {
		limit = model.HistoryLimit
	}

	records, err := h.store.RecentRecords(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.PersistedRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"active_flows":  h.state.ActiveFlows(),
		"total_packets": h.state.TotalPackets(),
		"degraded":      h.counters.Degraded(),
	})
}

func (h *Handler) statsHandler(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	totalPackets := h.state.TotalPackets()
	totalBytes := h.state.TotalBytes()

	var pps, bps float64
	if secs := uptime.Seconds(); secs > 0 {
		pps = float64(totalPackets) / secs
		bps = float64(totalBytes) / secs
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds":     uint64(uptime.Seconds()),
		"total_packets":      totalPackets,
		"total_bytes":        totalBytes,
		"active_flows":       h.state.ActiveFlows(),
		"packets_per_second": pps,
		"bytes_per_second":   bps,
		"ring_drops":         h.counters.RingDrops(),
		"decode_errors":      h.counters.DecodeErrors(),
		"write_failures":     h.counters.WriteFailures(),
	})
}

// streamHandler upgrades to a websocket and pushes one snapshot frame per
// broadcast tick until the client goes away.
func (h *Handler) streamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade stream connection: %v", err)
		return
	}
	defer conn.Close()

	frames, cancel := h.stream.Subscribe()
	defer cancel()

	for snap := range frames {
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
	}
}
