package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/rjboer/GoBode/internal/logging"
	"github.com/rjboer/GoBode/internal/report"
)

// Config is the runtime configuration exposed by the hub. It is guarded by
// the hub's RWMutex.
type Config struct {
	HistoryLimit     int `json:"historyLimit"`
	SubscriberBuffer int `json:"subscriberBuffer"`
}

const (
	minHistoryLimit     = 1
	maxHistoryLimit     = 10_000
	minSubscriberBuffer = 1
	maxSubscriberBuffer = 1024
)

func defaultConfig() Config {
	return Config{
		HistoryLimit:     1000,
		SubscriberBuffer: 16,
	}
}

func validateConfig(cfg Config, base Config) (Config, error) {
	if base.HistoryLimit == 0 || base.SubscriberBuffer == 0 {
		base = defaultConfig()
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = base.HistoryLimit
	}
	if cfg.SubscriberBuffer == 0 {
		cfg.SubscriberBuffer = base.SubscriberBuffer
	}
	if cfg.HistoryLimit < minHistoryLimit || cfg.HistoryLimit > maxHistoryLimit {
		return Config{}, fmt.Errorf("history limit must be between %d and %d", minHistoryLimit, maxHistoryLimit)
	}
	if cfg.SubscriberBuffer < minSubscriberBuffer || cfg.SubscriberBuffer > maxSubscriberBuffer {
		return Config{}, fmt.Errorf("subscriber buffer must be between %d and %d", minSubscriberBuffer, maxSubscriberBuffer)
	}
	return cfg, nil
}

// Diagnostics summarises the process and sweep progress.
type Diagnostics struct {
	Process  ProcessInfo `json:"process"`
	Points   int         `json:"points"`
	Progress float64     `json:"progress"`
	Last     *Point      `json:"last,omitempty"`
}

// ProcessInfo holds runtime statistics.
type ProcessInfo struct {
	Uptime       time.Duration `json:"uptime"`
	NumGoroutine int           `json:"numGoroutine"`
	HeapAlloc    uint64        `json:"heapAlloc"`
}

// HealthStatus reports whether the sweep has produced data yet.
type HealthStatus struct {
	Status  string      `json:"status"`
	Process ProcessInfo `json:"process"`
}

// Hub collects history and fans out sweep points to subscribers.
type Hub struct {
	mu          sync.RWMutex
	history     []Point
	subscribers map[chan Point]struct{}
	config      Config
	started     time.Time
	logger      logging.Logger
}

// NewHub builds a telemetry hub with the provided history limit.
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	cfg := defaultConfig()
	if historyLimit > 0 {
		cfg.HistoryLimit = historyLimit
	}
	cfg, err := validateConfig(cfg, defaultConfig())
	if err != nil {
		cfg = defaultConfig()
	}
	return &Hub{
		subscribers: make(map[chan Point]struct{}),
		config:      cfg,
		started:     time.Now(),
		logger:      logging.OrDefault(logger).With(logging.Subsystem("telemetry")),
	}
}

// ReportPoint implements Reporter and records a new sweep point.
func (h *Hub) ReportPoint(p Point) {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	h.mu.Lock()
	h.history = append(h.history, p)
	if len(h.history) > h.config.HistoryLimit {
		h.history = h.history[len(h.history)-h.config.HistoryLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- p:
		default:
			h.logger.Debug("subscriber behind, point dropped", logging.Field{Key: "index", Value: p.Index})
		}
	}
	h.mu.Unlock()
}

// Reset clears the history before a new sweep.
func (h *Hub) Reset() {
	h.mu.Lock()
	h.history = nil
	h.mu.Unlock()
}

// History returns a copy of stored points.
func (h *Hub) History() []Point {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Point, len(h.history))
	copy(out, h.history)
	return out
}

// ConfigSnapshot returns the latest validated configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Subscribe registers a listener for live updates.
func (h *Hub) Subscribe() (chan Point, func()) {
	h.mu.Lock()
	ch := make(chan Point, h.config.SubscriberBuffer)
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

func (h *Hub) applyConfig(cfg Config) {
	h.config = cfg
	if len(h.history) > cfg.HistoryLimit {
		h.history = h.history[len(h.history)-cfg.HistoryLimit:]
	}
}

func (h *Hub) processInfo() ProcessInfo {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return ProcessInfo{
		Uptime:       time.Since(h.started),
		NumGoroutine: runtime.NumGoroutine(),
		HeapAlloc:    mem.HeapAlloc,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Hub) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.History())
}

func (h *Hub) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.ConfigSnapshot())
}

func (h *Hub) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var incoming Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
		return
	}

	h.mu.RLock()
	current := h.config
	h.mu.RUnlock()

	cfg, err := validateConfig(incoming, current)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	h.applyConfig(cfg)
	h.mu.Unlock()

	writeJSON(w, cfg)
}

func (h *Hub) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	history := h.History()
	d := Diagnostics{Process: h.processInfo(), Points: len(history)}
	if n := len(history); n > 0 {
		last := history[n-1]
		d.Last = &last
		if last.Total > 0 {
			d.Progress = float64(last.Index+1) / float64(last.Total)
		}
	}
	writeJSON(w, d)
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := "waiting"
	h.mu.RLock()
	if len(h.history) > 0 {
		status = "ok"
	}
	h.mu.RUnlock()
	writeJSON(w, HealthStatus{Status: status, Process: h.processInfo()})
}

// handleChart renders the history as an interactive Bode chart.
func (h *Hub) handleChart(w http.ResponseWriter, _ *http.Request) {
	history := h.History()
	var rows [3][]float64
	for _, p := range history {
		rows[0] = append(rows[0], p.FrequencyHz)
		rows[1] = append(rows[1], p.GainDB)
		rows[2] = append(rows[2], p.PhaseDeg)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.WriteHTML(w, "Live frequency response", rows); err != nil {
		h.logger.Warn("render live chart", logging.Err(err))
	}
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	// send existing history for immediate display
	for _, p := range h.History() {
		writeEvent(w, p)
	}
	flusher.Flush()

	for {
		select {
		case p, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, p)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, p Point) {
	payload, _ := json.Marshal(p)
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}
