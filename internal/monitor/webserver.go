// Package monitor exposes the HTTP interface: health and status pages,
// the product configuration API, statistics, and debug charts.
package monitor

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/scanline-systems/zonewatch/internal/conn"
	"github.com/scanline-systems/zonewatch/internal/engine"
	"github.com/scanline-systems/zonewatch/internal/monitoring"
	"github.com/scanline-systems/zonewatch/internal/stats"
	"github.com/scanline-systems/zonewatch/internal/store"
	"github.com/scanline-systems/zonewatch/internal/zone"
)

//go:embed status.html
var statusHTML embed.FS

// Connection is the slice of the connection manager the web server
// drives.
type Connection interface {
	Connect()
	Disconnect()
	Status() conn.StatusSnapshot
}

// WebServer handles the HTTP interface for the evaluation engine.
type WebServer struct {
	address string
	engine  *engine.Engine
	store   store.Store
	conn    Connection
	server  *http.Server
	started time.Time
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Engine  *engine.Engine
	Store   store.Store
	Conn    Connection
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address: config.Address,
		engine:  config.Engine,
		store:   config.Store,
		conn:    config.Conn,
		started: time.Now(),
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}
	return ws
}

// Start begins the HTTP server in a goroutine and shuts it down when
// the context is cancelled.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		monitoring.Logf("starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			monitoring.Logf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	monitoring.Logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	return nil
}

// setupRoutes configures the HTTP routes and handlers.
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatusPage)
	mux.HandleFunc("/api/status", ws.handleStatus)
	mux.HandleFunc("/api/scan", ws.handleScan)
	mux.HandleFunc("/api/results", ws.handleResults)
	mux.HandleFunc("/api/products", ws.handleProducts)
	mux.HandleFunc("/api/products/active", ws.handleActiveProduct)
	mux.HandleFunc("/api/products/", ws.handleProductByID)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/stats/reset", ws.handleStatsReset)
	mux.HandleFunc("/api/connection", ws.handleConnection)
	mux.HandleFunc("/api/charts/passrate", ws.handlePassRateChart)

	return mux
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("encoding response: %v", err)
	}
}

// handleHealth handles the health check endpoint.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "zonewatch", "timestamp": "%s"}`, time.Now().UTC().Format(time.RFC3339))
}

// statusResponse is the /api/status document. The same data feeds the
// HTML status page.
type statusResponse struct {
	Connection conn.StatusSnapshot     `json:"connection"`
	Session    sessionBlock            `json:"session"`
	Statistics stats.Snapshot          `json:"statistics"`
	Active     *zone.ProductDefinition `json:"active_product,omitempty"`
	Sensor     json.RawMessage         `json:"sensor_status,omitempty"`
	Uptime     string                  `json:"uptime"`
}

type sessionBlock struct {
	MessageCount int64   `json:"message_count"`
	ByteCount    int64   `json:"byte_count"`
	ScanRate     int     `json:"scan_rate"`
	LatencyMs    float64 `json:"latency_ms,omitempty"`
	HasLatency   bool    `json:"has_latency"`
}

func (ws *WebServer) buildStatus() statusResponse {
	tel := ws.engine.Telemetry()
	resp := statusResponse{
		Connection: ws.conn.Status(),
		Session: sessionBlock{
			MessageCount: tel.MessageCount,
			ByteCount:    tel.ByteCount,
			ScanRate:     tel.ScanRate,
			HasLatency:   tel.HasLatency,
		},
		Statistics: ws.engine.Running(),
		Sensor:     ws.engine.LastStatus(),
		Uptime:     time.Since(ws.started).Round(time.Second).String(),
	}
	if tel.HasLatency {
		resp.Session.LatencyMs = float64(tel.Latency) / float64(time.Millisecond)
	}
	if p, ok := ws.engine.ActiveProduct(); ok {
		resp.Active = &p
	}
	return resp
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ws.writeJSON(w, ws.buildStatus())
}

// handleScan returns the latest reconstructed scan.
func (ws *WebServer) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s := ws.engine.LatestScan()
	if s == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no scan received yet")
		return
	}
	ws.writeJSON(w, s)
}

// handleResults returns the retained evaluation history, newest last.
func (ws *WebServer) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ws.writeJSON(w, ws.engine.History())
}

// handleProducts lists products (GET) or saves one wholesale (POST).
func (ws *WebServer) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		products, active, err := ws.store.LoadProducts()
		if err != nil {
			ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		ws.writeJSON(w, map[string]interface{}{
			"products":          products,
			"active_product_id": active,
		})
	case http.MethodPost:
		var p zone.ProductDefinition
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			ws.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decoding product: %v", err))
			return
		}
		if err := ws.store.SaveProduct(&p); err != nil {
			ws.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		// If the saved product is the active one, the engine picks up
		// the new definition from the next frame.
		if active, ok := ws.engine.ActiveProduct(); ok && active.ID == p.ID {
			ws.engine.SetActiveProduct(&p)
		}
		ws.writeJSON(w, p)
	default:
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleActiveProduct reads (GET) or replaces (PUT) the active product
// selection.
func (ws *WebServer) handleActiveProduct(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		p, ok := ws.engine.ActiveProduct()
		if !ok {
			ws.writeJSONError(w, http.StatusNotFound, "no active product")
			return
		}
		ws.writeJSON(w, p)
	case http.MethodPut:
		var req struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			ws.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decoding request: %v", err))
			return
		}
		if err := ws.store.SetActiveProduct(req.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("product %s not found", req.ID))
				return
			}
			ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if req.ID == "" {
			ws.engine.SetActiveProduct(nil)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		products, _, err := ws.store.LoadProducts()
		if err != nil {
			ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for i := range products {
			if products[i].ID == req.ID {
				ws.engine.SetActiveProduct(&products[i])
				ws.writeJSON(w, products[i])
				return
			}
		}
		ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("product %s not found", req.ID))
	default:
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleProductByID deletes a single product.
func (ws *WebServer) handleProductByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/products/")
	if id == "" || strings.Contains(id, "/") {
		ws.writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodDelete {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := ws.store.DeleteProduct(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("product %s not found", id))
			return
		}
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if active, ok := ws.engine.ActiveProduct(); ok && active.ID == id {
		ws.engine.SetActiveProduct(nil)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ws.writeJSON(w, ws.engine.Running())
}

func (ws *WebServer) handleStatsReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := ws.engine.ResetStatistics(); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ws.writeJSON(w, ws.engine.Running())
}

// handleConnection reports (GET) or drives (POST) the sensor
// connection. POST takes {"action": "connect"} or {"action":
// "disconnect"}.
func (ws *WebServer) handleConnection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ws.writeJSON(w, ws.conn.Status())
	case http.MethodPost:
		var req struct {
			Action string `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			ws.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decoding request: %v", err))
			return
		}
		switch req.Action {
		case "connect":
			ws.conn.Connect()
		case "disconnect":
			ws.conn.Disconnect()
		default:
			ws.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
			return
		}
		ws.writeJSON(w, ws.conn.Status())
	default:
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleStatusPage handles the main status page endpoint.
func (ws *WebServer) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")

	tmpl, err := template.ParseFS(statusHTML, "status.html")
	if err != nil {
		http.Error(w, "Error loading template: "+err.Error(), http.StatusInternalServerError)
		return
	}

	status := ws.buildStatus()
	activeName := "none"
	if status.Active != nil {
		activeName = status.Active.Name
	}
	latency := "n/a"
	if status.Session.HasLatency {
		latency = fmt.Sprintf("%.1f ms", status.Session.LatencyMs)
	}
	data := struct {
		HTTPAddress   string
		Uptime        string
		Connection    conn.StatusSnapshot
		Session       sessionBlock
		Latency       string
		ActiveProduct string
		Statistics    stats.Snapshot
		PassRate      string
	}{
		HTTPAddress:   ws.address,
		Uptime:        status.Uptime,
		Connection:    status.Connection,
		Session:       status.Session,
		Latency:       latency,
		ActiveProduct: activeName,
		Statistics:    status.Statistics,
		PassRate:      fmt.Sprintf("%.1f%%", status.Statistics.GoodRate*100),
	}

	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
	}
}
