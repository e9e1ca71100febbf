package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanline-systems/zonewatch/internal/conn"
	"github.com/scanline-systems/zonewatch/internal/engine"
	"github.com/scanline-systems/zonewatch/internal/scan"
	"github.com/scanline-systems/zonewatch/internal/stats"
	"github.com/scanline-systems/zonewatch/internal/store"
	"github.com/scanline-systems/zonewatch/internal/wire"
	"github.com/scanline-systems/zonewatch/internal/zone"
)

// memStore is an in-memory store.Store for handler tests.
type memStore struct {
	products map[string]zone.ProductDefinition
	order    []string
	active   string
	saved    stats.Snapshot
}

func newMemStore() *memStore {
	return &memStore{products: make(map[string]zone.ProductDefinition)}
}

func (m *memStore) LoadProducts() ([]zone.ProductDefinition, string, error) {
	out := make([]zone.ProductDefinition, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.products[id])
	}
	return out, m.active, nil
}

func (m *memStore) SaveProduct(p *zone.ProductDefinition) error {
	if p.ID == "" {
		p.ID = fmt.Sprintf("gen-%d", len(m.products)+1)
	}
	if err := zone.ValidateProduct(*p); err != nil {
		return err
	}
	if _, ok := m.products[p.ID]; !ok {
		m.order = append(m.order, p.ID)
	}
	m.products[p.ID] = *p
	return nil
}

func (m *memStore) DeleteProduct(id string) error {
	if _, ok := m.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.products, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.active == id {
		m.active = ""
	}
	return nil
}

func (m *memStore) SetActiveProduct(id string) error {
	if id == "" {
		m.active = ""
		return nil
	}
	if _, ok := m.products[id]; !ok {
		return store.ErrNotFound
	}
	m.active = id
	return nil
}

func (m *memStore) SaveStatistics(snap stats.Snapshot) error { m.saved = snap; return nil }
func (m *memStore) LoadStatistics() (stats.Snapshot, error)  { return m.saved, nil }
func (m *memStore) ResetStatistics() error                   { m.saved = stats.Snapshot{}; return nil }
func (m *memStore) Close() error                             { return nil }

var _ store.Store = (*memStore)(nil)

// fakeConn records Connect/Disconnect calls.
type fakeConn struct {
	connects    int
	disconnects int
	status      conn.StatusSnapshot
}

func (f *fakeConn) Connect()                    { f.connects++ }
func (f *fakeConn) Disconnect()                 { f.disconnects++ }
func (f *fakeConn) Status() conn.StatusSnapshot { return f.status }

func testProduct(id string) zone.ProductDefinition {
	return zone.ProductDefinition{
		ID:      id,
		Name:    "pallet",
		Enabled: true,
		Zones: []zone.ZoneDefinition{{
			ID:               "front",
			Name:             "front face",
			Enabled:          true,
			StartAngle:       -30,
			EndAngle:         30,
			Layers:           []int{1},
			ExpectedDistance: 2.0,
			TolerancePlus:    0.2,
			ToleranceMinus:   0.2,
			MaxValidDistance: 10,
			MinPoints:        3,
			UseMedian:        true,
		}},
	}
}

func feedScan(e *engine.Engine, scanNumber uint64) {
	distances := []float64{2.0, 2.0, 2.0, 2.0}
	angles := []float64{-10, -9, -8, -7}
	raw := &scan.RawFrame{
		Timestamp:  1700000000,
		ScanNumber: scanNumber,
		Config:     scan.DefaultScanConfig(),
		Layers:     map[int]scan.RawLayerFrame{1: {Distances: distances, Angles: angles}},
	}
	e.HandleMessage(wire.Message{Kind: wire.KindScan, Type: "scan", Scan: raw}, 200)
}

func newTestServer(t *testing.T) (*WebServer, *engine.Engine, *memStore, *fakeConn) {
	t.Helper()
	ms := newMemStore()
	e := engine.New(engine.Config{Store: ms})
	fc := &fakeConn{status: conn.StatusSnapshot{State: conn.StateDisconnected, StateName: "disconnected"}}
	ws := NewWebServer(WebServerConfig{Address: "127.0.0.1:0", Engine: e, Store: ms, Conn: fc})
	return ws, e, ms, fc
}

func do(ws *WebServer, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ws.setupRoutes().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	ws, _, _, _ := newTestServer(t)
	rec := do(ws, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status": "ok"`)
}

func TestStatusEndpoint(t *testing.T) {
	ws, e, _, _ := newTestServer(t)
	p := testProduct("p1")
	e.SetActiveProduct(&p)
	feedScan(e, 1)

	rec := do(ws, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Connection conn.StatusSnapshot `json:"connection"`
		Session    struct {
			MessageCount int64 `json:"message_count"`
			ScanRate     int   `json:"scan_rate"`
		} `json:"session"`
		Statistics stats.Snapshot          `json:"statistics"`
		Active     *zone.ProductDefinition `json:"active_product"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "disconnected", got.Connection.StateName)
	assert.Equal(t, int64(1), got.Session.MessageCount)
	assert.Equal(t, 1, got.Session.ScanRate)
	assert.Equal(t, int64(1), got.Statistics.EvaluationCount)
	require.NotNil(t, got.Active)
	assert.Equal(t, "p1", got.Active.ID)
}

func TestScanEndpoint(t *testing.T) {
	ws, e, _, _ := newTestServer(t)

	rec := do(ws, http.MethodGet, "/api/scan", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	feedScan(e, 3)
	rec = do(ws, http.MethodGet, "/api/scan", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got scan.Scan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, uint64(3), got.ScanNumber)
	assert.Len(t, got.Points, 4)
}

func TestProductsSaveAndList(t *testing.T) {
	ws, _, ms, _ := newTestServer(t)

	rec := do(ws, http.MethodPost, "/api/products", testProduct("p1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, ms.products, 1)

	rec = do(ws, http.MethodGet, "/api/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Products []zone.ProductDefinition `json:"products"`
		ActiveID string                   `json:"active_product_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Products, 1)
	assert.Equal(t, "p1", got.Products[0].ID)
	assert.Empty(t, got.ActiveID)
}

func TestProductsRejectInvalidDefinition(t *testing.T) {
	ws, _, ms, _ := newTestServer(t)

	p := testProduct("p1")
	p.Zones[0].StartAngle = 30
	p.Zones[0].EndAngle = -30
	rec := do(ws, http.MethodPost, "/api/products", p)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "wrap-around")
	assert.Empty(t, ms.products)
}

func TestSaveActiveProductUpdatesEngine(t *testing.T) {
	ws, e, _, _ := newTestServer(t)

	p := testProduct("p1")
	require.Equal(t, http.StatusOK, do(ws, http.MethodPost, "/api/products", p).Code)
	require.Equal(t, http.StatusOK, do(ws, http.MethodPut, "/api/products/active", map[string]string{"id": "p1"}).Code)

	// Saving a changed document for the active product replaces it in
	// the engine from the next frame.
	p.Name = "pallet rev2"
	require.Equal(t, http.StatusOK, do(ws, http.MethodPost, "/api/products", p).Code)

	active, ok := e.ActiveProduct()
	require.True(t, ok)
	assert.Equal(t, "pallet rev2", active.Name)
}

func TestActiveProductSelection(t *testing.T) {
	ws, e, ms, _ := newTestServer(t)

	rec := do(ws, http.MethodGet, "/api/products/active", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(ws, http.MethodPut, "/api/products/active", map[string]string{"id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusOK, do(ws, http.MethodPost, "/api/products", testProduct("p1")).Code)
	rec = do(ws, http.MethodPut, "/api/products/active", map[string]string{"id": "p1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p1", ms.active)
	_, ok := e.ActiveProduct()
	assert.True(t, ok)

	// Clearing the selection disables evaluation.
	rec = do(ws, http.MethodPut, "/api/products/active", map[string]string{"id": ""})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok = e.ActiveProduct()
	assert.False(t, ok)
}

func TestDeleteProduct(t *testing.T) {
	ws, e, ms, _ := newTestServer(t)

	require.Equal(t, http.StatusOK, do(ws, http.MethodPost, "/api/products", testProduct("p1")).Code)
	require.Equal(t, http.StatusOK, do(ws, http.MethodPut, "/api/products/active", map[string]string{"id": "p1"}).Code)

	rec := do(ws, http.MethodDelete, "/api/products/p1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, ms.products)
	_, ok := e.ActiveProduct()
	assert.False(t, ok, "deleting the active product disables evaluation")

	rec = do(ws, http.MethodDelete, "/api/products/p1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsEndpointAndReset(t *testing.T) {
	ws, e, _, _ := newTestServer(t)
	p := testProduct("p1")
	e.SetActiveProduct(&p)
	feedScan(e, 1)
	feedScan(e, 2)

	rec := do(ws, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap stats.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(2), snap.EvaluationCount)

	rec = do(ws, http.MethodPost, "/api/stats/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Zero(t, snap.EvaluationCount)
}

func TestConnectionControl(t *testing.T) {
	ws, _, _, fc := newTestServer(t)

	rec := do(ws, http.MethodPost, "/api/connection", map[string]string{"action": "connect"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fc.connects)

	rec = do(ws, http.MethodPost, "/api/connection", map[string]string{"action": "disconnect"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fc.disconnects)

	rec = do(ws, http.MethodPost, "/api/connection", map[string]string{"action": "reboot"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPassRateChart(t *testing.T) {
	ws, e, _, _ := newTestServer(t)

	rec := do(ws, http.MethodGet, "/api/charts/passrate", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	p := testProduct("p1")
	e.SetActiveProduct(&p)
	for n := uint64(1); n <= 5; n++ {
		feedScan(e, n)
	}

	rec = do(ws, http.MethodGet, "/api/charts/passrate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "echarts")
}

func TestStatusPageRenders(t *testing.T) {
	ws, e, _, _ := newTestServer(t)
	p := testProduct("p1")
	e.SetActiveProduct(&p)
	feedScan(e, 1)

	rec := do(ws, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "zonewatch"))
	assert.Contains(t, body, "pallet")
}

func TestResultsEndpoint(t *testing.T) {
	ws, e, _, _ := newTestServer(t)
	p := testProduct("p1")
	e.SetActiveProduct(&p)
	feedScan(e, 1)
	feedScan(e, 2)

	rec := do(ws, http.MethodGet, "/api/results", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var results []zone.EvaluationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 2)
	assert.Equal(t, uint64(1), results[0].ScanNumber)
	assert.Equal(t, uint64(2), results[1].ScanNumber)
}
