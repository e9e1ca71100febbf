package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanline-systems/zonewatch/internal/stats"
	"github.com/scanline-systems/zonewatch/internal/store"
	"github.com/scanline-systems/zonewatch/internal/zone"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "zonewatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testProduct(id string) *zone.ProductDefinition {
	return &zone.ProductDefinition{
		ID:      id,
		Name:    "euro pallet",
		Enabled: true,
		Zones: []zone.ZoneDefinition{{
			ID:               "left-edge",
			Name:             "left edge",
			Enabled:          true,
			StartAngle:       -30,
			EndAngle:         -10,
			Layers:           []int{1, 2},
			ExpectedDistance: 2.5,
			TolerancePlus:    0.1,
			ToleranceMinus:   0.1,
			MinValidDistance: 0.5,
			MaxValidDistance: 10,
			MinPoints:        5,
			UseMedian:        true,
		}},
	}
}

func TestSaveAndLoadProducts(t *testing.T) {
	s := openTestStore(t)

	p := testProduct("p1")
	require.NoError(t, s.SaveProduct(p))

	products, active, err := s.LoadProducts()
	require.NoError(t, err)
	assert.Empty(t, active)
	require.Len(t, products, 1)
	assert.Equal(t, *p, products[0])
}

func TestSaveProductAssignsID(t *testing.T) {
	s := openTestStore(t)

	p := testProduct("")
	require.NoError(t, s.SaveProduct(p))
	assert.NotEmpty(t, p.ID)

	products, _, err := s.LoadProducts()
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, p.ID, products[0].ID)
}

func TestSaveProductRejectsInvalidDefinition(t *testing.T) {
	s := openTestStore(t)

	p := testProduct("p1")
	p.Zones[0].StartAngle = 40
	p.Zones[0].EndAngle = -40
	err := s.SaveProduct(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrap-around")

	products, _, loadErr := s.LoadProducts()
	require.NoError(t, loadErr)
	assert.Empty(t, products)
}

func TestSaveProductReplacesWholeDocument(t *testing.T) {
	s := openTestStore(t)

	p := testProduct("p1")
	second := zone.ZoneDefinition{
		ID: "right-edge", Name: "right edge", Enabled: true,
		StartAngle: 10, EndAngle: 30, Layers: []int{1},
		ExpectedDistance: 2.5, TolerancePlus: 0.1, ToleranceMinus: 0.1,
		MaxValidDistance: 10, MinPoints: 5,
	}
	p.Zones = append(p.Zones, second)
	require.NoError(t, s.SaveProduct(p))

	// Saving again with one zone removed must drop it from storage.
	p.Zones = p.Zones[:1]
	p.Name = "euro pallet rev2"
	require.NoError(t, s.SaveProduct(p))

	products, _, err := s.LoadProducts()
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "euro pallet rev2", products[0].Name)
	require.Len(t, products[0].Zones, 1)
	assert.Equal(t, "left-edge", products[0].Zones[0].ID)
}

func TestActiveProductSelection(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveProduct(testProduct("p1")))

	assert.ErrorIs(t, s.SetActiveProduct("missing"), store.ErrNotFound)

	require.NoError(t, s.SetActiveProduct("p1"))
	_, active, err := s.LoadProducts()
	require.NoError(t, err)
	assert.Equal(t, "p1", active)

	require.NoError(t, s.SetActiveProduct(""))
	_, active, err = s.LoadProducts()
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestDeleteProduct(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveProduct(testProduct("p1")))
	require.NoError(t, s.SetActiveProduct("p1"))

	require.NoError(t, s.DeleteProduct("p1"))

	products, active, err := s.LoadProducts()
	require.NoError(t, err)
	assert.Empty(t, products)
	assert.Empty(t, active, "deleting the active product clears the selection")

	assert.ErrorIs(t, s.DeleteProduct("p1"), store.ErrNotFound)
}

func TestStatisticsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	// Nothing saved yet: zero snapshot, no error.
	snap, err := s.LoadStatistics()
	require.NoError(t, err)
	assert.Zero(t, snap.EvaluationCount)

	since := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveStatistics(stats.Snapshot{
		EvaluationCount: 200,
		GoodCount:       150,
		BadCount:        40,
		Since:           since,
	}))

	snap, err = s.LoadStatistics()
	require.NoError(t, err)
	assert.Equal(t, int64(200), snap.EvaluationCount)
	assert.Equal(t, int64(150), snap.GoodCount)
	assert.Equal(t, int64(40), snap.BadCount)
	assert.InDelta(t, 0.75, snap.GoodRate, 1e-9)
	assert.True(t, snap.Since.Equal(since))

	require.NoError(t, s.ResetStatistics())
	snap, err = s.LoadStatistics()
	require.NoError(t, err)
	assert.Zero(t, snap.EvaluationCount)
	assert.Zero(t, snap.GoodRate)
}

func TestOpenIsIdempotentAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zonewatch.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveProduct(testProduct("p1")))
	require.NoError(t, s.Close())

	// Reopening runs migrations again; they must be a no-op and the
	// data must survive.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	products, _, err := s.LoadProducts()
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "p1", products[0].ID)
}
