// Package store defines the persistence boundary for product
// definitions and running statistics. Implementations live in
// subpackages; the engine and monitor depend only on this interface.
package store

import (
	"errors"

	"github.com/scanline-systems/zonewatch/internal/stats"
	"github.com/scanline-systems/zonewatch/internal/zone"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("store: not found")

// Store persists product definitions and the durable copy of the
// running statistics. Products are replaced wholesale on save; there is
// no partial zone update.
type Store interface {
	// LoadProducts returns every stored product plus the id of the
	// active product ("" when none is selected).
	LoadProducts() ([]zone.ProductDefinition, string, error)

	// SaveProduct validates and upserts a product. A product with an
	// empty ID is assigned one.
	SaveProduct(p *zone.ProductDefinition) error

	// DeleteProduct removes a product. Deleting the active product
	// clears the active selection.
	DeleteProduct(id string) error

	// SetActiveProduct marks the given product as active. An empty id
	// clears the selection.
	SetActiveProduct(id string) error

	// SaveStatistics writes the durable copy of the running counters.
	SaveStatistics(snap stats.Snapshot) error

	// LoadStatistics reads the persisted counters; a zero snapshot is
	// returned when none have been saved.
	LoadStatistics() (stats.Snapshot, error)

	// ResetStatistics clears the persisted counters.
	ResetStatistics() error

	// Close releases the underlying resources.
	Close() error
}
