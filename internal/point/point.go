// Package point defines the canonical value record exchanged between the
// field-side adapters, the latest-value store and the IEC 104 server.
package point

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/riclolsen/go-iecp5/asdu"
)

// Key identifies a point by its IEC 104 addressing. Two points with the
// same (common address, IOA) pair are the same entity regardless of their
// source-side identity.
type Key uint64

// NewKey packs a common address and an IOA into a Key.
func NewKey(ca uint16, ioa uint32) Key {
	return Key(uint64(ca)<<32 | uint64(ioa))
}

// Point is one addressable telemetry sample. The exported fields are fixed
// at construction; the payload is reached through Value/SetValue so that
// every write refreshes the gateway-local update time.
type Point struct {
	// Source-side identity, diagnostics only.
	ID             string
	SourceProtocol string
	SourceAddress  string

	// IEC 104 addressing. IOA must be in [1, 2^24-1] and unique within
	// the common address.
	IOA           uint32
	CommonAddress uint16

	// Type selects the emitted ASDU type identifier and therefore the
	// payload encoding.
	Type asdu.TypeID

	// Valid maps to the IV quality bit at encode time (false => IV set).
	Valid bool

	// Timestamp is the source event time in Unix milliseconds, UTC.
	// Zero means no source time; the encoder substitutes gateway time.
	Timestamp int64

	Description string
	Metadata    map[string]string

	value       Value
	lastUpdated atomic.Int64
}

// New builds a point with the full addressing, payload and quality fixed.
func New(ioa uint32, ca uint16, typ asdu.TypeID, v Value, timestamp int64, valid bool) *Point {
	p := &Point{
		IOA:           ioa,
		CommonAddress: ca,
		Type:          typ,
		Valid:         valid,
		Timestamp:     timestamp,
		value:         v,
	}
	p.lastUpdated.Store(time.Now().UnixMilli())
	return p
}

// Value returns the current payload.
func (p *Point) Value() Value { return p.value }

// SetValue replaces the payload and refreshes the gateway-local update
// time. This is the only payload mutator.
func (p *Point) SetValue(v Value) {
	p.value = v
	p.lastUpdated.Store(time.Now().UnixMilli())
}

// Touch refreshes the gateway-local update time without changing the
// payload. The store calls this on every write so LastUpdated is
// non-decreasing per IOA as observed from the write path.
func (p *Point) Touch() {
	p.lastUpdated.Store(time.Now().UnixMilli())
}

// LastUpdated is the gateway wall-clock in Unix milliseconds at which the
// payload was last written.
func (p *Point) LastUpdated() int64 { return p.lastUpdated.Load() }

// Age is the time elapsed since the last write.
func (p *Point) Age() time.Duration {
	return time.Duration(time.Now().UnixMilli()-p.lastUpdated.Load()) * time.Millisecond
}

// IsStale reports whether the point has not been written for maxAge.
func (p *Point) IsStale(maxAge time.Duration) bool {
	return p.Age() > maxAge
}

// Key returns the (common address, IOA) identity of the point.
func (p *Point) Key() Key { return NewKey(p.CommonAddress, p.IOA) }

// Equal compares identity only: two points are equal when their common
// address and IOA match, regardless of payload or source fields.
func (p *Point) Equal(o *Point) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.IOA == o.IOA && p.CommonAddress == o.CommonAddress
}

// AddMetadata attaches a free-form diagnostic entry.
func (p *Point) AddMetadata(key, value string) {
	if p.Metadata == nil {
		p.Metadata = make(map[string]string)
	}
	p.Metadata[key] = value
}

func (p *Point) String() string {
	return fmt.Sprintf("Point[id=%s, ioa=%d, ca=%d, type=%s, value=%s, valid=%t, protocol=%s]",
		p.ID, p.IOA, p.CommonAddress, p.Type, p.value, p.Valid, p.SourceProtocol)
}
