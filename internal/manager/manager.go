// Package manager owns toy lifecycle: the connection handler that reacts
// to the device layer, and the supervisor that runs one dispatcher per
// toy while listening.
package manager

import (
	"sync"

	"github.com/cbegin/hapticbridge-go/internal/toy"
)

// ToyMap is the live set of connected toys, shared between the connection
// handler and snapshot readers. The mutex is held only across map
// operations, never across blocking calls.
type ToyMap struct {
	mu   sync.Mutex
	toys map[uint32]*toy.Toy
}

func NewToyMap() *ToyMap {
	return &ToyMap{toys: make(map[uint32]*toy.Toy)}
}

func (m *ToyMap) Insert(t *toy.Toy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toys[t.ID] = t
}

// Remove deletes and returns the toy, or nil when unknown.
func (m *ToyMap) Remove(id uint32) *toy.Toy {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.toys[id]
	delete(m.toys, id)
	return t
}

func (m *ToyMap) Get(id uint32) *toy.Toy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.toys[id]
}

// CloneOf returns a deep copy of one toy, or nil when unknown.
func (m *ToyMap) CloneOf(id uint32) *toy.Toy {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.toys[id]; ok {
		return t.Clone()
	}
	return nil
}

func (m *ToyMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.toys)
}

// SetPower updates a live toy's power status.
func (m *ToyMap) SetPower(id uint32, p toy.Power) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.toys[id]; ok {
		t.Power = p
	}
}

// CountByName counts already-online toys with this name. Used as the
// sub_id for the next duplicate, so identical hardware stays tellable
// apart.
func (m *ToyMap) CountByName(name string) uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n uint8
	for _, t := range m.toys {
		if t.Name == name {
			n++
		}
	}
	return n
}

// Snapshot returns deep copies of every live toy.
func (m *ToyMap) Snapshot() []*toy.Toy {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*toy.Toy, 0, len(m.toys))
	for _, t := range m.toys {
		out = append(out, t.Clone())
	}
	return out
}

// ToySnapshot is the toy shape published to external observers.
type ToySnapshot struct {
	ID        uint32      `json:"toy_id"`
	Name      string      `json:"toy_name"`
	Anatomy   toy.Anatomy `json:"toy_anatomy"`
	Power     toy.Power   `json:"toy_power"`
	Connected bool        `json:"toy_connected"`
	Features  []toy.View  `json:"features"`
	Listening bool        `json:"listening"`
	OSCData   bool        `json:"osc_data"`
	SubID     uint8       `json:"sub_id"`
}

func SnapshotToy(t *toy.Toy) ToySnapshot {
	return ToySnapshot{
		ID:        t.ID,
		Name:      t.Name,
		Anatomy:   t.Anatomy,
		Power:     t.Power,
		Connected: t.Connected,
		Features:  t.Table.Views(),
		Listening: t.Listening,
		OSCData:   t.OSCData,
		SubID:     t.SubID,
	}
}

// Frontend is the publish-only sink for toy state changes. Implementations
// must not block.
type Frontend interface {
	ToyAdded(snap ToySnapshot)
	ToyRemoved(id uint32)
	ScanStarted()
	ScanFinished()
}

// Notifier raises optional desktop notifications.
type Notifier interface {
	Notify(title, body string)
}

// NopFrontend discards all frontend events.
type NopFrontend struct{}

func (NopFrontend) ToyAdded(ToySnapshot) {}
func (NopFrontend) ToyRemoved(uint32)    {}
func (NopFrontend) ScanStarted()         {}
func (NopFrontend) ScanFinished()        {}
