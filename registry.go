package quizhub

import (
	"sort"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// Participant is the registry's lightweight record of one live connection.
type Participant struct {
	ConnectedAt time.Time
	ID          ConnID
}

// ParticipantRegistry tracks every live connection by id. Its size is the
// broadcast "online count". Mutated only on connect and disconnect.
//
// ParticipantRegistry is safe for concurrent use.
type ParticipantRegistry struct {
	clock clockz.Clock
	byID  map[ConnID]Participant
	mu    sync.RWMutex
}

// NewParticipantRegistry creates an empty registry.
func NewParticipantRegistry() *ParticipantRegistry {
	return &ParticipantRegistry{
		byID: make(map[ConnID]Participant),
	}
}

// WithClock sets a custom clock for connect instants.
func (p *ParticipantRegistry) WithClock(clock clockz.Clock) *ParticipantRegistry {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = clock
	return p
}

// getClock returns the clock to use.
func (p *ParticipantRegistry) getClock() clockz.Clock {
	if p.clock == nil {
		return clockz.RealClock
	}
	return p.clock
}

// Add registers a connection, stamping its connect instant. Re-adding an
// existing id refreshes the record.
func (p *ParticipantRegistry) Add(id ConnID) Participant {
	part := Participant{ID: id, ConnectedAt: p.getClock().Now()}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID[id] = part
	return part
}

// Remove deletes a connection. Reports whether the id was present.
func (p *ParticipantRegistry) Remove(id ConnID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byID[id]
	delete(p.byID, id)
	return ok
}

// Has reports whether id is currently registered.
func (p *ParticipantRegistry) Has(id ConnID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byID[id]
	return ok
}

// Count returns the number of live connections.
func (p *ParticipantRegistry) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byID)
}

// All returns every registered participant, ordered by connect instant then id.
func (p *ParticipantRegistry) All() []Participant {
	p.mu.RLock()
	out := make([]Participant, 0, len(p.byID))
	for _, part := range p.byID {
		out = append(out, part)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
