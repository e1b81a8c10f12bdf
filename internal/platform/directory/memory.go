package directory

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryDirectory is a thread-safe Directory backed by maps. It serves
// tests and development mode where no registry database is available.
type InMemoryDirectory struct {
	mu          sync.RWMutex
	patients    map[uuid.UUID]*Patient
	providers   map[uuid.UUID]*Provider
	specialists map[uuid.UUID]*Specialist
	encounters  map[uuid.UUID]*Encounter
}

func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{
		patients:    make(map[uuid.UUID]*Patient),
		providers:   make(map[uuid.UUID]*Provider),
		specialists: make(map[uuid.UUID]*Specialist),
		encounters:  make(map[uuid.UUID]*Encounter),
	}
}

func (d *InMemoryDirectory) AddPatient(p *Patient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patients[p.ID] = p
}

func (d *InMemoryDirectory) AddProvider(p *Provider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.providers[p.ID] = p
}

func (d *InMemoryDirectory) AddSpecialist(s *Specialist) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.specialists[s.ID] = s
}

func (d *InMemoryDirectory) AddEncounter(e *Encounter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.encounters[e.ID] = e
}

func (d *InMemoryDirectory) Patient(_ context.Context, id uuid.UUID) (*Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.patients[id], nil
}

func (d *InMemoryDirectory) Provider(_ context.Context, id uuid.UUID) (*Provider, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.providers[id], nil
}

func (d *InMemoryDirectory) Specialist(_ context.Context, id uuid.UUID) (*Specialist, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.specialists[id], nil
}

func (d *InMemoryDirectory) Encounter(_ context.Context, id uuid.UUID) (*Encounter, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.encounters[id], nil
}
