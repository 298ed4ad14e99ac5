// Package registry keeps track of the live components started by a test cluster.
//
// Launchers never hand out pointers to running servers. Instead they register the server here and
// return a handle carrying its ID; stopping a component means looking it up by ID and removing it.
// This keeps ownership in one place and lets tests assert that nothing is left running.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/G-Research/testcluster/pkg/clustererrors"
)

type ID uint64

type Kind string

const (
	KindCoordination Kind = "coordination"
	KindBroker       Kind = "broker"
	KindGateway      Kind = "gateway"
)

// Entry describes one live component.
type Entry struct {
	ID   ID
	Kind Kind
	Name string
}

type record struct {
	Entry
	value interface{}
}

type Registry struct {
	mu      sync.Mutex
	lastID  ID
	records map[ID]record
}

func New() *Registry {
	return &Registry{records: map[ID]record{}}
}

// Register stores value and returns the ID that identifies it from now on.
func (r *Registry) Register(kind Kind, name string, value interface{}) ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastID++
	r.records[r.lastID] = record{
		Entry: Entry{ID: r.lastID, Kind: kind, Name: name},
		value: value,
	}
	return r.lastID
}

// Remove drops the component with the given ID and returns it.
func (r *Registry) Remove(id ID) (interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if ok {
		delete(r.records, id)
	}
	return rec.value, ok
}

func (r *Registry) lookup(id ID) (record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok
}

// Live returns the components that are still registered, in registration order.
func (r *Registry) Live() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]Entry, 0, len(r.records))
	for _, rec := range r.records {
		entries = append(entries, rec.Entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// LiveOfKind returns the registered components of one kind, in registration order.
func (r *Registry) LiveOfKind(kind Kind) []Entry {
	var entries []Entry
	for _, e := range r.Live() {
		if e.Kind == kind {
			entries = append(entries, e)
		}
	}
	return entries
}

// Get returns the component registered under id, typed as T.
func Get[T any](r *Registry, id ID) (T, error) {
	var zero T
	rec, ok := r.lookup(id)
	if !ok {
		return zero, errors.WithStack(&clustererrors.ErrNotFound{Type: "component", Value: fmt.Sprint(id)})
	}
	value, ok := rec.value.(T)
	if !ok {
		return zero, errors.Errorf("component %d (%s) has unexpected type %T", id, rec.Name, rec.value)
	}
	return value, nil
}

// Take removes the component registered under id and returns it typed as T.
func Take[T any](r *Registry, id ID) (T, error) {
	value, err := Get[T](r, id)
	if err != nil {
		return value, err
	}
	r.Remove(id)
	return value, nil
}
