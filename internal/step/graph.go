package step

import (
	"fmt"
	"sort"
	"sync"
)

// Graph stores steps by ID. Producer references inside Inputs are resolved
// through Lookup, so steps can be built and tested independently.
type Graph struct {
	mu    sync.RWMutex
	steps map[ID]Step
	order []ID
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{steps: map[ID]Step{}}
}

// Add installs a step. Returns an error if the ID is empty or already present.
func (g *Graph) Add(s Step) error {
	if s == nil {
		return fmt.Errorf("step: nil step")
	}
	id := s.ID()
	if id == "" {
		return fmt.Errorf("step: id is required")
	}
	if v, ok := s.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.steps[id]; exists {
		return fmt.Errorf("step: %s already registered", id)
	}
	g.steps[id] = s
	g.order = append(g.order, id)
	return nil
}

// MustAdd panics if Add fails.
func (g *Graph) MustAdd(steps ...Step) {
	for _, s := range steps {
		if err := g.Add(s); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the step registered under id.
func (g *Graph) Lookup(id ID) (Step, error) {
	g.mu.RLock()
	s, ok := g.steps[id]
	g.mu.RUnlock()
	if !ok {
		return nil, &UnknownStepError{Step: id}
	}
	return s, nil
}

// IDs returns step identifiers in insertion order.
func (g *Graph) IDs() []ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]ID{}, g.order...)
}

// Terminals returns the steps no other step names as a producer, in
// insertion order.
func (g *Graph) Terminals() []ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	referenced := map[ID]struct{}{}
	for _, s := range g.steps {
		for _, in := range s.Inputs() {
			if in.HasProducer() {
				referenced[in.Producer] = struct{}{}
			}
		}
	}
	var out []ID
	for _, id := range g.order {
		if _, ok := referenced[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// Dependents returns the sorted IDs of steps that name id as a producer.
func (g *Graph) Dependents(id ID) []ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []ID
	for sid, s := range g.steps {
		for _, in := range s.Inputs() {
			if in.Producer == id {
				out = append(out, sid)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
