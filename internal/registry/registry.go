// Package registry maps program names to executable units and their
// config templates.
//
// Registration is a startup-time step producing a typed map — there
// is no runtime type inspection. Discovery of programs on disk is a
// collaborator's concern; embedders register programs explicitly.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ashita-ai/enso/internal/model"
	"github.com/ashita-ai/enso/internal/runctx"
)

// Program is a user-supplied unit of computation invoked per request.
// A program implements exactly one of ContextProgram or
// BlockingProgram; the dispatcher picks the execution path from the
// interface it satisfies.
type Program interface {
	Name() string
}

// ContextProgram is a suspension-capable routine: it honors ctx and
// runs directly on the request goroutine, so no bridge worker is
// spent on it.
type ContextProgram interface {
	Program
	Forward(ctx context.Context, rc *runctx.Context, inputs map[string]any) (map[string]any, error)
}

// BlockingProgram is a pre-existing blocking routine. The dispatcher
// runs it through the sync bridge so the request goroutine stays
// responsive to cancellation.
type BlockingProgram interface {
	Program
	ForwardBlocking(rc *runctx.Context, inputs map[string]any) (map[string]any, error)
}

// ConfigTemplate is a program's immutable model configuration. Owned
// by the registry, read-only after registration; per-request mutable
// state is always a clone, never the template itself.
type ConfigTemplate struct {
	Model  string
	Params map[string]any
}

// CloneForRequest deep-copies the template's mutable fields into a
// fresh run context bound to the request's event emitter. The clone
// shares no mutable state with the template or any other request.
func (t ConfigTemplate) CloneForRequest(requestID uuid.UUID, program string, emitter runctx.Emitter) *runctx.Context {
	return runctx.New(requestID, program, t.Model, t.Params, emitter)
}

// Info describes one registered program for listings.
type Info struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Kind  string `json:"kind"` // "context" or "blocking"
}

type registration struct {
	program  Program
	template ConfigTemplate
}

// Registry is the typed name → (program, template) map.
type Registry struct {
	mu       sync.RWMutex
	programs map[string]registration
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{programs: make(map[string]registration)}
}

// Register adds a program. Duplicate names and programs implementing
// neither (or both) execution interfaces are rejected.
func (r *Registry) Register(p Program, tmpl ConfigTemplate) error {
	name := p.Name()
	if name == "" {
		return fmt.Errorf("registry: program has empty name")
	}
	_, isCtx := p.(ContextProgram)
	_, isBlocking := p.(BlockingProgram)
	if isCtx == isBlocking {
		return fmt.Errorf("registry: program %q must implement exactly one of ContextProgram or BlockingProgram", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.programs[name]; exists {
		return fmt.Errorf("registry: duplicate program name %q", name)
	}
	r.programs[name] = registration{program: p, template: tmpl}
	return nil
}

// Resolve returns the program and template for name, or
// model.ErrNotFound.
func (r *Registry) Resolve(name string) (Program, ConfigTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.programs[name]
	if !ok {
		return nil, ConfigTemplate{}, fmt.Errorf("registry: program %q: %w", name, model.ErrNotFound)
	}
	return reg.program, reg.template, nil
}

// List returns all registered programs sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.programs))
	for name, reg := range r.programs {
		kind := "blocking"
		if _, ok := reg.program.(ContextProgram); ok {
			kind = "context"
		}
		out = append(out, Info{Name: name, Model: reg.template.Model, Kind: kind})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered programs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.programs)
}
