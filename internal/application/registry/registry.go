// Package registry holds the published workflow definitions of one engine.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/domain/workflow"
)

// Summary describes one published version
type Summary struct {
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
	States      int    `json:"states"`
	Transitions int    `json:"transitions"`
}

type entry struct {
	def    *workflow.Definition
	active bool
}

// Registry is an explicitly constructed, version-pinned catalog of
// definitions. Published versions are never edited; a change is a new version.
type Registry struct {
	mu     sync.RWMutex
	byName map[string][]*entry
	logger *zap.Logger
}

// New creates an empty registry
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byName: make(map[string][]*entry),
		logger: logger,
	}
}

// Publish validates def and stores a copy as an active version
func (r *Registry) Publish(def *workflow.Definition) error {
	if err := workflow.Validate(def); err != nil {
		r.logger.Warn("Rejected workflow definition", zap.Error(err))
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.byName[def.Name] {
		if e.def.Version == def.Version {
			return &workflow.ConfigError{
				Workflow: def.Name,
				Version:  def.Version,
				Problems: []string{"version already published"},
			}
		}
	}

	versions := append(r.byName[def.Name], &entry{def: freeze(def), active: true})
	sort.Slice(versions, func(i, j int) bool { return versions[i].def.Version < versions[j].def.Version })
	r.byName[def.Name] = versions

	r.logger.Info("Published workflow",
		zap.String("workflow", def.Name),
		zap.Int("version", def.Version),
		zap.Int("states", len(def.States)),
		zap.Int("routing_rules", len(def.RoutingRules)))
	return nil
}

// Get returns the definition for (name, version). Version 0 selects the
// latest active version; explicit versions resolve even when retired.
func (r *Registry) Get(name string, version int) (*workflow.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.byName[name]
	if version == 0 {
		for i := len(versions) - 1; i >= 0; i-- {
			if versions[i].active {
				return versions[i].def, nil
			}
		}
		return nil, fmt.Errorf("%w: no active version of workflow %q", workflow.ErrNotFound, name)
	}

	for _, e := range versions {
		if e.def.Version == version {
			return e.def, nil
		}
	}
	return nil, fmt.Errorf("%w: workflow %q version %d", workflow.ErrNotFound, name, version)
}

// Retire stops version from being selected as latest
func (r *Registry) Retire(name string, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.byName[name] {
		if e.def.Version == version {
			e.active = false
			r.logger.Info("Retired workflow", zap.String("workflow", name), zap.Int("version", version))
			return nil
		}
	}
	return fmt.Errorf("%w: workflow %q version %d", workflow.ErrNotFound, name, version)
}

// List returns a summary of every published version, sorted by name then version
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.byName))
	for _, versions := range r.byName {
		for _, e := range versions {
			out = append(out, Summary{
				Name:        e.def.Name,
				Version:     e.def.Version,
				Description: e.def.Description,
				Active:      e.active,
				States:      len(e.def.States),
				Transitions: len(e.def.Transitions),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// Definitions returns every published version, retired ones included, since
// running instances stay pinned to the version they started on
func (r *Registry) Definitions() []*workflow.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*workflow.Definition
	for _, versions := range r.byName {
		for _, e := range versions {
			out = append(out, e.def)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// freeze copies the slices a caller could still mutate after publishing
func freeze(def *workflow.Definition) *workflow.Definition {
	cp := *def
	cp.States = append([]workflow.State(nil), def.States...)
	cp.Transitions = append([]workflow.Transition(nil), def.Transitions...)
	cp.RoutingRules = append([]workflow.RoutingRule(nil), def.RoutingRules...)
	cp.DefaultChain = append([]workflow.ApprovalStep(nil), def.DefaultChain...)
	cp.Escalations = append([]workflow.EscalationChain(nil), def.Escalations...)
	return &cp
}
