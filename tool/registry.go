package tool

import (
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Registry is the ordered tool catalog owned by one server instance.
//
// Registration happens during a single-writer startup phase. Once the
// registry is sealed it is read-only, and lookups from concurrent
// dispatcher calls only take the read lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	sealed  bool
}

type entry struct {
	desc   Descriptor
	schema *jsonschema.Resolved
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
	}
}

// Register inserts d if its name is not already present. A duplicate name
// fails with a *RegistrationError wrapping ErrDuplicateTool and leaves the
// existing entry intact.
func (r *Registry) Register(d Descriptor) error {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return &RegistrationError{Name: d.Name, Err: fmt.Errorf("%w: name is required", ErrInvalidDescriptor)}
	}
	if d.Handler == nil {
		return &RegistrationError{Name: name, Err: fmt.Errorf("%w: handler is required", ErrInvalidDescriptor)}
	}

	schemaDoc := cloneSchema(d.InputSchema)
	if schemaDoc == nil {
		schemaDoc = DefaultInputSchema()
	}
	resolved, err := resolveSchema(schemaDoc)
	if err != nil {
		return &RegistrationError{Name: name, Err: fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return &RegistrationError{Name: name, Err: ErrRegistrySealed}
	}
	if _, exists := r.entries[name]; exists {
		return &RegistrationError{Name: name, Err: ErrDuplicateTool}
	}

	r.entries[name] = &entry{
		desc: Descriptor{
			Name:        name,
			Description: d.Description,
			InputSchema: schemaDoc,
			Handler:     d.Handler,
		},
		schema: resolved,
	}
	r.order = append(r.order, name)
	return nil
}

// Seal ends the registration phase. It is safe to call more than once.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Descriptor{}, false
	}
	return e.desc.copy(), true
}

// List returns a lazy sequence of descriptors in registration order. Each
// range over the sequence starts from the beginning.
func (r *Registry) List() iter.Seq[Descriptor] {
	return func(yield func(Descriptor) bool) {
		r.mu.RLock()
		names := append([]string(nil), r.order...)
		r.mu.RUnlock()

		for _, name := range names {
			d, ok := r.Get(name)
			if !ok {
				continue
			}
			if !yield(d) {
				return
			}
		}
	}
}

// Descriptors returns the catalog as a slice in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].desc.copy())
	}
	return out
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// ValidateArguments checks args against the input schema registered for name.
func (r *Registry) ValidateArguments(name string, args map[string]any) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := e.schema.Validate(args); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func (d Descriptor) copy() Descriptor {
	d.InputSchema = cloneSchema(d.InputSchema)
	return d
}
