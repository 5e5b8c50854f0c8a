package gateway

import (
	"fmt"
	"sort"
	"strings"

	"clubpay/internal/models/db_models"
)

// Registry maps provider names to adapters. It is filled once at startup and
// only read afterwards, so it carries no lock.
type Registry struct {
	adapters map[string]Adapter
	order    []string
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register must only be called during startup.
func (r *Registry) Register(a Adapter) error {
	name := strings.ToLower(a.Name())
	if _, ok := r.adapters[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateAdapter, name)
	}
	r.adapters[name] = a
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Get(name string) (Adapter, error) {
	if a, ok := r.adapters[strings.ToLower(name)]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownProvider, name, r.available())
}

// ForMethod returns the first adapter, in registration order, supporting method.
func (r *Registry) ForMethod(method db_models.PaymentMethod) (Adapter, error) {
	for _, name := range r.order {
		if a := r.adapters[name]; a.Supports(method) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s (available: %s)", ErrNoAdapterForMethod, method, r.available())
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) available() string {
	if len(r.adapters) == 0 {
		return "none"
	}
	return strings.Join(r.Names(), ", ")
}
