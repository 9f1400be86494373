package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds a strategy with default params.
type Constructor func() Strategy

// Builtins is the closed set of strategies.
var Builtins = map[string]Constructor{
	NameSMACrossover: func() Strategy { return NewSMACrossover() },
	NameRSI:          func() Strategy { return NewRSI() },
	NameBollinger:    func() Strategy { return NewBollinger() },
}

// ErrUnknown is returned for a strategy name outside the registry.
type ErrUnknown string

func (e ErrUnknown) Error() string { return fmt.Sprintf("unknown strategy %q", string(e)) }

// Registry holds one configured instance per strategy and the active name.
type Registry struct {
	mu     sync.RWMutex
	items  map[string]Strategy
	active string
}

// NewRegistry instantiates every builtin with defaults; sma_crossover is
// active.
func NewRegistry() *Registry {
	r := &Registry{items: make(map[string]Strategy, len(Builtins)), active: NameSMACrossover}
	for name, ctor := range Builtins {
		r.items[name] = ctor()
	}
	return r
}

// Names lists the strategies in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.items))
	for n := range r.items {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Get returns the configured instance of name.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[name]
	if !ok {
		return nil, ErrUnknown(name)
	}
	return s, nil
}

// Fresh returns a new instance of name carrying the registry's params, so
// that callers such as hyperopt can mutate it freely.
func (r *Registry) Fresh(name string) (Strategy, error) {
	r.mu.RLock()
	cur, ok := r.items[name]
	var params Params
	if ok {
		params = cur.Params()
	}
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknown(name)
	}
	s := Builtins[name]()
	if err := s.SetParams(params); err != nil {
		return nil, err
	}
	return s, nil
}

// Active returns the active strategy.
func (r *Registry) Active() Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.items[r.active]
}

// ActiveName returns the active strategy name.
func (r *Registry) ActiveName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// SetActive selects the strategy the bot loop uses.
func (r *Registry) SetActive(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[name]; !ok {
		return ErrUnknown(name)
	}
	r.active = name
	return nil
}

// Configure updates params of name.
func (r *Registry) Configure(name string, p Params) error {
	s, err := r.Get(name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := s.SetParams(p); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// AllParams returns every strategy's params keyed by name.
func (r *Registry) AllParams() map[string]Params {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Params, len(r.items))
	for n, s := range r.items {
		out[n] = s.Params()
	}
	return out
}
