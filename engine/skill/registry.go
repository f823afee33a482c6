package skill

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds registered skills. Registration order is preserved for
// routing tie-breaks; List returns a name-sorted view for the API.
type Registry struct {
	mu     sync.RWMutex
	skills map[Name]Skill
	order  []Name
}

func NewRegistry() *Registry {
	return &Registry{skills: make(map[Name]Skill)}
}

func (r *Registry) Register(s Skill) error {
	if s.Name == "" {
		return fmt.Errorf("skill: register: empty name")
	}
	if s.Run == nil {
		return fmt.Errorf("skill: register %q: nil run func", s.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.skills[s.Name]; dup {
		return fmt.Errorf("skill: register %q: already registered", s.Name)
	}
	r.skills[s.Name] = s
	r.order = append(r.order, s.Name)
	return nil
}

func (r *Registry) Get(name Name) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// List returns all skills sorted by name.
func (r *Registry) List() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// inOrder returns skills in registration order.
func (r *Registry) inOrder() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Skill, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.skills[name])
	}
	return out
}
