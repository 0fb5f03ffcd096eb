package specialist

import (
	"fmt"
	"sync"

	"github.com/finsight-ai/finsight/internal/domain/advice"
)

// Registry holds the available specialists keyed by tag.
type Registry struct {
	mu          sync.RWMutex
	specialists map[advice.SpecialistTag]Specialist
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		specialists: make(map[advice.SpecialistTag]Specialist),
	}
}

// Register adds a specialist. Duplicate or unknown tags are a wiring bug.
func (r *Registry) Register(s Specialist) error {
	tag := s.Tag()
	if !advice.ValidTag(tag) {
		return fmt.Errorf("specialist: tag %q not in closed enum", tag)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specialists[tag]; exists {
		return fmt.Errorf("specialist: duplicate registration for %q", tag)
	}
	r.specialists[tag] = s
	return nil
}

// Get returns the specialist for a tag.
func (r *Registry) Get(tag advice.SpecialistTag) (Specialist, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specialists[tag]
	return s, ok
}

// Select returns the registered specialists matching the given tags,
// silently skipping tags with no registration.
func (r *Registry) Select(tags []advice.SpecialistTag) []Specialist {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Specialist, 0, len(tags))
	for _, tag := range tags {
		if s, ok := r.specialists[tag]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Tags returns all registered capability tags.
func (r *Registry) Tags() []advice.SpecialistTag {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]advice.SpecialistTag, 0, len(r.specialists))
	for tag := range r.specialists {
		tags = append(tags, tag)
	}
	return tags
}
