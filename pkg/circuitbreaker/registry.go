package circuitbreaker

import (
	"slices"
	"sync"
)

// Registry holds one breaker per message subject so a subject that keeps
// failing stops consuming retries without blocking delivery to the others.
type Registry struct {
	config   Config
	breakers sync.Map // subject -> *Breaker
}

// NewRegistry returns a registry whose breakers all use cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{config: cfg}
}

// For returns the breaker guarding subject.
func (r *Registry) For(subject string) *Breaker {
	if b, ok := r.breakers.Load(subject); ok {
		return b.(*Breaker)
	}
	b, _ := r.breakers.LoadOrStore(subject, New(r.config))
	return b.(*Breaker)
}

// Stats summarizes the breakers seen so far.
func (r *Registry) Stats() Stats {
	var stats Stats
	r.breakers.Range(func(key, value any) bool {
		stats.Total++
		switch value.(*Breaker).State() {
		case Open:
			stats.OpenSubjects = append(stats.OpenSubjects, key.(string))
		case HalfOpen:
			stats.HalfOpen++
		}
		return true
	})
	slices.Sort(stats.OpenSubjects)
	return stats
}

// Stats counts breakers by state. OpenSubjects is sorted.
type Stats struct {
	Total        int
	HalfOpen     int
	OpenSubjects []string
}

// Open is the number of subjects currently rejecting deliveries.
func (s Stats) Open() int {
	return len(s.OpenSubjects)
}
