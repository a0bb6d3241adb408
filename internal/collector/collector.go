// Package collector produces candidate items from configured news sources.
package collector

import (
	"context"
	"fmt"
	"sort"

	"github.com/ibeckermayer/newsdigest/internal/types"
)

// Collector produces raw items from one source. Collect must be safe to
// call again after a failure; overlapping results are deduplicated by the
// store.
type Collector interface {
	Name() string
	Collect(ctx context.Context) ([]types.RawItem, error)
}

// Registry keeps a mapping from source names to their collectors.
type Registry struct {
	collectors map[string]Collector
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{collectors: map[string]Collector{}}
}

// Register adds or replaces a collector.
func (r *Registry) Register(c Collector) {
	if r.collectors == nil {
		r.collectors = map[string]Collector{}
	}
	r.collectors[c.Name()] = c
}

// Resolve returns a collector by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Collector, error) {
	if c, ok := r.collectors[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("collector %s is not registered", name)
}

// Names returns the registered source names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len is the number of registered collectors.
func (r *Registry) Len() int {
	return len(r.collectors)
}

// Page is a fetched document.
type Page struct {
	URL  string
	HTML string
}

// Fetcher retrieves one page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}
