// Package pipeline runs a graph of named stages with per-stage retry and
// trigger rules, and wires the news digest stages onto it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Trigger decides whether a stage runs once all of its dependencies are
// terminal.
type Trigger int

const (
	// AllSucceeded runs the stage only if every dependency succeeded;
	// otherwise the stage is skipped.
	AllSucceeded Trigger = iota
	// AllDone runs the stage whatever its dependencies ended as.
	AllDone
	// OneFailed runs the stage only if at least one dependency failed. With
	// no declared dependencies it watches every other stage.
	OneFailed
)

func (t Trigger) String() string {
	switch t {
	case AllDone:
		return "all_done"
	case OneFailed:
		return "one_failed"
	default:
		return "all_succeeded"
	}
}

// RetryPolicy retries transient failures up to Retries extra times, Delay
// apart.
type RetryPolicy struct {
	Retries int
	Delay   time.Duration
}

// StageFunc does the work of a stage. It must not modify values obtained
// from Inputs.
type StageFunc func(ctx context.Context, in Inputs) (any, error)

// Stage is one node of the graph.
type Stage struct {
	Name      string
	DependsOn []string
	Trigger   Trigger
	Retry     RetryPolicy
	// Timeout bounds each attempt; zero means no limit.
	Timeout time.Duration
	Run     StageFunc
}

// Graph is a validated, acyclic set of stages.
type Graph struct {
	stages []Stage
	order  []string
	byName map[string]int
}

// NewGraph validates stages and computes a stable topological order:
// among stages that are ready at the same time, declaration order wins.
func NewGraph(stages ...Stage) (*Graph, error) {
	g := &Graph{
		stages: make([]Stage, len(stages)),
		byName: make(map[string]int, len(stages)),
	}
	copy(g.stages, stages)

	for i, s := range g.stages {
		if s.Name == "" {
			return nil, fmt.Errorf("stage %d has no name", i)
		}
		if s.Run == nil {
			return nil, fmt.Errorf("stage %s has no run function", s.Name)
		}
		if _, dup := g.byName[s.Name]; dup {
			return nil, fmt.Errorf("stage %s is defined twice", s.Name)
		}
		g.byName[s.Name] = i
	}

	for i := range g.stages {
		s := &g.stages[i]
		if s.Trigger == OneFailed && len(s.DependsOn) == 0 {
			for _, other := range g.stages {
				if other.Name != s.Name && other.Trigger != OneFailed {
					s.DependsOn = append(s.DependsOn, other.Name)
				}
			}
		} else {
			s.DependsOn = append([]string(nil), s.DependsOn...)
		}
		for _, dep := range s.DependsOn {
			if dep == s.Name {
				return nil, fmt.Errorf("stage %s depends on itself", s.Name)
			}
			if _, ok := g.byName[dep]; !ok {
				return nil, fmt.Errorf("stage %s depends on unknown stage %s", s.Name, dep)
			}
		}
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

func (g *Graph) topoSort() ([]string, error) {
	indegree := make([]int, len(g.stages))
	for i, s := range g.stages {
		indegree[i] = len(s.DependsOn)
	}
	placed := make([]bool, len(g.stages))
	order := make([]string, 0, len(g.stages))

	for len(order) < len(g.stages) {
		next := -1
		for i := range g.stages {
			if !placed[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, errors.New("stage graph has a cycle")
		}
		placed[next] = true
		name := g.stages[next].Name
		order = append(order, name)
		for i, s := range g.stages {
			for _, dep := range s.DependsOn {
				if dep == name {
					indegree[i]--
				}
			}
		}
	}
	return order, nil
}

// Order returns stage names in topological order.
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// Stage returns the stage with the given name.
func (g *Graph) Stage(name string) (Stage, bool) {
	i, ok := g.byName[name]
	if !ok {
		return Stage{}, false
	}
	return g.stages[i], true
}

// Len is the number of stages.
func (g *Graph) Len() int { return len(g.stages) }
