package matching

import (
	"errors"
	"fmt"
	"maps"
	"sync"
)

// ErrUnknownNode is returned for a click on an id outside the graph.
var ErrUnknownNode = errors.New("unknown matching node")

// Side identifies a column of the matching question.
type Side int

const (
	SidePrompt Side = iota
	SideTarget
)

func (s Side) String() string {
	if s == SidePrompt {
		return "prompt"
	}
	return "target"
}

// Outcome describes what a click did.
type Outcome string

const (
	OutcomeArmed     Outcome = "armed"
	OutcomeDisarmed  Outcome = "disarmed"
	OutcomeConnected Outcome = "connected"
	OutcomeRemoved   Outcome = "removed"
	OutcomeIgnored   Outcome = "ignored"
)

// Graph is the click-driven bipartite matching between prompt and target
// nodes. Every node belongs to at most one edge after every operation.
type Graph struct {
	mu       sync.Mutex
	prompts  map[int64]struct{}
	targets  map[int64]struct{}
	edges    map[int64]int64 // prompt -> target
	reverse  map[int64]int64 // target -> prompt
	armed    *int64
	notified map[int64]int64
	onChange func(map[int64]int64) error
}

// New creates a graph over the given prompt and target ids. onChange is
// called, outside the lock, whenever the edge set differs from what was
// last reported. If it fails, the click is undone and its error returned.
func New(prompts, targets []int64, onChange func(map[int64]int64) error) *Graph {
	g := &Graph{
		prompts:  make(map[int64]struct{}, len(prompts)),
		targets:  make(map[int64]struct{}, len(targets)),
		edges:    make(map[int64]int64),
		reverse:  make(map[int64]int64),
		notified: make(map[int64]int64),
		onChange: onChange,
	}
	for _, id := range prompts {
		g.prompts[id] = struct{}{}
	}
	for _, id := range targets {
		g.targets[id] = struct{}{}
	}
	return g
}

// Seed installs an existing mapping without notifying. Pairs that would
// break the 1:1 invariant or reference unknown nodes are rejected.
func (g *Graph) Seed(mapping map[int64]int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	edges := make(map[int64]int64, len(mapping))
	reverse := make(map[int64]int64, len(mapping))
	for p, t := range mapping {
		if _, ok := g.prompts[p]; !ok {
			return fmt.Errorf("%w: prompt %d", ErrUnknownNode, p)
		}
		if _, ok := g.targets[t]; !ok {
			return fmt.Errorf("%w: target %d", ErrUnknownNode, t)
		}
		if _, dup := reverse[t]; dup {
			return fmt.Errorf("target %d matched twice", t)
		}
		edges[p] = t
		reverse[t] = p
	}

	g.edges = edges
	g.reverse = reverse
	g.armed = nil
	g.notified = maps.Clone(edges)
	return nil
}

// ClickPrompt handles a click on a prompt node.
func (g *Graph) ClickPrompt(id int64) (Outcome, error) {
	g.mu.Lock()
	if _, ok := g.prompts[id]; !ok {
		g.mu.Unlock()
		return OutcomeIgnored, fmt.Errorf("%w: prompt %d", ErrUnknownNode, id)
	}

	var out Outcome
	switch {
	case g.hasPrompt(id):
		g.removeByPrompt(id)
		g.armed = nil
		out = OutcomeRemoved
	case g.armed != nil && *g.armed == id:
		g.armed = nil
		out = OutcomeDisarmed
	default:
		armed := id
		g.armed = &armed
		out = OutcomeArmed
	}
	if err := g.commit(); err != nil {
		return OutcomeIgnored, err
	}
	return out, nil
}

// ClickTarget handles a click on a target node.
func (g *Graph) ClickTarget(id int64) (Outcome, error) {
	g.mu.Lock()
	if _, ok := g.targets[id]; !ok {
		g.mu.Unlock()
		return OutcomeIgnored, fmt.Errorf("%w: target %d", ErrUnknownNode, id)
	}

	var out Outcome
	_, connected := g.reverse[id]
	switch {
	case g.armed != nil && connected:
		out = OutcomeIgnored
	case g.armed != nil:
		p := *g.armed
		g.removeByPrompt(p)
		g.edges[p] = id
		g.reverse[id] = p
		g.armed = nil
		out = OutcomeConnected
	case connected:
		g.removeByPrompt(g.reverse[id])
		out = OutcomeRemoved
	default:
		out = OutcomeIgnored
	}
	if err := g.commit(); err != nil {
		return OutcomeIgnored, err
	}
	return out, nil
}

// Click dispatches to ClickPrompt or ClickTarget.
func (g *Graph) Click(side Side, id int64) (Outcome, error) {
	if side == SidePrompt {
		return g.ClickPrompt(id)
	}
	return g.ClickTarget(id)
}

// commit reports a changed edge set and releases the lock held by the caller.
// A rejected report restores the last accepted edge set, unless a later
// commit has already replaced it.
func (g *Graph) commit() error {
	if maps.Equal(g.edges, g.notified) || g.onChange == nil {
		g.notified = maps.Clone(g.edges)
		g.mu.Unlock()
		return nil
	}
	prev := g.notified
	snapshot := maps.Clone(g.edges)
	g.notified = maps.Clone(g.edges)
	fn := g.onChange
	g.mu.Unlock()

	if err := fn(snapshot); err != nil {
		g.mu.Lock()
		if maps.Equal(g.notified, snapshot) {
			g.restore(prev)
		}
		g.mu.Unlock()
		return err
	}
	return nil
}

func (g *Graph) restore(edges map[int64]int64) {
	g.edges = maps.Clone(edges)
	g.reverse = make(map[int64]int64, len(edges))
	for p, t := range edges {
		g.reverse[t] = p
	}
	g.notified = edges
	g.armed = nil
}

func (g *Graph) hasPrompt(id int64) bool {
	_, ok := g.edges[id]
	return ok
}

func (g *Graph) removeByPrompt(p int64) {
	if t, ok := g.edges[p]; ok {
		delete(g.edges, p)
		delete(g.reverse, t)
	}
}

// Armed returns the armed prompt, if any.
func (g *Graph) Armed() (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.armed == nil {
		return 0, false
	}
	return *g.armed, true
}

// Mapping returns a copy of the current edges.
func (g *Graph) Mapping() map[int64]int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return maps.Clone(g.edges)
}

// PartnerOf returns the node connected to id on the other side.
func (g *Graph) PartnerOf(side Side, id int64) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if side == SidePrompt {
		t, ok := g.edges[id]
		return t, ok
	}
	p, ok := g.reverse[id]
	return p, ok
}
