// Package graph maintains the per-module formula/derivation graph.
//
// Nodes are value names; each formula contributes edges from its inputs to
// its outputs. Derivations must form a DAG - a value can never depend, even
// transitively, on itself - so unlike sync-rule cycle analysis elsewhere,
// a cycle here is a hard CyclicDependencyError, not a warning: the whole
// submitting transaction rejects.
package graph

import (
	"fmt"
	"sort"

	"github.com/veritaslab/claimreg/internal/ir"
)

// Graph is the dependency graph of one module's registered formulas.
//
// Not safe for concurrent use. The registry builds a fresh Graph per
// submission from the module's head formula versions and the incoming
// bundle, inside the submission transaction.
type Graph struct {
	moduleID ir.ModuleID
	formulas []ir.Formula
	// edges maps value name -> value names derived from it.
	edges map[string][]string
	// producedBy maps an output value name to the index of the formula
	// producing it. One producer per value per module.
	producedBy map[string]int
}

// New creates an empty graph for a module.
func New(moduleID ir.ModuleID) *Graph {
	return &Graph{
		moduleID:   moduleID,
		edges:      make(map[string][]string),
		producedBy: make(map[string]int),
	}
}

// NewFromFormulas builds a graph from already-registered formulas.
// Returns the first structural error encountered; an existing committed
// formula set is always acyclic, so errors here indicate log corruption.
func NewFromFormulas(moduleID ir.ModuleID, formulas []ir.Formula) (*Graph, error) {
	g := New(moduleID)
	for _, f := range formulas {
		if err := g.Add(f); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Add registers a formula, rejecting it if any output is already produced
// by another formula or if the resulting edge set contains a cycle.
//
// The cycle check runs Tarjan's strongly-connected-components algorithm
// over the value-name graph including the candidate's edges; the candidate
// is only committed to the graph if the result stays a DAG.
func (g *Graph) Add(f ir.Formula) error {
	if len(f.Outputs) == 0 {
		return fmt.Errorf("formula %s/%s produces no values", g.moduleID, f.ID)
	}

	for _, out := range f.Outputs {
		if idx, ok := g.producedBy[out]; ok {
			return fmt.Errorf("formula %s/%s: value %q already produced by formula %s",
				g.moduleID, f.ID, out, g.formulas[idx].ID)
		}
	}

	// Trial edge set including the candidate.
	trial := make(map[string][]string, len(g.edges)+len(f.Inputs))
	for k, v := range g.edges {
		trial[k] = v
	}
	for _, in := range f.Inputs {
		for _, out := range f.Outputs {
			trial[in] = append(trial[in], out)
		}
	}

	if path := findCycle(trial); path != nil {
		return &CyclicDependencyError{
			ModuleID:  g.moduleID,
			FormulaID: f.ID,
			Path:      path,
		}
	}

	idx := len(g.formulas)
	g.formulas = append(g.formulas, f)
	g.edges = trial
	for _, out := range f.Outputs {
		g.producedBy[out] = idx
	}
	return nil
}

// Formulas returns the registered formulas in insertion order.
func (g *Graph) Formulas() []ir.Formula {
	out := make([]ir.Formula, len(g.formulas))
	copy(out, g.formulas)
	return out
}

// Producer returns the formula producing the named value, if any.
func (g *Graph) Producer(name string) (ir.Formula, bool) {
	idx, ok := g.producedBy[name]
	if !ok {
		return ir.Formula{}, false
	}
	return g.formulas[idx], true
}

// findCycle runs Tarjan's SCC algorithm over the value-name graph and
// returns a cycle path (first node repeated at the end) if one exists.
// Single-node SCCs without self-loops are not cycles.
func findCycle(edges map[string][]string) []string {
	// Deterministic node visit order keeps reported paths stable.
	nodes := make([]string, 0, len(edges))
	for n := range edges {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		cycle   []string
	)

	var strongConnect func(v string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		neighbors := append([]string(nil), edges[v]...)
		sort.Strings(neighbors)
		for _, w := range neighbors {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			if cycle == nil && (len(scc) > 1 || hasSelfLoop(scc[0], edges)) {
				sort.Strings(scc)
				cycle = append(scc, scc[0])
			}
		}
	}

	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
		if cycle != nil {
			break
		}
	}
	return cycle
}

func hasSelfLoop(node string, edges map[string][]string) bool {
	for _, neighbor := range edges[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}
