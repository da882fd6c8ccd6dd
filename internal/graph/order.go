package graph

import (
	"sort"

	"github.com/veritaslab/claimreg/internal/ir"
)

// OrderIterator yields formulas in dependency order, lazily. Each Next()
// call resolves exactly one formula; the iterator is finite and cannot be
// restarted. Deterministic: among ready formulas the one with the lowest
// (seq, id) pair is yielded first.
type OrderIterator struct {
	g       *Graph
	yielded map[int]bool
	// pending counts, per formula index, inputs still waiting on an
	// unyielded producer. Inputs without a producer are external and
	// never block.
	pending map[int]int
	// consumers maps a formula index to the indexes of formulas that
	// consume one of its outputs.
	consumers map[int][]int
	ready     []int
	done      int
}

// Order returns a fresh iterator over the graph's formulas in topological
// order. The graph must not be mutated while the iterator is live.
func (g *Graph) Order() *OrderIterator {
	it := &OrderIterator{
		g:         g,
		yielded:   make(map[int]bool),
		pending:   make(map[int]int),
		consumers: make(map[int][]int),
	}
	for i, f := range g.formulas {
		blocked := 0
		for _, in := range f.Inputs {
			producer, ok := g.producedBy[in]
			if !ok || producer == i {
				continue
			}
			blocked++
			it.consumers[producer] = append(it.consumers[producer], i)
		}
		it.pending[i] = blocked
		if blocked == 0 {
			it.ready = append(it.ready, i)
		}
	}
	it.sortReady()
	return it
}

// Next returns the next formula in dependency order. The second return
// is false once the sequence is exhausted.
func (it *OrderIterator) Next() (ir.Formula, bool) {
	if len(it.ready) == 0 {
		return ir.Formula{}, false
	}
	idx := it.ready[0]
	it.ready = it.ready[1:]
	it.yielded[idx] = true
	it.done++

	for _, consumer := range it.consumers[idx] {
		it.pending[consumer]--
		if it.pending[consumer] == 0 {
			it.ready = append(it.ready, consumer)
		}
	}
	it.sortReady()
	return it.g.formulas[idx], true
}

// Remaining reports how many formulas the iterator has yet to yield.
func (it *OrderIterator) Remaining() int {
	return len(it.g.formulas) - it.done
}

func (it *OrderIterator) sortReady() {
	sort.Slice(it.ready, func(a, b int) bool {
		fa, fb := it.g.formulas[it.ready[a]], it.g.formulas[it.ready[b]]
		if fa.Seq != fb.Seq {
			return fa.Seq < fb.Seq
		}
		return fa.ID < fb.ID
	})
}
