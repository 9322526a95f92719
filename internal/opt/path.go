package opt

// path is a sequence between two fixed endpoints with a directed arc cost.
// Deltas are score-only: nothing is mutated until a move is applied.
type path struct {
	seq        []int
	head, tail int
	arc        func(a, b int) int
}

// node maps -1 to head and len(seq) to tail.
func (p path) node(x int) int {
	switch {
	case x < 0:
		return p.head
	case x >= len(p.seq):
		return p.tail
	}
	return p.seq[x]
}

// swapDelta is the cost change of exchanging positions i < j.
func (p path) swapDelta(i, j int) int {
	a, b := p.seq[i], p.seq[j]
	prev, next := p.node(i-1), p.node(j+1)
	if j == i+1 {
		return p.arc(prev, b) + p.arc(b, a) + p.arc(a, next) -
			p.arc(prev, a) - p.arc(a, b) - p.arc(b, next)
	}
	ai, bj := p.node(i+1), p.node(j-1)
	return p.arc(prev, b) + p.arc(b, ai) + p.arc(bj, a) + p.arc(a, next) -
		p.arc(prev, a) - p.arc(a, ai) - p.arc(bj, b) - p.arc(b, next)
}

// relocateDelta is the cost change of moving the run seq[i:i+k] so that it
// starts at index j of the resulting sequence, orientation preserved.
func (p path) relocateDelta(i, j, k int) int {
	if i == j {
		return 0
	}
	first, last := p.seq[i], p.seq[i+k-1]
	prev, next := p.node(i-1), p.node(i+k)
	delta := p.arc(prev, next) - p.arc(prev, first) - p.arc(last, next)
	a, b := p.reducedNode(i, k, j-1), p.reducedNode(i, k, j)
	return delta + p.arc(a, first) + p.arc(last, b) - p.arc(a, b)
}

// reducedNode indexes the sequence with seq[i:i+k] cut out.
func (p path) reducedNode(i, k, x int) int {
	if x < i {
		return p.node(x)
	}
	return p.node(x + k)
}

// insertDelta is the cost change of placing a block first..last before index
// pos (0..len(seq)). The block's internal cost is not included.
func (p path) insertDelta(pos, first, last int) int {
	a, b := p.node(pos-1), p.node(pos)
	return p.arc(a, first) + p.arc(last, b) - p.arc(a, b)
}

// removeDelta is the cost change of cutting seq[i:i+k] out. The run's
// internal cost is not included, matching insertDelta.
func (p path) removeDelta(i, k int) int {
	prev, next := p.node(i-1), p.node(i+k)
	return p.arc(prev, next) - p.arc(prev, p.seq[i]) - p.arc(p.seq[i+k-1], next)
}

// replaceDelta is the cost change of substituting seq[i] with x.
func (p path) replaceDelta(i, x int) int {
	prev, next := p.node(i-1), p.node(i+1)
	return p.arc(prev, x) + p.arc(x, next) - p.arc(prev, p.seq[i]) - p.arc(p.seq[i], next)
}

// moveWithin moves s[i:i+k] so that it starts at index j.
func moveWithin(s []int, i, j, k int) {
	if i == j {
		return
	}
	run := append([]int(nil), s[i:i+k]...)
	rest := append(append([]int(nil), s[:i]...), s[i+k:]...)
	copy(s, rest[:j])
	copy(s[j:], run)
	copy(s[j+k:], rest[j:])
}

// insertAt returns s with block inserted before index pos.
func insertAt(s []int, pos int, block []int) []int {
	out := make([]int, 0, len(s)+len(block))
	out = append(out, s[:pos]...)
	out = append(out, block...)
	return append(out, s[pos:]...)
}
