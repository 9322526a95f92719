package opt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// DefaultPackNodes bounds the exact packing search, counted in partial bins
// visited.
const DefaultPackNodes = 5_000_000

var errPackBudget = errors.New("pack search budget exhausted")

// binCompletion is an exact search for a packing of the cluster demands into
// at most k bins. Bins are filled one at a time: the largest remaining
// demand opens the bin and only maximal completions (no remaining demand
// still fits) within the total slack are tried. Equal demands are grouped
// by value, so states are demand-count vectors and failed states are
// remembered.
type binCompletion struct {
	q      int
	values []int // distinct demands, descending
	counts []int
	nodes  int
	failed map[string]bool
	bins   [][]int // per open bin, the value index of each item
}

// packExact returns up to k bins of cluster ids. It returns
// ErrInfeasibleCapacity when the search is exhaustive and errPackBudget when
// it gave up after maxNodes states.
func packExact(p *Problem, k, maxNodes int) ([][]int, error) {
	byValue := map[int][]int{}
	for c, d := range p.Demands {
		byValue[d] = append(byValue[d], c)
	}
	bc := &binCompletion{q: p.Q, nodes: maxNodes, failed: map[string]bool{}}
	for v := range byValue {
		bc.values = append(bc.values, v)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(bc.values)))
	bc.counts = make([]int, len(bc.values))
	remaining := 0
	for i, v := range bc.values {
		bc.counts[i] = len(byValue[v])
		remaining += v * bc.counts[i]
	}

	ok, err := bc.solve(k, remaining)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: proved infeasible for %d vehicles", ErrInfeasibleCapacity, k)
	}
	out := make([][]int, len(bc.bins))
	for b, items := range bc.bins {
		for _, vi := range items {
			ids := byValue[bc.values[vi]]
			out[b] = append(out[b], ids[len(ids)-1])
			byValue[bc.values[vi]] = ids[:len(ids)-1]
		}
	}
	return out, nil
}

func (bc *binCompletion) key(binsLeft int) string {
	buf := make([]byte, 0, 2*len(bc.counts)+2)
	buf = binary.AppendUvarint(buf, uint64(binsLeft))
	for _, c := range bc.counts {
		buf = binary.AppendUvarint(buf, uint64(c))
	}
	return string(buf)
}

func (bc *binCompletion) solve(binsLeft, remaining int) (bool, error) {
	if remaining == 0 {
		return true, nil
	}
	if binsLeft == 0 || remaining > binsLeft*bc.q {
		return false, nil
	}
	key := bc.key(binsLeft)
	if bc.failed[key] {
		return false, nil
	}
	lead := 0
	for bc.counts[lead] == 0 {
		lead++
	}
	slack := binsLeft*bc.q - remaining
	bc.counts[lead]--
	items := []int{lead}
	ok, err := bc.complete(lead, bc.q-bc.values[lead], slack, items, binsLeft, remaining-bc.values[lead])
	bc.counts[lead]++
	if err != nil {
		return false, err
	}
	if !ok {
		bc.failed[key] = true
	}
	return ok, nil
}

// complete chooses how many items of value index j and beyond join the open
// bin, trying larger counts first.
func (bc *binCompletion) complete(j, room, slack int, items []int, binsLeft, remaining int) (bool, error) {
	if bc.nodes <= 0 {
		return false, errPackBudget
	}
	bc.nodes--
	if j == len(bc.values) {
		if room > slack {
			return false, nil
		}
		for i, c := range bc.counts {
			if c > 0 && bc.values[i] <= room {
				return false, nil
			}
		}
		bc.bins = append(bc.bins, append([]int(nil), items...))
		ok, err := bc.solve(binsLeft-1, remaining)
		if ok || err != nil {
			return ok, err
		}
		bc.bins = bc.bins[:len(bc.bins)-1]
		return false, nil
	}
	v := bc.values[j]
	most := min(bc.counts[j], room/v)
	for n := most; n >= 0; n-- {
		bc.counts[j] -= n
		next := items
		for i := 0; i < n; i++ {
			next = append(next, j)
		}
		ok, err := bc.complete(j+1, room-n*v, slack, next, binsLeft, remaining-n*v)
		bc.counts[j] += n
		if ok || err != nil {
			return ok, err
		}
	}
	return false, nil
}
