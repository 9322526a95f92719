package gvrp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"cluvrp/internal/model"
)

// SolutionFileName is the file a variant's best solution for key is kept in,
// e.g. "A_StrongSolution.txt".
func SolutionFileName(key string, v model.Variant) string {
	return key + "_" + v.Title() + "Solution.txt"
}

// WriteSolution writes the distance on the first line, then for every
// vehicle its 1-based cluster ids and its 1-based customer sequence.
func WriteSolution(w io.Writer, sol model.Solution) error {
	if len(sol.Tours) != len(sol.Routes) {
		return fmt.Errorf("gvrp: %d tours for %d routes", len(sol.Tours), len(sol.Routes))
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, sol.Distance)
	for v := range sol.Routes {
		fmt.Fprintln(bw, joinOneBased(sol.Routes[v]))
		fmt.Fprintln(bw, joinOneBased(sol.Tours[v]))
	}
	return bw.Flush()
}

func joinOneBased(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x + 1)
	}
	return strings.Join(parts, " ")
}

// FormatSolution renders sol in the file layout.
func FormatSolution(sol model.Solution) string {
	var sb strings.Builder
	_ = WriteSolution(&sb, sol)
	return sb.String()
}

// ReadSolution parses a solution file. Trailing blank lines are ignored.
func ReadSolution(r io.Reader, v model.Variant) (model.Solution, error) {
	sol := model.Solution{Variant: v}
	var lines []string
	lineNos := []int{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
		lineNos = append(lineNos, n)
	}
	if err := sc.Err(); err != nil {
		return sol, &ParseError{Line: n, Msg: err.Error(), Err: err}
	}
	if len(lines) == 0 {
		return sol, parseErr(0, "empty solution")
	}
	d, err := strconv.Atoi(lines[0])
	if err != nil {
		return sol, parseErr(lineNos[0], "bad distance %q", lines[0])
	}
	sol.Distance = d
	rest := lines[1:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		return sol, parseErr(0, "want a cluster line and a tour line per vehicle, got %d lines", len(rest))
	}
	for i := 0; i < len(rest); i += 2 {
		route, err := splitOneBased(rest[i], lineNos[i+1])
		if err != nil {
			return sol, err
		}
		tour, err := splitOneBased(rest[i+1], lineNos[i+2])
		if err != nil {
			return sol, err
		}
		sol.Routes = append(sol.Routes, route)
		sol.Tours = append(sol.Tours, tour)
	}
	return sol, nil
}

func splitOneBased(line string, lineNo int) ([]int, error) {
	fields := strings.Fields(line)
	out := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil || v < 1 {
			return nil, parseErr(lineNo, "bad id %q", f)
		}
		out[i] = v - 1
	}
	return out, nil
}
