package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"cluvrp/internal/gvrp"
	"cluvrp/internal/model"
	"cluvrp/internal/runner"
)

// writeReport prints the console summary of a finished solve. Cluster and
// customer numbers are one-based as in the solution files.
func writeReport(w io.Writer, inst model.Instance, path string, iterations int, res runner.Result) {
	sol := res.Solution
	fmt.Fprintf(w, "After %d of %d iterations of the VNS algorithm\n", res.Metrics.Iterations, iterations)
	fmt.Fprintf(w, "The best solution found for instance %s of the %s variant has distance:\n%d\n\n",
		filepath.Base(path), sol.Variant.Title(), sol.Distance)
	fmt.Fprintln(w, "The solution corresponding to this result is:")
	fmt.Fprintln(w)
	for v, route := range sol.Routes {
		demand := 0
		for _, c := range route {
			demand += inst.Demands[c]
		}
		fmt.Fprintf(w, "Vehicle %d: %s\n", v+1, oneBased(route))
		fmt.Fprintf(w, "Total demand: %d\n", demand)
		fmt.Fprintf(w, "Tour: |%s|\n\n", oneBased(sol.Tours[v]))
	}
	fmt.Fprintf(w, "The algorithm took:\n%.2f seconds\n", res.Metrics.Elapsed.Seconds())
	if res.Metrics.Stopped {
		fmt.Fprintln(w, "The search was stopped before all iterations finished.")
	}
	key := gvrp.LedgerKey(path)
	if res.Improved {
		fmt.Fprintf(w, "New best result found! Ledger %s/%s: %d -> %d\n", key, sol.Variant, res.Previous, sol.Distance)
	} else {
		fmt.Fprintf(w, "Best known for %s/%s remains %d\n", key, sol.Variant, res.Previous)
	}
	if res.Saved {
		fmt.Fprintf(w, "Solution stored as %s\n", gvrp.SolutionFileName(key, sol.Variant))
	}
}

func oneBased(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x + 1)
	}
	return strings.Join(parts, " ")
}
