package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cluvrp/internal/gvrp"
	"cluvrp/internal/model"
)

const sampleInstance = `NAME : A-n6-k2
DIMENSION : 6
VEHICLES : 2
GVRP_SETS : 3
CAPACITY : 10
EDGE_WEIGHT_TYPE : EUC_2D
NODE_COORD_SECTION
1 0 0
2 3 4
3 6 8
4 -3 4
5 -6 8
6 0 10
GVRP_SET_SECTION
1 2 3 -1
2 4 5 -1
3 6 -1
DEMAND_SECTION
1 4
2 5
3 3
EOF
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeInstance(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "A-n6-k2.gvrp")
	require.NoError(t, os.WriteFile(path, []byte(sampleInstance), 0o644))
	return path
}

func TestSolveStrongWritesLedgerAndSolution(t *testing.T) {
	dir := t.TempDir()
	inst := writeInstance(t, dir)

	out, err := execute(t, "solve", "strong", "--instance", inst, "--dir", dir,
		"--iterations", "5", "--seed", "7", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "of the Strong variant has distance:")
	assert.Contains(t, out, "Vehicle 1: ")
	assert.Contains(t, out, "Vehicle 2: ")
	assert.Contains(t, out, "Tour: |")
	assert.Contains(t, out, "New best result found! Ledger A/strong: 10000 -> ")

	f, err := os.Open(filepath.Join(dir, gvrp.SolutionFileName("A", model.Strong)))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	sol, err := gvrp.ReadSolution(f, model.Strong)
	require.NoError(t, err)
	assert.Contains(t, out, "has distance:\n"+strconv.Itoa(sol.Distance)+"\n")
	assert.Len(t, sol.Routes, 2)

	out, err = execute(t, "ledger", "show", "--variant", "strong", "--dir", dir, "--log-level", "error")
	require.NoError(t, err)
	var found bool
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 3 && fields[0] == "A" {
			found = true
			assert.Equal(t, []string{"A", "strong", strconv.Itoa(sol.Distance)}, fields)
		}
	}
	assert.True(t, found, out)
}

func TestSolveAgainKeepsLedger(t *testing.T) {
	dir := t.TempDir()
	inst := writeInstance(t, dir)
	args := []string{"solve", "strong", "--instance", inst, "--dir", dir, "--iterations", "3", "--seed", "11", "--log-level", "error"}
	_, err := execute(t, args...)
	require.NoError(t, err)
	out, err := execute(t, args...)
	require.NoError(t, err)
	assert.Contains(t, out, "Best known for A/strong remains")
}

func TestSolveWeakFromWarmStart(t *testing.T) {
	dir := t.TempDir()
	inst := writeInstance(t, dir)
	_, err := execute(t, "solve", "strong", "--instance", inst, "--dir", dir, "--iterations", "3", "--seed", "5", "--log-level", "error")
	require.NoError(t, err)

	warm := filepath.Join(dir, gvrp.SolutionFileName("A", model.Strong))
	out, err := execute(t, "solve", "weak", "--instance", inst, "--dir", dir,
		"--iterations", "3", "--seed", "5", "--warm-start", warm, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "of the Weak variant has distance:")
	_, err = os.Stat(filepath.Join(dir, gvrp.SolutionFileName("A", model.Weak)))
	assert.NoError(t, err)
}

func TestSolveErrors(t *testing.T) {
	dir := t.TempDir()
	inst := writeInstance(t, dir)
	cases := []struct {
		name string
		args []string
	}{
		{"missing instance", []string{"solve", "strong", "--dir", dir}},
		{"unknown file", []string{"solve", "strong", "--instance", filepath.Join(dir, "nope.gvrp"), "--dir", dir}},
		{"bad store", []string{"solve", "strong", "--instance", inst, "--store", "s3"}},
		{"bad log level", []string{"solve", "strong", "--instance", inst, "--dir", dir, "--log-level", "loud"}},
		{"warm start on strong", []string{"solve", "strong", "--instance", inst, "--dir", dir, "--warm-start", inst}},
		{"bad variant filter", []string{"ledger", "show", "--variant", "medium", "--dir", dir}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, tc.args...)
			assert.Error(t, err)
		})
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "cluvrp dev"), out)
}
