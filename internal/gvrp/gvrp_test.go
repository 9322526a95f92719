package gvrp

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cluvrp/internal/model"
	"cluvrp/internal/opt"
)

const sample = `NAME : A-n6-k2
COMMENT : hand made
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

func TestParse(t *testing.T) {
	inst, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	want := model.Instance{
		Name: "A-n6-k2", Comment: "hand made",
		N: 6, K: 2, R: 3, Q: 10,
		Points: []model.Point{{X: 0, Y: 0}, {X: 3, Y: 4}, {X: 6, Y: 8}, {X: -3, Y: 4}, {X: -6, Y: 8}, {X: 0, Y: 10}},
		Clusters: [][]int{{1, 2}, {3, 4}, {5}},
		Demands:  []int{4, 5, 3},
	}
	if diff := cmp.Diff(want, inst); diff != "" {
		t.Fatalf("instance mismatch (-want +got):\n%s", diff)
	}
	_, err = opt.NewProblem(inst)
	require.NoError(t, err)
}

func TestParseRejectsMalformedInput(t *testing.T) {
	cases := map[string]struct {
		input string
		line  int
	}{
		"truncated coordinates": {strings.Split(sample, "4 -3 4")[0], 0},
		"missing terminator":    {strings.Replace(sample, "1 2 3 -1", "1 2 3", 1), 16},
		"customer out of range": {strings.Replace(sample, "3 6 -1", "3 9 -1", 1), 18},
		"bad coordinate":        {strings.Replace(sample, "2 3 4", "2 three 4", 1), 10},
		"bad capacity":          {strings.Replace(sample, "CAPACITY : 10", "CAPACITY : ten", 1), 6},
		"edge weight type":      {strings.Replace(sample, "EUC_2D", "GEO", 1), 7},
		"extra demand":          {strings.Replace(sample, "3 3\nEOF", "3 3\n4 1\nEOF", 1), 23},
		"missing header":        {strings.Replace(sample, "VEHICLES : 2\n", "", 1), 22},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.input))
			require.Error(t, err)
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "got %T", err)
			assert.Equal(t, tc.line, pe.Line)
			assert.ErrorIs(t, err, opt.ErrInvalidInstance)
		})
	}
}

func TestParseFileAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "B-n6-k2.gvrp")
	noName := strings.Replace(sample, "NAME : A-n6-k2\n", "", 1)
	require.NoError(t, os.WriteFile(path, []byte(noName), 0o644))

	inst, p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "B-n6-k2", inst.Name)
	assert.Equal(t, 2, p.K)
	assert.Equal(t, "B", LedgerKey(path))

	_, _, err = Load(filepath.Join(dir, "missing.gvrp"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, IsParseError(err))
}

func TestSolutionRoundTrip(t *testing.T) {
	sol := model.Solution{
		Variant:  model.Strong,
		Distance: 42,
		Routes:   [][]int{{0, 2}, {1}},
		Tours:    [][]int{{1, 2, 5}, {4, 3}},
	}
	text := FormatSolution(sol)
	assert.Equal(t, "42\n1 3\n2 3 6\n2\n5 4\n", text)

	back, err := ReadSolution(strings.NewReader(text+"\n\n"), model.Strong)
	require.NoError(t, err)
	assert.Equal(t, sol, back)
}

func TestReadSolutionErrors(t *testing.T) {
	for name, input := range map[string]string{
		"empty":         "",
		"bad distance":  "x\n1\n2\n",
		"odd lines":     "10\n1 2\n",
		"zero id":       "10\n0\n1\n",
		"only distance": "10\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ReadSolution(strings.NewReader(input), model.Weak)
			assert.True(t, IsParseError(err), "got %v", err)
		})
	}
}

func TestSolutionFileName(t *testing.T) {
	assert.Equal(t, "A_StrongSolution.txt", SolutionFileName("A", model.Strong))
	assert.Equal(t, "C_WeakSolution.txt", SolutionFileName("C", model.Weak))
}

func TestLoadedSolutionFeedsTheSolver(t *testing.T) {
	inst, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	p, err := opt.NewProblem(inst)
	require.NoError(t, err)
	rec, err := ReadSolution(strings.NewReader("0\n1 3\n2 3 6\n2\n4 5\n"), model.Strong)
	require.NoError(t, err)
	s, err := opt.StrongFromRecord(p, rec)
	require.NoError(t, err)
	assert.Equal(t, s.Evaluate(p), s.Distance)
}
