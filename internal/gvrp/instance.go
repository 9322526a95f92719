// Package gvrp reads GVRP instance files and reads and writes the solution
// files produced by the solvers.
package gvrp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cluvrp/internal/model"
	"cluvrp/internal/opt"
)

// ParseError reports malformed input. Line is 1-based; 0 means the problem
// was found at end of input.
type ParseError struct {
	Line int
	Msg  string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("gvrp: line %d: %s", e.Line, e.Msg)
	}
	return "gvrp: " + e.Msg
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErr(line int, format string, args ...any) *ParseError {
	return &ParseError{Line: line, Msg: fmt.Sprintf(format, args...), Err: opt.ErrInvalidInstance}
}

const (
	sectionNone = iota
	sectionCoords
	sectionSets
	sectionDemands
)

// ParseFile parses the instance at path. The instance name falls back to the
// file's base name when the NAME header is absent.
func ParseFile(path string) (model.Instance, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Instance{}, err
	}
	defer f.Close()
	inst, err := Parse(f)
	if err != nil {
		return model.Instance{}, fmt.Errorf("%s: %w", path, err)
	}
	if inst.Name == "" {
		inst.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return inst, nil
}

// Parse reads an instance in GVRP format: a header of "KEY : value" lines
// followed by NODE_COORD_SECTION, GVRP_SET_SECTION and DEMAND_SECTION. Set
// lines list 1-based customers terminated by -1; the returned instance is
// 0-based with the depot at index 0.
func Parse(r io.Reader) (model.Instance, error) {
	var inst model.Instance
	headers := map[string]bool{}
	section := sectionNone
	lineNo := 0
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch strings.ToUpper(fields[0]) {
		case "EOF":
			return finish(inst, headers, lineNo)
		case "NODE_COORD_SECTION":
			if !headers["DIMENSION"] {
				return inst, parseErr(lineNo, "NODE_COORD_SECTION before DIMENSION")
			}
			section = sectionCoords
			continue
		case "GVRP_SET_SECTION":
			if !headers["GVRP_SETS"] {
				return inst, parseErr(lineNo, "GVRP_SET_SECTION before GVRP_SETS")
			}
			section = sectionSets
			continue
		case "DEMAND_SECTION":
			if !headers["GVRP_SETS"] {
				return inst, parseErr(lineNo, "DEMAND_SECTION before GVRP_SETS")
			}
			section = sectionDemands
			continue
		}

		if key, value, ok := header(line); ok && section == sectionNone {
			if err := applyHeader(&inst, key, value, lineNo); err != nil {
				return inst, err
			}
			headers[key] = true
			continue
		}

		switch section {
		case sectionCoords:
			if len(inst.Points) == inst.N {
				return inst, parseErr(lineNo, "more than %d coordinates", inst.N)
			}
			if len(fields) < 3 {
				return inst, parseErr(lineNo, "want \"id x y\", got %q", line)
			}
			x, errX := strconv.Atoi(fields[1])
			y, errY := strconv.Atoi(fields[2])
			if errX != nil || errY != nil {
				return inst, parseErr(lineNo, "bad coordinates %q", line)
			}
			inst.Points = append(inst.Points, model.Point{X: x, Y: y})
		case sectionSets:
			if len(inst.Clusters) == inst.R {
				return inst, parseErr(lineNo, "more than %d sets", inst.R)
			}
			set, err := parseSet(fields, inst.N, lineNo)
			if err != nil {
				return inst, err
			}
			inst.Clusters = append(inst.Clusters, set)
		case sectionDemands:
			if len(inst.Demands) == inst.R {
				return inst, parseErr(lineNo, "more than %d demands", inst.R)
			}
			d, err := strconv.Atoi(fields[len(fields)-1])
			if err != nil {
				return inst, parseErr(lineNo, "bad demand %q", line)
			}
			if d < 0 {
				return inst, parseErr(lineNo, "negative demand %d", d)
			}
			inst.Demands = append(inst.Demands, d)
		default:
			return inst, parseErr(lineNo, "unexpected line %q", line)
		}
	}
	if err := sc.Err(); err != nil {
		return inst, &ParseError{Line: lineNo, Msg: err.Error(), Err: err}
	}
	return finish(inst, headers, 0)
}

// header splits "KEY : value". The value is the last token, except for
// NAME and COMMENT which keep everything after the colon.
func header(line string) (key, value string, ok bool) {
	k, rest, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	key = strings.ToUpper(strings.TrimSpace(k))
	if strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	rest = strings.TrimSpace(rest)
	switch key {
	case "NAME", "COMMENT":
		return key, rest, true
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return key, "", true
	}
	return key, fields[len(fields)-1], true
}

func applyHeader(inst *model.Instance, key, value string, line int) error {
	num := func() (int, error) {
		v, err := strconv.Atoi(value)
		if err != nil || v < 0 {
			return 0, parseErr(line, "%s: want a non-negative integer, got %q", key, value)
		}
		return v, nil
	}
	var err error
	switch key {
	case "NAME":
		inst.Name = value
	case "COMMENT":
		inst.Comment = value
	case "DIMENSION":
		inst.N, err = num()
	case "VEHICLES":
		inst.K, err = num()
	case "GVRP_SETS":
		inst.R, err = num()
	case "CAPACITY":
		inst.Q, err = num()
	case "EDGE_WEIGHT_TYPE":
		if !strings.EqualFold(value, "EUC_2D") {
			return parseErr(line, "unsupported edge weight type %q", value)
		}
	case "TYPE":
	default:
		return parseErr(line, "unknown header %q", key)
	}
	return err
}

func parseSet(fields []string, n, line int) ([]int, error) {
	if len(fields) < 2 || fields[len(fields)-1] != "-1" {
		return nil, parseErr(line, "set line must end with -1")
	}
	members := make([]int, 0, len(fields)-2)
	for _, f := range fields[1 : len(fields)-1] {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, parseErr(line, "bad customer %q", f)
		}
		if v < 2 || v > n {
			return nil, parseErr(line, "customer %d outside 2..%d", v, n)
		}
		members = append(members, v-1)
	}
	if len(members) == 0 {
		return nil, parseErr(line, "empty set")
	}
	return members, nil
}

func finish(inst model.Instance, headers map[string]bool, line int) (model.Instance, error) {
	for _, h := range []string{"DIMENSION", "VEHICLES", "GVRP_SETS", "CAPACITY"} {
		if !headers[h] {
			return inst, parseErr(line, "missing %s header", h)
		}
	}
	switch {
	case len(inst.Points) != inst.N:
		return inst, parseErr(line, "truncated: %d of %d coordinates", len(inst.Points), inst.N)
	case len(inst.Clusters) != inst.R:
		return inst, parseErr(line, "truncated: %d of %d sets", len(inst.Clusters), inst.R)
	case len(inst.Demands) != inst.R:
		return inst, parseErr(line, "truncated: %d of %d demands", len(inst.Demands), inst.R)
	}
	return inst, nil
}

// Load parses an instance and builds the solver view of it.
func Load(path string) (model.Instance, *opt.Problem, error) {
	inst, err := ParseFile(path)
	if err != nil {
		return inst, nil, err
	}
	p, err := opt.NewProblem(inst)
	if err != nil {
		return inst, nil, fmt.Errorf("%s: %w", path, err)
	}
	return inst, p, nil
}

// LedgerKey is the ledger entry an instance file records under: the first
// character of its base name.
func LedgerKey(path string) string {
	base := filepath.Base(path)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return ""
	}
	return base[:1]
}

// IsParseError reports whether err carries a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
