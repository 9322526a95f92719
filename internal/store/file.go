package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"cluvrp/internal/gvrp"
	"cluvrp/internal/model"
)

// SeedKeys are the ledger keys a fresh ledger file starts with.
const SeedKeys = "ABCDEFGHIJK"

// File keeps the ledger and best solutions as plain text files in a
// directory: best_we_found_<variant>.txt holds one "<key> <distance>" line
// per key, and <key>_<Variant>Solution.txt the solution itself. Everything
// else lives in memory.
type File struct {
	*Memory
	dir string
	mu  sync.Mutex
}

func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &File{Memory: NewMemory(), dir: dir}, nil
}

func (f *File) Dir() string { return f.dir }

func (f *File) ledgerPath(v model.Variant) string {
	return filepath.Join(f.dir, "best_we_found_"+string(v)+".txt")
}

// readLedger loads the ledger for v, creating it seeded with SeedKeys at
// DefaultBestDistance when missing. Keys keep their file order.
func (f *File) readLedger(v model.Variant) ([]model.LedgerEntry, error) {
	path := f.ledgerPath(v)
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		var seeded []model.LedgerEntry
		for _, k := range SeedKeys {
			seeded = append(seeded, model.LedgerEntry{Key: string(k), Variant: v, Distance: DefaultBestDistance})
		}
		if err := f.writeLedger(v, seeded); err != nil {
			return nil, err
		}
		return seeded, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()
	var out []model.LedgerEntry
	sc := bufio.NewScanner(file)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s:%d: want \"<key> <distance>\"", path, line)
		}
		d, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, model.LedgerEntry{Key: fields[0], Variant: v, Distance: d})
	}
	return out, sc.Err()
}

func (f *File) writeLedger(v model.Variant, entries []model.LedgerEntry) error {
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "%s %d\n", e.Key, e.Distance)
	}
	return writeAtomic(f.ledgerPath(v), []byte(sb.String()))
}

// writeAtomic replaces path through a temporary file in the same directory.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (f *File) BestDistance(ctx context.Context, key string, v model.Variant) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.readLedger(v)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Key == key {
			return e.Distance, nil
		}
	}
	return DefaultBestDistance, nil
}

func (f *File) RecordBest(ctx context.Context, key string, v model.Variant, distance int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.readLedger(v)
	if err != nil {
		return false, err
	}
	idx := -1
	for i, e := range entries {
		if e.Key == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		entries = append(entries, model.LedgerEntry{Key: key, Variant: v, Distance: DefaultBestDistance})
		idx = len(entries) - 1
	}
	if distance >= entries[idx].Distance {
		return false, nil
	}
	entries[idx].Distance = distance
	if err := f.writeLedger(v, entries); err != nil {
		return false, err
	}
	logrus.WithFields(logrus.Fields{"key": key, "variant": v, "best": distance}).Info("new best result found")
	return true, nil
}

func (f *File) ListBest(ctx context.Context, v model.Variant) ([]model.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	variants := []model.Variant{model.Strong, model.Weak}
	if v != "" {
		variants = []model.Variant{v}
	}
	out := []model.LedgerEntry{}
	for _, vv := range variants {
		entries, err := f.readLedger(vv)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	sortLedger(out)
	return out, nil
}

func (f *File) solutionPath(key string, v model.Variant) string {
	return filepath.Join(f.dir, gvrp.SolutionFileName(key, v))
}

func (f *File) readSolution(key string, v model.Variant) (model.Solution, error) {
	file, err := os.Open(f.solutionPath(key, v))
	if errors.Is(err, os.ErrNotExist) {
		return model.Solution{}, ErrNotFound
	}
	if err != nil {
		return model.Solution{}, err
	}
	defer file.Close()
	return gvrp.ReadSolution(file, v)
}

// SaveSolution writes sol when no solution file exists for key or the stored
// one is longer.
func (f *File) SaveSolution(ctx context.Context, key string, sol model.Solution) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, err := f.readSolution(key, sol.Variant)
	switch {
	case err == nil && sol.Distance >= cur.Distance:
		return false, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return false, err
	}
	if err := writeAtomic(f.solutionPath(key, sol.Variant), []byte(gvrp.FormatSolution(sol))); err != nil {
		return false, err
	}
	return true, nil
}

func (f *File) GetSolution(ctx context.Context, key string, v model.Variant) (model.Solution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readSolution(key, v)
}
