package model

import (
	"fmt"
	"strings"
	"time"
)

// Core domain types shared by the solver, store, CLI and API.

// Variant selects the cluster constraint a solve runs under.
type Variant string

const (
	Strong Variant = "strong"
	Weak   Variant = "weak"
)

// ParseVariant accepts "strong" or "weak" in any case.
func ParseVariant(s string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(s))) {
	case Strong:
		return Strong, nil
	case Weak:
		return Weak, nil
	}
	return "", fmt.Errorf("unknown variant %q (want strong or weak)", s)
}

// Title is the capitalised form used in solution file names.
func (v Variant) Title() string {
	if v == Weak {
		return "Weak"
	}
	return "Strong"
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Instance is a parsed CluVRP instance. Indices are 0-based and point 0 is
// the depot.
type Instance struct {
	Name     string  `json:"name"`
	Comment  string  `json:"comment,omitempty"`
	N        int     `json:"n"`
	K        int     `json:"k"`
	R        int     `json:"r"`
	Q        int     `json:"q"`
	Points   []Point `json:"points"`
	Clusters [][]int `json:"clusters"`
	Demands  []int   `json:"demands"`
}

// Solution is the variant-neutral description of a set of routes, matching
// the solution file layout. For the strong variant each tour is the
// concatenation of the per-cluster customer orders in route order.
type Solution struct {
	Variant  Variant `json:"variant"`
	Distance int     `json:"distance"`
	Routes   [][]int `json:"routes"`
	Tours    [][]int `json:"tours"`
}

// Webhook event types.
const (
	EventSolutionImproved = "solution.improved"
	EventRunCompleted     = "run.completed"
)

type RunRequest struct {
	Name         string  `json:"name"`
	Instance     string  `json:"instance"`
	Variant      Variant `json:"variant"`
	Iterations   int     `json:"iterations,omitempty"`
	Workers      int     `json:"workers,omitempty"`
	Seed         int64   `json:"seed,omitempty"`
	TimeBudgetMs int     `json:"timeBudgetMs,omitempty"`
	WarmStart    string  `json:"warmStart,omitempty"`
}

type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is the read model for an asynchronous solve.
type Run struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Key          string      `json:"key"`
	Variant      Variant     `json:"variant"`
	Status       RunStatus   `json:"status"`
	Iterations   int         `json:"iterations"`
	Completed    int         `json:"completed"`
	BestDistance int         `json:"bestDistance,omitempty"`
	Solution     *Solution   `json:"solution,omitempty"`
	Metrics      *RunMetrics `json:"metrics,omitempty"`
	Error        string      `json:"error,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	FinishedAt   *time.Time  `json:"finishedAt,omitempty"`
}

// RunMetrics summarises one finished solve.
type RunMetrics struct {
	RunID            string         `json:"runId"`
	Key              string         `json:"key"`
	Variant          Variant        `json:"variant"`
	Iterations       int            `json:"iterations"`
	Improvements     int            `json:"improvements"`
	InitialDistance  int            `json:"initialDistance"`
	BestDistance     int            `json:"bestDistance"`
	ElapsedMs        int64          `json:"elapsedMs"`
	Stopped          bool           `json:"stopped"`
	MoveImprovements map[string]int `json:"moveImprovements,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

type LedgerEntry struct {
	Key      string  `json:"key"`
	Variant  Variant `json:"variant"`
	Distance int     `json:"distance"`
}

type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}
