package dispatch

import (
	"strconv"
	"strings"
	"sync"
)

// The analyzer reports progress on stdout as a strict line protocol:
//
//	PROGRESS: <0-100> <message>
//
// Any line that does not match is opaque log output, never an error.

// ParseProgressLine extracts a progress marker from one stdout line.
func ParseProgressLine(line string) (int, string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), "PROGRESS:")
	if !ok {
		return 0, "", false
	}

	rest = strings.TrimSpace(rest)
	numStr, msg, _ := strings.Cut(rest, " ")

	pct, err := strconv.Atoi(numStr)
	if err != nil || pct < 0 || pct > 100 {
		return 0, "", false
	}

	return pct, strings.TrimSpace(msg), true
}

// Milestone is one step of the synthetic progress sequence emitted
// while the analyzer has not yet reported anything of its own.
type Milestone struct {
	Percent int
	Message string
}

// syntheticMilestones gives viewers a sense of motion on a fixed
// cadence. Real PROGRESS markers supersede these through the guard.
var syntheticMilestones = []Milestone{
	{10, "Validating documents"},
	{25, "Extracting document data"},
	{50, "Running financial analysis"},
	{70, "Building financial models"},
	{85, "Generating reports"},
	{95, "Finalizing output"},
}

// progressGuard keeps the displayed progress monotonic across the
// synthetic timer and the real marker stream.
type progressGuard struct {
	mu   sync.Mutex
	last int
}

// advance reports whether percent moves progress forward, recording it
// when it does.
func (g *progressGuard) advance(percent int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if percent <= g.last {
		return false
	}
	g.last = percent
	return true
}
