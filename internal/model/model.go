// Package model defines core data structures for zppscan.
package model

import (
	"fmt"
	"sync/atomic"
)

// Location is a position in a source file. Line and Column are 1-based.
type Location struct {
	File   string
	Line   int
	Column int
}

func (l Location) String() string {
	return fmt.Sprintf("%s (%d:%d)", l.File, l.Line, l.Column)
}

// FunctionReport holds the distinct format strings one function passes to
// the sentinel. Formats is sorted and never contains the empty string.
type FunctionReport struct {
	Name     string
	Location Location
	Formats  []string
}

// FileReport is the scan result for a single translation unit.
type FileReport struct {
	Path      string
	Functions []FunctionReport

	// VariableArgs counts sentinel calls whose format argument was not a
	// string literal.
	VariableArgs int

	// MalformedCalls counts sentinel calls whose shape did not expose a
	// format argument at all.
	MalformedCalls int
}

// RunCounters are process-wide accumulators. All fields are safe for
// concurrent use.
type RunCounters struct {
	FilesProcessed   atomic.Int64
	FilesFailed      atomic.Int64
	FunctionsMatched atomic.Int64
	VariableArgs     atomic.Int64
	MalformedCalls   atomic.Int64
}

// CounterSnapshot is a point-in-time copy of RunCounters.
type CounterSnapshot struct {
	FilesProcessed   int64
	FilesFailed      int64
	FunctionsMatched int64
	VariableArgs     int64
	MalformedCalls   int64
}

// Snapshot returns the current counter values.
func (c *RunCounters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		FilesProcessed:   c.FilesProcessed.Load(),
		FilesFailed:      c.FilesFailed.Load(),
		FunctionsMatched: c.FunctionsMatched.Load(),
		VariableArgs:     c.VariableArgs.Load(),
		MalformedCalls:   c.MalformedCalls.Load(),
	}
}
