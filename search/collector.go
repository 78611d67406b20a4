package search

import "sync/atomic"

// Collector receives search progress events from the driver.
type Collector interface {
	RunStarted()
	// RunFinished reports a run that trained to completion or early stop,
	// with the number of epochs it ran.
	RunFinished(epochs int)
	RunFailed()
}

// NoopCollector discards all events.
type NoopCollector struct{}

func (NoopCollector) RunStarted() {}

func (NoopCollector) RunFinished(int) {}

func (NoopCollector) RunFailed() {}

// BasicCollector tallies search progress with atomic counters, so totals
// can be read from another goroutine while a search is running.
type BasicCollector struct {
	runsStarted  atomic.Int64
	runsFinished atomic.Int64
	runsFailed   atomic.Int64
	epochsRun    atomic.Int64
}

func (c *BasicCollector) RunStarted() { c.runsStarted.Add(1) }

func (c *BasicCollector) RunFinished(epochs int) {
	c.runsFinished.Add(1)
	c.epochsRun.Add(int64(epochs))
}

func (c *BasicCollector) RunFailed() { c.runsFailed.Add(1) }

// RunsStarted returns the number of runs the driver has begun.
func (c *BasicCollector) RunsStarted() int64 { return c.runsStarted.Load() }

// RunsFinished returns the number of runs that completed or early-stopped.
func (c *BasicCollector) RunsFinished() int64 { return c.runsFinished.Load() }

// RunsFailed returns the number of runs that errored.
func (c *BasicCollector) RunsFailed() int64 { return c.runsFailed.Load() }

// EpochsRun returns the total epochs across all finished runs.
func (c *BasicCollector) EpochsRun() int64 { return c.epochsRun.Load() }
