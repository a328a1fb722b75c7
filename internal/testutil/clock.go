package testutil

import (
	"strconv"
	"sync"
	"time"
)

// Epoch is the instant every test clock starts at.
var Epoch = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// StubClock is a manual clock. When step is non-zero every Now call
// moves it forward by step, so successive records get ordered, distinct
// times. Safe for concurrent use.
type StubClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewStubClock creates a StubClock that starts at t and advances step per read.
func NewStubClock(t time.Time, step time.Duration) *StubClock {
	return &StubClock{now: t, step: step}
}

// FixedClock always reports Epoch.
func FixedClock() *StubClock {
	return NewStubClock(Epoch, 0)
}

// TickingClock starts at Epoch and moves one second per read.
func TickingClock() *StubClock {
	return NewStubClock(Epoch, time.Second)
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// StubIDGenerator hands out "<prefix>-1", "<prefix>-2", ...
type StubIDGenerator struct {
	mu     sync.Mutex
	prefix string
	issued int
}

// NewStubIDGenerator creates a generator with the "id" prefix.
func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{prefix: "id"}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.issued++
	return g.prefix + "-" + strconv.Itoa(g.issued)
}
