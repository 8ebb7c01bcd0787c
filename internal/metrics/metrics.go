package metrics

import (
	"sync"
	"sync/atomic"
)

// counterSet is a thread-safe set of named counters plus a running total.
type counterSet struct {
	total uint64
	mu    sync.Mutex
	byKey map[string]uint64
}

func (c *counterSet) inc(key string) {
	atomic.AddUint64(&c.total, 1)
	c.mu.Lock()
	if c.byKey == nil {
		c.byKey = make(map[string]uint64)
	}
	c.byKey[key]++
	c.mu.Unlock()
}

func (c *counterSet) snapshot() (uint64, map[string]uint64) {
	total := atomic.LoadUint64(&c.total)
	c.mu.Lock()
	defer c.mu.Unlock()
	by := make(map[string]uint64, len(c.byKey))
	for k, v := range c.byKey {
		by[k] = v
	}
	return total, by
}

var (
	dispatches   counterSet // keyed by outcome: ok, unauthenticated, tenant_missing, store_error
	ruleOutcomes counterSet // keyed by SUCCESS / FAILED / SKIPPED
	rlDrops      counterSet // keyed by limiter key prefix
)

// IncDispatch counts one dispatch call by outcome.
func IncDispatch(outcome string) {
	if outcome == "" {
		outcome = "ok"
	}
	dispatches.inc(outcome)
}

// IncRuleOutcome counts one evaluated rule by execution status.
func IncRuleOutcome(status string) {
	ruleOutcomes.inc(status)
}

// IncRateLimitDrop increments drop counters for the given prefix.
// Use prefix "global" for global limiter rejections.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	rlDrops.inc(prefix)
}

// AutomationSnapshot is a point-in-time copy of the automation counters.
type AutomationSnapshot struct {
	Dispatches      uint64            `json:"dispatches"`
	DispatchOutcome map[string]uint64 `json:"dispatch_outcome"`
	Rules           uint64            `json:"rules"`
	RuleOutcome     map[string]uint64 `json:"rule_outcome"`
}

func Automation() AutomationSnapshot {
	dt, dby := dispatches.snapshot()
	rt, rby := ruleOutcomes.snapshot()
	return AutomationSnapshot{Dispatches: dt, DispatchOutcome: dby, Rules: rt, RuleOutcome: rby}
}

// RateLimitSnapshot returns a copy of the current drop counters.
func RateLimitSnapshot() (total uint64, by map[string]uint64) {
	return rlDrops.snapshot()
}

func (c *counterSet) reset() {
	c.mu.Lock()
	atomic.StoreUint64(&c.total, 0)
	c.byKey = nil
	c.mu.Unlock()
}

// Reset clears every counter. Intended for tests.
func Reset() {
	dispatches.reset()
	ruleOutcomes.reset()
	rlDrops.reset()
}
