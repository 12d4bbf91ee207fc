// Package cost accounts for the condition count of a rule run.
//
// The evaluator charges a Counter for comparisons, keyword operators and
// uncached function calls. It never stops on its own; callers compare the
// count against a Limiter after each rule.
package cost

// Counter is a monotonically increasing condition count owned by one run.
// It is not safe for concurrent use.
type Counter struct {
	n int
}

// Charge adds n units.
func (c *Counter) Charge(n int) {
	c.n += n
}

// Count returns the units charged since the last Reset.
func (c *Counter) Count() int {
	return c.n
}

// Reset sets the count back to zero.
func (c *Counter) Reset() {
	c.n = 0
}

// Limiter is a caller-side threshold policy. A zero Threshold disables it.
type Limiter struct {
	Threshold int
}

// Exceeded reports whether count is over the threshold.
func (l Limiter) Exceeded(count int) bool {
	return l.Threshold > 0 && count > l.Threshold
}

// Remaining returns how many units may still be charged before the
// threshold is crossed, or -1 when the limiter is disabled.
func (l Limiter) Remaining(count int) int {
	if l.Threshold <= 0 {
		return -1
	}
	if count >= l.Threshold {
		return 0
	}
	return l.Threshold - count
}
