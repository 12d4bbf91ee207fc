package cost

import "testing"

func TestCounter(t *testing.T) {
	var c Counter
	c.Charge(1)
	c.Charge(2)
	if got := c.Count(); got != 3 {
		t.Fatalf("Count() = %d, want 3", got)
	}
	c.Reset()
	if got := c.Count(); got != 0 {
		t.Errorf("Count() after Reset = %d, want 0", got)
	}
}

func TestLimiter(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		count     int
		exceeded  bool
		remaining int
	}{
		{"disabled", 0, 1000, false, -1},
		{"under", 10, 4, false, 6},
		{"at threshold", 10, 10, false, 0},
		{"over", 10, 11, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := Limiter{Threshold: tt.threshold}
			if got := l.Exceeded(tt.count); got != tt.exceeded {
				t.Errorf("Exceeded(%d) = %v, want %v", tt.count, got, tt.exceeded)
			}
			if got := l.Remaining(tt.count); got != tt.remaining {
				t.Errorf("Remaining(%d) = %d, want %d", tt.count, got, tt.remaining)
			}
		})
	}
}
