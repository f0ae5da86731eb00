package trap_test

import (
	"testing"
	"time"

	"github.com/echotrap/echotrap/trap"
)

func TestTimevalFromDuration(t *testing.T) {
	tests := []struct {
		name     string
		d        time.Duration
		expected trap.Timeval
	}{
		{
			name:     "whole seconds",
			d:        2 * time.Second,
			expected: trap.Timeval{Sec: 2, Usec: 0},
		},
		{
			name:     "seconds and micros split",
			d:        2500 * time.Millisecond,
			expected: trap.Timeval{Sec: 2, Usec: 500_000},
		},
		{
			name:     "sub-second only",
			d:        250 * time.Microsecond,
			expected: trap.Timeval{Sec: 0, Usec: 250},
		},
		{
			name:     "sub-microsecond truncates",
			d:        1500 * time.Nanosecond,
			expected: trap.Timeval{Sec: 0, Usec: 1},
		},
		{
			name:     "zero",
			d:        0,
			expected: trap.Timeval{Sec: 0, Usec: 0},
		},
		{
			name:     "negative collapses to zero",
			d:        -time.Second,
			expected: trap.Timeval{Sec: 0, Usec: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trap.TimevalFromDuration(tt.d); got != tt.expected {
				t.Errorf("TimevalFromDuration() = %+v, expected %+v", got, tt.expected)
			}
		})
	}
}

func TestTimevalDuration(t *testing.T) {
	tv := trap.Timeval{Sec: 3, Usec: 250_000}

	if got := tv.Duration(); got != 3250*time.Millisecond {
		t.Errorf("Duration() = %v, expected %v", got, 3250*time.Millisecond)
	}
}
