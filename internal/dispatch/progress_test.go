package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantPercent int
		wantMessage string
		wantOK      bool
	}{
		{
			name:        "marker with message",
			line:        "PROGRESS: 42 Crunching numbers",
			wantPercent: 42,
			wantMessage: "Crunching numbers",
			wantOK:      true,
		},
		{
			name:        "marker without message",
			line:        "PROGRESS: 100",
			wantPercent: 100,
			wantMessage: "",
			wantOK:      true,
		},
		{
			name:        "leading whitespace",
			line:        "  PROGRESS: 5 Starting",
			wantPercent: 5,
			wantMessage: "Starting",
			wantOK:      true,
		},
		{
			name:   "plain log line",
			line:   "loaded rent roll with 240 units",
			wantOK: false,
		},
		{
			name:   "percent out of range",
			line:   "PROGRESS: 150 Overachieving",
			wantOK: false,
		},
		{
			name:   "negative percent",
			line:   "PROGRESS: -3 Backwards",
			wantOK: false,
		},
		{
			name:   "non-numeric percent",
			line:   "PROGRESS: soon Almost there",
			wantOK: false,
		},
		{
			name:   "empty line",
			line:   "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			percent, message, ok := ParseProgressLine(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantPercent, percent)
				assert.Equal(t, tt.wantMessage, message)
			}
		})
	}
}

func TestProgressGuard_Monotonic(t *testing.T) {
	guard := &progressGuard{}

	assert.True(t, guard.advance(10))
	assert.True(t, guard.advance(42))
	assert.False(t, guard.advance(25), "stale percent must not move progress backwards")
	assert.False(t, guard.advance(42), "repeated percent is not an advance")
	assert.True(t, guard.advance(100))
}
