package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		// Standard Go format passes through.
		{"hours", "720h", 720 * time.Hour, false},
		{"minutes", "30m", 30 * time.Minute, false},
		{"seconds", "45s", 45 * time.Second, false},
		{"milliseconds", "100ms", 100 * time.Millisecond, false},
		{"combined standard", "1h30m", 90 * time.Minute, false},

		// Days
		{"days short", "30d", 30 * Day, false},
		{"days and hours", "1d12h", 36 * time.Hour, false},
		{"day singular", "1 day", Day, false},
		{"days plural", "30 days", 30 * Day, false},
		{"days no space", "30days", 30 * Day, false},

		// Weeks
		{"weeks short", "2w", 2 * Week, false},
		{"wk abbrev", "2wk", 2 * Week, false},
		{"week singular", "1 week", Week, false},
		{"weeks plural", "2 weeks", 2 * Week, false},

		// Combinations
		{"weeks and days", "1w2d", 9 * Day, false},
		{"full combo short", "1w2d3h4m5s", 9*Day + 3*time.Hour + 4*time.Minute + 5*time.Second, false},
		{"full combo words", "1 week 2 days 3h", 9*Day + 3*time.Hour, false},

		// Case insensitive
		{"uppercase", "30DAYS", 30 * Day, false},
		{"mixed case", "30Days", 30 * Day, false},

		// Word forms of standard units
		{"hours word", "3 hours", 3 * time.Hour, false},
		{"hour singular", "1 hour", time.Hour, false},
		{"mins abbrev", "15 mins", 15 * time.Minute, false},
		{"secs abbrev", "30 secs", 30 * time.Second, false},
		{"mixed full words", "2 hours 30 minutes", 2*time.Hour + 30*time.Minute, false},

		// Zero and negative
		{"zero", "0s", 0, false},
		{"negative days", "-30d", -30 * Day, false},
		{"negative words", "-30 days", -30 * Day, false},

		// Errors
		{"invalid", "invalid", 0, true},
		{"months unsupported", "2mo", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d, "Parse(%q)", tt.input)
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"zero", 0, "0s"},
		{"seconds", 45 * time.Second, "45s"},
		{"minutes", 30 * time.Minute, "30m"},
		{"hours", 12 * time.Hour, "12h"},
		{"one day", Day, "1d"},
		{"days", 3 * Day, "3d"},
		{"one week", Week, "1w"},
		{"weeks and days", 9 * Day, "1w2d"},
		{"weeks days hours", 9*Day + 12*time.Hour, "1w2d12h"},
		{"thirty days", 30 * Day, "4w2d"},
		{"sub-second", 1500 * time.Millisecond, "1s500ms"},
		{"negative days", -3 * Day, "-3d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Format(tt.duration))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	durations := []time.Duration{
		0,
		time.Second,
		time.Minute,
		time.Hour,
		Day,
		Week,
		9 * Day,
		30 * Day,
	}

	for _, d := range durations {
		formatted := Format(d)
		parsed, err := Parse(formatted)
		require.NoError(t, err, "Parse(Format(%v))", d)
		assert.Equal(t, d, parsed, "round trip of %v via %q", d, formatted)
	}
}

func TestParseEquivalence(t *testing.T) {
	equivalents := [][]string{
		{"1d", "1 day", "24h"},
		{"1w", "1 week", "7d", "7 days", "168h"},
		{"2w", "2 weeks", "2wks", "14d", "336h"},
		{"1d12h", "36h"},
		{"1w1d", "1 week 1 day", "8d", "192h"},
	}

	for _, group := range equivalents {
		var expected time.Duration
		for i, s := range group {
			d, err := Parse(s)
			require.NoError(t, err)
			if i == 0 {
				expected = d
				continue
			}
			assert.Equal(t, expected, d, "%q should equal %q", s, group[0])
		}
	}
}
