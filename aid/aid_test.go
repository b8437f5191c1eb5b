package aid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in   string
		want int64 // milliseconds
	}{
		{"1 day", 86400000},
		{"7 days", 604800000},
		{"30 days", 2592000000},
		{"2 days", 2 * 86400000},
		{"3 hours", 3 * 3600000},
		{"1 hour", 3600000},
		{"45 minutes", 45 * 60000},
		{"1 minute", 60000},
		{"12hours", 12 * 3600000},
		{"banana", 86400000},
		{"", 86400000},
		{"5 weeks", 86400000},
		{"99999999999999999999 days", 86400000},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseInterval(tt.in).Milliseconds())
		})
	}
}

func TestLowerBound_Boundary(t *testing.T) {
	now := time.UnixMilli(Epoch + 2821109907456) // Epoch + 36^8
	got := LowerBound("1 day", now)

	assert.Len(t, got, 10)
	assert.Equal(t, "zzykk5c000", got)
	assert.Equal(t, got, LowerBound("1 day", now), "must be deterministic")
}

func TestLowerBound_Recent(t *testing.T) {
	now := time.UnixMilli(1760000000000)

	assert.Equal(t, "admqvcow00", LowerBound("1 minute", now.Add(time.Minute)))
	assert.Equal(t, "adcqse0w00", LowerBound("7 days", now))
	assert.Less(t, LowerBound("7 days", now), LowerBound("1 day", now))
}

func TestEncodeTime(t *testing.T) {
	assert.Equal(t, "00000000", EncodeTime(time.UnixMilli(Epoch)))
	assert.Equal(t, "0000000a", EncodeTime(time.UnixMilli(Epoch+10)))
	assert.Equal(t, "100000000", EncodeTime(time.UnixMilli(Epoch+2821109907456)))
	// pre-2000 instants keep the sign, padded on the left
	assert.Equal(t, "000000-5", EncodeTime(time.UnixMilli(Epoch-5)))
}
