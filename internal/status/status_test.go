package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"rollcall/internal/model"
)

func TestDetermine(t *testing.T) {
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		checkIn        time.Time
		lateThreshold  int
		earlyThreshold int
		want           model.Status
	}{
		{
			name:           "before start is present",
			checkIn:        start.Add(-10 * time.Minute),
			lateThreshold:  15,
			earlyThreshold: 15,
			want:           model.StatusPresent,
		},
		{
			name:           "exactly on start is excused",
			checkIn:        start,
			lateThreshold:  15,
			earlyThreshold: 15,
			want:           model.StatusExcused,
		},
		{
			name:           "inside the late threshold is excused",
			checkIn:        start.Add(5 * time.Minute),
			lateThreshold:  15,
			earlyThreshold: 15,
			want:           model.StatusExcused,
		},
		{
			name:           "past the late threshold with early threshold set is left_early",
			checkIn:        start.Add(30 * time.Minute),
			lateThreshold:  15,
			earlyThreshold: 15,
			want:           model.StatusLeftEarly,
		},
		{
			name:           "past the late threshold without early threshold is late",
			checkIn:        start.Add(30 * time.Minute),
			lateThreshold:  15,
			earlyThreshold: 0,
			want:           model.StatusLate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Determine(tt.checkIn, start, tt.lateThreshold, tt.earlyThreshold)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetermineIsPure(t *testing.T) {
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	checkIn := start.Add(5 * time.Minute)
	first := Determine(checkIn, start, 15, 15)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Determine(checkIn, start, 15, 15))
	}
}
