package capture

import (
	"fmt"
	"time"
)

// Cadence is the fixed segment and elapsed-counter interval.
const Cadence = time.Second

// Segment is one cadence tick of encoded output. Data is never modified after emission.
type Segment struct {
	Sequence   int
	SessionID  string
	Data       []byte
	MimeType   string
	CapturedAt time.Time
}

// Size returns the encoded byte count.
func (s Segment) Size() int {
	return len(s.Data)
}

// Summary describes a session at the moment it was stopped.
type Summary struct {
	SessionID string
	Duration  int
	Segments  int
	Bytes     int64
}

// FormatTime renders whole seconds as HH:MM:SS. Hours are not wrapped.
func FormatTime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}
