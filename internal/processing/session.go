package processing

import (
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/glucose.report/internal/continuity"
)

// Session is the state kept for one physical sensor between Process calls. A
// new session starts whenever the serial number changes.
type Session struct {
	ID        uuid.UUID
	Serial    string
	StartedAt time.Time

	previous continuity.Buffer
}

func newSession(serial string, now time.Time) *Session {
	return &Session{
		ID:        uuid.New(),
		Serial:    serial,
		StartedAt: now,
	}
}

// Previous returns the per-minute values retained for continuity, newest first.
func (s *Session) Previous() []float64 {
	return s.previous.Snapshot()
}
