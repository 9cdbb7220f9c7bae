package ids

import (
	"time"

	"membership-engine/internal/domain/ports/adapter"
)

var _ adapter.Clock = (*SystemClock)(nil)

// SystemClock is the production adapter.Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
