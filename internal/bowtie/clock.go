package bowtie

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// StemGenerator produces file name stems for derived assets.
type StemGenerator interface {
	NewStem() string
}

// UUIDStems produces random 8-character stems taken from a UUIDv4.
type UUIDStems struct{}

func (UUIDStems) NewStem() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
