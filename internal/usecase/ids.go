package usecase

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

var idEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0) //nolint:gosec // Weak random is sufficient for ULID entropy.

// NewTaskID generates a fresh, lexicographically sortable task identifier.
func NewTaskID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now()), idEntropy)
	if err != nil {
		return time.Now().UTC().Format("20060102150405.000000000")
	}
	return id.String()
}
