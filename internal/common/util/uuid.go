package util

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
)

var entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
var m sync.Mutex

// NewULID returns a lower-cased, monotonically increasing ULID. Used for names that should sort
// by creation time, such as state directories.
func NewULID() string {
	m.Lock()
	defer m.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Now(), entropy).String())
}

// NewInstanceID returns a short random identifier for a harness instance.
func NewInstanceID() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}
