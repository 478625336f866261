package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	// Seed a PRNG from crypto/rand so ULID entropy is unpredictable.
	// ulid.Monotonic keeps IDs generated within the same millisecond
	// lexicographically increasing.
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID string stamped with the wall clock.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a ULID whose timestamp component is t. Zone ids and
// simulated tickets use the simulation clock so they sort by market time,
// not by when the backtest happened to run.
func NewAt(t time.Time) string {
	if t.Before(time.Unix(0, 0)) {
		t = time.Now()
	}
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t.UTC()), mono)
	if err != nil {
		// Only possible if t is before the unix epoch or entropy fails.
		panic(err)
	}
	return id.String()
}
