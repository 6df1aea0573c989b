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
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID string (time-sortable identifier) stamped with the
// wall clock. Used for run IDs.
func New() string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), mono)
	if err != nil {
		// Errors are extremely unlikely unless time goes backwards or entropy fails.
		panic(err)
	}
	return id.String()
}

// Generator produces reproducible ULIDs: the same seed and the same
// sequence of timestamps always yield the same IDs. Replays use one per run
// so trade IDs stay stable across reruns.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	last    time.Time
}

func NewGenerator(seed int64) *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)}
}

// At returns the next ID stamped with t. Timestamps earlier than the last
// one issued are clamped so IDs stay sortable.
func (g *Generator) At(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t.Before(g.last) {
		t = g.last
	}
	if t.Before(time.Unix(0, 0)) {
		t = time.Unix(0, 0)
	}
	g.last = t

	id, err := ulid.New(ulid.Timestamp(t), g.entropy)
	if err != nil {
		panic(err)
	}
	return id.String()
}
