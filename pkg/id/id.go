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
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID string. IDs generated within the same millisecond
// remain lexicographically increasing.
func New() string {
	return NewAt(time.Now().UTC())
}

// NewAt returns a ULID whose timestamp component is t. The simulated broker
// stamps orders with the replayed trading day so IDs sort by simulated time.
func NewAt(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t), mono)
	if err != nil {
		// Monotonic entropy only fails on overflow within one millisecond.
		id = ulid.MustNew(ulid.Timestamp(t), cryptoRand.Reader)
	}
	return id.String()
}

// Order returns a broker order identifier with the given prefix.
func Order(prefix string, t time.Time) string {
	if prefix == "" {
		return NewAt(t)
	}
	return prefix + "-" + NewAt(t)
}
