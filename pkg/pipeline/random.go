package pipeline

import (
	crand "crypto/rand"
	"math/rand/v2"
	"sync"
)

// Source is the randomness the pipeline consumes: header selection and the
// order of the remote services. It must be safe for concurrent use.
type Source interface {
	IntN(n int) int
	Shuffle(n int, swap func(i, j int))
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

func (l *lockedRand) Shuffle(n int, swap func(i, j int)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.r.Shuffle(n, swap)
}

// NewSource returns a deterministic source for seed.
func NewSource(seed uint64) Source {
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewSecureSource returns a ChaCha8 source seeded from crypto/rand.
func NewSecureSource() Source {
	var seed [32]byte
	_, _ = crand.Read(seed[:]) // never fails on supported platforms
	return &lockedRand{r: rand.New(rand.NewChaCha8(seed))}
}
