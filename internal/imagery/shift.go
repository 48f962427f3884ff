package imagery

import (
	"math/rand/v2"
	"sync"
	"time"
)

// PastShift moves t back by 1 to 13 thirty-day months plus 0 to 30 five-day
// steps, keeping no-fire targets on the Sentinel revisit cadence.
func PastShift(t time.Time, rng *rand.Rand) time.Time {
	months := 1 + rng.IntN(13)
	steps := rng.IntN(31)
	return t.AddDate(0, 0, -(30*months + 5*steps))
}

// Shifter applies PastShift with a shared, goroutine-safe RNG.
type Shifter struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewShifter seeds a Shifter. Equal seeds yield equal shift sequences.
func NewShifter(seed uint64) *Shifter {
	return &Shifter{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Shift returns PastShift(t).
func (s *Shifter) Shift(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PastShift(t, s.rng)
}
