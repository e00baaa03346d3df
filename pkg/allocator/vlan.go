package allocator

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/newtron-network/extport/pkg/util"
)

// Source yields integers in [0, n). *rand.Rand satisfies it.
type Source interface {
	IntN(n int) int
}

// lockedSource serializes draws so one Source can be shared by drivers
// attaching in parallel.
type lockedSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (s *lockedSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.IntN(n)
}

// NewSource returns a PCG-backed Source seeded from seed. A zero seed uses
// the current time. It is safe for concurrent use.
func NewSource(seed uint64) Source {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &lockedSource{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// maxDraws caps rejection sampling before falling back to a scan from the
// last candidate. It is only reached with an adversarial source.
const maxDraws = 1 << 16

// VLANSampler allocates VLAN tags by rejection sampling over the user range.
type VLANSampler struct {
	src Source
}

// NewVLANSampler creates a sampler drawing from src.
func NewVLANSampler(src Source) *VLANSampler {
	return &VLANSampler{src: src}
}

// Allocate returns a tag in [util.MinVLANID, util.MaxVLANID] that is not in
// inUse. Tags outside the range in inUse are ignored.
func (s *VLANSampler) Allocate(inUse []int) (int, error) {
	taken := make(map[int]bool, len(inUse))
	for _, t := range inUse {
		if t >= util.MinVLANID && t <= util.MaxVLANID {
			taken[t] = true
		}
	}
	span := util.MaxVLANID - util.MinVLANID + 1
	if len(taken) >= span {
		return 0, fmt.Errorf("%w: all %d VLAN tags in use", util.ErrResourceNotFound, span)
	}

	candidate := util.MinVLANID
	for range maxDraws {
		candidate = util.MinVLANID + s.src.IntN(span)
		if !taken[candidate] {
			return candidate, nil
		}
	}
	for i := 0; i < span; i++ {
		t := util.MinVLANID + (candidate-util.MinVLANID+i)%span
		if !taken[t] {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: all %d VLAN tags in use", util.ErrResourceNotFound, span)
}
