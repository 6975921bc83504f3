package recordcache

import (
	bitsbloom "github.com/bits-and-blooms/bloom/v3"
)

const glueFalsePositiveRate = 0.01

// glueIndex is a Bloom prefilter over question names of address entries that
// carry name-server authority records. A negative answer lets the NS fallback
// skip scanning the address subcache. Removals cannot be applied to a Bloom
// filter, so the index is marked stale and rebuilt during the next sweep.
type glueIndex struct {
	capacity uint
	bf       *bitsbloom.BloomFilter
	stale    bool
	empty    bool
}

func newGlueIndex(capacity uint) *glueIndex {
	g := &glueIndex{capacity: capacity}
	g.reset()
	return g
}

func (g *glueIndex) reset() {
	g.bf = bitsbloom.NewWithEstimates(g.capacity, glueFalsePositiveRate)
	g.stale = false
	g.empty = true
}

func (g *glueIndex) add(names []string) {
	for _, n := range names {
		g.bf.AddString(n)
		g.empty = false
	}
}

func (g *glueIndex) mightContainAny(names []string) bool {
	if g.empty {
		return false
	}
	for _, n := range names {
		if g.bf.TestString(n) {
			return true
		}
	}
	return false
}

func (g *glueIndex) markStale()    { g.stale = true }
func (g *glueIndex) isStale() bool { return g.stale }
