// Package partmap provide a partitioned map.
package partmap

import (
	"hash/maphash"

	"github.com/go-ricrob/spinguard/mutex"
)

// Map is a string to counter map split into parts, each guarded by its own mutex.
type Map struct {
	numPart uint64
	seed    maphash.Seed
	parts   []*mutex.Mutex[map[string]int]
}

// New returns a map with numPart parts locked with strategy.
func New(numPart uint64, strategy mutex.Strategy) *Map {
	if numPart == 0 {
		numPart = 1
	}
	pm := &Map{
		numPart: numPart,
		seed:    maphash.MakeSeed(),
		parts:   make([]*mutex.Mutex[map[string]int], numPart),
	}
	for i := range pm.parts {
		pm.parts[i] = mutex.New(make(map[string]int), mutex.WithStrategy(strategy))
	}
	return pm
}

func (pm *Map) part(k string) *mutex.Mutex[map[string]int] {
	return pm.parts[maphash.String(pm.seed, k)%pm.numPart]
}

// Add adds delta to the counter of k and returns the new value.
func (pm *Map) Add(k string, delta int) int {
	return mutex.WithLock(pm.part(k), func(m *map[string]int) int {
		(*m)[k] += delta
		return (*m)[k]
	})
}

// Load returns the counter of k.
func (pm *Map) Load(k string) (v int, ok bool) {
	pm.part(k).Do(func(m *map[string]int) {
		v, ok = (*m)[k]
	})
	return v, ok
}

// Size returns the number of keys.
func (pm *Map) Size() int {
	size := 0
	for _, part := range pm.parts {
		size += mutex.WithLock(part, func(m *map[string]int) int { return len(*m) })
	}
	return size
}

// Sum returns the sum of all counters.
func (pm *Map) Sum() int {
	sum := 0
	for _, part := range pm.parts {
		part.Do(func(m *map[string]int) {
			for _, v := range *m {
				sum += v
			}
		})
	}
	return sum
}

func (pm *Map) NumPart() int { return int(pm.numPart) }
