// Package spinlock provides a spinlock mutex.
package spinlock

import (
	"runtime"
	"sync"
	"sync/atomic"
)

const (
	unlocked uint32 = iota
	locked
)

// maxSpins is the number of load-only polls a waiter performs before yielding its P.
const maxSpins = 16

var _ sync.Locker = (*Mutex)(nil)

// Mutex represents a test-and-test-and-set spinlock.
//
// The zero value is an unlocked Mutex. sync/atomic operations are sequentially
// consistent, so the successful swap in Lock acts as an acquire and the store
// in Unlock as a release: writes made while holding the lock are visible to
// the next holder.
type Mutex struct {
	state atomic.Uint32
}

// Lock locks the mutex busy waiting (spinlock).
func (m *Mutex) Lock() { m.lock() }

// lock returns the number of compare-and-swap attempts it needed.
func (m *Mutex) lock() int {
	attempts := 1
	for !m.state.CompareAndSwap(unlocked, locked) {
		// only read while the lock is held, a read keeps the cache line shared
		spins := 0
		for m.state.Load() == locked {
			spins++
			if spins > maxSpins {
				spins = 0
				runtime.Gosched()
			}
		}
		attempts++
	}
	return attempts
}

// TryLock tries to lock the mutex without spinning and reports whether it succeeded.
func (m *Mutex) TryLock() bool { return m.state.CompareAndSwap(unlocked, locked) }

// Unlock unlocks the mutex.
// Like sync.Mutex, a locked Mutex is not associated with a particular goroutine.
func (m *Mutex) Unlock() { m.state.Store(unlocked) }

// Locked reports whether the mutex is currently held.
func (m *Mutex) Locked() bool { return m.state.Load() == locked }
