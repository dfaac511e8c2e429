// Package mutex provides a mutual exclusion lock guarding a value.
//
// A Mutex owns its value: the only way to reach it is through the closure
// passed to Do, WithLock or TryWithLock, which runs while the lock is held.
// The lock is released on every exit path of the closure, including a panic.
//
// Two locking strategies share the same contract. Spin busy-waits on an atomic
// flag and suits very short critical sections under low contention. Park uses
// sync.Mutex, which parks waiting goroutines and wastes no CPU while waiting.
// Neither strategy is fair or re-entrant.
package mutex

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-ricrob/spinguard/internal/spinlock"
)

// Strategy selects how a Mutex waits for its lock.
type Strategy int

// Locking strategies.
const (
	Spin Strategy = iota // busy-wait on an atomic flag
	Park                 // sync.Mutex
)

var strategyNames = map[Strategy]string{
	Spin: "spin",
	Park: "park",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy returns the strategy named s.
func ParseStrategy(s string) (Strategy, error) {
	for strategy, name := range strategyNames {
		if name == s {
			return strategy, nil
		}
	}
	return 0, errors.Errorf("unknown locking strategy %q", s)
}

// Option configures a Mutex created by New.
type Option func(opts *options)

type options struct {
	strategy Strategy
}

// WithStrategy sets the locking strategy. The default is Spin.
func WithStrategy(strategy Strategy) Option {
	return func(opts *options) {
		opts.strategy = strategy
	}
}

// Mutex guards a value of type T.
//
// The zero value is an unlocked spinning Mutex holding the zero value of T.
// A Mutex must not be copied after first use.
type Mutex[T any] struct {
	strategy Strategy
	spin     spinlock.Mutex
	park     sync.Mutex
	value    T
}

// New returns an unlocked Mutex owning value.
func New[T any](value T, opts ...Option) *Mutex[T] {
	o := options{strategy: Spin}
	for _, opt := range opts {
		opt(&o)
	}
	return &Mutex[T]{strategy: o.strategy, value: value}
}

// Strategy returns the locking strategy of m.
func (m *Mutex[T]) Strategy() Strategy { return m.strategy }

func (m *Mutex[T]) lock() {
	if m.strategy == Park {
		m.park.Lock()
		return
	}
	m.spin.Lock()
}

func (m *Mutex[T]) tryLock() bool {
	if m.strategy == Park {
		return m.park.TryLock()
	}
	return m.spin.TryLock()
}

func (m *Mutex[T]) unlock() {
	if m.strategy == Park {
		m.park.Unlock()
		return
	}
	m.spin.Unlock()
}

// Do calls f with exclusive access to the guarded value.
// f must not retain the pointer after it returns.
func (m *Mutex[T]) Do(f func(v *T)) {
	m.lock()
	defer m.unlock()
	f(&m.value)
}

// WithLock calls f with exclusive access to the value guarded by m and returns its result.
// The lock is released when f returns or panics; a panic is propagated to the caller.
// f must not retain the pointer after it returns.
func WithLock[T, R any](m *Mutex[T], f func(v *T) R) R {
	m.lock()
	defer m.unlock()
	return f(&m.value)
}

// TryWithLock is like WithLock but only calls f if the lock can be acquired
// without waiting. ok reports whether f was called.
func TryWithLock[T, R any](m *Mutex[T], f func(v *T) R) (r R, ok bool) {
	if !m.tryLock() {
		return r, false
	}
	defer m.unlock()
	return f(&m.value), true
}
