// Package gid provides a goroutine-keyed local-storage primitive.
//
// Go has no native thread-local storage, and the one pack dependency that
// targets this exact concern (github.com/joeycumines/goroutineid) ships
// only a CLI tool, not an importable API. This package uses the
// established (if unglamorous) runtime.Stack-parsing idiom instead, kept
// to a single small file so the hack stays contained.
package gid

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// Current returns the calling goroutine's runtime ID.
//
// The ID is stable for the lifetime of the goroutine and is never reused
// while that goroutine is alive, which is all the Local map below needs.
func Current() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]

	// Header line is "goroutine N [state]:".
	const prefix = "goroutine "
	if !bytes.HasPrefix(buf, []byte(prefix)) {
		return 0
	}
	rest := buf[len(prefix):]
	end := bytes.IndexByte(rest, ' ')
	if end < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(rest[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Local is a goroutine-keyed map, the closest Go analogue to thread-local
// storage. Set in the goroutine that owns a value; Get from the same
// goroutine later (including on resume, since the engine never migrates a
// task's coroutine across goroutines once started).
type Local[T any] struct {
	mu sync.RWMutex
	m  map[uint64]T
}

// NewLocal constructs an empty Local.
func NewLocal[T any]() *Local[T] {
	return &Local[T]{m: make(map[uint64]T)}
}

// Set associates value with the calling goroutine.
func (l *Local[T]) Set(value T) {
	id := Current()
	l.mu.Lock()
	l.m[id] = value
	l.mu.Unlock()
}

// Get returns the value associated with the calling goroutine, if any.
func (l *Local[T]) Get() (T, bool) {
	id := Current()
	l.mu.RLock()
	v, ok := l.m[id]
	l.mu.RUnlock()
	return v, ok
}

// Clear removes any value associated with the calling goroutine.
func (l *Local[T]) Clear() {
	id := Current()
	l.mu.Lock()
	delete(l.m, id)
	l.mu.Unlock()
}
