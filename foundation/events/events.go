// Package events allows for the registering and receiving of events.
package events

import (
	"fmt"
	"sync"
)

// DefaultBuffer is the channel buffer used when New is given a size of zero.
// Since a message will be dropped if the receiver is not ready to receive,
// this arbitrary buffer should give the receiver enough time to not lose a
// message. Websocket send could take long.
const DefaultBuffer = 100

// Events maintains a mapping of unique id and channels so goroutines
// can register and receive events.
type Events[T any] struct {
	m      map[string]chan T
	mu     sync.RWMutex
	buffer int
}

// New constructs an events for registering and receiving events.
func New[T any](buffer int) *Events[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	return &Events[T]{
		m:      make(map[string]chan T),
		buffer: buffer,
	}
}

// Shutdown closes and removes all channels that were provided by
// the call to Acquire.
func (evt *Events[T]) Shutdown() {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	for id, ch := range evt.m {
		delete(evt.m, id)
		close(ch)
	}
}

// Acquire takes a unique id and returns a channel that can be used
// to receive events.
func (evt *Events[T]) Acquire(id string) chan T {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if exists {
		return ch
	}

	evt.m[id] = make(chan T, evt.buffer)
	return evt.m[id]
}

// Release closes and removes the channel that was provided by
// the call to Acquire.
func (evt *Events[T]) Release(id string) error {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if !exists {
		return fmt.Errorf("id %q does not exist", id)
	}

	delete(evt.m, id)
	close(ch)
	return nil
}

// Len returns the number of registered receivers.
func (evt *Events[T]) Len() int {
	evt.mu.RLock()
	defer evt.mu.RUnlock()

	return len(evt.m)
}

// Send signals a message to every registered channel. Send will not block
// waiting for a receiver on any given channel. The ids of the receivers that
// missed the message are returned.
func (evt *Events[T]) Send(v T) []string {
	evt.mu.RLock()
	defer evt.mu.RUnlock()

	var dropped []string
	for id, ch := range evt.m {
		select {
		case ch <- v:
		default:
			dropped = append(dropped, id)
		}
	}

	return dropped
}
