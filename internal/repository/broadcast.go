package repository

import (
	"sync"

	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
)

// subscriber delivers snapshots to one listener from its own goroutine so a
// slow listener never blocks writers. Snapshots older than the last queued
// version are dropped, which keeps delivery in commit order even when the
// initial read races with a concurrent write.
type subscriber struct {
	listener Listener

	mu      sync.Mutex
	last    int64
	pending []*entity.MatchState

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newSubscriber(listener Listener) *subscriber {
	sub := &subscriber{
		listener: listener,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	go sub.run()

	return sub
}

func (that *subscriber) push(version int64, state *entity.MatchState) {
	that.mu.Lock()
	if version <= that.last {
		that.mu.Unlock()
		return
	}
	that.last = version
	that.pending = append(that.pending, state.Clone())
	that.mu.Unlock()

	select {
	case that.wake <- struct{}{}:
	default:
	}
}

func (that *subscriber) stop() {
	that.once.Do(func() {
		close(that.done)
	})
}

func (that *subscriber) run() {
	for {
		select {
		case <-that.done:
			return
		case <-that.wake:
		}

		for {
			that.mu.Lock()
			batch := that.pending
			that.pending = nil
			that.mu.Unlock()

			if len(batch) == 0 {
				break
			}

			for _, state := range batch {
				select {
				case <-that.done:
					return
				default:
				}

				that.listener(state)
			}
		}
	}
}

// broadcaster fans committed writes out to in-process subscribers.
type broadcaster struct {
	mu   sync.Mutex
	next uint64
	subs map[string]map[uint64]*subscriber
}

func newBroadcaster() *broadcaster {
	return &broadcaster{
		subs: make(map[string]map[uint64]*subscriber),
	}
}

func (that *broadcaster) subscribe(id string, listener Listener) (*subscriber, func()) {
	sub := newSubscriber(listener)

	that.mu.Lock()
	that.next++
	key := that.next
	if that.subs[id] == nil {
		that.subs[id] = make(map[uint64]*subscriber)
	}
	that.subs[id][key] = sub
	that.mu.Unlock()

	unsubscribe := func() {
		that.mu.Lock()
		delete(that.subs[id], key)
		if len(that.subs[id]) == 0 {
			delete(that.subs, id)
		}
		that.mu.Unlock()

		sub.stop()
	}

	return sub, unsubscribe
}

func (that *broadcaster) publish(id string, version int64, state *entity.MatchState) {
	that.mu.Lock()
	defer that.mu.Unlock()

	for _, sub := range that.subs[id] {
		sub.push(version, state)
	}
}

func (that *broadcaster) closeAll() {
	that.mu.Lock()
	defer that.mu.Unlock()

	for id, subs := range that.subs {
		for _, sub := range subs {
			sub.stop()
		}
		delete(that.subs, id)
	}
}
