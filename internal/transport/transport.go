// Package transport defines the subscription boundary between the player and
// a media relay.
package transport

import (
	"context"
	"fmt"
	"sync"
)

// StartKind selects where a subscription begins.
type StartKind int

const (
	// StartLive begins at the next group the relay produces.
	StartLive StartKind = iota
	// StartGroup begins at an absolute group, possibly in the future.
	StartGroup
)

// StartAt is the start position of a subscription.
type StartAt struct {
	Kind  StartKind
	Group uint64
}

// Live starts at the next group.
func Live() StartAt { return StartAt{Kind: StartLive} }

// FromGroup starts at group.
func FromGroup(group uint64) StartAt { return StartAt{Kind: StartGroup, Group: group} }

func (s StartAt) String() string {
	if s.Kind == StartGroup {
		return fmt.Sprintf("group(%d)", s.Group)
	}
	return "live"
}

// Session subscribes to named tracks.
type Session interface {
	Subscribe(ctx context.Context, namespace, track string, start StartAt) (Subscription, error)
	Unsubscribe(ctx context.Context, sub Subscription) error
}

// Subscription yields the objects of one track in delivery order. Next
// returns io.EOF once the subscription has ended.
type Subscription interface {
	ID() uint64
	Track() string
	Next(ctx context.Context) ([]byte, error)
}

// Chunk is one object read from a subscription, or the error that ended it.
type Chunk struct {
	Track string
	Data  []byte
	Err   error
}

// Merge reads every subscription concurrently into one channel. Each
// subscription's terminal error (io.EOF included) is delivered as a Chunk
// with Err set. The channel is closed when all readers have stopped, which
// happens at the latest when ctx is done.
func Merge(ctx context.Context, subs ...Subscription) <-chan Chunk {
	out := make(chan Chunk)

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub Subscription) {
			defer wg.Done()
			for {
				data, err := sub.Next(ctx)
				c := Chunk{Track: sub.Track(), Data: data, Err: err}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
				if err != nil {
					return
				}
			}
		}(sub)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}
