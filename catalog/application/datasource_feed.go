package application

import (
	"context"
	"sync"

	"github.com/dfryer1193/digidex/catalog/domain"
)

const subscriberBuffer = 8

// DataSourceFeed broadcasts DataSource tags. New subscribers first receive
// the latest tag, if one has been published. Slow subscribers lose their
// oldest pending tags, never the newest.
type DataSourceFeed struct {
	mu      sync.Mutex
	latest  domain.DataSource
	hasLast bool
	subs    map[chan domain.DataSource]struct{}
}

func NewDataSourceFeed() *DataSourceFeed {
	return &DataSourceFeed{subs: make(map[chan domain.DataSource]struct{})}
}

// Publish records s as the latest tag and delivers it to every subscriber.
func (f *DataSourceFeed) Publish(s domain.DataSource) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.latest = s
	f.hasLast = true
	for ch := range f.subs {
		deliver(ch, s)
	}
}

// Latest returns the most recently published tag.
func (f *DataSourceFeed) Latest() (domain.DataSource, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.hasLast
}

// Subscribe returns a channel of tags that is closed once ctx is done.
func (f *DataSourceFeed) Subscribe(ctx context.Context) <-chan domain.DataSource {
	ch := make(chan domain.DataSource, subscriberBuffer)

	f.mu.Lock()
	if f.hasLast {
		ch <- f.latest
	}
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, ch)
		close(ch)
		f.mu.Unlock()
	}()

	return ch
}

// deliver never blocks: when ch is full the oldest queued tag is dropped.
// Must be called with the feed lock held.
func deliver(ch chan domain.DataSource, s domain.DataSource) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
