package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusSubscribeReceivesPublished(t *testing.T) {
	bus := NewBus(BusOptions{})
	first, cancelFirst := bus.Subscribe()
	defer cancelFirst()
	second, cancelSecond := bus.Subscribe()
	defer cancelSecond()
	require.Equal(t, 2, bus.SubscriberCount())

	bus.Publish(Notification{Name: WatchChanged})

	for _, ch := range []<-chan Notification{first, second} {
		select {
		case n := <-ch:
			assert.Equal(t, WatchChanged, n.Name)
		case <-time.After(time.Second):
			t.Fatal("notification not delivered")
		}
	}
	assert.Equal(t, int64(1), bus.Published())
}

func TestBusSubscribeNamesFilters(t *testing.T) {
	bus := NewBus(BusOptions{})
	ch, cancel := bus.SubscribeNames(WatchStarted, WatchStopped)
	defer cancel()

	bus.Publish(Notification{Name: WatchStarted})
	bus.Publish(Notification{Name: WatchChanged})
	bus.Publish(Notification{Name: WatchStopped})

	require.Len(t, ch, 2)
	assert.Equal(t, WatchStarted, (<-ch).Name)
	assert.Equal(t, WatchStopped, (<-ch).Name)
}

func TestBusSubscribeWatcherFilters(t *testing.T) {
	bus := NewBus(BusOptions{})
	mine := &Watcher{}
	other := &Watcher{}
	ch, cancel := bus.SubscribeWatcher(mine)
	defer cancel()

	bus.Publish(Notification{Name: WatchChanged, Watcher: other})
	bus.Publish(Notification{Name: WatchChanged, Watcher: mine})

	require.Len(t, ch, 1)
	assert.Same(t, mine, (<-ch).Watcher)
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := NewBus(BusOptions{})
	ch, cancel := bus.Subscribe()
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, bus.SubscriberCount())

	bus.Publish(Notification{Name: WatchChanged})
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus(BusOptions{SubscriberBufferSize: 1})
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(Notification{Name: WatchChanged})
	bus.Publish(Notification{Name: WatchChanged})

	assert.Len(t, ch, 1)
	assert.Equal(t, int64(2), bus.Published())
	assert.Equal(t, int64(1), bus.Dropped())
}

func TestBusBlockingSendTimesOut(t *testing.T) {
	bus := NewBus(BusOptions{SubscriberBufferSize: 1, BlockOnFull: true, WriteTimeout: 20 * time.Millisecond})
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(Notification{Name: WatchStarted})
	bus.Publish(Notification{Name: WatchChanged})

	assert.Equal(t, int64(1), bus.Dropped())
	assert.Equal(t, 0, bus.SubscriberCount(), "slow subscriber is removed")

	n, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, WatchStarted, n.Name)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestBusClose(t *testing.T) {
	bus := NewBus(BusOptions{})
	ch, cancel := bus.Subscribe()

	bus.Close()
	bus.Close()
	_, ok := <-ch
	assert.False(t, ok)

	cancel()
	bus.Publish(Notification{Name: WatchChanged})
	assert.Equal(t, int64(0), bus.Published())

	late, _ := bus.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing to a closed bus yields a closed channel")
}
