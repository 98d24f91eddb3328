package broadcast

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjuhola/sessionguard/internal/api"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus()

	var got1, got2 []Update
	bus.Subscribe(func(u Update) { got1 = append(got1, u) })
	bus.Subscribe(func(u Update) { got2 = append(got2, u) })

	pair := api.TokenPair{AccessToken: "a", RefreshToken: "r"}
	bus.Publish(Update{Pair: &pair})
	bus.Publish(Update{})

	require.Len(t, got1, 2)
	require.Len(t, got2, 2)
	assert.False(t, got1[0].Cleared())
	assert.True(t, got1[1].Cleared())
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := NewBus()

	var calls int
	cancel := bus.Subscribe(func(Update) { calls++ })

	bus.Publish(Update{})
	cancel()
	bus.Publish(Update{})

	assert.Equal(t, 1, calls)

	// Cancelling twice is harmless.
	cancel()
}

func TestDeliveryFollowsSubscriptionOrder(t *testing.T) {
	bus := NewBus()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		bus.Subscribe(func(Update) { order = append(order, i) })
	}

	bus.Publish(Update{})
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestConcurrentPublishesDoNotInterleave(t *testing.T) {
	bus := NewBus()

	// Each publish appends its update to both logs; if two publishes
	// interleaved, the logs would disagree on the order of outcomes.
	var log1, log2 []bool
	bus.Subscribe(func(u Update) { log1 = append(log1, u.Cleared()) })
	bus.Subscribe(func(u Update) { log2 = append(log2, u.Cleared()) })

	const publishes = 100
	var wg sync.WaitGroup
	for i := 0; i < publishes; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				pair := api.TokenPair{AccessToken: "a", RefreshToken: "r"}
				bus.Publish(Update{Pair: &pair})
			} else {
				bus.Publish(Update{})
			}
		}()
	}
	wg.Wait()

	require.Len(t, log1, publishes)
	assert.Equal(t, log1, log2)
}

func TestSubscribeDuringPublishAffectsOnlyLaterPublishes(t *testing.T) {
	bus := NewBus()

	var lateCalls int
	bus.Subscribe(func(Update) {
		if lateCalls == 0 {
			// Late subscriber registered while this publish is being
			// delivered must not see the in-flight update.
			go bus.Subscribe(func(Update) { lateCalls++ })
		}
	})

	bus.Publish(Update{})
	assert.Equal(t, 0, lateCalls)
}
