package messaging

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqerk/academy-live-hub/internal/domain/presence"
	"github.com/mqerk/academy-live-hub/pkg/logger"
)

func quietBus(async bool) *Bus {
	return NewBus(Config{
		Async:  async,
		Logger: logger.New(logger.Options{Output: io.Discard, Level: logger.LevelFatal}),
	})
}

func TestSyncPublishDeliversInOrder(t *testing.T) {
	b := quietBus(false)
	defer b.Close()

	var got []EventType
	b.Subscribe(EventStaffOnline, func(ev PresenceEvent) {
		got = append(got, ev.Type)
	})
	b.SubscribeAll(func(ev PresenceEvent) {
		got = append(got, "any:"+ev.Type)
	})

	b.Publish(PresenceEvent{Type: EventStaffOnline, UserID: 7, StaffRole: presence.StaffAdvisor})
	b.Publish(PresenceEvent{Type: EventStudentOffline, StudentID: 42})

	require.Equal(t, []EventType{
		EventStaffOnline,
		"any:" + EventStaffOnline,
		"any:" + EventStudentOffline,
	}, got)
}

func TestAsyncPublishDoesNotBlockCaller(t *testing.T) {
	b := quietBus(true)

	var wg sync.WaitGroup
	wg.Add(1)
	release := make(chan struct{})
	b.Subscribe(EventStudentOnline, func(ev PresenceEvent) {
		defer wg.Done()
		<-release
	})

	done := make(chan struct{})
	go func() {
		b.Publish(PresenceEvent{Type: EventStudentOnline, StudentID: 1, UserID: 10})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow handler")
	}

	close(release)
	wg.Wait()
	b.Close()
}

func TestHandlerPanicIsContained(t *testing.T) {
	b := quietBus(false)
	defer b.Close()

	delivered := false
	b.Subscribe(EventStaffOffline, func(ev PresenceEvent) { panic("boom") })
	b.SubscribeAll(func(ev PresenceEvent) { delivered = true })

	assert.NotPanics(t, func() {
		b.Publish(PresenceEvent{Type: EventStaffOffline, UserID: 7})
	})
	assert.True(t, delivered)
}

func TestAsyncSubscriberObservesPublishOrder(t *testing.T) {
	b := quietBus(true)

	var mu sync.Mutex
	var got []PresenceEvent
	b.SubscribeAll(func(ev PresenceEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	// A staff tab refresh is the sensitive interleaving: the offline delta
	// must land before the reconnect's online delta, or a mirror applying
	// SRem/SAdd ends up with the user absent while connected.
	const cycles = 100
	var want []EventType
	for i := 0; i < cycles; i++ {
		b.Publish(PresenceEvent{
			Type:      EventStaffOffline,
			UserID:    7,
			StaffRole: presence.StaffAdvisor,
		})
		b.Publish(PresenceEvent{
			Type:            EventStaffOnline,
			UserID:          7,
			StaffRole:       presence.StaffAdvisor,
			UserStillOnline: true,
		})
		want = append(want, EventStaffOffline, EventStaffOnline)
	}
	b.Close()

	require.Len(t, got, len(want))
	for i, ev := range got {
		assert.Equal(t, want[i], ev.Type, "position %d", i)
	}
}

func TestCloseDrainsAcceptedEvents(t *testing.T) {
	b := quietBus(true)

	var mu sync.Mutex
	delivered := 0
	b.SubscribeAll(func(ev PresenceEvent) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	const published = 100
	for i := 0; i < published; i++ {
		b.Publish(PresenceEvent{Type: EventStudentOnline, StudentID: int64(i)})
	}
	// Close must not race the queues: everything Publish accepted is
	// handed to the subscriber before Close returns.
	b.Close()

	assert.Equal(t, published, delivered)
}

func TestClosedBusDropsEvents(t *testing.T) {
	b := quietBus(false)

	calls := 0
	b.SubscribeAll(func(ev PresenceEvent) { calls++ })
	b.Close()

	b.Publish(PresenceEvent{Type: EventStudentOnline})
	assert.Zero(t, calls)
}
