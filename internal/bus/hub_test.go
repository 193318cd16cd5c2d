// SPDX-License-Identifier: MIT

package bus

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lumenhq/beacon/internal/event"
	"github.com/lumenhq/beacon/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func counterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, counter.Write(metric))
	return metric.GetCounter().GetValue()
}

func drain(sub *Subscription, n int) []event.Event {
	out := make([]event.Event, 0, n)
	for i := 0; i < n; i++ {
		select {
		case ev := <-sub.C():
			out = append(out, ev)
		case <-time.After(time.Second):
			return out
		}
	}
	return out
}

func TestPublishDeliversInOrder(t *testing.T) {
	h := New(8)
	sub := h.Subscribe(Subscriber{ClientID: "c1", UserID: "u1"})
	defer sub.Close()

	h.Publish(event.Event{Type: "a"})
	h.Publish(event.Event{Type: "b"})
	h.Publish(event.Event{Type: "c"})

	got := drain(sub, 3)
	require.Len(t, got, 3)
	require.Equal(t, "a", got[0].Type)
	require.Equal(t, "b", got[1].Type)
	require.Equal(t, "c", got[2].Type)
}

func TestPublishStampsTimestamp(t *testing.T) {
	h := New(1)
	sub := h.Subscribe(Subscriber{ClientID: "c1"})
	defer sub.Close()

	h.Publish(event.Event{Type: "a", Timestamp: time.Unix(0, 0)})
	got := drain(sub, 1)
	require.Len(t, got, 1)
	require.WithinDuration(t, time.Now().UTC(), got[0].Timestamp, time.Minute)
}

func TestPublishAppliesScoping(t *testing.T) {
	h := New(8)
	s1 := h.Subscribe(Subscriber{ClientID: "c1", UserID: "u1", OrganizationID: "o1"})
	s2 := h.Subscribe(Subscriber{ClientID: "c2", UserID: "u2", OrganizationID: "o1"})
	defer s1.Close()
	defer s2.Close()

	h.Publish(event.Event{Type: event.TypeCreditsUpdated, UserID: "u1"})
	h.Publish(event.Event{Type: event.TypeStatsUpdated})

	got1 := drain(s1, 2)
	require.Len(t, got1, 2)
	require.Equal(t, event.TypeCreditsUpdated, got1[0].Type)
	require.Equal(t, event.TypeStatsUpdated, got1[1].Type)

	got2 := drain(s2, 1)
	require.Len(t, got2, 1)
	require.Equal(t, event.TypeStatsUpdated, got2[0].Type)

	// Nothing else may arrive at s2.
	select {
	case ev, ok := <-s2.C():
		if ok {
			t.Fatalf("unexpected delivery to s2: %v", ev.Type)
		}
	default:
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	h := New(1)
	sub := h.Subscribe(Subscriber{ClientID: "c1"})
	sub.Close()
	sub.Close() // must be a no-op
	require.Equal(t, 0, h.Len())
}

func TestSlowSubscriberIsClosedNotBlocking(t *testing.T) {
	h := New(2)
	slow := h.Subscribe(Subscriber{ClientID: "slow"})
	healthy := h.Subscribe(Subscriber{ClientID: "healthy"})
	defer healthy.Close()

	before := counterValue(t, metrics.DropsTotal.WithLabelValues("queue_full"))

	// Fill the slow subscriber's queue, then overflow it. The healthy
	// subscriber keeps draining and is unaffected.
	h.Publish(event.Event{Type: "a"})
	h.Publish(event.Event{Type: "b"})
	require.Len(t, drain(healthy, 2), 2)

	done := make(chan struct{})
	go func() {
		h.Publish(event.Event{Type: "overflow"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	after := counterValue(t, metrics.DropsTotal.WithLabelValues("queue_full"))
	require.Greater(t, after, before, "expected a queue_full drop to be recorded")

	// The slow subscription must be closed: its channel drains the two
	// buffered events and then reports closure.
	drain(slow, 2)
	select {
	case _, ok := <-slow.C():
		require.False(t, ok, "slow subscription channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("slow subscription was not closed")
	}

	// The healthy subscriber still received the overflow event.
	got := drain(healthy, 1)
	require.Len(t, got, 1)
	require.Equal(t, "overflow", got[0].Type)
}

func TestConcurrentSubscribeUnsubscribeDuringPublish(t *testing.T) {
	h := New(4)
	stop := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				h.Publish(event.Event{Type: "tick"})
			}
		}
	}()

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sub := h.Subscribe(Subscriber{ClientID: fmt.Sprintf("c%d", n)})
			drain(sub, 1)
			sub.Close()
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
	require.Equal(t, 0, h.Len())
}

func TestCloseAll(t *testing.T) {
	h := New(4)
	s1 := h.Subscribe(Subscriber{ClientID: "c1"})
	s2 := h.Subscribe(Subscriber{ClientID: "c2"})
	h.CloseAll()
	require.Equal(t, 0, h.Len())

	_, ok := <-s1.C()
	require.False(t, ok)
	_, ok = <-s2.C()
	require.False(t, ok)
}
