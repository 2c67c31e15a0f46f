package padsync

import (
	"context"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestRouterBroadcastExcludesSender(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := NewSessionRegistry()
	router := NewRoomRouter(ctx, registry)

	padId := NewId()
	a := NewId()
	b := NewId()
	c := NewId()
	routes := map[Id]Route{}
	for _, sessionId := range []Id{a, b, c} {
		route := make(Route, 4)
		routes[sessionId] = route
		registry.Register(sessionId, NewId(), "", route)
		registry.Join(sessionId, padId)
	}

	message := []byte("hello")
	router.Route(padId, a, message)

	for _, sessionId := range []Id{b, c} {
		select {
		case received := <-routes[sessionId]:
			assert.Equal(t, message, received)
		default:
			t.Fatalf("member %s did not receive the event", sessionId)
		}
	}
	select {
	case <-routes[a]:
		t.Fatal("event echoed back to the sender")
	default:
	}
}

type testRelay struct {
	published [][]byte
	deliver   map[Id]func(message []byte)
}

func newTestRelay() *testRelay {
	return &testRelay{
		deliver: map[Id]func(message []byte){},
	}
}

func (self *testRelay) Publish(ctx context.Context, padId Id, message []byte) error {
	self.published = append(self.published, message)
	return nil
}

func (self *testRelay) Subscribe(padId Id, deliver func(message []byte)) error {
	self.deliver[padId] = deliver
	return nil
}

func (self *testRelay) Unsubscribe(padId Id) {
	delete(self.deliver, padId)
}

func (self *testRelay) Close() {
}

// with a relay attached, routed events are published to the fabric, and
// relayed events from other processes reach the local members
func TestRouterRelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := NewSessionRegistry()
	router := NewRoomRouter(ctx, registry)
	relay := newTestRelay()
	router.SetRelay(relay)

	padId := NewId()
	a := NewId()
	aRoute := make(Route, 4)
	registry.Register(a, NewId(), "", aRoute)
	registry.Join(a, padId)
	router.SubscribeRoom(padId)

	router.Route(padId, a, []byte("local"))
	assert.Equal(t, 1, len(relay.published))
	assert.Equal(t, []byte("local"), relay.published[0])

	// an event relayed from another process reaches the local member
	relay.deliver[padId]([]byte("remote"))
	assert.Equal(t, []byte("remote"), <-aRoute)
	// and is not re-published
	assert.Equal(t, 1, len(relay.published))

	router.UnsubscribeRoom(padId)
	assert.Equal(t, 0, len(relay.deliver))
}

// a full member route drops that one delivery without blocking the others
func TestRouterFullRouteDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := NewSessionRegistry()
	router := NewRoomRouter(ctx, registry)

	padId := NewId()
	sender := NewId()
	stuck := NewId()
	healthy := NewId()

	registry.Register(sender, NewId(), "", make(Route, 1))
	// zero capacity with no reader. every delivery drops.
	registry.Register(stuck, NewId(), "", make(Route))
	healthyRoute := make(Route, 4)
	registry.Register(healthy, NewId(), "", healthyRoute)
	for _, sessionId := range []Id{sender, stuck, healthy} {
		registry.Join(sessionId, padId)
	}

	router.Route(padId, sender, []byte("one"))
	router.Route(padId, sender, []byte("two"))

	assert.Equal(t, []byte("one"), <-healthyRoute)
	assert.Equal(t, []byte("two"), <-healthyRoute)
}
