package padsync

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

type allowAllGate struct {
}

func (self *allowAllGate) Authorize(ctx context.Context, userId Id, padId Id, access PadAccess, password string) error {
	return nil
}

type denyAllGate struct {
}

func (self *denyAllGate) Authorize(ctx context.Context, userId Id, padId Id, access PadAccess, password string) error {
	return &AccessDeniedError{Reason: "not a collaborator"}
}

type testHarness struct {
	store   *testStore
	service *EditService
	writer  *PadWriter
}

func newTestHarness(ctx context.Context, gate AccessGate) *testHarness {
	store := newTestStore()
	registry := NewSessionRegistry()
	router := NewRoomRouter(ctx, registry)
	settings := testPadWriterSettings()
	settings.ContentDebounceTimeout = 10 * time.Second
	settings.TitleDebounceTimeout = 10 * time.Second
	writer := NewPadWriter(ctx, store, settings)
	return &testHarness{
		store:   store,
		service: NewEditService(ctx, registry, router, writer, gate),
		writer:  writer,
	}
}

func (self *testHarness) connect(t *testing.T, userName string) (*EditSession, Route) {
	route := make(Route, 16)
	editSession, err := self.service.Connect(
		&ByJwt{UserId: NewId(), UserName: userName},
		route,
	)
	assert.Equal(t, nil, err)
	return editSession, route
}

func receiveFrame(t *testing.T, route Route, timeout time.Duration) any {
	select {
	case message := <-route:
		frame, err := DecodeFrame(message)
		assert.Equal(t, nil, err)
		return frame
	case <-time.After(timeout):
		t.Fatal("timeout waiting for frame")
		return nil
	}
}

func join(t *testing.T, editSession *EditSession, route Route, padId Id) {
	err := editSession.HandleFrame(&JoinPadFrame{PadId: padId})
	assert.Equal(t, nil, err)
	result := receiveFrame(t, route, time.Second).(*JoinResultFrame)
	assert.Equal(t, true, result.Allowed)
}

func TestControllerConnectUnauthenticated(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	harness := newTestHarness(ctx, &allowAllGate{})
	defer harness.writer.Close()

	_, err := harness.service.Connect(nil, make(Route, 1))
	assert.Equal(t, ErrUnauthenticated, err)

	_, err = harness.service.Connect(&ByJwt{}, make(Route, 1))
	assert.Equal(t, ErrUnauthenticated, err)
}

// a content change from one member reaches the other members but is never
// echoed back to the sender
func TestControllerBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	harness := newTestHarness(ctx, &allowAllGate{})
	defer harness.writer.Close()

	padId := NewId()
	a, aRoute := harness.connect(t, "ana")
	b, bRoute := harness.connect(t, "ben")
	c, cRoute := harness.connect(t, "cat")
	join(t, a, aRoute, padId)
	join(t, b, bRoute, padId)
	join(t, c, cRoute, padId)

	err := a.HandleFrame(&ContentChangeFrame{PadId: padId, Content: "hello"})
	assert.Equal(t, nil, err)

	for _, route := range []Route{bRoute, cRoute} {
		update := receiveFrame(t, route, time.Second).(*ContentUpdateFrame)
		assert.Equal(t, "hello", update.Content)
		assert.Equal(t, a.UserId(), update.UserId)
	}
	select {
	case <-aRoute:
		t.Fatal("content update echoed back to the sender")
	default:
	}
}

// a rejected join leaves the room membership unchanged and the session
// connected
func TestControllerJoinDenied(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	harness := newTestHarness(ctx, &denyAllGate{})
	defer harness.writer.Close()

	padId := NewId()
	a, aRoute := harness.connect(t, "ana")

	err := a.HandleFrame(&JoinPadFrame{PadId: padId})
	assert.Equal(t, nil, err)
	result := receiveFrame(t, aRoute, time.Second).(*JoinResultFrame)
	assert.Equal(t, false, result.Allowed)
	assert.Equal(t, "not a collaborator", result.Reason)
	assert.Equal(t, 0, harness.service.registry.RoomSize(padId))

	// the session can still act
	err = a.HandleFrame(&LeavePadFrame{PadId: padId})
	assert.Equal(t, nil, err)
}

// events for rooms the session has not joined are dropped
func TestControllerUnjoinedEventsDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	harness := newTestHarness(ctx, &allowAllGate{})
	defer harness.writer.Close()

	padId := NewId()
	a, _ := harness.connect(t, "ana")

	err := a.HandleFrame(&ContentChangeFrame{PadId: padId, Content: "sneaky"})
	assert.Equal(t, nil, err)
	err = a.HandleFrame(&CursorPositionFrame{PadId: padId, Position: 3})
	assert.Equal(t, nil, err)

	harness.writer.FlushNow(padId)
	assert.Equal(t, 0, harness.store.updateCount())
}

// disconnect triggers a flush of the pending write before teardown completes
func TestControllerDisconnectFlushes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	harness := newTestHarness(ctx, &allowAllGate{})
	defer harness.writer.Close()

	padId := NewId()
	a, aRoute := harness.connect(t, "ana")
	join(t, a, aRoute, padId)

	err := a.HandleFrame(&ContentChangeFrame{PadId: padId, Content: "last edit"})
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, harness.store.updateCount())

	harness.service.Disconnect(a)
	assert.Equal(t, 1, harness.store.updateCount())
	assert.Equal(t, "last edit", *harness.store.lastUpdate().content)
	assert.Equal(t, 0, harness.service.registry.RoomSize(padId))
}

// cursor events are routed with the sender's display name and never persisted
func TestControllerCursorRoutedNotPersisted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	harness := newTestHarness(ctx, &allowAllGate{})
	defer harness.writer.Close()

	padId := NewId()
	a, aRoute := harness.connect(t, "ana")
	b, bRoute := harness.connect(t, "ben")
	join(t, a, aRoute, padId)
	join(t, b, bRoute, padId)

	err := a.HandleFrame(&CursorPositionFrame{PadId: padId, Position: 42})
	assert.Equal(t, nil, err)

	update := receiveFrame(t, bRoute, time.Second).(*CursorUpdateFrame)
	assert.Equal(t, 42, update.Position)
	assert.Equal(t, "ana", update.Username)
	assert.Equal(t, a.UserId(), update.UserId)

	harness.writer.FlushNow(padId)
	assert.Equal(t, 0, harness.store.updateCount())
}

// an explicit save bypasses the debounce timer
func TestControllerSaveFlushesNow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	harness := newTestHarness(ctx, &allowAllGate{})
	defer harness.writer.Close()

	padId := NewId()
	a, aRoute := harness.connect(t, "ana")
	join(t, a, aRoute, padId)

	a.HandleFrame(&ContentChangeFrame{PadId: padId, Content: "draft"})
	a.HandleFrame(&SavePadFrame{PadId: padId})
	assert.Equal(t, 1, harness.store.updateCount())
	assert.Equal(t, "draft", *harness.store.lastUpdate().content)
}

// the last member leaving flushes whatever is still pending
func TestControllerLastLeaveFlushes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	harness := newTestHarness(ctx, &allowAllGate{})
	defer harness.writer.Close()

	padId := NewId()
	a, aRoute := harness.connect(t, "ana")
	b, bRoute := harness.connect(t, "ben")
	join(t, a, aRoute, padId)
	join(t, b, bRoute, padId)

	a.HandleFrame(&ContentChangeFrame{PadId: padId, Content: "keep me"})

	a.HandleFrame(&LeavePadFrame{PadId: padId})
	// b is still in the room, nothing flushed yet
	assert.Equal(t, 0, harness.store.updateCount())

	b.HandleFrame(&LeavePadFrame{PadId: padId})
	assert.Equal(t, 1, harness.store.updateCount())
	assert.Equal(t, "keep me", *harness.store.lastUpdate().content)
}

func TestControllerTitleChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	harness := newTestHarness(ctx, &allowAllGate{})
	defer harness.writer.Close()

	padId := NewId()
	a, aRoute := harness.connect(t, "ana")
	b, bRoute := harness.connect(t, "ben")
	join(t, a, aRoute, padId)
	join(t, b, bRoute, padId)

	err := a.HandleFrame(&TitleChangeFrame{PadId: padId, Title: "meeting notes"})
	assert.Equal(t, nil, err)

	update := receiveFrame(t, bRoute, time.Second).(*TitleUpdateFrame)
	assert.Equal(t, "meeting notes", update.Title)

	harness.writer.FlushNow(padId)
	assert.Equal(t, 1, harness.store.updateCount())
	assert.Equal(t, "meeting notes", *harness.store.lastUpdate().title)
	assert.Equal(t, (*string)(nil), harness.store.lastUpdate().content)
}
