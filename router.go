package padsync

import (
	"context"
	"sync"

	"github.com/golang/glog"
)

// RoomRouter fans an event out to every other member of a pad room.
// delivery is best effort per member. a slow or closed route drops that one
// delivery and does not abort delivery to the other members.
//
// with a relay attached, events are additionally published to the shared
// fabric so sessions on other processes receive them (see relay.go).
type RoomRouter struct {
	ctx context.Context

	registry *SessionRegistry

	stateLock sync.Mutex
	relay     RoomRelay
}

func NewRoomRouter(ctx context.Context, registry *SessionRegistry) *RoomRouter {
	return &RoomRouter{
		ctx:      ctx,
		registry: registry,
	}
}

func (self *RoomRouter) SetRelay(relay RoomRelay) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.relay = relay
}

func (self *RoomRouter) Relay() RoomRelay {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.relay
}

// delivers `message` to every member of the pad room except the origin,
// and publishes to the relay when one is attached.
func (self *RoomRouter) Route(padId Id, originSessionId Id, message []byte) {
	self.deliver(padId, originSessionId, message)

	if relay := self.Relay(); relay != nil {
		if err := relay.Publish(self.ctx, padId, message); err != nil {
			glog.Infof("[r]relay publish %s error = %s\n", padId, err)
		}
	}
}

func (self *RoomRouter) deliver(padId Id, originSessionId Id, message []byte) {
	for _, member := range self.registry.MembersOf(padId, originSessionId) {
		select {
		case member.Route() <- message:
			glog.V(2).Infof("[r]%s->%s\n", padId, member.SessionId())
		default:
			// the member route is full or abandoned. drop, do not retry.
			glog.V(1).Infof("[r]drop %s->%s\n", padId, member.SessionId())
		}
	}
}

// start receiving relayed events for a pad room.
// called when the first local member joins the room.
func (self *RoomRouter) SubscribeRoom(padId Id) {
	relay := self.Relay()
	if relay == nil {
		return
	}
	err := relay.Subscribe(padId, func(message []byte) {
		// relayed events are delivered locally only, never re-published.
		// the origin process already excluded its sender.
		self.deliver(padId, Id{}, message)
	})
	if err != nil {
		glog.Infof("[r]relay subscribe %s error = %s\n", padId, err)
	}
}

// called when the last local member leaves the room
func (self *RoomRouter) UnsubscribeRoom(padId Id) {
	if relay := self.Relay(); relay != nil {
		relay.Unsubscribe(padId)
	}
}
