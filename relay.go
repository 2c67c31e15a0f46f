package padsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/golang/glog"
)

// RoomRelay is the shared pub/sub fabric between processes. content and
// cursor events are relayed so sessions on other processes receive them.
// the registry and router stay per process, and relayed events are never
// persisted by the receiving process.
type RoomRelay interface {
	Publish(ctx context.Context, padId Id, message []byte) error
	// deliver is called for every relayed event for the pad that originated
	// on another process
	Subscribe(padId Id, deliver func(message []byte)) error
	Unsubscribe(padId Id)
	Close()
}

type relayEnvelope struct {
	ProcessId Id              `json:"processId"`
	Message   json.RawMessage `json:"message"`
}

// RedisRoomRelay relays room events over one redis pub/sub channel per pad.
type RedisRoomRelay struct {
	ctx    context.Context
	cancel context.CancelFunc

	client *redis.Client
	// filters out this process's own publications
	processId Id

	stateLock sync.Mutex
	// padId -> subscription
	subs map[Id]*redis.PubSub
}

func NewRedisRoomRelay(ctx context.Context, client *redis.Client) *RedisRoomRelay {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &RedisRoomRelay{
		ctx:       cancelCtx,
		cancel:    cancel,
		client:    client,
		processId: NewId(),
		subs:      map[Id]*redis.PubSub{},
	}
}

func relayChannel(padId Id) string {
	return fmt.Sprintf("pad:%s", padId)
}

func (self *RedisRoomRelay) Publish(ctx context.Context, padId Id, message []byte) error {
	payload, err := json.Marshal(&relayEnvelope{
		ProcessId: self.processId,
		Message:   message,
	})
	if err != nil {
		return err
	}
	return self.client.Publish(ctx, relayChannel(padId), payload).Err()
}

func (self *RedisRoomRelay) Subscribe(padId Id, deliver func(message []byte)) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.subs[padId]; ok {
		return nil
	}
	sub := self.client.Subscribe(self.ctx, relayChannel(padId))
	self.subs[padId] = sub

	go func() {
		for {
			select {
			case <-self.ctx.Done():
				return
			case message, ok := <-sub.Channel():
				if !ok {
					return
				}
				envelope := &relayEnvelope{}
				if err := json.Unmarshal([]byte(message.Payload), envelope); err != nil {
					glog.Infof("[relay]decode %s error = %s\n", padId, err)
					continue
				}
				if envelope.ProcessId == self.processId {
					continue
				}
				deliver(envelope.Message)
			}
		}
	}()

	return nil
}

func (self *RedisRoomRelay) Unsubscribe(padId Id) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if sub, ok := self.subs[padId]; ok {
		delete(self.subs, padId)
		sub.Close()
	}
}

func (self *RedisRoomRelay) Close() {
	self.cancel()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for padId, sub := range self.subs {
		delete(self.subs, padId)
		sub.Close()
	}
}
