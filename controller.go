package padsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
)

// no identity at connect. fatal to the connection.
var ErrUnauthenticated = errors.New("No authenticated identity.")

// EditService ties the registry, router, writer and gate together.
// one instance per process. no ambient global state.
type EditService struct {
	ctx context.Context

	registry *SessionRegistry
	router   *RoomRouter
	writer   *PadWriter
	gate     AccessGate
}

func NewEditService(
	ctx context.Context,
	registry *SessionRegistry,
	router *RoomRouter,
	writer *PadWriter,
	gate AccessGate,
) *EditService {
	return &EditService{
		ctx:      ctx,
		registry: registry,
		router:   router,
		writer:   writer,
		gate:     gate,
	}
}

// Connect establishes the edit session for one authenticated connection.
// `route` is the session's outbound channel, owned by the transport.
func (self *EditService) Connect(byJwt *ByJwt, route Route) (*EditSession, error) {
	if byJwt == nil || byJwt.UserId.IsZero() {
		return nil, ErrUnauthenticated
	}
	sessionId := NewId()
	session, err := self.registry.Register(sessionId, byJwt.UserId, byJwt.UserName, route)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("[c]connect %s user=%s\n", sessionId, byJwt.UserId)
	return &EditSession{
		service: self,
		session: session,
	}, nil
}

// Disconnect drops the session from every room and best effort flushes any
// pending write for the pads it participated in, so the last edit before
// disconnect is not lost.
func (self *EditService) Disconnect(editSession *EditSession) {
	sessionId := editSession.session.SessionId()
	padIds := self.registry.DropSession(sessionId)
	for _, padId := range padIds {
		if self.registry.RoomSize(padId) == 0 {
			self.router.UnsubscribeRoom(padId)
		}
		if err := self.writer.FlushNow(padId); err != nil {
			glog.Infof("[c]disconnect flush %s error = %s\n", padId, err)
		}
	}
	glog.V(1).Infof("[c]disconnect %s\n", sessionId)
}

// EditSession is the per-connection state machine. events for pads the
// session has not joined are dropped.
type EditSession struct {
	service *EditService
	session *Session
}

func (self *EditSession) SessionId() Id {
	return self.session.SessionId()
}

func (self *EditSession) UserId() Id {
	return self.session.UserId()
}

// HandleFrame consumes one decoded inbound frame.
// a returned error never terminates the session. the transport logs it and
// keeps reading.
func (self *EditSession) HandleFrame(frame any) error {
	switch v := frame.(type) {
	case *JoinPadFrame:
		return self.join(v)
	case *LeavePadFrame:
		return self.leave(v)
	case *ContentChangeFrame:
		return self.contentChange(v)
	case *TitleChangeFrame:
		return self.titleChange(v)
	case *CursorPositionFrame:
		return self.cursorPosition(v)
	case *SavePadFrame:
		return self.savePad(v)
	default:
		return fmt.Errorf("Unknown frame type: %T", v)
	}
}

func (self *EditSession) join(frame *JoinPadFrame) error {
	service := self.service
	err := service.gate.Authorize(
		service.ctx,
		self.session.UserId(),
		frame.PadId,
		AccessRead,
		frame.Password,
	)
	if err != nil {
		accessDenied := &AccessDeniedError{}
		if !errors.As(err, &accessDenied) {
			glog.Infof("[c]authorize %s error = %s\n", frame.PadId, err)
			accessDenied = &AccessDeniedError{Reason: "authorization unavailable"}
		}
		// the join is rejected. the session stays connected.
		self.sendToSelf(&JoinResultFrame{
			PadId:   frame.PadId,
			Allowed: false,
			Reason:  accessDenied.Reason,
		})
		return nil
	}

	roomSize, err := service.registry.Join(self.session.SessionId(), frame.PadId)
	if err != nil {
		return err
	}
	if roomSize == 1 {
		service.router.SubscribeRoom(frame.PadId)
	}
	glog.V(1).Infof("[c]join %s %s\n", self.session.SessionId(), frame.PadId)
	self.sendToSelf(&JoinResultFrame{
		PadId:   frame.PadId,
		Allowed: true,
	})
	return nil
}

func (self *EditSession) leave(frame *LeavePadFrame) error {
	service := self.service
	roomSize := service.registry.Leave(self.session.SessionId(), frame.PadId)
	if roomSize == 0 {
		service.router.UnsubscribeRoom(frame.PadId)
		// flush anything still pending for the now empty room
		if err := service.writer.FlushNow(frame.PadId); err != nil {
			glog.Infof("[c]leave flush %s error = %s\n", frame.PadId, err)
		}
	}
	glog.V(1).Infof("[c]leave %s %s\n", self.session.SessionId(), frame.PadId)
	return nil
}

func (self *EditSession) contentChange(frame *ContentChangeFrame) error {
	service := self.service
	if !service.registry.IsMember(self.session.SessionId(), frame.PadId) {
		glog.V(1).Infof("[c]drop content %s not joined %s\n", self.session.SessionId(), frame.PadId)
		return nil
	}

	message, err := EncodeFrame(&ContentUpdateFrame{
		PadId:     frame.PadId,
		Content:   frame.Content,
		UserId:    self.session.UserId(),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	service.router.Route(frame.PadId, self.session.SessionId(), message)
	service.writer.OnContentChange(frame.PadId, self.session.UserId(), frame.Content)
	return nil
}

func (self *EditSession) titleChange(frame *TitleChangeFrame) error {
	service := self.service
	if !service.registry.IsMember(self.session.SessionId(), frame.PadId) {
		glog.V(1).Infof("[c]drop title %s not joined %s\n", self.session.SessionId(), frame.PadId)
		return nil
	}

	message, err := EncodeFrame(&TitleUpdateFrame{
		PadId:     frame.PadId,
		Title:     frame.Title,
		UserId:    self.session.UserId(),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	service.router.Route(frame.PadId, self.session.SessionId(), message)
	service.writer.OnTitleChange(frame.PadId, self.session.UserId(), frame.Title)
	return nil
}

func (self *EditSession) cursorPosition(frame *CursorPositionFrame) error {
	service := self.service
	if !service.registry.IsMember(self.session.SessionId(), frame.PadId) {
		glog.V(1).Infof("[c]drop cursor %s not joined %s\n", self.session.SessionId(), frame.PadId)
		return nil
	}

	// routed only, never persisted
	message, err := EncodeFrame(&CursorUpdateFrame{
		PadId:    frame.PadId,
		UserId:   self.session.UserId(),
		Position: frame.Position,
		Username: self.session.UserName(),
	})
	if err != nil {
		return err
	}
	service.router.Route(frame.PadId, self.session.SessionId(), message)
	return nil
}

func (self *EditSession) savePad(frame *SavePadFrame) error {
	service := self.service
	if !service.registry.IsMember(self.session.SessionId(), frame.PadId) {
		return nil
	}
	if err := service.writer.FlushNow(frame.PadId); err != nil {
		glog.Infof("[c]save flush %s error = %s\n", frame.PadId, err)
	}
	return nil
}

func (self *EditSession) sendToSelf(frame any) {
	message, err := EncodeFrame(frame)
	if err != nil {
		glog.Infof("[c]encode error = %s\n", err)
		return
	}
	select {
	case self.session.Route() <- message:
	default:
		glog.V(1).Infof("[c]drop self %s\n", self.session.SessionId())
	}
}
