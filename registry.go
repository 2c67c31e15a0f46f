package padsync

import (
	"errors"
	"sync"

	"golang.org/x/exp/maps"
)

var ErrDuplicateSession = errors.New("Session already registered.")
var ErrSessionNotFound = errors.New("Session not registered.")

// the outbound channel for one session.
// delivery is best effort. a full or closed route drops the message.
type Route = chan []byte

// one live connection from one authenticated user
type Session struct {
	sessionId Id
	userId    Id
	userName  string
	route     Route

	// guarded by the registry state lock
	padIds map[Id]bool
}

func (self *Session) SessionId() Id {
	return self.sessionId
}

func (self *Session) UserId() Id {
	return self.userId
}

func (self *Session) UserName() string {
	return self.userName
}

func (self *Session) Route() Route {
	return self.route
}

// SessionRegistry tracks which sessions participate in which pad rooms.
// rooms are a runtime index only. the authoritative pad content lives in the
// pad store.
type SessionRegistry struct {
	stateLock sync.Mutex

	// sessionId -> session
	sessions map[Id]*Session
	// padId -> sessionId -> session
	rooms map[Id]map[Id]*Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: map[Id]*Session{},
		rooms:    map[Id]map[Id]*Session{},
	}
}

func (self *SessionRegistry) Register(sessionId Id, userId Id, userName string, route Route) (*Session, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.sessions[sessionId]; ok {
		return nil, ErrDuplicateSession
	}
	session := &Session{
		sessionId: sessionId,
		userId:    userId,
		userName:  userName,
		route:     route,
		padIds:    map[Id]bool{},
	}
	self.sessions[sessionId] = session
	return session, nil
}

// idempotent. returns the room size after the join.
func (self *SessionRegistry) Join(sessionId Id, padId Id) (int, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	session, ok := self.sessions[sessionId]
	if !ok {
		return 0, ErrSessionNotFound
	}
	room, ok := self.rooms[padId]
	if !ok {
		room = map[Id]*Session{}
		self.rooms[padId] = room
	}
	room[sessionId] = session
	session.padIds[padId] = true
	return len(room), nil
}

// idempotent. returns the room size after the leave.
func (self *SessionRegistry) Leave(sessionId Id, padId Id) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if session, ok := self.sessions[sessionId]; ok {
		delete(session.padIds, padId)
	}
	return self.leaveRoom(sessionId, padId)
}

func (self *SessionRegistry) leaveRoom(sessionId Id, padId Id) int {
	room, ok := self.rooms[padId]
	if !ok {
		return 0
	}
	delete(room, sessionId)
	if len(room) == 0 {
		delete(self.rooms, padId)
		return 0
	}
	return len(room)
}

// removes the session from every room it was a member of, then deletes the
// session record. returns the pad ids the session was in.
func (self *SessionRegistry) DropSession(sessionId Id) []Id {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	session, ok := self.sessions[sessionId]
	if !ok {
		return nil
	}
	padIds := maps.Keys(session.padIds)
	for _, padId := range padIds {
		self.leaveRoom(sessionId, padId)
	}
	delete(self.sessions, sessionId)
	return padIds
}

func (self *SessionRegistry) IsMember(sessionId Id, padId Id) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	room, ok := self.rooms[padId]
	if !ok {
		return false
	}
	_, ok = room[sessionId]
	return ok
}

// the members of the pad room excluding one session.
// used for broadcast-excluding-sender.
func (self *SessionRegistry) MembersOf(padId Id, excludeSessionId Id) []*Session {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	room, ok := self.rooms[padId]
	if !ok {
		return nil
	}
	members := make([]*Session, 0, len(room))
	for sessionId, session := range room {
		if sessionId == excludeSessionId {
			continue
		}
		members = append(members, session)
	}
	return members
}

func (self *SessionRegistry) RoomSize(padId Id) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.rooms[padId])
}
