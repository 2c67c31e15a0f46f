package padsync

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"
)

type TransportSettings struct {
	WsHandshakeTimeout time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	RouteBufferSize    int
}

func DefaultTransportSettings() *TransportSettings {
	return &TransportSettings{
		WsHandshakeTimeout: 2 * time.Second,
		PingTimeout:        15 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        60 * time.Second,
		RouteBufferSize:    32,
	}
}

// WsServer accepts one websocket per client, authenticates the connection,
// and runs a send pump and a receive pump for the edit session.
type WsServer struct {
	ctx    context.Context
	cancel context.CancelFunc

	service *EditService
	// hs256 secret for the session token. empty accepts unverified tokens,
	// for local development only.
	jwtSecret string

	settings *TransportSettings

	upgrader *websocket.Upgrader
}

func NewWsServerWithDefaults(ctx context.Context, service *EditService, jwtSecret string) *WsServer {
	return NewWsServer(ctx, service, jwtSecret, DefaultTransportSettings())
}

func NewWsServer(ctx context.Context, service *EditService, jwtSecret string, settings *TransportSettings) *WsServer {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &WsServer{
		ctx:       cancelCtx,
		cancel:    cancel,
		service:   service,
		jwtSecret: jwtSecret,
		settings:  settings,
		upgrader: &websocket.Upgrader{
			HandshakeTimeout: settings.WsHandshakeTimeout,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (self *WsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	byJwt, err := self.authenticate(r)
	if err != nil {
		// no identity is fatal to the connection
		glog.Infof("[ws]auth error = %s\n", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[ws]upgrade error = %s\n", err)
		return
	}

	go self.handle(ws, byJwt)
}

func (self *WsServer) authenticate(r *http.Request) (*ByJwt, error) {
	jwt := r.URL.Query().Get("auth")
	if authorization := r.Header.Get("Authorization"); authorization != "" {
		if bearer, ok := strings.CutPrefix(authorization, "Bearer "); ok {
			jwt = bearer
		}
	}
	if jwt == "" {
		return nil, ErrUnauthenticated
	}
	if self.jwtSecret == "" {
		return ParseByJwtUnverified(jwt)
	}
	return ParseByJwt(jwt, self.jwtSecret)
}

func (self *WsServer) handle(ws *websocket.Conn, byJwt *ByJwt) {
	defer ws.Close()

	send := make(Route, self.settings.RouteBufferSize)

	editSession, err := self.service.Connect(byJwt, send)
	if err != nil {
		glog.Infof("[ws]connect error = %s\n", err)
		return
	}
	defer self.service.Disconnect(editSession)

	sessionId := editSession.SessionId()

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	// send pump
	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case message, ok := <-send:
				if !ok {
					return
				}
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
					glog.V(1).Infof("[ws]%s-> error = %s\n", sessionId, err)
					return
				}
				glog.V(2).Infof("[ws]%s->\n", sessionId)
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// receive pump
	func() {
		defer handleCancel()

		ws.SetPongHandler(func(string) error {
			ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
			return nil
		})

		for {
			select {
			case <-handleCtx.Done():
				return
			default:
			}

			ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
			messageType, message, err := ws.ReadMessage()
			if err != nil {
				glog.V(1).Infof("[ws]%s<- error = %s\n", sessionId, err)
				return
			}

			switch messageType {
			case websocket.TextMessage:
				frame, err := DecodeFrame(message)
				if err != nil {
					// a malformed frame is dropped, not fatal
					glog.V(1).Infof("[ws]%s<- decode error = %s\n", sessionId, err)
					continue
				}
				if err := editSession.HandleFrame(frame); err != nil {
					glog.V(1).Infof("[ws]%s<- handle error = %s\n", sessionId, err)
				}
				glog.V(2).Infof("[ws]%s<-\n", sessionId)
			default:
				glog.V(2).Infof("[ws]other=%d %s<-\n", messageType, sessionId)
			}
		}
	}()
}

func (self *WsServer) Close() {
	self.cancel()
}
