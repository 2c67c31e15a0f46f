package padsync

import (
	"encoding/json"
	"fmt"
	"time"
)

// wire frames are json envelopes `{"type": ..., "payload": ...}` so that any
// bidirectional channel (websocket, relay fabric) can carry them.
// the event names match the original pad editor protocol.

const (
	FrameTypeJoinPad        = "join-pad"
	FrameTypeLeavePad       = "leave-pad"
	FrameTypeContentChange  = "pad-content-change"
	FrameTypeTitleChange    = "pad-title-change"
	FrameTypeCursorPosition = "cursor-position"
	FrameTypeSavePad        = "save-pad"

	FrameTypeJoinResult    = "join-result"
	FrameTypeContentUpdate = "pad-content-update"
	FrameTypeTitleUpdate   = "pad-title-update"
	FrameTypeCursorUpdate  = "cursor-update"
)

// client -> server

type JoinPadFrame struct {
	PadId    Id     `json:"padId"`
	Password string `json:"password,omitempty"`
}

type LeavePadFrame struct {
	PadId Id `json:"padId"`
}

type ContentChangeFrame struct {
	PadId   Id     `json:"padId"`
	Content string `json:"content"`
}

type TitleChangeFrame struct {
	PadId Id     `json:"padId"`
	Title string `json:"title"`
}

type CursorPositionFrame struct {
	PadId    Id  `json:"padId"`
	Position int `json:"position"`
}

type SavePadFrame struct {
	PadId Id `json:"padId"`
}

// server -> client

type JoinResultFrame struct {
	PadId   Id     `json:"padId"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

type ContentUpdateFrame struct {
	PadId     Id        `json:"padId"`
	Content   string    `json:"content"`
	UserId    Id        `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type TitleUpdateFrame struct {
	PadId     Id        `json:"padId"`
	Title     string    `json:"title"`
	UserId    Id        `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type CursorUpdateFrame struct {
	PadId    Id     `json:"padId"`
	UserId   Id     `json:"userId"`
	Position int    `json:"position"`
	Username string `json:"username"`
}

type frameEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func EncodeFrame(frame any) ([]byte, error) {
	var frameType string
	switch v := frame.(type) {
	case *JoinPadFrame:
		frameType = FrameTypeJoinPad
	case *LeavePadFrame:
		frameType = FrameTypeLeavePad
	case *ContentChangeFrame:
		frameType = FrameTypeContentChange
	case *TitleChangeFrame:
		frameType = FrameTypeTitleChange
	case *CursorPositionFrame:
		frameType = FrameTypeCursorPosition
	case *SavePadFrame:
		frameType = FrameTypeSavePad
	case *JoinResultFrame:
		frameType = FrameTypeJoinResult
	case *ContentUpdateFrame:
		frameType = FrameTypeContentUpdate
	case *TitleUpdateFrame:
		frameType = FrameTypeTitleUpdate
	case *CursorUpdateFrame:
		frameType = FrameTypeCursorUpdate
	default:
		return nil, fmt.Errorf("Unknown frame type: %T", v)
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&frameEnvelope{
		Type:    frameType,
		Payload: payload,
	})
}

func RequireEncodeFrame(frame any) []byte {
	message, err := EncodeFrame(frame)
	if err != nil {
		panic(err)
	}
	return message
}

func DecodeFrame(message []byte) (any, error) {
	envelope := &frameEnvelope{}
	if err := json.Unmarshal(message, envelope); err != nil {
		return nil, err
	}
	var frame any
	switch envelope.Type {
	case FrameTypeJoinPad:
		frame = &JoinPadFrame{}
	case FrameTypeLeavePad:
		frame = &LeavePadFrame{}
	case FrameTypeContentChange:
		frame = &ContentChangeFrame{}
	case FrameTypeTitleChange:
		frame = &TitleChangeFrame{}
	case FrameTypeCursorPosition:
		frame = &CursorPositionFrame{}
	case FrameTypeSavePad:
		frame = &SavePadFrame{}
	case FrameTypeJoinResult:
		frame = &JoinResultFrame{}
	case FrameTypeContentUpdate:
		frame = &ContentUpdateFrame{}
	case FrameTypeTitleUpdate:
		frame = &TitleUpdateFrame{}
	case FrameTypeCursorUpdate:
		frame = &CursorUpdateFrame{}
	default:
		return nil, fmt.Errorf("Unknown frame type: %s", envelope.Type)
	}
	if err := json.Unmarshal(envelope.Payload, frame); err != nil {
		return nil, err
	}
	return frame, nil
}
