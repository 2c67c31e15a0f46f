package padsync

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestFrameRoundTrip(t *testing.T) {
	padId := NewId()
	userId := NewId()

	message, err := EncodeFrame(&JoinPadFrame{
		PadId:    padId,
		Password: "sekrit",
	})
	assert.Equal(t, nil, err)
	frame, err := DecodeFrame(message)
	assert.Equal(t, nil, err)
	joinPad := frame.(*JoinPadFrame)
	assert.Equal(t, padId, joinPad.PadId)
	assert.Equal(t, "sekrit", joinPad.Password)

	now := time.Now().UTC().Truncate(time.Millisecond)
	message, err = EncodeFrame(&ContentUpdateFrame{
		PadId:     padId,
		Content:   "hello",
		UserId:    userId,
		Timestamp: now,
	})
	assert.Equal(t, nil, err)
	frame, err = DecodeFrame(message)
	assert.Equal(t, nil, err)
	contentUpdate := frame.(*ContentUpdateFrame)
	assert.Equal(t, "hello", contentUpdate.Content)
	assert.Equal(t, userId, contentUpdate.UserId)
	assert.Equal(t, true, now.Equal(contentUpdate.Timestamp))
}

func TestFrameUnknownType(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"type":"launch-missiles","payload":{}}`))
	assert.NotEqual(t, nil, err)

	_, err = DecodeFrame([]byte(`not json`))
	assert.NotEqual(t, nil, err)

	_, err = EncodeFrame(struct{}{})
	assert.NotEqual(t, nil, err)
}
