package padsync

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestByJwtRoundTrip(t *testing.T) {
	byJwt := &ByJwt{
		UserId:   NewId(),
		UserName: "ana",
	}

	jwt, err := SignByJwt(byJwt, "test secret")
	assert.Equal(t, nil, err)

	parsed, err := ParseByJwt(jwt, "test secret")
	assert.Equal(t, nil, err)
	assert.Equal(t, byJwt.UserId, parsed.UserId)
	assert.Equal(t, byJwt.UserName, parsed.UserName)

	_, err = ParseByJwt(jwt, "wrong secret")
	assert.NotEqual(t, nil, err)

	parsed, err = ParseByJwtUnverified(jwt)
	assert.Equal(t, nil, err)
	assert.Equal(t, byJwt.UserId, parsed.UserId)
}
