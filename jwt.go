package padsync

import (
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

type ByJwt struct {
	UserId   Id
	UserName string
}

// ParseByJwt verifies an hs256 token and extracts the caller identity.
func ParseByJwt(jwt string, secret string) (*ByJwt, error) {
	token, err := gojwt.Parse(
		jwt,
		func(token *gojwt.Token) (any, error) {
			if _, ok := token.Method.(*gojwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("Unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
	)
	if err != nil {
		return nil, err
	}
	return byJwtFromClaims(token.Claims.(gojwt.MapClaims))
}

// used by clients that hold a platform-issued token they cannot verify
func ParseByJwtUnverified(jwt string) (*ByJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}
	return byJwtFromClaims(token.Claims.(gojwt.MapClaims))
}

func byJwtFromClaims(claims gojwt.MapClaims) (*ByJwt, error) {
	byJwt := &ByJwt{}

	if userIdStr, ok := claims["user_id"]; ok {
		if userId, err := ParseId(userIdStr.(string)); err == nil {
			byJwt.UserId = userId
		}
	}
	if userName, ok := claims["user_name"]; ok {
		byJwt.UserName = userName.(string)
	}

	return byJwt, nil
}

func SignByJwt(byJwt *ByJwt, secret string) (string, error) {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"user_id":   byJwt.UserId.String(),
		"user_name": byJwt.UserName,
		"iat":       time.Now().Unix(),
	})
	return token.SignedString([]byte(secret))
}
