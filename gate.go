package padsync

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

type PadAccess int

const (
	AccessRead PadAccess = iota
	AccessWrite
)

func (self PadAccess) String() string {
	switch self {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	default:
		return "unknown"
	}
}

// a join or write was rejected. recoverable, the session stays connected.
type AccessDeniedError struct {
	Reason string
}

func (self *AccessDeniedError) Error() string {
	return fmt.Sprintf("Access denied: %s", self.Reason)
}

// AccessGate is consulted before a session may join a pad room.
// access is assumed stable for the lifetime of the session after the join.
type AccessGate interface {
	// returns nil when allowed, else *AccessDeniedError.
	// `password` applies to password protected pads and may be empty.
	Authorize(ctx context.Context, userId Id, padId Id, access PadAccess, password string) error
}

// StoreAccessGate answers from the pad auth rows:
// the owner may do anything, a collaborator is bound by their permission,
// and anyone may read a public pad if they present its password when one is
// set.
type StoreAccessGate struct {
	store PadStore
}

func NewStoreAccessGate(store PadStore) *StoreAccessGate {
	return &StoreAccessGate{
		store: store,
	}
}

func (self *StoreAccessGate) Authorize(ctx context.Context, userId Id, padId Id, access PadAccess, password string) error {
	auth, err := self.store.GetPadAuth(ctx, padId)
	if err != nil {
		if err == ErrPadNotFound {
			return &AccessDeniedError{Reason: "pad not found"}
		}
		return err
	}

	if auth.OwnerUserId == userId {
		return nil
	}

	if permission, ok := auth.Collaborators[userId]; ok {
		switch permission {
		case PermissionWrite:
			return nil
		case PermissionRead:
			if access == AccessRead {
				return nil
			}
			return &AccessDeniedError{Reason: "read only collaborator"}
		}
	}

	if auth.IsPublic && access == AccessRead {
		if auth.PasswordHash == "" {
			return nil
		}
		if password == "" {
			return &AccessDeniedError{Reason: "password required"}
		}
		if err := bcrypt.CompareHashAndPassword([]byte(auth.PasswordHash), []byte(password)); err != nil {
			return &AccessDeniedError{Reason: "bad password"}
		}
		return nil
	}

	return &AccessDeniedError{Reason: "not a collaborator"}
}
