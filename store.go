package padsync

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrPadNotFound = errors.New("Pad not found.")

// a persistence failure. retried by the pad writer per its settings.
type StoreError struct {
	Cause error
}

func (self *StoreError) Error() string {
	return fmt.Sprintf("Store error = %s", self.Cause)
}

func (self *StoreError) Unwrap() error {
	return self.Cause
}

type PadPermission string

const (
	PermissionRead  PadPermission = "read"
	PermissionWrite PadPermission = "write"
)

type Pad struct {
	PadId       Id
	OwnerUserId Id
	Title       string
	Content     string
	IsPublic    bool
	UpdatedAt   time.Time
}

// the rows the access gate consults
type PadAuth struct {
	PadId       Id
	OwnerUserId Id
	IsPublic    bool
	// bcrypt hash. empty means the pad is not password protected.
	PasswordHash string
	// userId -> permission
	Collaborators map[Id]PadPermission
}

// fields are nil to leave the stored value unchanged
type PadUpdate struct {
	Content *string
	Title   *string
}

// PadStore is the external document store collaborator.
// the canonical pad row (owner, title, privacy, password) is owned by the
// crud layer. this core consumes only the operations below.
type PadStore interface {
	GetPad(ctx context.Context, padId Id) (*Pad, error)
	GetPadAuth(ctx context.Context, padId Id) (*PadAuth, error)

	// persist the latest content/title for the pad
	UpdatePad(ctx context.Context, padId Id, update *PadUpdate, authorUserId Id) error

	// snapshot the current content into the version history.
	// invoked immediately before each content write-through.
	CreateVersion(ctx context.Context, padId Id, authorUserId Id) error
}
