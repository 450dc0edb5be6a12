// Package services defines the business logic for rooms, messages, and
// offline notification dispatch. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

var (
	// ErrRoomNotFound indicates that the given identifier resolved to no
	// room, neither as a primary key nor as a slug.
	ErrRoomNotFound = errors.New("room not found")

	// ErrUserNotFound indicates that the sender identity does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrEmptyMessage is returned when a send request carries neither text
	// nor an attachment. Rejected before any side effect.
	ErrEmptyMessage = errors.New("message has no text and no attachment")

	// ErrTextTooLong is returned when the message body exceeds the
	// configured maximum length.
	ErrTextTooLong = errors.New("message text too long")

	// ErrUploadFailed wraps an attachment storage failure or timeout. When
	// it is returned, no message referencing the attachment was persisted.
	ErrUploadFailed = errors.New("attachment upload failed")
)
