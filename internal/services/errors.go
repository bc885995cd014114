// Package services defines the business logic for the chat directory and the
// per-chat message log. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler/controller layer.
package services

import "errors"

var (
	// ErrNotAuthenticated indicates that no valid user identity was supplied
	// with the request.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrForbidden indicates an ownership violation: editing or deleting a
	// message the caller did not send, or touching a chat the caller is not a
	// participant of.
	ErrForbidden = errors.New("forbidden")

	// ErrChatNotFound indicates that the requested chat does not exist.
	ErrChatNotFound = errors.New("chat not found")

	// ErrMessageNotFound indicates that the requested message does not exist
	// in the given chat.
	ErrMessageNotFound = errors.New("message not found")

	// ErrUserNotFound indicates that the referenced user profile is missing.
	ErrUserNotFound = errors.New("user not found")

	// ErrStoreUnavailable wraps transport or driver failures from the
	// persistence layer. Operations failing with this error are retryable.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrEditWindowExpired is returned when a message is edited or deleted
	// after the mutation window has elapsed.
	ErrEditWindowExpired = errors.New("edit window expired")

	// ErrEmptyMessage is returned when a send or edit carries no content
	// after trimming.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMessageTooLong is returned when message content exceeds the
	// configured maximum length.
	ErrMessageTooLong = errors.New("message too long")

	// ErrNotParticipant indicates that a referenced user id is not one of the
	// chat's two participants.
	ErrNotParticipant = errors.New("user is not a chat participant")
)
