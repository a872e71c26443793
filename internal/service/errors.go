package service

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Error categories. Every error returned by the chat service wraps exactly one of these.
var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrAuth             = errors.New("authentication failed")
	ErrValidation       = errors.New("validation failed")
)

var (
	ErrChatNotFound     = fmt.Errorf("chat %w", ErrNotFound)
	ErrMessageNotFound  = fmt.Errorf("message %w", ErrNotFound)
	ErrAccountNotFound  = fmt.Errorf("account %w", ErrNotFound)
	ErrMemberNotFound   = fmt.Errorf("member %w", ErrNotFound)
	ErrNotParticipant   = fmt.Errorf("user is not a participant of the chat: %w", ErrForbidden)
	ErrNotAdmin         = fmt.Errorf("only group admins can perform this action: %w", ErrForbidden)
	ErrSenderBlocked    = fmt.Errorf("sender is blocked in this chat: %w", ErrForbidden)
	ErrNotSender        = fmt.Errorf("only the sender can modify this message: %w", ErrForbidden)
	ErrPostingRestrict  = fmt.Errorf("only admins can post in this group: %w", ErrForbidden)
	ErrAddingRestrict   = fmt.Errorf("only admins can add members to this group: %w", ErrForbidden)
	ErrDirectChatExists = fmt.Errorf("direct chat %w", ErrAlreadyExists)
	ErrSelfChat         = fmt.Errorf("cannot open a direct chat with yourself: %w", ErrInvalidOperation)
	ErrGroupOnly        = fmt.Errorf("operation is only valid for group chats: %w", ErrInvalidOperation)
	ErrDirectOnly       = fmt.Errorf("operation is only valid for direct chats: %w", ErrInvalidOperation)
	ErrMessageDeleted   = fmt.Errorf("message was deleted for everyone: %w", ErrInvalidOperation)
	ErrOwnMessageStatus = fmt.Errorf("senders cannot report status on their own messages: %w", ErrInvalidOperation)
	ErrEmptyMessage     = fmt.Errorf("message content is required: %w", ErrValidation)
	ErrEmptyGroupName   = fmt.Errorf("group name is required: %w", ErrValidation)
	ErrInvalidType      = fmt.Errorf("unsupported message type: %w", ErrValidation)
	ErrInvalidStatus    = fmt.Errorf("status must be delivered or read: %w", ErrValidation)
)

// Error codes surfaced to HTTP and socket clients.
const (
	CodeNotFound         = "not_found"
	CodeForbidden        = "forbidden"
	CodeAlreadyExists    = "already_exists"
	CodeInvalidOperation = "invalid_operation"
	CodeAuth             = "auth_error"
	CodeValidation       = "validation_error"
	CodeInternal         = "internal_error"
)

// ErrorCode classifies err into one of the client facing codes.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrAlreadyExists):
		return CodeAlreadyExists
	case errors.Is(err, ErrInvalidOperation):
		return CodeInvalidOperation
	case errors.Is(err, ErrAuth):
		return CodeAuth
	case IsValidationError(err):
		return CodeValidation
	default:
		return CodeInternal
	}
}

// IsValidationError reports request problems, either from struct tags or service checks.
func IsValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors) || errors.Is(err, ErrValidation)
}
