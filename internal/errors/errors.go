package errors

import (
	"errors"
	"fmt"
)

// Common error types for the farm2go client layer
var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoSession          = errors.New("no active session")
	ErrSessionExpired     = errors.New("session expired")
	ErrRefreshFailed      = errors.New("session refresh failed")

	// Profile errors
	ErrProfileNotFound = errors.New("profile not found")
	ErrNoProfileLoaded = errors.New("no profile loaded")

	// Configuration errors
	ErrNotConfigured = errors.New("backend not configured")

	// Staged-auth errors
	ErrStagingExpired  = errors.New("staged auth entry expired")
	ErrStagingNotFound = errors.New("staged auth entry not found")

	// Realtime channel errors
	ErrChannelClosed        = errors.New("channel closed")
	ErrChannelNotSubscribed = errors.New("channel not subscribed")
	ErrReconnectExhausted   = errors.New("reconnect attempts exhausted")

	// Persistence errors
	ErrKeyNotFound = errors.New("key not found")

	// General errors
	ErrNotFound    = errors.New("not found")
	ErrInternal    = errors.New("internal error")
	ErrUnsupported = errors.New("unsupported operation")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
