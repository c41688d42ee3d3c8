package imap

import (
	"errors"
	"fmt"
	"strings"
)

// AuthError indicates rejected credentials or an invalid token. It is
// terminal for the connection attempt: callers must retry with a fresh
// connection, never reuse the failed handle.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("authentication failed: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError indicates an unreachable server or a TLS/transport failure.
// Transient: a fresh connection on the next pass may succeed.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// MailboxMissingError indicates the remote folder no longer exists. It is a
// recoverable condition: the orchestrator reacts by removing the local folder
// row, not by failing the pass.
type MailboxMissingError struct {
	Mailbox string
	Err     error
}

func (e *MailboxMissingError) Error() string {
	return fmt.Sprintf("mailbox %q does not exist: %v", e.Mailbox, e.Err)
}
func (e *MailboxMissingError) Unwrap() error { return e.Err }

// IsAuthError reports whether err carries an AuthError.
func IsAuthError(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsNetworkError reports whether err carries a NetworkError.
func IsNetworkError(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}

// IsMailboxMissing reports whether err carries a MailboxMissingError.
func IsMailboxMissing(err error) bool {
	var target *MailboxMissingError
	return errors.As(err, &target)
}

// mailboxMissingPatterns are fragments servers use to report a nonexistent
// mailbox. RFC 5530 servers send the NONEXISTENT response code; older ones
// spell it out.
var mailboxMissingPatterns = []string{
	"nonexistent",
	"no such mailbox",
	"doesn't exist",
	"does not exist",
	"unknown mailbox",
	"mailbox not found",
}

// classifyMailboxErr wraps errors that denote a missing remote mailbox into
// MailboxMissingError and returns other errors unchanged.
func classifyMailboxErr(mailbox string, err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range mailboxMissingPatterns {
		if strings.Contains(msg, pattern) {
			return &MailboxMissingError{Mailbox: mailbox, Err: err}
		}
	}

	return err
}
