// Copyright (C) 2024 The ldap-authd authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package errors

import (
	"errors"
	"fmt"
)

// DetailedError wraps a sentinel error with optional per-occurrence detail
// while remaining matchable with errors.Is against the sentinel.
type DetailedError struct {
	err     error
	guid    string
	details string
}

func (d *DetailedError) Error() string {
	if d.details != "" {
		return fmt.Sprintf("%s: %s", d.err.Error(), d.details)
	}

	return d.err.Error()
}

// Unwrap exposes the wrapped sentinel for errors.Is/errors.As.
func (d *DetailedError) Unwrap() error {
	return d.err
}

// WithGUID attaches the session identifier of the failing request.
func (d *DetailedError) WithGUID(guid string) *DetailedError {
	if d == nil {
		return nil
	}

	d.guid = guid

	return d
}

// WithDetail attaches a human readable detail message.
func (d *DetailedError) WithDetail(detail string) *DetailedError {
	if d == nil {
		return nil
	}

	d.details = detail

	return d
}

// GetGUID returns the session identifier attached to the error.
func (d *DetailedError) GetGUID() string {
	return d.guid
}

// GetDetails returns the detail message attached to the error.
func (d *DetailedError) GetDetails() string {
	return d.details
}

// NewDetailedError wraps the given sentinel into a fresh DetailedError.
func NewDetailedError(sentinel error) *DetailedError {
	return &DetailedError{err: sentinel}
}

// Error taxonomy of the authentication core. Callers match these with
// errors.Is; the dispatcher maps them onto decision outcomes.
var (
	// ErrLDAPConnect indicates a network or TLS failure reaching the
	// directory.
	ErrLDAPConnect = errors.New("could not connect to LDAP server")

	// ErrPoolExhausted indicates that no pooled connection became available
	// within the lease timeout.
	ErrPoolExhausted = errors.New("LDAP connection pool exhausted")

	// ErrPoolClosed indicates a lease attempt against a closed pool.
	ErrPoolClosed = errors.New("LDAP connection pool closed")

	// ErrProtocol indicates an unexpected but well-formed directory
	// response.
	ErrProtocol = errors.New("unexpected LDAP response")

	// ErrMalformedMessage indicates a directory response that could not be
	// decoded.
	ErrMalformedMessage = errors.New("malformed LDAP message")

	// ErrMessageTooLarge indicates a directory response exceeding the
	// accepted message size.
	ErrMessageTooLarge = errors.New("LDAP message exceeds size limit")

	// ErrInvalidCredentials indicates that the directory explicitly
	// rejected the bind.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNoSuchUser indicates that the username could not be resolved to a
	// distinguished name.
	ErrNoSuchUser = errors.New("no such user")

	// ErrGroupNotSatisfied indicates a successful bind without the required
	// group membership.
	ErrGroupNotSatisfied = errors.New("required group not satisfied")

	// ErrTimeout indicates that a stage exceeded its time budget.
	ErrTimeout = errors.New("LDAP operation timed out")

	// ErrConnectionDead indicates I/O against a connection that must be
	// discarded.
	ErrConnectionDead = errors.New("LDAP connection dead")

	// ErrInternal indicates a cache or pool invariant violation. It is
	// fatal to the single request, never to the process.
	ErrInternal = errors.New("internal error")
)
