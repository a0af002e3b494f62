/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrLineBusy is returned when a call is placed while another occupies the line.
	ErrLineBusy = errors.New("calling: line is busy")

	// ErrEmptyNumber is returned by MakeCall for a blank number.
	ErrEmptyNumber = errors.New("calling: phone number is empty")

	// ErrNoActiveCall is returned when a call-control operation has no call to act on.
	ErrNoActiveCall = errors.New("calling: no active call")

	// ErrInvalidCallState is returned when the active call is in the wrong phase.
	ErrInvalidCallState = errors.New("calling: invalid call state")

	// ErrNotRegistered is returned when the line is not registered.
	ErrNotRegistered = errors.New("calling: line is not registered")

	// ErrEngineUnavailable is returned when the SIP engine could not be constructed.
	ErrEngineUnavailable = errors.New("calling: softphone unavailable")

	// ErrInvalidDigit is returned by SendDTMF for characters outside 0-9, *, # and A-D.
	ErrInvalidDigit = errors.New("calling: invalid DTMF digit")
)

// AuthenticationError is returned when the signaling server rejects the
// SIP credentials.
type AuthenticationError struct {
	StatusCode int
	Err        error
}

func (e *AuthenticationError) Error() string {
	msg := "sip authentication failed"
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (%d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *AuthenticationError) Unwrap() error { return e.Err }

// NetworkError is returned when the signaling server cannot be reached or
// does not answer in time.
type NetworkError struct {
	Server string
	Err    error
}

func (e *NetworkError) Error() string {
	msg := "sip network error"
	if e.Server != "" {
		msg += " (" + e.Server + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *NetworkError) Unwrap() error { return e.Err }

// IsAuthenticationError reports whether err is an AuthenticationError.
func IsAuthenticationError(err error) bool {
	var e *AuthenticationError
	return errors.As(err, &e)
}

// IsNetworkError reports whether err is a NetworkError.
func IsNetworkError(err error) bool {
	var e *NetworkError
	return errors.As(err, &e)
}

// classifyRegistrationError keeps typed registration errors and files
// everything else, including timeouts, under NetworkError.
func classifyRegistrationError(server string, err error) error {
	if IsAuthenticationError(err) || IsNetworkError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &NetworkError{Server: server, Err: fmt.Errorf("registration timed out: %w", err)}
	}
	return &NetworkError{Server: server, Err: err}
}
