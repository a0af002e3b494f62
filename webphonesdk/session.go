/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package webphonesdk

import (
	"context"
	"net/http"
)

// SessionState is the authentication state reported by the application.
type SessionState string

const (
	SessionAuthenticated   SessionState = "authenticated"
	SessionUnauthenticated SessionState = "unauthenticated"
	SessionLoading         SessionState = "loading"
)

// SessionUser is the signed-in user as reported by the session endpoint.
// SIP fields carry the softphone profile used for auto-registration.
type SessionUser struct {
	ID           string `json:"id"`
	Email        string `json:"email,omitempty"`
	FirstName    string `json:"firstName,omitempty"`
	LastName     string `json:"lastName,omitempty"`
	CompanyID    string `json:"companyId,omitempty"`
	Role         string `json:"role,omitempty"`
	SipEnabled   bool   `json:"sipEnabled"`
	SipExtension string `json:"sipExtension,omitempty"`
	SipPassword  string `json:"sipPassword,omitempty"`
	SipServer    string `json:"sipServer,omitempty"`
}

// Session is the result of a session query.
type Session struct {
	State SessionState `json:"status"`
	User  *SessionUser `json:"user,omitempty"`
}

// Authenticated reports whether the session has a signed-in user.
func (s *Session) Authenticated() bool {
	return s != nil && s.State == SessionAuthenticated
}

// Session queries the application for the current session.
//
// 401/403 responses and bodies without a user map to SessionUnauthenticated,
// 202 responses and bodies with status "loading" map to SessionLoading.
// Any other failure is returned as an error.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	resp, err := c.RequestWithRetry(ctx, http.MethodGet, c.Config.SessionPath, nil, nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusAccepted {
		resp.Body.Close()
		return &Session{State: SessionLoading}, nil
	}

	var session Session
	if err := ParseResponse(resp, &session); err != nil {
		if IsAuthError(err) || IsForbidden(err) {
			return &Session{State: SessionUnauthenticated}, nil
		}
		return nil, err
	}

	if session.State == SessionLoading {
		return &session, nil
	}
	if session.User == nil || session.User.ID == "" {
		return &Session{State: SessionUnauthenticated}, nil
	}
	session.State = SessionAuthenticated
	return &session, nil
}

// SessionState implements the realtime session check.
func (c *Client) SessionState(ctx context.Context) (SessionState, error) {
	s, err := c.Session(ctx)
	if err != nil {
		return SessionUnauthenticated, err
	}
	return s.State, nil
}
