/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package sipua

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/emiago/sipgo/sip"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/tejzpr/webphone-go-sdk/calling"
)

type callPhase int

const (
	phaseCalling     callPhase = iota // outbound INVITE pending
	phaseRinging                      // inbound INVITE pending
	phaseEstablished                  // 2xx sent or received
	phaseEnded
)

// decision is how an inbound INVITE is finally answered.
type decision struct {
	code   int
	reason string
	body   []byte
	done   chan error
}

// Call is one SIP dialog with its media.
type Call struct {
	ID        string
	Direction calling.CallDirection
	Number    string

	logger zerolog.Logger

	mu       sync.Mutex
	phase    callPhase
	media    *MediaEngine
	dlg      *dialog
	invite   *sip.Request // the INVITE we sent or received
	localSDP string
	localTag string
	held     bool
	progress bool

	// inbound
	decisions chan decision
	cancelled chan struct{}
	cancelOne sync.Once
}

func newCall(id string, dir calling.CallDirection, number string, logger zerolog.Logger) *Call {
	return &Call{
		ID:        id,
		Direction: dir,
		Number:    number,
		logger:    logger.With().Str("call_id", id).Str("direction", string(dir)).Logger(),
		localTag:  sip.GenerateTagN(16),
		decisions: make(chan decision, 1),
		cancelled: make(chan struct{}),
	}
}

func (c *Call) getPhase() callPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// end moves the call to ended and reports whether this call did it.
func (c *Call) end() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == phaseEnded {
		return false
	}
	c.phase = phaseEnded
	return true
}

func (c *Call) dialog() *dialog {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dlg
}

// markCancelled signals the inbound INVITE handler that CANCEL arrived.
func (c *Call) markCancelled() {
	c.cancelOne.Do(func() { close(c.cancelled) })
}

// decide hands a final response to the inbound INVITE handler. wait makes
// it block until the response was sent.
func (c *Call) decide(ctx context.Context, d decision, wait bool) error {
	d.done = make(chan error, 1)
	c.mu.Lock()
	if c.phase != phaseRinging {
		c.mu.Unlock()
		return calling.ErrInvalidCallState
	}
	select {
	case c.decisions <- d:
	default:
		c.mu.Unlock()
		return fmt.Errorf("call %s already answered", c.ID)
	}
	c.mu.Unlock()
	if !wait {
		return nil
	}
	select {
	case err := <-d.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Call) closeMedia() {
	c.mu.Lock()
	m := c.media
	c.media = nil
	c.mu.Unlock()
	if m == nil {
		return
	}
	if err := m.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("closing media")
	}
}

// setupMedia creates the peer connection and the local track. Callbacks are
// wired by the user agent.
func (c *Call) setupMedia(cfg *MediaConfig, onRemote func(*webrtc.TrackRemote), onFailed func()) (*MediaEngine, error) {
	m, err := NewMediaEngine(cfg, c.logger)
	if err != nil {
		return nil, err
	}
	m.OnRemoteTrack(onRemote)
	m.OnFailed(onFailed)
	if _, err := m.AddAudioTrack(); err != nil {
		m.Close()
		return nil, err
	}
	c.mu.Lock()
	c.media = m
	c.mu.Unlock()
	return m, nil
}

func (c *Call) setMuted(muted bool) error {
	c.mu.Lock()
	m := c.media
	c.mu.Unlock()
	if m == nil {
		return errors.New("call has no media")
	}
	m.SetMuted(muted)
	return nil
}

// ---- inbound ----

// callerIdentity reads the number and display name from the From header.
func callerIdentity(req *sip.Request) (number, display string) {
	from := req.From()
	if from == nil {
		return "", ""
	}
	return from.Address.User, from.DisplayName
}
