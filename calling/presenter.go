/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Ringtone is the audio cue for an incoming call. Play loops until paused.
type Ringtone interface {
	Play() error
	Pause()
	Rewind()
}

// Navigator opens an application route.
type Navigator interface {
	Navigate(path string)
}

// IncomingView is what the incoming-call surface renders.
type IncomingView struct {
	Visible  bool
	Label    string
	Subtitle string
	Number   string
}

// Presenter drives the incoming-call surface. It is visible while the
// active call is inbound and ringing, owns the ringtone for that time and
// opens the matched CRM record after an answer.
//
// The ringtone is released on every way out: answer, decline, remote
// cancel and Unmount.
type Presenter struct {
	client    *Client
	store     *Store
	ringtone  Ringtone
	navigator Navigator
	delay     time.Duration
	logger    zerolog.Logger

	mu        sync.Mutex
	visible   bool
	ringing   bool
	toneGen   uint64
	navTimer  *time.Timer
	unsub     []func()
	unmounted bool

	// afterFunc schedules navigation; replaced in tests.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// NewPresenter subscribes a presenter to client's store. Either ringtone
// or navigator may be nil.
func NewPresenter(client *Client, ringtone Ringtone, navigator Navigator) *Presenter {
	p := &Presenter{
		client:    client,
		store:     client.Store(),
		ringtone:  ringtone,
		navigator: navigator,
		delay:     client.config.NavigationDelay,
		logger:    client.config.logger("presenter"),
		afterFunc: time.AfterFunc,
	}

	follow := func(interface{}) { p.sync() }
	p.unsub = []func(){
		p.store.Subscribe(EventCallUpdated, follow),
		p.store.Subscribe(EventCallEnded, follow),
	}
	p.sync()
	return p
}

func incomingRinging(rec *CallRecord) bool {
	return rec != nil && rec.Direction == CallDirectionInbound && rec.Status == CallStatusRinging
}

// sync follows visibility changes of the store.
func (p *Presenter) sync() {
	visible := incomingRinging(p.store.CurrentCall())

	p.mu.Lock()
	if p.unmounted {
		p.mu.Unlock()
		return
	}
	changed := visible != p.visible
	p.visible = visible
	p.mu.Unlock()

	if !changed {
		return
	}
	if visible {
		p.acquire()
	} else {
		p.release()
	}
}

func (p *Presenter) acquire() {
	p.mu.Lock()
	if p.ringing || p.ringtone == nil {
		p.mu.Unlock()
		return
	}
	p.ringing = true
	p.toneGen++
	gen := p.toneGen
	p.mu.Unlock()

	if err := p.ringtone.Play(); err != nil {
		p.logger.Warn().Err(err).Msg("ringtone playback failed")
	}

	// A release that ran while Play was starting must still silence it.
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.toneGen || p.ringing {
		return
	}
	p.ringtone.Pause()
	p.ringtone.Rewind()
}

// release stops the ringtone and rewinds it. Calling it when nothing is
// playing does nothing.
func (p *Presenter) release() {
	p.mu.Lock()
	if !p.ringing {
		p.mu.Unlock()
		return
	}
	p.ringing = false
	p.mu.Unlock()

	p.ringtone.Pause()
	p.ringtone.Rewind()
}

// Visible reports whether the incoming-call surface is shown.
func (p *Presenter) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// View renders the incoming-call surface from the store.
func (p *Presenter) View() IncomingView {
	cur := p.store.CurrentCall()
	if !incomingRinging(cur) {
		return IncomingView{}
	}
	info, _ := p.store.CallerInfo()

	view := IncomingView{
		Visible: true,
		Label:   DisplayLabel(info, cur.DisplayName, cur.PhoneNumber),
		Number:  cur.PhoneNumber,
	}
	if info.Found && info.Label() != "" {
		view.Subtitle = info.Label()
	} else {
		view.Subtitle = FormatNumber(cur.PhoneNumber)
	}
	return view
}

// Answer stops the ringtone and answers. When the caller matched a CRM
// record, navigation to it is scheduled after the configured delay and the
// lookup result is cleared.
func (p *Presenter) Answer(ctx context.Context) error {
	p.release()

	info, hasInfo := p.store.CallerInfo()
	if err := p.client.AnswerCall(ctx); err != nil {
		return err
	}

	if hasInfo {
		if route := info.Route(); route != "" {
			p.scheduleNavigation(route)
		}
		p.store.ClearCallerInfo()
	}
	return nil
}

// Decline stops the ringtone and rejects the call.
func (p *Presenter) Decline(ctx context.Context) error {
	p.release()
	return p.client.RejectCall(ctx)
}

func (p *Presenter) scheduleNavigation(route string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unmounted || p.navigator == nil {
		return
	}
	if p.navTimer != nil {
		p.navTimer.Stop()
	}
	nav := p.navigator
	p.navTimer = p.afterFunc(p.delay, func() {
		p.mu.Lock()
		p.navTimer = nil
		p.mu.Unlock()
		p.logger.Debug().Str("route", route).Msg("opening caller record")
		nav.Navigate(route)
	})
}

// Unmount releases the ringtone, stops following the store and cancels a
// pending navigation. It is safe to call more than once.
func (p *Presenter) Unmount() {
	p.release()

	p.mu.Lock()
	if p.unmounted {
		p.mu.Unlock()
		return
	}
	p.unmounted = true
	p.visible = false
	unsub := p.unsub
	p.unsub = nil
	if p.navTimer != nil {
		p.navTimer.Stop()
		p.navTimer = nil
	}
	p.mu.Unlock()

	for _, u := range unsub {
		u()
	}
}
