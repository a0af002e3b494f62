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
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/rs/zerolog"
	"github.com/tejzpr/webphone-go-sdk/calling"
)

// Line is a SIP registration. It refreshes at 80% of the granted expiry and
// stops after the first failed refresh.
type Line struct {
	client   *sipgo.Client
	target   target
	creds    calling.SipCredentials
	hostname string
	expiry   time.Duration
	timeout  time.Duration
	logger   zerolog.Logger

	// onLost is called once when a refresh fails.
	onLost func(err error)

	mu         sync.Mutex
	callID     string
	cseq       uint32
	registered bool
	expiresAt  time.Time
	stop       chan struct{}
	done       chan struct{}

	afterFunc func(d time.Duration) <-chan time.Time
}

func newLine(client *sipgo.Client, t target, creds calling.SipCredentials, hostname string, cfg *Config, logger zerolog.Logger) *Line {
	return &Line{
		client:    client,
		target:    t,
		creds:     creds,
		hostname:  hostname,
		expiry:    cfg.RegisterExpiry,
		timeout:   cfg.RequestTimeout,
		logger:    logger.With().Str("server", t.String()).Logger(),
		callID:    sip.GenerateTagN(24),
		afterFunc: time.After,
	}
}

// aor is the address of record of the line.
func (l *Line) aor() sip.Uri {
	return sip.Uri{Scheme: "sip", User: l.creds.Extension, Host: l.target.Host}
}

// contact is the address requests for this line should reach.
func (l *Line) contact() sip.Uri {
	u := sip.Uri{Scheme: "sip", User: l.creds.Extension, Host: l.hostname}
	if l.target.Transport != "UDP" {
		u.UriParams.Add("transport", strings.ToLower(l.target.Transport))
	}
	return u
}

// Register sends the initial REGISTER and starts the refresh loop.
func (l *Line) Register(ctx context.Context) error {
	granted, err := l.send(ctx, int(l.expiry/time.Second))
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.registered = true
	l.expiresAt = time.Now().Add(granted)
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	stop, done := l.stop, l.done
	l.mu.Unlock()

	l.logger.Info().Dur("expires_in", granted).Msg("line registered")
	go l.refreshLoop(granted, stop, done)
	return nil
}

func (l *Line) refreshLoop(granted time.Duration, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-l.afterFunc(refreshInterval(granted)):
		}

		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		next, err := l.send(ctx, int(l.expiry/time.Second))
		cancel()

		select {
		case <-stop:
			return
		default:
		}

		if err != nil {
			l.mu.Lock()
			l.registered = false
			l.mu.Unlock()
			l.logger.Error().Err(err).Msg("registration refresh failed")
			if l.onLost != nil {
				l.onLost(err)
			}
			return
		}

		l.mu.Lock()
		l.expiresAt = time.Now().Add(next)
		l.mu.Unlock()
		l.logger.Debug().Dur("expires_in", next).Msg("registration refreshed")
		granted = next
	}
}

// refreshInterval is 80% of the granted expiry.
func refreshInterval(granted time.Duration) time.Duration {
	return granted * 8 / 10
}

// Deregister stops the refresh loop and sends REGISTER with Expires 0.
func (l *Line) Deregister(ctx context.Context) error {
	l.mu.Lock()
	was := l.registered
	l.registered = false
	stop, done := l.stop, l.done
	l.stop = nil
	l.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	if !was {
		return nil
	}
	if _, err := l.send(ctx, 0); err != nil {
		return fmt.Errorf("deregister: %w", err)
	}
	l.logger.Info().Msg("line deregistered")
	return nil
}

// Registered reports whether the last REGISTER succeeded.
func (l *Line) Registered() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.registered
}

// send issues one REGISTER and returns the granted expiry.
func (l *Line) send(ctx context.Context, expires int) (time.Duration, error) {
	l.mu.Lock()
	l.cseq++
	seq := l.cseq
	l.mu.Unlock()

	req := sip.NewRequest(sip.REGISTER, sip.Uri{Scheme: "sip", Host: l.target.Host, Port: l.target.Port})
	req.SetTransport(l.target.Transport)
	req.SetDestination(l.target.hostPort())

	from := &sip.FromHeader{Address: l.aor()}
	from.Params.Add("tag", sip.GenerateTagN(16))
	req.AppendHeader(from)
	req.AppendHeader(&sip.ToHeader{Address: l.aor()})
	req.AppendHeader(&sip.ContactHeader{Address: l.contact()})
	callID := sip.CallIDHeader(l.callID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: sip.REGISTER})
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(expires)))

	tx, _, res, err := sendAuthenticated(ctx, l.client, req, l.creds.Extension, l.creds.Password,
		sipgo.ClientRequestRegisterBuild)
	if err != nil {
		var authErr *calling.AuthenticationError
		if errors.As(err, &authErr) {
			return 0, err
		}
		return 0, &calling.NetworkError{Server: l.creds.Server, Err: err}
	}
	tx.Terminate()

	switch {
	case res.StatusCode == 200:
	case res.StatusCode == 401 || res.StatusCode == 403 || res.StatusCode == 407:
		return 0, &calling.AuthenticationError{
			StatusCode: int(res.StatusCode),
			Err:        fmt.Errorf("register rejected: %s", res.Reason),
		}
	default:
		return 0, &calling.NetworkError{
			Server: l.creds.Server,
			Err:    fmt.Errorf("register failed with status %d %s", res.StatusCode, res.Reason),
		}
	}

	if expires == 0 {
		return 0, nil
	}
	return time.Duration(grantedExpiry(res, expires)) * time.Second, nil
}
