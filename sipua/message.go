/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package sipua

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
	"github.com/tejzpr/webphone-go-sdk/calling"
)

// getResponse waits for the next response of a client transaction.
func getResponse(ctx context.Context, tx sip.ClientTransaction) (*sip.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-tx.Done():
		return nil, fmt.Errorf("transaction terminated: %w", tx.Err())
	case res := <-tx.Responses():
		return res, nil
	}
}

// parseContactExpires extracts ;expires= from a Contact header value.
// It returns 0 when absent or malformed.
func parseContactExpires(contactValue string) int {
	lower := strings.ToLower(contactValue)
	idx := strings.Index(lower, ";expires=")
	if idx < 0 {
		return 0
	}
	rest := contactValue[idx+len(";expires="):]
	if end := strings.IndexAny(rest, ";,> \t"); end > 0 {
		rest = rest[:end]
	}
	val, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0
	}
	return val
}

// parseExpiresHeader parses an Expires header value. It returns 0 when
// malformed.
func parseExpiresHeader(value string) int {
	val, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return val
}

// grantedExpiry reads the expiry a registrar granted, preferring the
// Contact parameter over the Expires header.
func grantedExpiry(res *sip.Response, requested int) int {
	if h := res.GetHeader("Contact"); h != nil {
		if v := parseContactExpires(h.Value()); v > 0 {
			return v
		}
	}
	if h := res.GetHeader("Expires"); h != nil {
		if v := parseExpiresHeader(h.Value()); v > 0 {
			return v
		}
	}
	return requested
}

// failureReason maps a final INVITE failure status to an end reason.
func failureReason(status int) calling.EndReason {
	switch status {
	case 486, 600:
		return calling.EndReasonBusy
	case 408, 480:
		return calling.EndReasonTimeout
	case 487:
		return calling.EndReasonCancelled
	case 603:
		return calling.EndReasonRejected
	default:
		return calling.EndReasonFailed
	}
}

// challenge answers a 401/407 by cloning req with digest credentials. The
// clone must be sent with ClientRequestIncreaseCSEQ and ClientRequestAddVia.
func challenge(req *sip.Request, res *sip.Response, username, password string) (*sip.Request, error) {
	authHeader, authzHeader := "WWW-Authenticate", "Authorization"
	if res.StatusCode == 407 {
		authHeader, authzHeader = "Proxy-Authenticate", "Proxy-Authorization"
	}

	h := res.GetHeader(authHeader)
	if h == nil {
		return nil, &calling.AuthenticationError{
			StatusCode: int(res.StatusCode),
			Err:        fmt.Errorf("no %s header", authHeader),
		}
	}

	chal, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return nil, fmt.Errorf("parsing auth challenge: %w", err)
	}
	cred, err := digest.Digest(chal, digest.Options{
		Method:   req.Method.String(),
		URI:      req.Recipient.String(),
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("computing digest: %w", err)
	}

	authReq := req.Clone()
	authReq.RemoveHeader("Via")
	authReq.RemoveHeader(authzHeader)
	authReq.AppendHeader(sip.NewHeader(authzHeader, cred.String()))
	return authReq, nil
}

// sendAuthenticated sends req and, on a digest challenge, retries once with
// credentials. The returned transaction is the one that produced res.
func sendAuthenticated(ctx context.Context, client *sipgo.Client, req *sip.Request, username, password string, build ...sipgo.ClientRequestOption) (sip.ClientTransaction, *sip.Request, *sip.Response, error) {
	tx, err := client.TransactionRequest(ctx, req, build...)
	if err != nil {
		return nil, req, nil, err
	}
	res, err := firstFinalOrChallenge(ctx, tx)
	if err != nil {
		tx.Terminate()
		return nil, req, nil, err
	}
	if res.StatusCode != 401 && res.StatusCode != 407 {
		return tx, req, res, nil
	}
	tx.Terminate()

	authReq, err := challenge(req, res, username, password)
	if err != nil {
		return nil, req, res, err
	}
	tx, err = client.TransactionRequest(ctx, authReq,
		sipgo.ClientRequestIncreaseCSEQ,
		sipgo.ClientRequestAddVia,
	)
	if err != nil {
		return nil, authReq, nil, err
	}
	res, err = firstFinalOrChallenge(ctx, tx)
	if err != nil {
		tx.Terminate()
		return nil, authReq, nil, err
	}
	return tx, authReq, res, nil
}

// firstFinalOrChallenge skips provisional responses. INVITE uses its own
// loop because it reports progress.
func firstFinalOrChallenge(ctx context.Context, tx sip.ClientTransaction) (*sip.Response, error) {
	for {
		res, err := getResponse(ctx, tx)
		if err != nil {
			return nil, err
		}
		if res.StatusCode >= 200 {
			return res, nil
		}
	}
}

// buildACK creates the ACK for a 2xx to an INVITE. The Request-URI is the
// remote Contact when present.
func buildACK(inviteReq *sip.Request, inviteResp *sip.Response) *sip.Request {
	recipient := &inviteReq.Recipient
	if contact := inviteResp.Contact(); contact != nil {
		recipient = &contact.Address
	}

	ack := sip.NewRequest(sip.ACK, *recipient.Clone())
	ack.SipVersion = inviteReq.SipVersion

	if len(inviteReq.GetHeaders("Route")) > 0 {
		sip.CopyHeaders("Route", inviteReq, ack)
	}
	if h := inviteReq.From(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteResp.To(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.CallID(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.CSeq(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if cseq := ack.CSeq(); cseq != nil {
		cseq.MethodName = sip.ACK
	}

	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)

	if h := inviteReq.Contact(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}

	ack.SetTransport(inviteReq.Transport())
	ack.SetDestination(inviteReq.Destination())
	return ack
}

// buildCancel creates a CANCEL matching a pending INVITE.
func buildCancel(inviteReq *sip.Request) *sip.Request {
	cancel := sip.NewRequest(sip.CANCEL, *inviteReq.Recipient.Clone())
	if h := inviteReq.Via(); h != nil {
		cancel.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.From(); h != nil {
		cancel.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.To(); h != nil {
		cancel.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.CallID(); h != nil {
		cancel.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.CSeq(); h != nil {
		cancel.AppendHeader(&sip.CSeqHeader{SeqNo: h.SeqNo, MethodName: sip.CANCEL})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	cancel.AppendHeader(&maxFwd)
	cancel.SetTransport(inviteReq.Transport())
	cancel.SetDestination(inviteReq.Destination())
	return cancel
}

// dialog is the state needed to build in-dialog requests.
type dialog struct {
	mu sync.Mutex

	callID       string
	local        sip.Uri
	localName    string
	localTag     string
	remote       sip.Uri
	remoteTag    string
	remoteTarget sip.Uri
	contact      sip.Uri
	cseq         uint32

	transport   string
	destination string
}

// dialogFromResponse builds the UAC side of a dialog from an INVITE and its
// 2xx.
func dialogFromResponse(req *sip.Request, res *sip.Response) *dialog {
	d := &dialog{
		remoteTarget: req.Recipient,
		transport:    req.Transport(),
		destination:  req.Destination(),
	}
	if h := req.CallID(); h != nil {
		d.callID = h.Value()
	}
	if h := req.From(); h != nil {
		d.local = h.Address
		d.localName = h.DisplayName
		d.localTag, _ = h.Params.Get("tag")
	}
	if h := res.To(); h != nil {
		d.remote = h.Address
		d.remoteTag, _ = h.Params.Get("tag")
	}
	if h := res.Contact(); h != nil {
		d.remoteTarget = h.Address
	}
	if h := req.Contact(); h != nil {
		d.contact = h.Address
	}
	if h := req.CSeq(); h != nil {
		d.cseq = h.SeqNo
	}
	return d
}

// dialogFromRequest builds the UAS side of a dialog from an inbound INVITE.
func dialogFromRequest(req *sip.Request, localTag string, contact sip.Uri, t target) *dialog {
	d := &dialog{
		localTag:     localTag,
		remoteTarget: req.Recipient,
		contact:      contact,
		transport:    t.Transport,
		destination:  t.hostPort(),
	}
	if h := req.CallID(); h != nil {
		d.callID = h.Value()
	}
	if h := req.To(); h != nil {
		d.local = h.Address
		d.localName = h.DisplayName
	}
	if h := req.From(); h != nil {
		d.remote = h.Address
		d.remoteTag, _ = h.Params.Get("tag")
	}
	if h := req.Contact(); h != nil {
		d.remoteTarget = h.Address
	}
	return d
}

// request builds the next in-dialog request for method.
func (d *dialog) request(method sip.RequestMethod, body []byte, contentType string) *sip.Request {
	d.mu.Lock()
	d.cseq++
	seq := d.cseq
	d.mu.Unlock()

	req := sip.NewRequest(method, *d.remoteTarget.Clone())

	from := &sip.FromHeader{DisplayName: d.localName, Address: *d.local.Clone()}
	from.Params.Add("tag", d.localTag)
	req.AppendHeader(from)

	to := &sip.ToHeader{Address: *d.remote.Clone()}
	if d.remoteTag != "" {
		to.Params.Add("tag", d.remoteTag)
	}
	req.AppendHeader(to)

	callID := sip.CallIDHeader(d.callID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: method})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	if method == sip.INVITE && d.contact.Host != "" {
		req.AppendHeader(&sip.ContactHeader{Address: *d.contact.Clone()})
	}
	if len(body) > 0 {
		req.AppendHeader(sip.NewHeader("Content-Type", contentType))
		req.SetBody(body)
	}

	req.SetTransport(d.transport)
	req.SetDestination(d.destination)
	return req
}

// respond builds a response carrying our To tag, and a Contact when the
// response establishes or refreshes the dialog.
func respond(req *sip.Request, code int, reason string, body []byte, localTag string, contact *sip.Uri) *sip.Response {
	res := sip.NewResponseFromRequest(req, code, reason, body)
	if to := res.To(); to != nil && localTag != "" && code > 100 {
		if _, ok := to.Params.Get("tag"); !ok {
			to.Params.Add("tag", localTag)
		}
	}
	if contact != nil && code >= 200 && code < 300 {
		res.AppendHeader(&sip.ContactHeader{Address: *contact.Clone()})
	}
	if len(body) > 0 {
		res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	}
	return res
}
