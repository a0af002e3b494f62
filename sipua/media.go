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
	"strings"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// MediaConfig holds configuration for the media engine
type MediaConfig struct {
	// ICEServers is the list of ICE servers (STUN/TURN) to use
	ICEServers []webrtc.ICEServer
}

// DefaultMediaConfig returns a MediaConfig with a public STUN server so the
// offer carries a server-reflexive candidate.
func DefaultMediaConfig() *MediaConfig {
	return &MediaConfig{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// MediaEngine owns the peer connection and audio tracks of one call.
type MediaEngine struct {
	mu          sync.Mutex
	pc          *webrtc.PeerConnection
	localTrack  *webrtc.TrackLocalStaticRTP
	remoteTrack *webrtc.TrackRemote
	muted       bool
	held        bool
	logger      zerolog.Logger

	onRemoteTrack func(track *webrtc.TrackRemote)
	onFailed      func()
}

// NewMediaEngine creates a peer connection offering PCMU and PCMA only.
func NewMediaEngine(config *MediaConfig, logger zerolog.Logger) (*MediaEngine, error) {
	if config == nil {
		config = DefaultMediaConfig()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
		PayloadType:        0,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register PCMU: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: 8000},
		PayloadType:        8,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register PCMA: %w", err)
	}

	// Gateways often send RTP before the answer is applied.
	settings := webrtc.SettingEngine{}
	settings.SetHandleUndeclaredSSRCWithoutAnswer(true)

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithSettingEngine(settings),
		webrtc.WithInterceptorRegistry(i),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: config.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	me := &MediaEngine{pc: pc, logger: logger}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		me.logger.Debug().Str("state", s.String()).Msg("peer connection state")
		if s != webrtc.PeerConnectionStateFailed {
			return
		}
		me.mu.Lock()
		handler := me.onFailed
		me.mu.Unlock()
		if handler != nil {
			handler()
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		me.logger.Debug().
			Str("codec", track.Codec().MimeType).
			Uint32("ssrc", uint32(track.SSRC())).
			Msg("remote track")
		me.mu.Lock()
		me.remoteTrack = track
		handler := me.onRemoteTrack
		me.mu.Unlock()

		if handler != nil {
			handler(track)
		}
	})

	return me, nil
}

// OnRemoteTrack sets the callback for when a remote audio track is received
func (me *MediaEngine) OnRemoteTrack(handler func(track *webrtc.TrackRemote)) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.onRemoteTrack = handler
}

// OnFailed sets the callback for when the peer connection fails. ICE is
// never restarted.
func (me *MediaEngine) OnFailed(handler func()) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.onFailed = handler
}

// AddAudioTrack adds the outgoing PCMU track on a sendrecv transceiver.
func (me *MediaEngine) AddAudioTrack() (*webrtc.TrackLocalStaticRTP, error) {
	me.mu.Lock()
	defer me.mu.Unlock()

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
		"audio",
		"webphone",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	transceiver, err := me.pc.AddTransceiverFromTrack(track,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to add audio transceiver: %w", err)
	}

	// RTCP has to be drained for the interceptors to work.
	go func() {
		sender := transceiver.Sender()
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	me.localTrack = track
	return track, nil
}

// CreateOffer sets and returns the local offer once ICE gathering is done.
func (me *MediaEngine) CreateOffer(ctx context.Context) (string, error) {
	me.mu.Lock()
	defer me.mu.Unlock()

	offer, err := me.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	return me.gather(ctx, offer)
}

// CreateAnswer sets and returns the local answer once ICE gathering is done.
func (me *MediaEngine) CreateAnswer(ctx context.Context) (string, error) {
	me.mu.Lock()
	defer me.mu.Unlock()

	answer, err := me.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	return me.gather(ctx, answer)
}

func (me *MediaEngine) gather(ctx context.Context, desc webrtc.SessionDescription) (string, error) {
	complete := webrtc.GatheringCompletePromise(me.pc)
	if err := me.pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	select {
	case <-complete:
	case <-ctx.Done():
		return "", fmt.Errorf("ice gathering: %w", ctx.Err())
	}

	local := me.pc.LocalDescription()
	if local == nil {
		return "", errors.New("local description is nil after gathering")
	}
	return local.SDP, nil
}

// SetRemoteOffer applies the offer of an inbound INVITE.
func (me *MediaEngine) SetRemoteOffer(sdp string) error {
	me.mu.Lock()
	defer me.mu.Unlock()

	return me.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fixIncomingSDP(sdp),
	})
}

// SetRemoteAnswer applies the answer of an outbound INVITE. A second answer,
// from a retransmitted 200, is ignored.
func (me *MediaEngine) SetRemoteAnswer(sdp string) error {
	me.mu.Lock()
	defer me.mu.Unlock()

	if me.pc.SignalingState() == webrtc.SignalingStateStable {
		me.logger.Debug().Msg("ignoring duplicate answer")
		return nil
	}
	return me.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  fixIncomingSDP(sdp),
	})
}

// SetMuted stops or resumes outgoing audio.
func (me *MediaEngine) SetMuted(muted bool) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.muted = muted
}

// SetHeld stops or resumes outgoing audio while the call is on hold.
func (me *MediaEngine) SetHeld(held bool) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.held = held
}

// IsMuted returns whether the local audio is muted
func (me *MediaEngine) IsMuted() bool {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.muted
}

func (me *MediaEngine) sending() bool {
	me.mu.Lock()
	defer me.mu.Unlock()
	return !me.muted && !me.held
}

// LocalStream wraps the outgoing track for the local audio sink.
func (me *MediaEngine) LocalStream(callID string) *LocalStream {
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.localTrack == nil {
		return nil
	}
	return &LocalStream{id: callID + "-local", track: me.localTrack, gate: me.sending}
}

// Close closes the peer connection and releases resources
func (me *MediaEngine) Close() error {
	me.mu.Lock()
	pc := me.pc
	me.onFailed = nil
	me.onRemoteTrack = nil
	me.mu.Unlock()

	if pc == nil {
		return nil
	}
	if err := pc.Close(); err != nil {
		return fmt.Errorf("failed to close peer connection: %w", err)
	}
	return nil
}

// LocalStream is the outgoing audio of a call. Writes are dropped while the
// call is muted or held.
type LocalStream struct {
	id    string
	track *webrtc.TrackLocalStaticRTP
	gate  func() bool
}

// ID implements calling.AudioStream.
func (s *LocalStream) ID() string { return s.id }

// WriteRTP implements calling.LocalAudio.
func (s *LocalStream) WriteRTP(pkt *rtp.Packet) error {
	if s.gate != nil && !s.gate() {
		return nil
	}
	return s.track.WriteRTP(pkt)
}

// RemoteStream is the far end's audio of a call.
type RemoteStream struct {
	id    string
	track *webrtc.TrackRemote
}

// ID implements calling.AudioStream.
func (s *RemoteStream) ID() string { return s.id }

// ReadRTP implements calling.RemoteAudio.
func (s *RemoteStream) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := s.track.ReadRTP()
	return pkt, err
}

// fixIncomingSDP adds the a=mid and BUNDLE group that pion requires and
// that plain SIP gateways leave out.
func fixIncomingSDP(sdp string) string {
	sep := "\r\n"
	if !strings.Contains(sdp, sep) {
		sep = "\n"
	}
	lines := strings.Split(sdp, sep)
	hasMid := strings.Contains(sdp, "a=mid:")
	hasBundle := strings.Contains(sdp, "a=group:BUNDLE")

	out := make([]string, 0, len(lines)+2)
	inMedia := false
	for _, line := range lines {
		if !strings.HasPrefix(line, "m=") {
			out = append(out, line)
			continue
		}
		if !inMedia && !hasBundle && !hasMid {
			out = append(out, "a=group:BUNDLE 0")
		}
		out = append(out, line)
		if !inMedia && !hasMid {
			out = append(out, "a=mid:0")
		}
		inMedia = true
	}
	return strings.Join(out, sep)
}
