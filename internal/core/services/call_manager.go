package services

import (
	"context"
	"encoding/json"
	"sync"

	"peerchat/internal/core/domain"
	"peerchat/internal/core/ports"
	perrors "peerchat/pkg/errors"
	"peerchat/pkg/notify"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CallManager owns the state machine of the one call session a client may
// hold. All transitions run under a single mutex; asynchronous steps (media
// acquisition, transport negotiation) re-check the session's callId and phase
// before applying their result, so a hangup racing an in-flight step leaves
// no stale state behind.
type CallManager struct {
	channel  ports.EventChannel
	media    ports.MediaSurface
	factory  ports.TransportFactory
	stats    ports.StatsRecorder
	notifier *notify.Bus
	logger   *zap.SugaredLogger

	mu        sync.Mutex
	session   *domain.CallSession
	incoming  *domain.IncomingCall
	transport ports.PeerTransport
	local     ports.LocalStream
	remote    ports.RemoteStream
	offerSent bool
}

func NewCallManager(
	channel ports.EventChannel,
	media ports.MediaSurface,
	factory ports.TransportFactory,
	stats ports.StatsRecorder,
	logger *zap.SugaredLogger,
) *CallManager {
	if stats == nil {
		stats = NopStats{}
	}
	return &CallManager{
		channel: channel,
		media:   media,
		factory: factory,
		stats:   stats,
		logger:  logger,
	}
}

// SetNotifier attaches an optional change-notification bus; every session
// transition publishes the call topic.
func (m *CallManager) SetNotifier(bus *notify.Bus) {
	m.notifier = bus
}

func (m *CallManager) notifyCall() {
	m.notifier.Publish(notify.TopicCall)
}

// Register attaches the call event handlers to the channel. Events arrive in
// receipt order; handlers run one at a time.
func (m *CallManager) Register() {
	m.channel.Subscribe(domain.EventCallIncoming, func(raw json.RawMessage) {
		var ev domain.IncomingCall
		if err := json.Unmarshal(raw, &ev); err != nil {
			m.dropEvent(domain.EventCallIncoming, err)
			return
		}
		m.HandleIncoming(ev)
	})
	m.channel.Subscribe(domain.EventCallAccepted, func(raw json.RawMessage) {
		var ev domain.CallAccepted
		if err := json.Unmarshal(raw, &ev); err != nil {
			m.dropEvent(domain.EventCallAccepted, err)
			return
		}
		m.HandleAccepted(ev)
	})
	m.channel.Subscribe(domain.EventCallSignal, func(raw json.RawMessage) {
		var ev domain.CallSignalEnvelope
		if err := json.Unmarshal(raw, &ev); err != nil {
			m.dropEvent(domain.EventCallSignal, err)
			return
		}
		m.HandleSignal(ev)
	})
	m.channel.Subscribe(domain.EventCallRejected, func(raw json.RawMessage) {
		var ev domain.CallRejected
		if err := json.Unmarshal(raw, &ev); err != nil {
			m.dropEvent(domain.EventCallRejected, err)
			return
		}
		m.HandleRejected(ev)
	})
	m.channel.Subscribe(domain.EventCallHangup, func(raw json.RawMessage) {
		var ev domain.CallHangup
		if err := json.Unmarshal(raw, &ev); err != nil {
			m.dropEvent(domain.EventCallHangup, err)
			return
		}
		m.HandleHangup(ev)
	})
}

// StartCall dials a peer. A video call acquires the camera immediately for
// local preview; camera-specific failures downgrade the call to audio
// without aborting it.
func (m *CallManager) StartCall(ctx context.Context, peer domain.UserRef, kind domain.CallKind) error {
	m.mu.Lock()
	if m.session != nil && m.session.Phase.Active() {
		m.mu.Unlock()
		return domain.ErrBusy
	}
	callID := domain.CallID(uuid.NewString())
	m.session = &domain.CallSession{
		CallID:   callID,
		PeerID:   peer.ID,
		Metadata: domain.CallMeta{Type: kind},
		Phase:    domain.PhaseDialing,
		Caller:   peer,
	}
	m.mu.Unlock()

	m.stats.CallStarted(kind)
	m.notifyCall()
	m.logger.Infow("starting call", "call_id", callID, "peer_id", peer.ID, "kind", kind)

	if kind == domain.CallVideo {
		if _, _, err := m.acquireWithFallback(ctx, callID, domain.CallVideo); err != nil {
			m.logger.Errorw("media acquisition failed, aborting call", "call_id", callID, "error", err)
			m.teardown()
			return err
		}
	}

	m.mu.Lock()
	meta := domain.CallMeta{Type: kind}
	if m.session != nil && m.session.CallID == callID {
		meta = m.session.Metadata
	}
	m.mu.Unlock()

	return m.emit(domain.CmdCallInit, domain.CallInitCmd{
		ToUserID: peer.ID,
		CallID:   callID,
		Metadata: meta,
	})
}

// HandleIncoming rings a new session, or rejects it as busy when one is
// already active. A video invitation eagerly acquires a camera preview with
// the usual fallback to audio.
func (m *CallManager) HandleIncoming(ev domain.IncomingCall) {
	m.mu.Lock()
	if (m.session != nil && m.session.Phase.Active()) || m.incoming != nil {
		m.mu.Unlock()
		m.logger.Infow("rejecting incoming call while busy", "call_id", ev.CallID, "from", ev.FromUserID)
		_ = m.emit(domain.CmdCallReject, domain.CallRejectCmd{
			ToUserID: ev.FromUserID,
			CallID:   ev.CallID,
			Reason:   domain.RejectReasonBusy,
		})
		return
	}
	inc := ev
	m.incoming = &inc
	m.session = &domain.CallSession{
		CallID:   ev.CallID,
		PeerID:   ev.FromUserID,
		Metadata: ev.Metadata,
		Phase:    domain.PhaseRinging,
		Caller:   ev.Caller,
	}
	m.mu.Unlock()

	m.notifyCall()
	m.logger.Infow("incoming call", "call_id", ev.CallID, "from", ev.FromUserID, "kind", ev.Metadata.Type)

	if ev.Metadata.Type == domain.CallVideo {
		if _, err := m.ensureLocalMedia(context.Background(), ev.CallID, true); err != nil {
			m.logger.Warnw("preview camera unavailable, ringing as audio", "call_id", ev.CallID, "error", err)
			m.mu.Lock()
			if m.incoming != nil && m.incoming.CallID == ev.CallID {
				m.incoming.Metadata = domain.CallMeta{Type: domain.CallAudio}
			}
			if m.guardLocked(ev.CallID) {
				m.session.Metadata = domain.CallMeta{Type: domain.CallAudio}
			}
			m.mu.Unlock()
		}
	}
}

// AcceptCall answers the ringing invitation and builds the callee-side
// transport. The offer arrives afterwards via the signaling event.
func (m *CallManager) AcceptCall(ctx context.Context) error {
	m.mu.Lock()
	inc := m.incoming
	if inc == nil {
		m.mu.Unlock()
		return domain.ErrNoIncomingCall
	}
	if m.guardLocked(inc.CallID) {
		m.session.Phase = domain.PhaseAccepting
	}
	accepted := *inc
	m.mu.Unlock()

	if err := m.emit(domain.CmdCallAccept, domain.CallAcceptCmd{
		ToUserID: accepted.FromUserID,
		CallID:   accepted.CallID,
	}); err != nil {
		return err
	}

	if err := m.createPeer(ctx, false, accepted.FromUserID, accepted.CallID, accepted.Metadata); err != nil {
		m.logger.Errorw("transport setup failed on accept", "call_id", accepted.CallID, "error", err)
		m.teardown()
		return err
	}

	m.mu.Lock()
	m.incoming = nil
	m.applyMuteLocked()
	m.mu.Unlock()
	m.notifyCall()
	return nil
}

// RejectCall declines the ringing invitation and releases any preview media.
func (m *CallManager) RejectCall(reason string) error {
	m.mu.Lock()
	inc := m.incoming
	m.mu.Unlock()
	if inc == nil {
		return domain.ErrNoIncomingCall
	}

	_ = m.emit(domain.CmdCallReject, domain.CallRejectCmd{
		ToUserID: inc.FromUserID,
		CallID:   inc.CallID,
		Reason:   reason,
	})
	m.teardown()
	return nil
}

// Hangup ends the active session, in any phase, and notifies the peer.
func (m *CallManager) Hangup() error {
	m.mu.Lock()
	if m.session == nil || !m.session.Phase.Active() {
		m.mu.Unlock()
		return domain.ErrNoActiveCall
	}
	callID := m.session.CallID
	peerID := m.session.PeerID
	m.mu.Unlock()

	_ = m.emit(domain.CmdCallHangup, domain.CallHangupCmd{ToUserID: peerID, CallID: callID})
	m.teardown()
	return nil
}

// HandleAccepted moves a dialing session towards connected: the initiator
// transport is created, local media attached and the first offer sent.
func (m *CallManager) HandleAccepted(ev domain.CallAccepted) {
	m.mu.Lock()
	if !m.guardLocked(ev.CallID) || m.session.Phase != domain.PhaseDialing {
		m.mu.Unlock()
		m.dropEvent(domain.EventCallAccepted, domain.ErrCallMismatch)
		return
	}
	peerID := m.session.PeerID
	meta := m.session.Metadata
	m.mu.Unlock()

	if err := m.createPeer(context.Background(), true, peerID, ev.CallID, meta); err != nil {
		m.logger.Errorw("transport setup failed after accept ack", "call_id", ev.CallID, "error", err)
		m.teardown()
		return
	}

	m.mu.Lock()
	if m.guardLocked(ev.CallID) {
		m.session.Phase = domain.PhaseConnected
		m.applyMuteLocked()
	}
	m.mu.Unlock()
	m.notifyCall()
}

// HandleSignal applies one signaling message for the session: an ICE
// candidate or a session description. Candidates arriving before the
// transport exists are dropped, not buffered.
func (m *CallManager) HandleSignal(ev domain.CallSignalEnvelope) {
	data, err := domain.ParseSignalData(ev.Data)
	if err != nil {
		m.dropEvent(domain.EventCallSignal, err)
		return
	}

	m.mu.Lock()
	transport := m.transport
	m.mu.Unlock()

	if transport == nil {
		switch {
		case data.Kind == domain.SignalCandidate:
			m.stats.EventDropped(domain.EventCallSignal, "candidate before transport")
			m.logger.Debugw("dropping candidate, no transport yet", "call_id", ev.CallID)
			return
		case data.Description.Type == domain.SDPOffer:
			if err := m.adoptOfferSession(ev); err != nil {
				m.logger.Errorw("transport setup on offer failed", "call_id", ev.CallID, "error", err)
				return
			}
			m.mu.Lock()
			transport = m.transport
			m.mu.Unlock()
			if transport == nil {
				return
			}
		default:
			// An answer with no transport means we never sent an offer:
			// ordering violation, fatal for the session.
			m.logger.Errorw("answer received with no transport", "call_id", ev.CallID)
			m.abortSession(ev.CallID, domain.ErrOutOfOrderSignal)
			return
		}
	}

	switch data.Kind {
	case domain.SignalCandidate:
		if err := transport.AddICECandidate(data.Candidate); err != nil {
			m.logger.Debugw("candidate rejected by transport", "call_id", ev.CallID, "error", err)
		}

	case domain.SignalDescription:
		switch data.Description.Type {
		case domain.SDPOffer:
			m.handleOffer(transport, ev, data.Description)
		case domain.SDPAnswer:
			m.handleAnswer(transport, ev, data.Description)
		}
	}
}

// HandleRejected tears the session down on a remote reject.
func (m *CallManager) HandleRejected(ev domain.CallRejected) {
	m.mu.Lock()
	match := m.session != nil && m.session.CallID == ev.CallID
	m.mu.Unlock()
	if !match {
		m.dropEvent(domain.EventCallRejected, domain.ErrCallMismatch)
		return
	}
	m.logger.Infow("call rejected by peer", "call_id", ev.CallID, "reason", ev.Reason)
	m.teardown()
}

// HandleHangup tears the session down on a remote hangup.
func (m *CallManager) HandleHangup(ev domain.CallHangup) {
	m.mu.Lock()
	match := m.session != nil && m.session.CallID == ev.CallID
	m.mu.Unlock()
	if !match {
		m.dropEvent(domain.EventCallHangup, domain.ErrCallMismatch)
		return
	}
	m.logger.Infow("call hung up by peer", "call_id", ev.CallID)
	m.teardown()
}

// ToggleMute flips the enabled flag of all local audio tracks. No SDP change
// is produced, so no renegotiation happens.
func (m *CallManager) ToggleMute() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || !m.session.Phase.Active() {
		return
	}
	m.session.Muted = !m.session.Muted
	m.applyMuteLocked()
	m.notifyCall()
}

// ToggleVideo upgrades an audio-only session to video, or removes the video
// tracks and renegotiates the video line away.
func (m *CallManager) ToggleVideo(ctx context.Context) error {
	m.mu.Lock()
	if m.session == nil || !m.session.Phase.Active() {
		m.mu.Unlock()
		return domain.ErrNoActiveCall
	}
	hasVideo := m.local != nil && len(m.local.VideoTracks()) > 0
	m.mu.Unlock()

	if !hasVideo {
		return m.upgradeToVideo(ctx)
	}
	return m.downgradeFromVideo(ctx)
}

// Snapshot returns a copy of the session state for rendering.
func (m *CallManager) Snapshot() (domain.CallSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return domain.CallSession{}, false
	}
	return *m.session, true
}

// Incoming returns the pending invitation, if any.
func (m *CallManager) Incoming() (domain.IncomingCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incoming == nil {
		return domain.IncomingCall{}, false
	}
	return *m.incoming, true
}

// Close tears down any active session without notifying the peer. Used on
// shutdown, after the channel is already gone.
func (m *CallManager) Close() {
	m.teardown()
}

// ----- internals -----

// guardLocked reports whether the session is still the one an asynchronous
// step belongs to. Callers must hold the lock.
func (m *CallManager) guardLocked(callID domain.CallID) bool {
	return m.session != nil && m.session.CallID == callID && m.session.Phase.Active()
}

func (m *CallManager) applyMuteLocked() {
	if m.local == nil || m.session == nil {
		return
	}
	for _, t := range m.local.AudioTracks() {
		t.SetEnabled(!m.session.Muted)
	}
}

// ensureLocalMedia returns the existing capture when it satisfies the need,
// otherwise acquires a fresh one and swaps it in under the session guard.
func (m *CallManager) ensureLocalMedia(ctx context.Context, callID domain.CallID, wantVideo bool) (ports.LocalStream, error) {
	m.mu.Lock()
	if m.local != nil {
		hasVideo := len(m.local.VideoTracks()) > 0
		hasAudio := len(m.local.AudioTracks()) > 0
		if (wantVideo && hasVideo) || (!wantVideo && hasAudio) {
			local := m.local
			m.mu.Unlock()
			return local, nil
		}
	}
	m.mu.Unlock()

	stream, err := m.media.Capture(ctx, wantVideo)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if !m.guardLocked(callID) {
		m.mu.Unlock()
		stream.Stop()
		return nil, domain.ErrSessionEnded
	}
	old := m.local
	m.local = stream
	m.session.VideoEnabled = len(stream.VideoTracks()) > 0
	m.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	if len(stream.VideoTracks()) > 0 {
		m.media.AttachLocalPreview(stream)
	}
	return stream, nil
}

// acquireWithFallback acquires media for the wanted kind, silently degrading
// a video request to audio on camera-specific failures. The downgraded kind
// is written back to the session and any pending invitation.
func (m *CallManager) acquireWithFallback(ctx context.Context, callID domain.CallID, kind domain.CallKind) (ports.LocalStream, domain.CallKind, error) {
	wantVideo := kind == domain.CallVideo
	stream, err := m.ensureLocalMedia(ctx, callID, wantVideo)
	if err == nil {
		return stream, kind, nil
	}
	if !wantVideo || !perrors.IsRecoverableMedia(err) {
		return nil, kind, err
	}

	m.logger.Warnw("camera unavailable, falling back to audio",
		"call_id", callID, "code", perrors.MediaCode(err))

	m.mu.Lock()
	if m.guardLocked(callID) {
		m.session.Metadata = domain.CallMeta{Type: domain.CallAudio}
	}
	if m.incoming != nil && m.incoming.CallID == callID {
		m.incoming.Metadata = domain.CallMeta{Type: domain.CallAudio}
	}
	m.mu.Unlock()

	stream, err = m.ensureLocalMedia(ctx, callID, false)
	if err != nil {
		return nil, domain.CallAudio, err
	}
	return stream, domain.CallAudio, nil
}

// createPeer builds the session's transport: acquires media, attaches
// tracks, wires the signaling callbacks and, on the initiator side, sends
// the first offer. Reuses an existing transport when one is already up.
func (m *CallManager) createPeer(ctx context.Context, initiator bool, peerID domain.UserID, callID domain.CallID, meta domain.CallMeta) error {
	m.mu.Lock()
	if m.transport != nil {
		m.mu.Unlock()
		m.logger.Warnw("reusing existing transport", "call_id", callID)
		return nil
	}
	m.mu.Unlock()

	stream, _, err := m.acquireWithFallback(ctx, callID, meta.Type)
	if err != nil {
		return err
	}

	transport, err := m.factory.NewTransport(ctx, callID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if !m.guardLocked(callID) {
		m.mu.Unlock()
		_ = transport.Close()
		return domain.ErrSessionEnded
	}
	m.transport = transport
	m.offerSent = false
	m.mu.Unlock()

	transport.OnICECandidate(func(c domain.ICECandidate) {
		m.emitSignal(peerID, callID, domain.SignalData{Kind: domain.SignalCandidate, Candidate: c})
	})
	transport.OnRemoteStream(func(rs ports.RemoteStream) {
		m.handleRemoteStream(callID, rs)
	})

	for _, track := range stream.Tracks() {
		if err := transport.AddTrack(track); err != nil {
			m.logger.Warnw("failed to attach track", "call_id", callID, "track", track.ID(), "error", err)
		}
	}

	if initiator {
		offer, err := transport.CreateOffer(ctx)
		if err != nil {
			return err
		}
		m.mu.Lock()
		if !m.guardLocked(callID) {
			m.mu.Unlock()
			return domain.ErrSessionEnded
		}
		m.offerSent = true
		m.mu.Unlock()
		m.emitSignal(peerID, callID, domain.SignalData{Kind: domain.SignalDescription, Description: offer})
	}
	return nil
}

// adoptOfferSession prepares the callee transport when an offer arrives
// before any transport exists: either the accept raced ahead of the offer,
// or the peer renegotiates from scratch. Metadata preference: stored
// invitation, then active session, then audio.
func (m *CallManager) adoptOfferSession(ev domain.CallSignalEnvelope) error {
	m.mu.Lock()
	meta := domain.CallMeta{Type: domain.CallAudio}
	if m.incoming != nil {
		meta = m.incoming.Metadata
	} else if m.session != nil && m.session.Phase.Active() {
		meta = m.session.Metadata
	}
	if m.session == nil || !m.session.Phase.Active() {
		m.session = &domain.CallSession{
			CallID:   ev.CallID,
			PeerID:   ev.FromUserID,
			Metadata: meta,
			Phase:    domain.PhaseAccepting,
			Caller:   ev.Caller,
		}
	}
	m.mu.Unlock()

	return m.createPeer(context.Background(), false, ev.FromUserID, ev.CallID, meta)
}

func (m *CallManager) handleOffer(transport ports.PeerTransport, ev domain.CallSignalEnvelope, desc domain.SessionDescription) {
	ctx := context.Background()
	if err := transport.SetRemoteDescription(ctx, desc); err != nil {
		m.logger.Errorw("failed to apply remote offer", "call_id", ev.CallID, "error", err)
		m.abortSession(ev.CallID, err)
		return
	}
	answer, err := transport.CreateAnswer(ctx)
	if err != nil {
		m.logger.Errorw("failed to create answer", "call_id", ev.CallID, "error", err)
		m.abortSession(ev.CallID, err)
		return
	}

	m.mu.Lock()
	if !m.guardLocked(ev.CallID) {
		m.mu.Unlock()
		return
	}
	m.session.Phase = domain.PhaseConnected
	m.mu.Unlock()
	m.notifyCall()

	m.emitSignal(ev.FromUserID, ev.CallID, domain.SignalData{Kind: domain.SignalDescription, Description: answer})
}

func (m *CallManager) handleAnswer(transport ports.PeerTransport, ev domain.CallSignalEnvelope, desc domain.SessionDescription) {
	m.mu.Lock()
	sent := m.offerSent
	m.mu.Unlock()
	if !sent {
		m.logger.Errorw("answer before offer", "call_id", ev.CallID)
		m.abortSession(ev.CallID, domain.ErrOutOfOrderSignal)
		return
	}

	if err := transport.SetRemoteDescription(context.Background(), desc); err != nil {
		m.logger.Errorw("failed to apply remote answer", "call_id", ev.CallID, "error", err)
		m.abortSession(ev.CallID, err)
		return
	}

	m.mu.Lock()
	if m.guardLocked(ev.CallID) {
		m.session.Phase = domain.PhaseConnected
	}
	m.mu.Unlock()
	m.notifyCall()
}

// handleRemoteStream replaces the remote media wholesale and tracks the
// usability of its video, live, without renegotiation.
func (m *CallManager) handleRemoteStream(callID domain.CallID, rs ports.RemoteStream) {
	m.mu.Lock()
	if !m.guardLocked(callID) {
		m.mu.Unlock()
		return
	}
	m.remote = rs
	m.session.RemoteVideoEnabled = rs.HasVideo()
	m.mu.Unlock()

	rs.OnVideoActivity(func(active bool) {
		m.mu.Lock()
		if m.guardLocked(callID) {
			m.session.RemoteVideoEnabled = active
		}
		m.mu.Unlock()
		m.notifyCall()
	})
	m.media.AttachRemote(rs)
	m.notifyCall()
}

// upgradeToVideo acquires a camera-only capture, merges it into the existing
// local stream (audio untouched) and renegotiates. Camera failures abort the
// upgrade and leave the session audio-only.
func (m *CallManager) upgradeToVideo(ctx context.Context) error {
	m.mu.Lock()
	if m.session == nil || !m.session.Phase.Active() {
		m.mu.Unlock()
		return domain.ErrNoActiveCall
	}
	callID := m.session.CallID
	peerID := m.session.PeerID
	local := m.local
	transport := m.transport
	m.mu.Unlock()

	if local == nil {
		_, _, err := m.acquireWithFallback(ctx, callID, domain.CallVideo)
		return err
	}

	tracks, err := m.media.CaptureVideo(ctx)
	if err != nil {
		if perrors.IsRecoverableMedia(err) {
			m.logger.Warnw("camera unavailable, staying audio-only", "call_id", callID, "code", perrors.MediaCode(err))
			return nil
		}
		m.logger.Errorw("video upgrade failed", "call_id", callID, "error", err)
		return err
	}

	m.mu.Lock()
	if !m.guardLocked(callID) {
		m.mu.Unlock()
		for _, t := range tracks {
			t.Stop()
		}
		return domain.ErrSessionEnded
	}
	for _, t := range tracks {
		local.AddTrack(t)
	}
	m.session.Metadata = domain.CallMeta{Type: domain.CallVideo}
	m.session.VideoEnabled = true
	m.mu.Unlock()
	m.notifyCall()

	m.media.AttachLocalPreview(local)

	if transport == nil {
		// Not negotiated yet; metadata is enough, the offer will carry video.
		return nil
	}
	for _, t := range tracks {
		if err := transport.AddTrack(t); err != nil {
			m.logger.Warnw("failed to attach video track", "call_id", callID, "error", err)
		}
	}
	return m.renegotiate(ctx, transport, callID, peerID)
}

// downgradeFromVideo stops and removes the local video tracks and
// renegotiates so the peer's SDP drops the video line.
func (m *CallManager) downgradeFromVideo(ctx context.Context) error {
	m.mu.Lock()
	if m.session == nil || !m.session.Phase.Active() {
		m.mu.Unlock()
		return domain.ErrNoActiveCall
	}
	callID := m.session.CallID
	peerID := m.session.PeerID
	local := m.local
	transport := m.transport
	if local != nil {
		for _, t := range local.VideoTracks() {
			t.Stop()
			local.RemoveTrack(t)
		}
	}
	m.session.Metadata = domain.CallMeta{Type: domain.CallAudio}
	m.session.VideoEnabled = false
	m.mu.Unlock()
	m.notifyCall()

	if transport == nil {
		return nil
	}
	if err := transport.RemoveVideoTracks(); err != nil {
		m.logger.Warnw("failed to remove video senders", "call_id", callID, "error", err)
	}
	return m.renegotiate(ctx, transport, callID, peerID)
}

// renegotiate runs one fresh offer round on the existing transport. Failures
// are reported but never end the call: the previous media state keeps
// flowing.
func (m *CallManager) renegotiate(ctx context.Context, transport ports.PeerTransport, callID domain.CallID, peerID domain.UserID) error {
	offer, err := transport.CreateOffer(ctx)
	if err != nil {
		m.logger.Warnw("renegotiation offer failed", "call_id", callID, "error", err)
		return err
	}
	m.mu.Lock()
	if !m.guardLocked(callID) {
		m.mu.Unlock()
		return domain.ErrSessionEnded
	}
	m.offerSent = true
	m.mu.Unlock()
	m.emitSignal(peerID, callID, domain.SignalData{Kind: domain.SignalDescription, Description: offer})
	return nil
}

// abortSession tears down after a protocol violation on the given call.
func (m *CallManager) abortSession(callID domain.CallID, cause error) {
	m.mu.Lock()
	match := m.session != nil && m.session.CallID == callID
	m.mu.Unlock()
	if !match {
		return
	}
	m.logger.Errorw("aborting session", "call_id", callID, "error", cause)
	m.teardown()
}

// teardown closes the transport, stops all local media, clears the remote
// reference and marks the session ended. Idempotent.
func (m *CallManager) teardown() {
	m.mu.Lock()
	if m.session == nil || m.session.Phase == domain.PhaseEnded {
		m.incoming = nil
		m.mu.Unlock()
		return
	}
	prev := m.session.Phase
	m.session.Phase = domain.PhaseEnded
	m.session.VideoEnabled = false
	m.session.RemoteVideoEnabled = false
	transport := m.transport
	local := m.local
	m.transport = nil
	m.local = nil
	m.remote = nil
	m.incoming = nil
	m.offerSent = false
	callID := m.session.CallID
	m.mu.Unlock()

	if transport != nil {
		_ = transport.Close()
	}
	if local != nil {
		local.Stop()
	}
	m.media.DetachAll()

	m.stats.CallEnded(prev)
	m.notifyCall()
	m.logger.Infow("call ended", "call_id", callID, "previous_phase", prev)
}

func (m *CallManager) emitSignal(peerID domain.UserID, callID domain.CallID, data domain.SignalData) {
	raw, err := data.Encode()
	if err != nil {
		m.logger.Errorw("failed to encode signal", "call_id", callID, "error", err)
		return
	}
	_ = m.emit(domain.CmdCallSignal, domain.CallSignalCmd{
		ToUserID: peerID,
		CallID:   callID,
		Data:     raw,
	})
}

func (m *CallManager) emit(event string, payload interface{}) error {
	if err := m.channel.Emit(event, payload); err != nil {
		m.logger.Errorw("failed to emit command", "event", event, "error", err)
		return err
	}
	return nil
}

func (m *CallManager) dropEvent(event string, err error) {
	m.stats.EventDropped(event, err.Error())
	m.logger.Warnw("dropping event", "event", event, "error", err)
}

// NopStats is a no-op StatsRecorder.
type NopStats struct{}

func (NopStats) EventApplied(string)         {}
func (NopStats) EventDropped(string, string) {}
func (NopStats) CallStarted(domain.CallKind) {}
func (NopStats) CallEnded(domain.CallPhase)  {}
func (NopStats) TypingTimers(int)            {}
