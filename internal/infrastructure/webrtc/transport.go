package webrtc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"peerchat/internal/core/domain"
	"peerchat/internal/core/ports"
	"peerchat/pkg/optimize"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// remoteVideoIdleWindow is how long the remote video track may stay silent
// before it is reported as inactive.
const remoteVideoIdleWindow = 1500 * time.Millisecond

// LocalTrackProvider is implemented by media tracks that carry a pion local
// track underneath. The transport can only send tracks that provide one.
type LocalTrackProvider interface {
	PionTrack() webrtc.TrackLocal
}

// Config holds the peer connection configuration.
type Config struct {
	ICEServers []string
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// Factory builds one Transport per call session.
type Factory struct {
	config  Config
	logger  *zap.SugaredLogger
	buffers *optimize.PacketBufferPool
}

func NewFactory(config Config, logger *zap.SugaredLogger) *Factory {
	return &Factory{
		config:  config,
		logger:  logger,
		buffers: optimize.NewPacketBufferPool(1500),
	}
}

// NewTransport creates the peer connection for one call.
func (f *Factory) NewTransport(_ context.Context, callID domain.CallID) (ports.PeerTransport, error) {
	iceServers := make([]webrtc.ICEServer, 0, len(f.config.ICEServers))
	for _, url := range f.config.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	settingEngine := webrtc.SettingEngine{}
	if f.config.PortRange.Min > 0 && f.config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(f.config.PortRange.Min, f.config.PortRange.Max); err != nil {
			return nil, err
		}
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   iceServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	t := &Transport{
		callID:  callID,
		pc:      pc,
		logger:  f.logger,
		buffers: f.buffers,
		streams: make(map[string]*remoteStream),
	}

	pc.OnICECandidate(t.handleLocalCandidate)
	pc.OnTrack(t.handleRemoteTrack)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Infow("peer connection state changed", "call_id", callID, "state", state)
	})

	return t, nil
}

// Transport adapts a pion peer connection to the call manager's transport
// port.
type Transport struct {
	callID  domain.CallID
	pc      *webrtc.PeerConnection
	logger  *zap.SugaredLogger
	buffers *optimize.PacketBufferPool

	mu          sync.Mutex
	onCandidate func(domain.ICECandidate)
	onRemote    func(ports.RemoteStream)
	streams     map[string]*remoteStream
	closed      bool
}

func (t *Transport) AddTrack(track ports.MediaTrack) error {
	provider, ok := track.(LocalTrackProvider)
	if !ok {
		return fmt.Errorf("track %s does not carry a sendable source", track.ID())
	}

	sender, err := t.pc.AddTrack(provider.PionTrack())
	if err != nil {
		return fmt.Errorf("failed to add track %s: %w", track.ID(), err)
	}

	go t.drainSenderRTCP(sender)
	return nil
}

func (t *Transport) RemoveVideoTracks() error {
	var firstErr error
	for _, sender := range t.pc.GetSenders() {
		track := sender.Track()
		if track == nil || track.Kind() != webrtc.RTPCodecTypeVideo {
			continue
		}
		if err := t.pc.RemoveTrack(sender); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Transport) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	_, span := otel.Tracer("peerchat.webrtc").Start(ctx, "transport.create_offer")
	span.SetAttributes(attribute.String("call_id", string(t.callID)))
	defer span.End()

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: offer.SDP}, nil
}

func (t *Transport) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	_, span := otel.Tracer("peerchat.webrtc").Start(ctx, "transport.create_answer")
	span.SetAttributes(attribute.String("call_id", string(t.callID)))
	defer span.End()

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: answer.SDP}, nil
}

func (t *Transport) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	_, span := otel.Tracer("peerchat.webrtc").Start(ctx, "transport.set_remote_description")
	span.SetAttributes(
		attribute.String("call_id", string(t.callID)),
		attribute.String("sdp_type", desc.Type),
	)
	defer span.End()

	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (t *Transport) AddICECandidate(candidate domain.ICECandidate) error {
	return t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	})
}

func (t *Transport) OnICECandidate(fn func(candidate domain.ICECandidate)) {
	t.mu.Lock()
	t.onCandidate = fn
	t.mu.Unlock()
}

func (t *Transport) OnRemoteStream(fn func(stream ports.RemoteStream)) {
	t.mu.Lock()
	t.onRemote = fn
	t.mu.Unlock()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.pc.Close()
}

func (t *Transport) handleLocalCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return // end of gathering
	}
	t.mu.Lock()
	fn := t.onCandidate
	t.mu.Unlock()
	if fn == nil {
		return
	}

	init := c.ToJSON()
	fn(domain.ICECandidate{
		Candidate:     init.Candidate,
		SDPMid:        init.SDPMid,
		SDPMLineIndex: init.SDPMLineIndex,
	})
}

// handleRemoteTrack groups incoming tracks by their stream id and reports the
// stream wholesale on every track arrival.
func (t *Transport) handleRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	t.logger.Infow("remote track arrived",
		"call_id", t.callID,
		"track_id", track.ID(),
		"kind", track.Kind().String(),
		"codec", track.Codec().MimeType,
	)

	t.mu.Lock()
	stream, ok := t.streams[track.StreamID()]
	if !ok {
		stream = newRemoteStream(track.StreamID())
		t.streams[track.StreamID()] = stream
	}
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		stream.setHasVideo(true)
	}
	fn := t.onRemote
	t.mu.Unlock()

	go t.drainReceiverRTCP(receiver)
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go t.watchVideoActivity(stream, track)
	}

	if fn != nil {
		fn(stream)
	}
}

// watchVideoActivity derives remote video liveness from the RTP packet flow:
// packets mean active, a silent idle window means inactive. This covers
// mute/unmute without any renegotiation.
func (t *Transport) watchVideoActivity(stream *remoteStream, track *webrtc.TrackRemote) {
	packet := &rtp.Packet{}
	for {
		buf := t.buffers.Get()
		if err := track.SetReadDeadline(time.Now().Add(remoteVideoIdleWindow)); err != nil {
			t.buffers.Put(buf)
			return
		}
		n, _, err := track.Read(buf)
		if err != nil {
			t.buffers.Put(buf)
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				stream.setActive(false)
				continue
			}
			stream.setActive(false)
			return
		}
		if err := packet.Unmarshal(buf[:n]); err == nil {
			stream.setActive(true)
		}
		t.buffers.Put(buf)
	}
}

// drainReceiverRTCP keeps the receiver's RTCP loop flowing and samples the
// quality reports it carries.
func (t *Transport) drainReceiverRTCP(receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		t.sampleRTCP(packets)
	}
}

func (t *Transport) drainSenderRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		t.sampleRTCP(packets)
	}
}

// sampleRTCP extracts loss and jitter from receiver reports. The numbers only
// feed the debug log; the call itself never acts on them.
func (t *Transport) sampleRTCP(packets []rtcp.Packet) {
	var fractionLost uint8
	var jitter uint32
	reports := 0

	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			for _, report := range p.Reports {
				fractionLost += report.FractionLost
				jitter += report.Jitter
				reports++
			}
		case *rtcp.TransportLayerNack:
			t.logger.Debugw("received NACK", "call_id", t.callID, "nacks", len(p.Nacks))
		case *rtcp.PictureLossIndication:
			t.logger.Debugw("received PLI", "call_id", t.callID)
		}
	}

	if reports > 0 {
		t.logger.Debugw("link quality sample",
			"call_id", t.callID,
			"fraction_lost", float64(fractionLost)/float64(reports)/255.0,
			"jitter", jitter/uint32(reports),
		)
	}
}
