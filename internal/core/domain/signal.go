package domain

import "encoding/json"

// SignalKind tags the two payload shapes that travel inside call:signal.
type SignalKind string

const (
	SignalCandidate   SignalKind = "candidate"
	SignalDescription SignalKind = "description"
)

// SessionDescription is an SDP offer or answer as exchanged on the wire.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

const (
	SDPOffer  = "offer"
	SDPAnswer = "answer"
)

// ICECandidate is a discovered network path candidate as exchanged on the wire.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// SignalData is the tagged union carried by call:signal. The shape is decided
// once here, at the boundary, instead of probing fields at every use site.
type SignalData struct {
	Kind        SignalKind
	Candidate   ICECandidate
	Description SessionDescription
}

// ParseSignalData classifies a raw call:signal payload. A payload wrapping a
// candidate decodes as SignalCandidate; one carrying {type, sdp} decodes as
// SignalDescription. Anything else is a protocol error.
func ParseSignalData(raw json.RawMessage) (SignalData, error) {
	var probe struct {
		Candidate *ICECandidate `json:"candidate"`
		Type      string        `json:"type"`
		SDP       string        `json:"sdp"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return SignalData{}, ErrMalformedSignal
	}

	if probe.Candidate != nil {
		return SignalData{Kind: SignalCandidate, Candidate: *probe.Candidate}, nil
	}

	switch probe.Type {
	case SDPOffer, SDPAnswer:
		return SignalData{
			Kind:        SignalDescription,
			Description: SessionDescription{Type: probe.Type, SDP: probe.SDP},
		}, nil
	}

	return SignalData{}, ErrMalformedSignal
}

// Encode renders the union back into its wire shape.
func (d SignalData) Encode() (json.RawMessage, error) {
	switch d.Kind {
	case SignalCandidate:
		return json.Marshal(struct {
			Candidate ICECandidate `json:"candidate"`
		}{d.Candidate})
	case SignalDescription:
		return json.Marshal(d.Description)
	}
	return nil, ErrMalformedSignal
}
