package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignalDataCandidate(t *testing.T) {
	mid := "0"
	raw, err := SignalData{
		Kind:      SignalCandidate,
		Candidate: ICECandidate{Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 54321 typ host", SDPMid: &mid},
	}.Encode()
	require.NoError(t, err)

	parsed, err := ParseSignalData(raw)
	require.NoError(t, err)
	assert.Equal(t, SignalCandidate, parsed.Kind)
	require.NotNil(t, parsed.Candidate.SDPMid)
	assert.Equal(t, "0", *parsed.Candidate.SDPMid)
}

func TestParseSignalDataDescriptions(t *testing.T) {
	for _, sdpType := range []string{SDPOffer, SDPAnswer} {
		raw, err := SignalData{
			Kind:        SignalDescription,
			Description: SessionDescription{Type: sdpType, SDP: "v=0..."},
		}.Encode()
		require.NoError(t, err)

		parsed, err := ParseSignalData(raw)
		require.NoError(t, err)
		assert.Equal(t, SignalDescription, parsed.Kind)
		assert.Equal(t, sdpType, parsed.Description.Type)
	}
}

func TestParseSignalDataRejectsGarbage(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"type":"rollback","sdp":"v=0"}`,
		`{}`,
	} {
		_, err := ParseSignalData(json.RawMessage(raw))
		assert.ErrorIs(t, err, ErrMalformedSignal, raw)
	}
}

func TestEncodeUnknownKindFails(t *testing.T) {
	_, err := SignalData{}.Encode()
	assert.ErrorIs(t, err, ErrMalformedSignal)
}
