// Package relay owns the two transports for one call: it translates event
// vocabularies between the telephony media stream and the conversational-AI
// realtime connection, and orchestrates startup sequencing, barge-in, tool
// dispatch, and teardown.
package relay

import (
	"encoding/json"
	"fmt"

	"github.com/agenix-ai/callbridge/pkg/bridge/realtime"
	"github.com/agenix-ai/callbridge/pkg/bridge/twilio"
)

// AudioAppend maps one inbound telephony media frame to the AI-side input
// buffer append. The payload stays opaque.
func AudioAppend(evt twilio.MediaEvent) realtime.InputAudioBufferAppend {
	return realtime.NewAudioAppend(evt.Payload)
}

// OutboundAudio wraps one AI audio delta into a telephony media frame tagged
// with the stream leg.
func OutboundAudio(streamID string, evt realtime.AudioDelta) ([]byte, error) {
	data, err := json.Marshal(twilio.NewOutboundMedia(streamID, evt.Delta))
	if err != nil {
		return nil, fmt.Errorf("marshal outbound media: %w", err)
	}
	return data, nil
}

// OutboundClear builds the telephony flush frame sent on barge-in.
func OutboundClear(streamID string) ([]byte, error) {
	data, err := json.Marshal(twilio.NewOutboundClear(streamID))
	if err != nil {
		return nil, fmt.Errorf("marshal outbound clear: %w", err)
	}
	return data, nil
}
