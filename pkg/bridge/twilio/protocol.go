// Package twilio implements the media-stream wire protocol spoken on the
// telephony websocket: newline-free JSON events for stream lifecycle and
// base64 audio frames, plus the TwiML connect directive that points a call
// at the stream endpoint.
package twilio

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeError reports a frame that could not be decoded into a known event.
type DecodeError struct {
	Code    string
	Message string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func malformed(message string) *DecodeError {
	return &DecodeError{Code: "malformed_event", Message: message}
}

// Inbound event variants.
type (
	// ConnectedEvent is the first frame after the websocket opens.
	ConnectedEvent struct{}

	// StartEvent announces the media stream leg and carries the
	// out-of-band parameters set on the TwiML <Stream>.
	StartEvent struct {
		StreamSID        string
		CallSID          string
		CustomParameters map[string]string
	}

	// MediaEvent carries one base64-encoded audio frame. The payload is
	// opaque to the bridge.
	MediaEvent struct {
		Payload string
	}

	// StopEvent announces the end of the media stream leg.
	StopEvent struct {
		StreamSID string
		CallSID   string
	}

	// MarkEvent acknowledges playback of a named outbound marker.
	MarkEvent struct {
		Name string
	}

	// UnknownEvent is any recognized-shape frame of an unhandled kind.
	UnknownEvent struct {
		Kind string
	}
)

type inboundFrame struct {
	Event string `json:"event"`
	Start *struct {
		StreamSID        string            `json:"streamSid"`
		CallSID          string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start,omitempty"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	Stop *struct {
		StreamSID string `json:"streamSid"`
		CallSID   string `json:"callSid"`
	} `json:"stop,omitempty"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
}

// DecodeEvent parses one inbound frame into its tagged variant.
func DecodeEvent(data []byte) (any, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, malformed("invalid json frame")
	}
	kind := strings.TrimSpace(frame.Event)
	if kind == "" {
		return nil, malformed("missing event")
	}

	switch kind {
	case "connected":
		return ConnectedEvent{}, nil
	case "start":
		if frame.Start == nil {
			return nil, malformed("start event missing start block")
		}
		params := frame.Start.CustomParameters
		if params == nil {
			params = map[string]string{}
		}
		return StartEvent{
			StreamSID:        frame.Start.StreamSID,
			CallSID:          frame.Start.CallSID,
			CustomParameters: params,
		}, nil
	case "media":
		if frame.Media == nil || frame.Media.Payload == "" {
			return nil, malformed("media event missing payload")
		}
		return MediaEvent{Payload: frame.Media.Payload}, nil
	case "stop":
		var evt StopEvent
		if frame.Stop != nil {
			evt.StreamSID = frame.Stop.StreamSID
			evt.CallSID = frame.Stop.CallSID
		}
		return evt, nil
	case "mark":
		var evt MarkEvent
		if frame.Mark != nil {
			evt.Name = frame.Mark.Name
		}
		return evt, nil
	default:
		return UnknownEvent{Kind: kind}, nil
	}
}

// OutboundMedia wraps an audio payload for playback on the given stream leg.
type OutboundMedia struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

// NewOutboundMedia builds a playback frame for the stream leg.
func NewOutboundMedia(streamSID, payload string) OutboundMedia {
	return OutboundMedia{
		Event:     "media",
		StreamSID: streamSID,
		Media:     mediaPayload{Payload: payload},
	}
}

// OutboundClear flushes any audio queued for playback on the stream leg.
type OutboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// NewOutboundClear builds a queue-flush frame for the stream leg.
func NewOutboundClear(streamSID string) OutboundClear {
	return OutboundClear{Event: "clear", StreamSID: streamSID}
}

// ConnectStreamTwiML renders the call-setup response that connects the call
// to the media-stream endpoint, carrying the greeting and caller number as
// out-of-band stream parameters. Values are XML-escaped.
func ConnectStreamTwiML(streamURL, greeting, callerNumber string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Connect>
        <Stream url="%s">
            <Parameter name="firstMessage" value="%s" />
            <Parameter name="callerNumber" value="%s" />
        </Stream>
    </Connect>
</Response>`, escapeXML(streamURL), escapeXML(greeting), escapeXML(callerNumber))
}

func escapeXML(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(s)
}
