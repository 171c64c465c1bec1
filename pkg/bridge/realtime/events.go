// Package realtime implements the conversational-AI realtime transport: the
// JSON event vocabulary exchanged over the websocket and a thin client for
// dialing and driving the connection.
package realtime

import (
	"encoding/json"
	"strings"
)

// Tool names declared in the handshake tool schema.
const (
	ToolQuestionAndAnswer = "question_and_answer"
	ToolScheduleMeeting   = "schedule_meeting"
)

// DecodeError reports an inbound frame that could not be decoded.
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

// SessionConfig drives the session.update handshake event.
type SessionConfig struct {
	Voice        string
	Instructions string
	Temperature  float64
}

// SessionUpdate is the handshake configuration event: audio formats, voice,
// server-side turn detection, transcription, and the tool schema.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionDetail `json:"session"`
}

type sessionDetail struct {
	TurnDetection     turnDetection  `json:"turn_detection"`
	InputAudioFormat  string         `json:"input_audio_format"`
	OutputAudioFormat string         `json:"output_audio_format"`
	Voice             string         `json:"voice"`
	Instructions      string         `json:"instructions"`
	Modalities        []string       `json:"modalities"`
	Temperature       float64        `json:"temperature"`
	Transcription     *transcription `json:"input_audio_transcription,omitempty"`
	Tools             []Tool         `json:"tools"`
	ToolChoice        string         `json:"tool_choice"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type transcription struct {
	Model string `json:"model"`
}

// Tool declares one callable function in the handshake schema.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

// ToolParameters is a JSON-schema object describing tool arguments.
type ToolParameters struct {
	Type       string                  `json:"type"`
	Properties map[string]ToolProperty `json:"properties"`
	Required   []string                `json:"required"`
}

// ToolProperty is one argument in a tool's parameter schema.
type ToolProperty struct {
	Type string `json:"type"`
}

// NewSessionUpdate builds the handshake configuration with the two bridge
// tools declared.
func NewSessionUpdate(cfg SessionConfig) SessionUpdate {
	return SessionUpdate{
		Type: "session.update",
		Session: sessionDetail{
			TurnDetection:     turnDetection{Type: "server_vad"},
			InputAudioFormat:  "g711_ulaw",
			OutputAudioFormat: "g711_ulaw",
			Voice:             cfg.Voice,
			Instructions:      cfg.Instructions,
			Modalities:        []string{"text", "audio"},
			Temperature:       cfg.Temperature,
			Transcription:     &transcription{Model: "whisper-1"},
			Tools: []Tool{
				{
					Type:        "function",
					Name:        ToolQuestionAndAnswer,
					Description: "Get answers to customer questions especially about AI employees",
					Parameters: ToolParameters{
						Type: "object",
						Properties: map[string]ToolProperty{
							"question": {Type: "string"},
						},
						Required: []string{"question"},
					},
				},
				{
					Type:        "function",
					Name:        ToolScheduleMeeting,
					Description: "Schedule a meeting for a customer. Returns a message indicating whether the booking was successful or not.",
					Parameters: ToolParameters{
						Type: "object",
						Properties: map[string]ToolProperty{
							"name":     {Type: "string"},
							"email":    {Type: "string"},
							"purpose":  {Type: "string"},
							"datetime": {Type: "string"},
							"location": {Type: "string"},
						},
						Required: []string{"name", "email", "purpose", "datetime", "location"},
					},
				},
			},
			ToolChoice: "auto",
		},
	}
}

// ConversationItemCreate seeds or splices a conversation item.
type ConversationItemCreate struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []itemContent `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

type itemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewUserText builds a user text turn, used to inject the greeting.
func NewUserText(text string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []itemContent{{Type: "input_text", Text: text}},
		},
	}
}

// NewFunctionOutput splices a tool result back into the conversation.
func NewFunctionOutput(callID, output string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
}

// InputAudioBufferAppend appends one opaque audio frame to the input buffer.
type InputAudioBufferAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// NewAudioAppend wraps a telephony audio payload for the input buffer.
func NewAudioAppend(payload string) InputAudioBufferAppend {
	return InputAudioBufferAppend{Type: "input_audio_buffer.append", Audio: payload}
}

// ResponseCreate triggers generation of the next response, optionally with
// per-response instructions.
type ResponseCreate struct {
	Type     string          `json:"type"`
	Response *responseDetail `json:"response,omitempty"`
}

type responseDetail struct {
	Modalities   []string `json:"modalities"`
	Instructions string   `json:"instructions"`
}

// NewResponseCreate triggers a plain response.
func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: "response.create"}
}

// NewInstructedResponse triggers a response guided by instruction text, used
// after a tool result has been spliced in.
func NewInstructedResponse(instructions string) ResponseCreate {
	return ResponseCreate{
		Type: "response.create",
		Response: &responseDetail{
			Modalities:   []string{"text", "audio"},
			Instructions: instructions,
		},
	}
}

// ResponseCancel aborts the in-flight response during barge-in.
type ResponseCancel struct {
	Type string `json:"type"`
}

// NewResponseCancel builds the barge-in cancellation event.
func NewResponseCancel() ResponseCancel {
	return ResponseCancel{Type: "response.cancel"}
}

// Inbound event variants.
type (
	// AudioDelta carries one chunk of synthesized speech.
	AudioDelta struct {
		Delta string
	}

	// FunctionCallDone announces that the model finished emitting the
	// arguments of a tool call.
	FunctionCallDone struct {
		Name      string
		Arguments json.RawMessage
		CallID    string
	}

	// SpeechStarted signals server-side voice activity detection: the
	// caller began talking.
	SpeechStarted struct{}

	// ResponseDone carries the transcript text of the completed response,
	// already reduced to the first output item's first content item.
	ResponseDone struct {
		Transcript string
	}

	// TranscriptionCompleted carries the caller-side transcription of one
	// utterance.
	TranscriptionCompleted struct {
		Transcript string
	}

	// ErrorEvent is a server-reported error; the relay logs it and
	// continues.
	ErrorEvent struct {
		Code    string
		Message string
	}

	// Diagnostic is a recognized log-only event kind.
	Diagnostic struct {
		Kind string
	}

	// UnknownEvent is any frame of an unrecognized kind.
	UnknownEvent struct {
		Kind string
	}
)

// diagnosticKinds are recognized but carry no relay action beyond logging.
var diagnosticKinds = map[string]struct{}{
	"response.content.done":             {},
	"rate_limits.updated":               {},
	"input_audio_buffer.committed":      {},
	"input_audio_buffer.speech_stopped": {},
	"session.created":                   {},
	"session.updated":                   {},
	"response.text.done":                {},
}

type inboundFrame struct {
	Type       string          `json:"type"`
	Delta      string          `json:"delta,omitempty"`
	Name       string          `json:"name,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	CallID     string          `json:"call_id,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	Response   *struct {
		Output []struct {
			Content []struct {
				Transcript string `json:"transcript"`
			} `json:"content"`
		} `json:"output"`
	} `json:"response,omitempty"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// DecodeEvent parses one inbound frame into its tagged variant.
func DecodeEvent(data []byte) (any, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, malformed("invalid json frame")
	}
	kind := strings.TrimSpace(frame.Type)
	if kind == "" {
		return nil, malformed("missing type")
	}

	switch kind {
	case "response.audio.delta":
		if frame.Delta == "" {
			return nil, malformed("audio delta missing delta")
		}
		return AudioDelta{Delta: frame.Delta}, nil
	case "response.function_call_arguments.done":
		if strings.TrimSpace(frame.Name) == "" {
			return nil, malformed("function call missing name")
		}
		args := frame.Arguments
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		return FunctionCallDone{Name: frame.Name, Arguments: args, CallID: frame.CallID}, nil
	case "input_audio_buffer.speech_started":
		return SpeechStarted{}, nil
	case "response.done":
		return ResponseDone{Transcript: firstTranscript(frame)}, nil
	case "conversation.item.input_audio_transcription.completed":
		return TranscriptionCompleted{Transcript: strings.TrimSpace(frame.Transcript)}, nil
	case "error":
		evt := ErrorEvent{}
		if frame.Error != nil {
			evt.Code = frame.Error.Code
			evt.Message = frame.Error.Message
		}
		return evt, nil
	default:
		if _, ok := diagnosticKinds[kind]; ok {
			return Diagnostic{Kind: kind}, nil
		}
		return UnknownEvent{Kind: kind}, nil
	}
}

// firstTranscript digs the agent utterance out of a completed response:
// the first output item's first content item's transcript. Absent or
// malformed structure yields the empty string; the session layer records a
// placeholder line in that case.
func firstTranscript(frame inboundFrame) string {
	if frame.Response == nil || len(frame.Response.Output) == 0 {
		return ""
	}
	content := frame.Response.Output[0].Content
	if len(content) == 0 {
		return ""
	}
	return content[0].Transcript
}
