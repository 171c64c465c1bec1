package session

import (
	"strings"
	"sync"
	"time"
)

// UnknownCaller is recorded when the telephony side supplies no caller
// identity.
const UnknownCaller = "Unknown"

// agentPlaceholder is appended when a completed response carries no usable
// transcript text.
const agentPlaceholder = "Agent message not found"

// Session is the per-call state shared between the inbound call-setup
// handler and the relay orchestrator that later owns the call.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	callerNumber string
	streamID     string
	greeting     string
	metadata     map[string]string
	transcript   strings.Builder
}

// Options seeds a Session at creation time, before any transport connects.
type Options struct {
	CallerNumber string
	Greeting     string
	Metadata     map[string]string
}

func newSession(id string, opts Options, now time.Time) *Session {
	caller := strings.TrimSpace(opts.CallerNumber)
	if caller == "" {
		caller = UnknownCaller
	}
	meta := make(map[string]string, len(opts.Metadata))
	for k, v := range opts.Metadata {
		meta[k] = v
	}
	return &Session{
		ID:           id,
		CreatedAt:    now,
		callerNumber: caller,
		greeting:     opts.Greeting,
		metadata:     meta,
	}
}

// CallerNumber returns the caller identity, UnknownCaller when unset.
func (s *Session) CallerNumber() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callerNumber
}

// SetCallerNumber updates the caller identity from stream-start parameters.
// Empty values are ignored.
func (s *Session) SetCallerNumber(number string) {
	number = strings.TrimSpace(number)
	if number == "" {
		return
	}
	s.mu.Lock()
	s.callerNumber = number
	s.mu.Unlock()
}

// StreamID returns the media stream leg identifier.
func (s *Session) StreamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamID
}

// SetStreamID records the stream leg once; later calls are ignored.
func (s *Session) SetStreamID(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	s.mu.Lock()
	if s.streamID == "" {
		s.streamID = id
	}
	s.mu.Unlock()
}

// Greeting returns the buffered first utterance.
func (s *Session) Greeting() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.greeting
}

// SetGreeting replaces the buffered first utterance. Empty values are
// ignored so a stream-start without parameters keeps the call-setup value.
func (s *Session) SetGreeting(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.mu.Lock()
	s.greeting = text
	s.mu.Unlock()
}

// Metadata returns a copy of the inbound call parameters.
func (s *Session) Metadata() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

// AppendAgent appends an agent line to the transcript. Missing text records
// the placeholder so the transcript still shows a turn happened.
func (s *Session) AppendAgent(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		text = agentPlaceholder
	}
	s.mu.Lock()
	s.transcript.WriteString("Agent: ")
	s.transcript.WriteString(text)
	s.transcript.WriteString("\n")
	s.mu.Unlock()
}

// AppendUser appends a caller line to the transcript. Empty text is dropped.
func (s *Session) AppendUser(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.mu.Lock()
	s.transcript.WriteString("User: ")
	s.transcript.WriteString(text)
	s.transcript.WriteString("\n")
	s.mu.Unlock()
}

// Transcript returns the accumulated transcript text.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.String()
}
