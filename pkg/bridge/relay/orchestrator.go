package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agenix-ai/callbridge/pkg/bridge/metrics"
	"github.com/agenix-ai/callbridge/pkg/bridge/realtime"
	"github.com/agenix-ai/callbridge/pkg/bridge/session"
	"github.com/agenix-ai/callbridge/pkg/bridge/tools"
	"github.com/agenix-ai/callbridge/pkg/bridge/twilio"
)

// State is the orchestrator lifecycle position for one call.
type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TelephonyConn is the media-stream websocket; gorilla's Conn satisfies it.
type TelephonyConn interface {
	ReadMessage() (int, []byte, error)
	wsWriter
}

// AIConn is the realtime connection the orchestrator drives.
type AIConn interface {
	SendJSON(v any) error
	ReadMessage() ([]byte, error)
	Close() error
}

// AIDialer opens the realtime connection; the context bounds the handshake.
type AIDialer func(ctx context.Context) (AIConn, error)

// Dispatcher executes tool calls emitted by the model.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv tools.Invocation) (tools.Result, error)
}

// TranscriptSink receives the finalized transcript at teardown.
type TranscriptSink interface {
	DeliverTranscript(ctx context.Context, callerNumber, transcript string) error
}

// Config tunes one orchestrator run.
type Config struct {
	Voice        string
	Instructions string
	Temperature  float64

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	FlushTimeout     time.Duration
	OutboundQueue    int
}

// Dependencies wires an orchestrator for one call.
type Dependencies struct {
	Telephony   TelephonyConn
	DialAI      AIDialer
	Session     *session.Session
	Registry    *session.Registry
	Tools       Dispatcher
	Transcripts TranscriptSink
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Config      Config
}

// Orchestrator bridges one telephony leg with one AI connection for the
// duration of a call.
type Orchestrator struct {
	telephony   TelephonyConn
	dialAI      AIDialer
	session     *session.Session
	registry    *session.Registry
	tools       Dispatcher
	transcripts TranscriptSink
	metrics     *metrics.Metrics
	logger      *slog.Logger
	cfg         Config

	state atomic.Int32

	// Handshake sequencing; touched only by the event loop goroutine.
	handshakeSent bool
	streamStarted bool
	greetingSent  bool

	outboundPriority chan []byte
	outboundNormal   chan []byte

	flushOnce sync.Once
}

type telephonyFrame struct {
	data []byte
	err  error
}

type aiFrame struct {
	data []byte
	err  error
}

// New validates the wiring and builds an orchestrator in Connecting state.
func New(deps Dependencies) (*Orchestrator, error) {
	if deps.Telephony == nil {
		return nil, fmt.Errorf("telephony connection is required")
	}
	if deps.DialAI == nil {
		return nil, fmt.Errorf("ai dialer is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if deps.Tools == nil {
		return nil, fmt.Errorf("tool dispatcher is required")
	}
	if deps.Transcripts == nil {
		return nil, fmt.Errorf("transcript sink is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.HandshakeTimeout <= 0 {
		deps.Config.HandshakeTimeout = 5 * time.Second
	}
	if deps.Config.FlushTimeout <= 0 {
		deps.Config.FlushTimeout = 10 * time.Second
	}
	if deps.Config.OutboundQueue <= 0 {
		deps.Config.OutboundQueue = 128
	}

	o := &Orchestrator{
		telephony:        deps.Telephony,
		dialAI:           deps.DialAI,
		session:          deps.Session,
		registry:         deps.Registry,
		tools:            deps.Tools,
		transcripts:      deps.Transcripts,
		metrics:          deps.Metrics,
		logger:           deps.Logger.With("session", deps.Session.ID),
		cfg:              deps.Config,
		outboundPriority: make(chan []byte, 8),
		outboundNormal:   make(chan []byte, deps.Config.OutboundQueue),
	}
	o.state.Store(int32(StateConnecting))
	return o, nil
}

// State reports the current lifecycle position.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
}

// Run drives the call until the telephony leg ends, then tears down and
// flushes the transcript. It always leaves the session removed from the
// registry.
func (o *Orchestrator) Run(ctx context.Context) error {
	started := time.Now()
	o.metrics.CallStarted()
	status := "completed"
	defer func() {
		o.metrics.CallEnded(status, time.Since(started))
	}()
	defer o.finish()
	defer o.telephony.Close()

	dialCtx, cancelDial := context.WithTimeout(ctx, o.cfg.HandshakeTimeout)
	ai, err := o.dialAI(dialCtx)
	cancelDial()
	if err != nil {
		status = "dial_failed"
		return fmt.Errorf("open ai transport: %w", err)
	}
	defer ai.Close()

	o.setState(StateHandshaking)
	if err := ai.SendJSON(realtime.NewSessionUpdate(realtime.SessionConfig{
		Voice:        o.cfg.Voice,
		Instructions: o.cfg.Instructions,
		Temperature:  o.cfg.Temperature,
	})); err != nil {
		status = "handshake_failed"
		return fmt.Errorf("send session configuration: %w", err)
	}
	o.handshakeSent = true
	if err := o.maybeSendGreeting(ai); err != nil {
		status = "handshake_failed"
		return fmt.Errorf("send greeting: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerErr := make(chan error, 1)
	go func() {
		w := outboundWriter{
			ws:           o.telephony,
			ctx:          loopCtx,
			priority:     o.outboundPriority,
			normal:       o.outboundNormal,
			pingInterval: o.cfg.PingInterval,
			writeTimeout: o.cfg.WriteTimeout,
		}
		writerErr <- w.Run()
	}()

	telCh := make(chan telephonyFrame, 64)
	go o.readTelephony(loopCtx, telCh)

	aiCh := make(chan aiFrame, 64)
	go o.readAI(loopCtx, ai, aiCh)

	aiOpen := true
	for {
		select {
		case <-loopCtx.Done():
			status = "canceled"
			return loopCtx.Err()

		case err := <-writerErr:
			status = "write_failed"
			return fmt.Errorf("telephony write: %w", err)

		case frame := <-telCh:
			if frame.err != nil {
				o.logger.Info("telephony leg closed", "error", frame.err)
				return nil
			}
			if err := o.handleTelephonyFrame(ai, aiOpen, frame.data); err != nil {
				if errors.Is(err, errStreamStopped) {
					o.logger.Info("media stream stopped")
					return nil
				}
				status = "relay_failed"
				return err
			}

		case frame := <-aiCh:
			if frame.err != nil {
				// The caller may still be mid-call: keep draining the
				// telephony leg with nothing to forward it to.
				o.logger.Warn("ai transport closed", "error", frame.err)
				_ = ai.Close()
				aiOpen = false
				aiCh = nil
				continue
			}
			o.handleAIFrame(loopCtx, ai, frame.data)
		}
	}
}

var errStreamStopped = errors.New("media stream stopped")

func (o *Orchestrator) readTelephony(ctx context.Context, ch chan<- telephonyFrame) {
	defer close(ch)
	for {
		_, data, err := o.telephony.ReadMessage()
		// The event loop may already be gone; never park on the send.
		select {
		case ch <- telephonyFrame{data: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (o *Orchestrator) readAI(ctx context.Context, ai AIConn, ch chan<- aiFrame) {
	defer close(ch)
	for {
		data, err := ai.ReadMessage()
		select {
		case ch <- aiFrame{data: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (o *Orchestrator) handleTelephonyFrame(ai AIConn, aiOpen bool, data []byte) error {
	evt, err := twilio.DecodeEvent(data)
	if err != nil {
		o.logger.Warn("telephony event skipped", "error", err)
		o.metrics.EventDropped("telephony")
		return nil
	}

	switch e := evt.(type) {
	case twilio.ConnectedEvent:
		o.logger.Debug("telephony connected")

	case twilio.StartEvent:
		o.session.SetStreamID(e.StreamSID)
		o.session.SetCallerNumber(e.CustomParameters["callerNumber"])
		o.session.SetGreeting(e.CustomParameters["firstMessage"])
		o.streamStarted = true
		if o.registry != nil && e.CallSID != "" && e.CallSID != o.session.ID {
			// The call-setup entry served its purpose; its greeting and
			// caller number arrived as stream parameters.
			o.registry.Remove(e.CallSID)
		}
		o.logger.Info("media stream started",
			"stream", e.StreamSID,
			"caller", o.session.CallerNumber())
		if aiOpen {
			if err := o.maybeSendGreeting(ai); err != nil {
				return fmt.Errorf("send greeting: %w", err)
			}
		}

	case twilio.MediaEvent:
		if !aiOpen {
			return nil
		}
		if err := ai.SendJSON(AudioAppend(e)); err != nil {
			return fmt.Errorf("forward caller audio: %w", err)
		}
		o.metrics.AudioFrame("inbound")

	case twilio.StopEvent:
		return errStreamStopped

	case twilio.MarkEvent:
		o.logger.Debug("playback mark", "name", e.Name)

	case twilio.UnknownEvent:
		o.logger.Debug("unhandled telephony event", "kind", e.Kind)
	}
	return nil
}

func (o *Orchestrator) handleAIFrame(ctx context.Context, ai AIConn, data []byte) {
	evt, err := realtime.DecodeEvent(data)
	if err != nil {
		o.logger.Warn("ai event skipped", "error", err)
		o.metrics.EventDropped("realtime")
		return
	}

	switch e := evt.(type) {
	case realtime.AudioDelta:
		streamID := o.session.StreamID()
		if streamID == "" {
			o.logger.Warn("audio delta before stream start, dropped")
			o.metrics.EventDropped("telephony")
			return
		}
		frame, err := OutboundAudio(streamID, e)
		if err != nil {
			o.logger.Warn("audio delta not translated", "error", err)
			return
		}
		select {
		case o.outboundNormal <- frame:
			o.metrics.AudioFrame("outbound")
		default:
			// Playback is realtime; stale audio is worthless.
			o.metrics.EventDropped("telephony")
		}

	case realtime.SpeechStarted:
		o.bargeIn(ai)

	case realtime.FunctionCallDone:
		o.dispatchTool(ctx, ai, e)

	case realtime.ResponseDone:
		o.session.AppendAgent(e.Transcript)

	case realtime.TranscriptionCompleted:
		o.session.AppendUser(e.Transcript)

	case realtime.ErrorEvent:
		o.logger.Warn("ai error event", "code", e.Code, "message", e.Message)

	case realtime.Diagnostic:
		o.logger.Debug("ai event", "kind", e.Kind)

	case realtime.UnknownEvent:
		o.logger.Debug("unhandled ai event", "kind", e.Kind)
	}
}

// bargeIn flushes buffered playback and aborts the in-flight response the
// moment the caller starts talking.
func (o *Orchestrator) bargeIn(ai AIConn) {
	streamID := o.session.StreamID()
	if streamID != "" {
		frame, err := OutboundClear(streamID)
		if err == nil {
			select {
			case o.outboundPriority <- frame:
			default:
				o.logger.Warn("clear frame dropped, priority queue full")
			}
		}
	}
	if err := ai.SendJSON(realtime.NewResponseCancel()); err != nil {
		o.logger.Warn("response cancel not sent", "error", err)
	}
	o.metrics.BargeIn()
	o.logger.Info("barge-in", "stream", streamID)
}

func (o *Orchestrator) dispatchTool(ctx context.Context, ai AIConn, call realtime.FunctionCallDone) {
	result, err := o.tools.Dispatch(ctx, tools.Invocation{
		Name:         call.Name,
		Arguments:    call.Arguments,
		CallID:       call.CallID,
		CallerNumber: o.session.CallerNumber(),
	})
	if err != nil {
		o.logger.Warn("tool dispatch failed", "tool", call.Name, "error", err)
		o.metrics.ToolDispatched(call.Name, "error")
		result = tools.Fallback()
	} else {
		o.metrics.ToolDispatched(call.Name, "ok")
	}

	if err := ai.SendJSON(realtime.NewFunctionOutput(call.CallID, result.Output)); err != nil {
		o.logger.Warn("function output not sent", "tool", call.Name, "error", err)
		return
	}
	if err := ai.SendJSON(realtime.NewInstructedResponse(result.Instruction)); err != nil {
		o.logger.Warn("tool response trigger not sent", "tool", call.Name, "error", err)
	}
}

// maybeSendGreeting delivers the queued greeting exactly once, after both the
// configuration send and the stream start have happened, in either order.
func (o *Orchestrator) maybeSendGreeting(ai AIConn) error {
	if o.greetingSent || !o.handshakeSent || !o.streamStarted {
		return nil
	}
	greeting := o.session.Greeting()
	if greeting == "" {
		// Nothing queued; the model waits for the caller to speak first.
		o.greetingSent = true
		o.setState(StateActive)
		return nil
	}
	if err := ai.SendJSON(realtime.NewUserText(greeting)); err != nil {
		return err
	}
	if err := ai.SendJSON(realtime.NewResponseCreate()); err != nil {
		return err
	}
	o.greetingSent = true
	o.setState(StateActive)
	o.logger.Info("greeting delivered")
	return nil
}

// finish flushes the transcript and removes the session, exactly once.
func (o *Orchestrator) finish() {
	o.flushOnce.Do(func() {
		o.setState(StateClosing)

		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.FlushTimeout)
		defer cancel()

		caller := o.session.CallerNumber()
		if err := o.transcripts.DeliverTranscript(ctx, caller, o.session.Transcript()); err != nil {
			o.logger.Warn("transcript delivery failed", "caller", caller, "error", err)
			o.metrics.TranscriptFlushed("error")
		} else {
			o.metrics.TranscriptFlushed("ok")
		}

		if o.registry != nil {
			o.registry.Remove(o.session.ID)
		}
		o.setState(StateClosed)
	})
}
