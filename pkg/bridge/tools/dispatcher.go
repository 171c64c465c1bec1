// Package tools executes the function calls the conversational model emits
// mid-call and turns their results into response instructions.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/agenix-ai/callbridge/pkg/bridge/realtime"
)

// FallbackInstruction is spoken whenever a tool call fails for any reason.
const FallbackInstruction = "I apologize, but I'm having trouble processing your request right now. Is there anything else I can help you with?"

// ErrUnknownTool reports a function call naming a tool that was never
// declared in the handshake schema.
var ErrUnknownTool = errors.New("unknown tool")

// InvalidLocationError reports a booking request for a location with no
// calendar mapping. No webhook call is made in this case.
type InvalidLocationError struct {
	Location string
}

func (e *InvalidLocationError) Error() string {
	return fmt.Sprintf("no calendar for location %q", e.Location)
}

// calendars maps booking locations to calendar identifiers.
var calendars = map[string]string{
	"LOCATION1": "CALENDAR_EMAIL1",
	"LOCATION2": "CALENDAR_EMAIL2",
	"LOCATION3": "CALENDAR_EMAIL3",
}

// Answerer resolves caller questions against the knowledge base.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

// Booker submits meeting requests and returns the confirmation message.
type Booker interface {
	Book(ctx context.Context, callerNumber string, details map[string]any) (string, error)
}

// Invocation is one function call emitted by the model.
type Invocation struct {
	Name         string
	Arguments    json.RawMessage
	CallID       string
	CallerNumber string
}

// Result is what the relay splices back into the conversation: the function
// output and the instruction guiding the next spoken response.
type Result struct {
	Output      string
	Instruction string
}

// Dispatcher routes function calls to their collaborators under a bounded
// timeout.
type Dispatcher struct {
	answerer Answerer
	booker   Booker
	timeout  time.Duration
	log      *slog.Logger
}

// New builds a dispatcher. A nil logger discards.
func New(answerer Answerer, booker Booker, timeout time.Duration, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{answerer: answerer, booker: booker, timeout: timeout, log: log}
}

// Dispatch executes one tool call. The returned error describes what failed;
// Fallback turns any failure into a speakable result.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) (Result, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	switch inv.Name {
	case realtime.ToolQuestionAndAnswer:
		return d.questionAndAnswer(ctx, inv)
	case realtime.ToolScheduleMeeting:
		return d.scheduleMeeting(ctx, inv)
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, inv.Name)
	}
}

// Fallback is the result spliced in when Dispatch fails, so the caller always
// hears something.
func Fallback() Result {
	return Result{
		Output:      FallbackInstruction,
		Instruction: FallbackInstruction,
	}
}

func (d *Dispatcher) questionAndAnswer(ctx context.Context, inv Invocation) (Result, error) {
	var args struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal(inv.Arguments, &args); err != nil {
		return Result{}, fmt.Errorf("decode question_and_answer arguments: %w", err)
	}

	answer, err := d.answerer.Answer(ctx, args.Question)
	if err != nil {
		return Result{}, fmt.Errorf("answer question: %w", err)
	}

	return Result{
		Output: answer,
		Instruction: fmt.Sprintf(
			"Respond to the user's question %q based on this information: %s. Be concise and friendly.",
			args.Question, answer),
	}, nil
}

func (d *Dispatcher) scheduleMeeting(ctx context.Context, inv Invocation) (Result, error) {
	var args struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Purpose  string `json:"purpose"`
		Datetime string `json:"datetime"`
		Location string `json:"location"`
	}
	if err := json.Unmarshal(inv.Arguments, &args); err != nil {
		return Result{}, fmt.Errorf("decode schedule_meeting arguments: %w", err)
	}

	calendarID, ok := calendars[args.Location]
	if !ok {
		return Result{}, &InvalidLocationError{Location: args.Location}
	}

	details := map[string]any{
		"name":        args.Name,
		"email":       args.Email,
		"purpose":     args.Purpose,
		"datetime":    args.Datetime,
		"location":    args.Location,
		"calendar_id": calendarID,
	}
	message, err := d.booker.Book(ctx, inv.CallerNumber, details)
	if err != nil {
		return Result{}, fmt.Errorf("book meeting: %w", err)
	}

	return Result{Output: message, Instruction: message}, nil
}
