package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnswerer struct {
	answer string
	err    error
	gotQ   string
}

func (f *fakeAnswerer) Answer(ctx context.Context, question string) (string, error) {
	f.gotQ = question
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.answer, f.err
}

type fakeBooker struct {
	message    string
	err        error
	calls      int
	gotNumber  string
	gotDetails map[string]any
}

func (f *fakeBooker) Book(ctx context.Context, callerNumber string, details map[string]any) (string, error) {
	f.calls++
	f.gotNumber = callerNumber
	f.gotDetails = details
	return f.message, f.err
}

func newDispatcher(a Answerer, b Booker) *Dispatcher {
	return New(a, b, 5*time.Second, nil)
}

func TestDispatchQuestionAndAnswer(t *testing.T) {
	answerer := &fakeAnswerer{answer: "AI employees answer phones around the clock"}
	d := newDispatcher(answerer, &fakeBooker{})

	res, err := d.Dispatch(context.Background(), Invocation{
		Name:      "question_and_answer",
		Arguments: json.RawMessage(`{"question":"What do AI employees do?"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, "What do AI employees do?", answerer.gotQ)
	assert.Equal(t, "AI employees answer phones around the clock", res.Output)
	assert.Equal(t,
		`Respond to the user's question "What do AI employees do?" based on this information: AI employees answer phones around the clock. Be concise and friendly.`,
		res.Instruction)
}

func TestDispatchQuestionAndAnswerRetrievalFailure(t *testing.T) {
	d := newDispatcher(&fakeAnswerer{err: errors.New("upstream down")}, &fakeBooker{})

	_, err := d.Dispatch(context.Background(), Invocation{
		Name:      "question_and_answer",
		Arguments: json.RawMessage(`{"question":"anything"}`),
	})
	require.Error(t, err)
}

func TestDispatchScheduleMeeting(t *testing.T) {
	booker := &fakeBooker{message: "Booked for Friday."}
	d := newDispatcher(&fakeAnswerer{}, booker)

	res, err := d.Dispatch(context.Background(), Invocation{
		Name:         "schedule_meeting",
		CallerNumber: "+15550001111",
		Arguments: json.RawMessage(`{
			"name":"Alex","email":"alex@example.com","purpose":"demo",
			"datetime":"2026-09-01T15:00:00Z","location":"LOCATION2"
		}`),
	})
	require.NoError(t, err)

	assert.Equal(t, "Booked for Friday.", res.Output)
	assert.Equal(t, "Booked for Friday.", res.Instruction)
	assert.Equal(t, "+15550001111", booker.gotNumber)
	assert.Equal(t, "CALENDAR_EMAIL2", booker.gotDetails["calendar_id"])
	assert.Equal(t, "LOCATION2", booker.gotDetails["location"])
	assert.Equal(t, "alex@example.com", booker.gotDetails["email"])
}

func TestDispatchScheduleMeetingInvalidLocationSkipsWebhook(t *testing.T) {
	booker := &fakeBooker{}
	d := newDispatcher(&fakeAnswerer{}, booker)

	_, err := d.Dispatch(context.Background(), Invocation{
		Name:      "schedule_meeting",
		Arguments: json.RawMessage(`{"name":"Alex","email":"a@b.c","purpose":"x","datetime":"now","location":"NOWHERE"}`),
	})

	var locErr *InvalidLocationError
	require.ErrorAs(t, err, &locErr)
	assert.Equal(t, "NOWHERE", locErr.Location)
	assert.Zero(t, booker.calls)
}

func TestDispatchScheduleMeetingWebhookFailure(t *testing.T) {
	d := newDispatcher(&fakeAnswerer{}, &fakeBooker{err: errors.New("503")})

	_, err := d.Dispatch(context.Background(), Invocation{
		Name:      "schedule_meeting",
		Arguments: json.RawMessage(`{"location":"LOCATION1"}`),
	})
	require.Error(t, err)
}

func TestDispatchUnknownTool(t *testing.T) {
	d := newDispatcher(&fakeAnswerer{}, &fakeBooker{})

	_, err := d.Dispatch(context.Background(), Invocation{
		Name:      "transfer_call",
		Arguments: json.RawMessage(`{}`),
	})
	require.ErrorIs(t, err, ErrUnknownTool)
}

func TestDispatchTimeout(t *testing.T) {
	slow := answererFunc(func(ctx context.Context, question string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	d := New(slow, &fakeBooker{}, 10*time.Millisecond, nil)

	_, err := d.Dispatch(context.Background(), Invocation{
		Name:      "question_and_answer",
		Arguments: json.RawMessage(`{"question":"slow"}`),
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type answererFunc func(ctx context.Context, question string) (string, error)

func (f answererFunc) Answer(ctx context.Context, question string) (string, error) {
	return f(ctx, question)
}

func TestFallbackResultIsNonEmpty(t *testing.T) {
	res := Fallback()
	assert.Equal(t, FallbackInstruction, res.Output)
	assert.Equal(t, FallbackInstruction, res.Instruction)
}
