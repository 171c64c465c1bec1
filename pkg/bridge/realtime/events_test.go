package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionUpdate(t *testing.T) {
	evt := NewSessionUpdate(SessionConfig{
		Voice:        "shimmer",
		Instructions: "be helpful",
		Temperature:  0.8,
	})

	assert.Equal(t, "session.update", evt.Type)
	assert.Equal(t, "server_vad", evt.Session.TurnDetection.Type)
	assert.Equal(t, "g711_ulaw", evt.Session.InputAudioFormat)
	assert.Equal(t, "g711_ulaw", evt.Session.OutputAudioFormat)
	assert.Equal(t, "shimmer", evt.Session.Voice)
	assert.Equal(t, "be helpful", evt.Session.Instructions)
	assert.Equal(t, []string{"text", "audio"}, evt.Session.Modalities)
	assert.InDelta(t, 0.8, evt.Session.Temperature, 1e-9)
	require.NotNil(t, evt.Session.Transcription)
	assert.Equal(t, "whisper-1", evt.Session.Transcription.Model)
	assert.Equal(t, "auto", evt.Session.ToolChoice)

	require.Len(t, evt.Session.Tools, 2)
	qa := evt.Session.Tools[0]
	assert.Equal(t, "function", qa.Type)
	assert.Equal(t, ToolQuestionAndAnswer, qa.Name)
	assert.Equal(t, []string{"question"}, qa.Parameters.Required)
	assert.Contains(t, qa.Parameters.Properties, "question")

	sched := evt.Session.Tools[1]
	assert.Equal(t, ToolScheduleMeeting, sched.Name)
	assert.ElementsMatch(t,
		[]string{"name", "email", "purpose", "datetime", "location"},
		sched.Parameters.Required)
	for _, p := range sched.Parameters.Required {
		assert.Contains(t, sched.Parameters.Properties, p)
	}
}

func TestOutboundEventShapes(t *testing.T) {
	cases := []struct {
		name string
		evt  any
		want string
	}{
		{
			name: "user text",
			evt:  NewUserText("hello"),
			want: `{"type":"conversation.item.create","item":{"type":"message","role":"user","content":[{"type":"input_text","text":"hello"}]}}`,
		},
		{
			name: "function output",
			evt:  NewFunctionOutput("call_1", `{"ok":true}`),
			want: `{"type":"conversation.item.create","item":{"type":"function_call_output","call_id":"call_1","output":"{\"ok\":true}"}}`,
		},
		{
			name: "audio append",
			evt:  NewAudioAppend("bXUtbGF3"),
			want: `{"type":"input_audio_buffer.append","audio":"bXUtbGF3"}`,
		},
		{
			name: "plain response",
			evt:  NewResponseCreate(),
			want: `{"type":"response.create"}`,
		},
		{
			name: "instructed response",
			evt:  NewInstructedResponse("answer briefly"),
			want: `{"type":"response.create","response":{"modalities":["text","audio"],"instructions":"answer briefly"}}`,
		},
		{
			name: "cancel",
			evt:  NewResponseCancel(),
			want: `{"type":"response.cancel"}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.evt)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(data))
		})
	}
}

func TestDecodeEventAudioDelta(t *testing.T) {
	evt, err := DecodeEvent([]byte(`{"type":"response.audio.delta","delta":"cGF5bG9hZA=="}`))
	require.NoError(t, err)
	assert.Equal(t, AudioDelta{Delta: "cGF5bG9hZA=="}, evt)
}

func TestDecodeEventAudioDeltaMissingDelta(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"type":"response.audio.delta"}`))
	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "malformed_event", derr.Code)
}

func TestDecodeEventFunctionCallDone(t *testing.T) {
	evt, err := DecodeEvent([]byte(`{"type":"response.function_call_arguments.done","name":"question_and_answer","call_id":"call_9","arguments":"{\"question\":\"pricing?\"}"}`))
	require.NoError(t, err)
	done, ok := evt.(FunctionCallDone)
	require.True(t, ok)
	assert.Equal(t, ToolQuestionAndAnswer, done.Name)
	assert.Equal(t, "call_9", done.CallID)
	assert.JSONEq(t, `{"question":"pricing?"}`, string(done.Arguments))
}

func TestDecodeEventFunctionCallEmptyArguments(t *testing.T) {
	evt, err := DecodeEvent([]byte(`{"type":"response.function_call_arguments.done","name":"schedule_meeting","call_id":"c"}`))
	require.NoError(t, err)
	done := evt.(FunctionCallDone)
	assert.JSONEq(t, `{}`, string(done.Arguments))
}

func TestDecodeEventFunctionCallMissingName(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"type":"response.function_call_arguments.done","call_id":"c"}`))
	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
}

func TestDecodeEventSpeechStarted(t *testing.T) {
	evt, err := DecodeEvent([]byte(`{"type":"input_audio_buffer.speech_started"}`))
	require.NoError(t, err)
	assert.Equal(t, SpeechStarted{}, evt)
}

func TestDecodeEventResponseDone(t *testing.T) {
	raw := `{"type":"response.done","response":{"output":[{"content":[{"transcript":"Sure, I can help."},{"transcript":"second"}]},{"content":[{"transcript":"other output"}]}]}}`
	evt, err := DecodeEvent([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, ResponseDone{Transcript: "Sure, I can help."}, evt)
}

func TestDecodeEventResponseDoneEmpty(t *testing.T) {
	for _, raw := range []string{
		`{"type":"response.done"}`,
		`{"type":"response.done","response":{"output":[]}}`,
		`{"type":"response.done","response":{"output":[{"content":[]}]}}`,
	} {
		evt, err := DecodeEvent([]byte(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, ResponseDone{}, evt, raw)
	}
}

func TestDecodeEventTranscriptionCompleted(t *testing.T) {
	evt, err := DecodeEvent([]byte(`{"type":"conversation.item.input_audio_transcription.completed","transcript":"  hello there \n"}`))
	require.NoError(t, err)
	assert.Equal(t, TranscriptionCompleted{Transcript: "hello there"}, evt)
}

func TestDecodeEventError(t *testing.T) {
	evt, err := DecodeEvent([]byte(`{"type":"error","error":{"code":"rate_limited","message":"slow down"}}`))
	require.NoError(t, err)
	assert.Equal(t, ErrorEvent{Code: "rate_limited", Message: "slow down"}, evt)
}

func TestDecodeEventDiagnosticAndUnknown(t *testing.T) {
	evt, err := DecodeEvent([]byte(`{"type":"session.created"}`))
	require.NoError(t, err)
	assert.Equal(t, Diagnostic{Kind: "session.created"}, evt)

	evt, err = DecodeEvent([]byte(`{"type":"response.output_item.added"}`))
	require.NoError(t, err)
	assert.Equal(t, UnknownEvent{Kind: "response.output_item.added"}, evt)
}

func TestDecodeEventMalformed(t *testing.T) {
	for _, raw := range []string{`not json`, `{}`, `{"type":"  "}`} {
		_, err := DecodeEvent([]byte(raw))
		var derr *DecodeError
		require.ErrorAs(t, err, &derr, raw)
	}
}
