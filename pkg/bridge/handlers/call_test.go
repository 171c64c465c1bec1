package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenix-ai/callbridge/pkg/bridge/config"
	"github.com/agenix-ai/callbridge/pkg/bridge/lifecycle"
	"github.com/agenix-ai/callbridge/pkg/bridge/session"
)

type fixedGreeting struct {
	text string
	got  string
}

func (f *fixedGreeting) Greeting(ctx context.Context, callerNumber string) string {
	f.got = callerNumber
	return f.text
}

func callRequest(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/incoming-call", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestIncomingCallRespondsWithConnectTwiML(t *testing.T) {
	registry := session.NewRegistry()
	greetings := &fixedGreeting{text: "Hi Alex, welcome back!"}
	h := IncomingCallHandler{
		Config:    config.Config{PublicURL: "https://bridge.example.com"},
		Registry:  registry,
		Greetings: greetings,
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, callRequest(url.Values{
		"CallSid": {"CA123"},
		"From":    {"+15551234567"},
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/xml", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `<Stream url="wss://bridge.example.com/media-stream">`)
	assert.Contains(t, body, `<Parameter name="firstMessage" value="Hi Alex, welcome back!" />`)
	assert.Contains(t, body, `<Parameter name="callerNumber" value="+15551234567" />`)
	assert.Equal(t, "+15551234567", greetings.got)

	sess, ok := registry.Get("CA123")
	require.True(t, ok)
	assert.Equal(t, "+15551234567", sess.CallerNumber())
	assert.Equal(t, "Hi Alex, welcome back!", sess.Greeting())
	assert.Equal(t, "CA123", sess.Metadata()["CallSid"])
}

func TestIncomingCallDefaultsWhenGreetingSourceAbsent(t *testing.T) {
	h := IncomingCallHandler{
		Config:   config.Config{PublicURL: "https://bridge.example.com"},
		Registry: session.NewRegistry(),
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, callRequest(url.Values{"CallSid": {"CA124"}}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), config.DefaultGreeting)
	assert.Contains(t, rec.Body.String(), `value="Unknown"`)
}

func TestIncomingCallDuplicateCallSidConflicts(t *testing.T) {
	registry := session.NewRegistry()
	h := IncomingCallHandler{
		Config:    config.Config{PublicURL: "https://bridge.example.com"},
		Registry:  registry,
		Greetings: &fixedGreeting{text: "hi"},
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, callRequest(url.Values{"CallSid": {"CA200"}, "From": {"+1555"}}))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, callRequest(url.Values{"CallSid": {"CA200"}, "From": {"+1555"}}))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// The original session is untouched.
	sess, ok := registry.Get("CA200")
	require.True(t, ok)
	assert.Equal(t, "+1555", sess.CallerNumber())
}

func TestIncomingCallValidation(t *testing.T) {
	h := IncomingCallHandler{Registry: session.NewRegistry()}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/incoming-call", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, callRequest(url.Values{"From": {"+1555"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIncomingCallRejectedWhileDraining(t *testing.T) {
	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)
	h := IncomingCallHandler{Registry: session.NewRegistry(), Lifecycle: lc}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, callRequest(url.Values{"CallSid": {"CA300"}}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIncomingCallSessionReclaimedWhenStreamNeverConnects(t *testing.T) {
	registry := session.NewRegistry()
	h := IncomingCallHandler{
		Config:    config.Config{PublicURL: "https://bridge.example.com"},
		Registry:  registry,
		Greetings: &fixedGreeting{text: "hi"},
		SetupTTL:  20 * time.Millisecond,
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, callRequest(url.Values{"CallSid": {"CA500"}, "From": {"+1555"}}))
	require.Equal(t, http.StatusOK, rec.Code)

	_, ok := registry.Get("CA500")
	require.True(t, ok)

	// No media stream ever names CA500; the entry must not outlive the TTL
	// and stall registry draining.
	require.Eventually(t, func() bool {
		_, ok := registry.Get("CA500")
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.True(t, registry.Wait(ctx))
}

func TestIncomingCallEscapesGreetingInTwiML(t *testing.T) {
	h := IncomingCallHandler{
		Config:    config.Config{PublicURL: "https://bridge.example.com"},
		Registry:  session.NewRegistry(),
		Greetings: &fixedGreeting{text: `Hi "Alex" <& co>`},
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, callRequest(url.Values{"CallSid": {"CA400"}}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Hi &quot;Alex&quot; &lt;&amp; co&gt;")
}
