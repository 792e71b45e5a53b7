package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/neoclaw-ai/chatbridge/internal/llm"
)

type streamHarness struct {
	client *Client
	body   *trackingBody
	req    map[string]any
	accept string
}

func newStreamHarness(t *testing.T, events string, mutate func(*Config), opts ...Option) *streamHarness {
	t.Helper()
	h := &streamHarness{body: &trackingBody{Reader: strings.NewReader(events)}}
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		h.accept = r.Header.Get("Accept")
		if err := json.NewDecoder(r.Body).Decode(&h.req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       h.body,
			Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
			Request:    r,
		}, nil
	})}
	h.client = newTestClient(t, "http://gateway.test", mutate, append(opts, WithHTTPClient(hc))...)
	return h
}

func sse(lines ...string) string {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n\n")
	}
	return b.String()
}

func textChunk(s string) string {
	return `{"choices":[{"delta":{"content":` + jsonString(s) + `}}]}`
}

func drainText(t *testing.T, s llm.Stream) []string {
	t.Helper()
	var out []string
	for s.Next() {
		switch f := s.Current().(type) {
		case llm.TextFragment:
			out = append(out, f.Text)
		case llm.ToolCallFragment:
			out = append(out, "tool:"+f.Name+f.Arguments)
		default:
			t.Fatalf("unexpected fragment %T", f)
		}
	}
	return out
}

func TestCreateStream_TextFragments(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newStreamHarness(t, sse(textChunk("a"), textChunk("b"), "[DONE]"), nil)
	s, err := h.client.CreateStream(context.Background(), []llm.Message{llm.UserMessage{Text: "hi"}})
	if err != nil {
		t.Fatalf("create stream: %v", err)
	}
	defer s.Close()

	got := drainText(t, s)
	if strings.Join(got, "|") != "a|b" {
		t.Fatalf("expected fragments a|b, got %v", got)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	res, err := s.Result()
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.Content != "ab" || res.FinishReason != llm.FinishStop {
		t.Fatalf("unexpected result: %+v", res)
	}
	if h.req["stream"] != true {
		t.Fatalf("expected stream=true in request, got %#v", h.req["stream"])
	}
	if h.accept != "text/event-stream" {
		t.Fatalf("unexpected accept header: %q", h.accept)
	}
	if h.body.closes.Load() != 1 {
		t.Fatalf("expected body closed once after [DONE], got %d", h.body.closes.Load())
	}
	if h.client.TotalUsage().CompletionTokens != 0 {
		t.Fatalf("expected streaming to leave usage untouched")
	}
}

func TestCreateStream_AcceptsPrefixWithoutSpaceAndWrappedData(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	events := "data:" + textChunk("x") + "\n" +
		": keep-alive comment\n" +
		`data: {"code":"200","data":{"model":"glm-4","choices":[{"delta":{"content":"y"},"finish_reason":"length"}]}}` + "\n" +
		"data: [DONE]\n"
	h := newStreamHarness(t, events, nil)
	s, err := h.client.CreateStream(context.Background(), []llm.Message{llm.UserMessage{Text: "hi"}})
	if err != nil {
		t.Fatalf("create stream: %v", err)
	}
	defer s.Close()

	if got := drainText(t, s); strings.Join(got, "") != "xy" {
		t.Fatalf("expected xy, got %v", got)
	}
	res, err := s.Result()
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.Model != "glm-4" || res.FinishReason != llm.FinishLength {
		t.Fatalf("unexpected result metadata: %+v", res)
	}
}

func TestCreateStream_SkipsMalformedChunk(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m, err := NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	h := newStreamHarness(t, sse(textChunk("a"), `{"choices":[{"delta":`, textChunk("b"), "[DONE]"), nil, WithMetrics(m))
	s, err := h.client.CreateStream(context.Background(), []llm.Message{llm.UserMessage{Text: "hi"}})
	if err != nil {
		t.Fatalf("create stream: %v", err)
	}
	defer s.Close()

	if got := drainText(t, s); strings.Join(got, "|") != "a|b" {
		t.Fatalf("expected malformed chunk skipped, got %v", got)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(m.malformedChunks); got != 1 {
		t.Fatalf("expected one malformed chunk recorded, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues(modeStream, outcomeOK)); got != 1 {
		t.Fatalf("expected one ok stream, got %v", got)
	}
}

func TestCreateStream_SkipsOversizedChunk(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m, err := NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	huge := textChunk(strings.Repeat("x", maxStreamLine+10))
	h := newStreamHarness(t, sse(textChunk("a"), huge, textChunk("b"), "[DONE]"), nil, WithMetrics(m))
	s, err := h.client.CreateStream(context.Background(), []llm.Message{llm.UserMessage{Text: "hi"}})
	if err != nil {
		t.Fatalf("create stream: %v", err)
	}
	defer s.Close()

	if got := drainText(t, s); strings.Join(got, "|") != "a|b" {
		t.Fatalf("expected oversized chunk skipped, got %v", got)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(m.malformedChunks); got != 1 {
		t.Fatalf("expected one malformed chunk recorded, got %v", got)
	}
}

func TestCreateStream_OversizedChunkFails(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	huge := textChunk(strings.Repeat("x", maxStreamLine+10))
	h := newStreamHarness(t, sse(textChunk("a"), huge, textChunk("b"), "[DONE]"), func(cfg *Config) {
		cfg.Malformed = MalformedFail
	})
	s, err := h.client.CreateStream(context.Background(), []llm.Message{llm.UserMessage{Text: "hi"}})
	if err != nil {
		t.Fatalf("create stream: %v", err)
	}
	defer s.Close()

	if got := drainText(t, s); strings.Join(got, "|") != "a" {
		t.Fatalf("expected only first fragment, got %v", got)
	}
	var sErr *StreamError
	if !errors.As(s.Err(), &sErr) || !errors.Is(s.Err(), errLineTooLong) {
		t.Fatalf("expected line-too-long stream error, got %v", s.Err())
	}
}

func TestReadLine(t *testing.T) {
	r := bufio.NewReaderSize(strings.NewReader("short\n"+strings.Repeat("y", 40)+"\nlast"), 16)

	line, err := readLine(r, 32)
	if err != nil || string(line) != "short\n" {
		t.Fatalf("expected first line, got %q, %v", line, err)
	}
	if _, err := readLine(r, 32); !errors.Is(err, errLineTooLong) {
		t.Fatalf("expected errLineTooLong, got %v", err)
	}
	line, err = readLine(r, 32)
	if err != nil || string(line) != "last" {
		t.Fatalf("expected unterminated last line, got %q, %v", line, err)
	}
	if _, err := readLine(r, 32); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestCreateStream_MalformedChunkFails(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newStreamHarness(t, sse(textChunk("a"), `not json`, textChunk("b"), "[DONE]"), func(cfg *Config) {
		cfg.Malformed = MalformedFail
	})
	s, err := h.client.CreateStream(context.Background(), []llm.Message{llm.UserMessage{Text: "hi"}})
	if err != nil {
		t.Fatalf("create stream: %v", err)
	}
	defer s.Close()

	if got := drainText(t, s); strings.Join(got, "|") != "a" {
		t.Fatalf("expected only first fragment, got %v", got)
	}
	var sErr *StreamError
	if !errors.As(s.Err(), &sErr) {
		t.Fatalf("expected stream error, got %v", s.Err())
	}
	if _, err := s.Result(); err == nil {
		t.Fatalf("expected result error after failure")
	}
	if h.body.closes.Load() != 1 {
		t.Fatalf("expected body closed once, got %d", h.body.closes.Load())
	}
}

func TestCreateStream_InBandError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newStreamHarness(t, sse(textChunk("a"), `{"code":"1301","message":"content blocked"}`, textChunk("b")), nil)
	s, err := h.client.CreateStream(context.Background(), []llm.Message{llm.UserMessage{Text: "hi"}})
	if err != nil {
		t.Fatalf("create stream: %v", err)
	}
	defer s.Close()

	if got := drainText(t, s); strings.Join(got, "|") != "a" {
		t.Fatalf("expected stream to stop at error, got %v", got)
	}
	var sErr *StreamError
	if !errors.As(s.Err(), &sErr) {
		t.Fatalf("expected stream error, got %v", s.Err())
	}
	if sErr.Code != "1301" || sErr.Message != "content blocked" {
		t.Fatalf("unexpected stream error: %+v", sErr)
	}
}

func TestCreateStream_InBandErrorWithoutMessage(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newStreamHarness(t, sse(`{"code":500}`), nil)
	s, err := h.client.CreateStream(context.Background(), []llm.Message{llm.UserMessage{Text: "hi"}})
	if err != nil {
		t.Fatalf("create stream: %v", err)
	}
	defer s.Close()

	drainText(t, s)
	var sErr *StreamError
	if !errors.As(s.Err(), &sErr) || sErr.Code != "500" || sErr.Message != unknownErrorMsg {
		t.Fatalf("unexpected stream error: %v", s.Err())
	}
}

func TestCreateStream_AssemblesToolCalls(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	events := sse(
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"search","arguments":""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"q\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","function":{"name":"time","arguments":"{}"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]},"finish_reason":"tool_calls"}]}`,
		"[DONE]",
	)
	h := newStreamHarness(t, events, nil)
	s, err := h.client.CreateStream(context.Background(), []llm.Message{llm.UserMessage{Text: "hi"}},
		llm.WithTools(llm.ToolDeclaration{Name: "search"}, llm.ToolDeclaration{Name: "time"}))
	if err != nil {
		t.Fatalf("create stream: %v", err)
	}
	defer s.Close()

	fragments := 0
	for s.Next() {
		f, ok := s.Current().(llm.ToolCallFragment)
		if !ok {
			t.Fatalf("expected tool call fragment, got %T", s.Current())
		}
		if f.Index < 0 {
			t.Fatalf("expected index to be carried, got %d", f.Index)
		}
		fragments++
	}
	if fragments != 4 {
		t.Fatalf("expected 4 fragments, got %d", fragments)
	}

	res, err := s.Result()
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.FinishReason != llm.FinishFunctionCalls {
		t.Fatalf("unexpected finish reason %q", res.FinishReason)
	}
	want := []llm.ToolCall{
		{ID: "call_a", Name: "search", Arguments: `{"q":"go"}`},
		{ID: "call_b", Name: "time", Arguments: "{}"},
	}
	if len(res.ToolCalls) != len(want) {
		t.Fatalf("expected %d calls, got %+v", len(want), res.ToolCalls)
	}
	for i := range want {
		if res.ToolCalls[i] != want[i] {
			t.Fatalf("call %d: expected %+v, got %+v", i, want[i], res.ToolCalls[i])
		}
	}
}

func TestCreateStream_Cancellation(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newStreamHarness(t, sse(textChunk("a"), textChunk("b"), "[DONE]"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := h.client.CreateStream(ctx, []llm.Message{llm.UserMessage{Text: "hi"}})
	if err != nil {
		t.Fatalf("create stream: %v", err)
	}
	defer s.Close()

	if !s.Next() {
		t.Fatalf("expected first fragment, err=%v", s.Err())
	}
	cancel()
	if s.Next() {
		t.Fatalf("expected no fragments after cancellation, got %#v", s.Current())
	}
	if !errors.Is(s.Err(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", s.Err())
	}
	if h.body.closes.Load() != 1 {
		t.Fatalf("expected body released on cancellation, got %d closes", h.body.closes.Load())
	}
}

func TestCreateStream_CloseBeforeEnd(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m, err := NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	h := newStreamHarness(t, sse(textChunk("a"), textChunk("b"), "[DONE]"), nil, WithMetrics(m))
	s, err := h.client.CreateStream(context.Background(), []llm.Message{llm.UserMessage{Text: "hi"}})
	if err != nil {
		t.Fatalf("create stream: %v", err)
	}

	if !s.Next() {
		t.Fatalf("expected first fragment")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if s.Next() {
		t.Fatalf("expected no fragments after close")
	}
	if _, err := s.Result(); err == nil {
		t.Fatalf("expected result error for abandoned stream")
	}
	if h.body.closes.Load() != 1 {
		t.Fatalf("expected body closed once, got %d", h.body.closes.Load())
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues(modeStream, outcomeAbandoned)); got != 1 {
		t.Fatalf("expected abandoned stream recorded, got %v", got)
	}
}

func TestCreateStream_ResultBeforeEnd(t *testing.T) {
	h := newStreamHarness(t, sse(textChunk("a"), "[DONE]"), nil)
	s, err := h.client.CreateStream(context.Background(), []llm.Message{llm.UserMessage{Text: "hi"}})
	if err != nil {
		t.Fatalf("create stream: %v", err)
	}
	defer s.Close()

	if _, err := s.Result(); err == nil {
		t.Fatalf("expected error before stream end")
	}
}

func TestCreateStream_EndsWithoutDoneSentinel(t *testing.T) {
	h := newStreamHarness(t, sse(textChunk("a")), nil)
	s, err := h.client.CreateStream(context.Background(), []llm.Message{llm.UserMessage{Text: "hi"}})
	if err != nil {
		t.Fatalf("create stream: %v", err)
	}
	defer s.Close()

	if got := drainText(t, s); strings.Join(got, "") != "a" {
		t.Fatalf("unexpected fragments: %v", got)
	}
	if s.Err() != nil {
		t.Fatalf("expected clean end on EOF, got %v", s.Err())
	}
}

func TestCreateStream_Non200(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("bad gateway")}
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusBadGateway, Body: body, Header: make(http.Header), Request: r}, nil
	})}
	c := newTestClient(t, "http://gateway.test", nil, WithHTTPClient(hc))

	_, err := c.CreateStream(context.Background(), []llm.Message{llm.UserMessage{Text: "hi"}})
	var tErr *TransportError
	if !errors.As(err, &tErr) || tErr.StatusCode != http.StatusBadGateway || tErr.Body != "bad gateway" {
		t.Fatalf("expected 502 transport error, got %v", err)
	}
	if body.closes.Load() != 1 {
		t.Fatalf("expected body closed, got %d", body.closes.Load())
	}
}
