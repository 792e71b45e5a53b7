package provider

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/neoclaw-ai/chatbridge/internal/llm"
)

// MalformedPolicy decides what happens to a stream chunk that cannot be parsed.
type MalformedPolicy string

const (
	// MalformedSkip logs the chunk and keeps reading.
	MalformedSkip MalformedPolicy = "skip"
	// MalformedFail terminates the stream with a StreamError.
	MalformedFail MalformedPolicy = "fail"
)

// ParseMalformedPolicy parses a configured policy name. Empty means MalformedSkip.
func ParseMalformedPolicy(s string) (MalformedPolicy, error) {
	switch p := MalformedPolicy(s); p {
	case "":
		return MalformedSkip, nil
	case MalformedSkip, MalformedFail:
		return p, nil
	default:
		return "", fmt.Errorf("invalid malformed chunk policy %q (allowed: %q, %q)", s, MalformedSkip, MalformedFail)
	}
}

const (
	dataPrefix      = "data:"
	doneSentinel    = "[DONE]"
	successCode     = "200"
	maxStreamLine   = 1 << 20
	readBufferSize  = 64 * 1024
	unknownErrorMsg = "Unknown error"
)

type streamConfig struct {
	policy    MalformedPolicy
	logger    *slog.Logger
	metrics   *Metrics
	started   time.Time
	requestID string
}

// Stream reassembles a chat completion event stream into fragments.
// It is not safe for concurrent use.
type Stream struct {
	ctx    context.Context
	body   io.ReadCloser
	reader *bufio.Reader
	cfg    streamConfig

	pending   []llm.StreamFragment
	current   llm.StreamFragment
	done      bool
	abandoned bool
	err       error

	text         strings.Builder
	calls        llm.ToolCallAssembler
	finishReason string
	model        string

	closeOnce sync.Once
	closeErr  error
}

var _ llm.Stream = (*Stream)(nil)

func newStream(ctx context.Context, body io.ReadCloser, cfg streamConfig) *Stream {
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	if cfg.policy == "" {
		cfg.policy = MalformedSkip
	}
	return &Stream{
		ctx:    ctx,
		body:   body,
		reader: bufio.NewReaderSize(body, readBufferSize),
		cfg:    cfg,
	}
}

// Next advances to the next fragment. It returns false once the stream
// reached [DONE], the end of the body, or an error; see Err.
func (s *Stream) Next() bool {
	if len(s.pending) > 0 {
		s.current, s.pending = s.pending[0], s.pending[1:]
		return true
	}
	if s.done {
		return false
	}

	for {
		if err := s.ctx.Err(); err != nil {
			s.finish(err)
			return false
		}
		raw, err := readLine(s.reader, maxStreamLine)
		if errors.Is(err, errLineTooLong) {
			if s.skipMalformed(err) {
				continue
			}
			return false
		}
		if err != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				err = ctxErr
			} else if errors.Is(err, io.EOF) {
				err = nil
			} else {
				err = &StreamError{Message: "read stream", Err: err}
			}
			s.finish(err)
			return false
		}

		line := strings.TrimSpace(string(raw))
		if line == "" || !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if data == doneSentinel {
			s.finish(nil)
			return false
		}

		fragments, err := s.parseChunk(data)
		if err != nil {
			var inBand *StreamError
			if errors.As(err, &inBand) {
				s.finish(err)
				return false
			}
			if s.skipMalformed(err) {
				continue
			}
			return false
		}
		if len(fragments) == 0 {
			continue
		}
		s.current, s.pending = fragments[0], fragments[1:]
		return true
	}
}

// skipMalformed counts a bad chunk and applies the malformed policy. It
// reports whether reading should continue.
func (s *Stream) skipMalformed(err error) bool {
	s.cfg.metrics.observeMalformedChunk()
	if s.cfg.policy == MalformedFail {
		s.finish(&StreamError{Message: "malformed chunk", Err: err})
		return false
	}
	s.cfg.logger.Warn("skipping malformed stream chunk", "err", err)
	return true
}

// Current returns the fragment produced by the last successful Next.
func (s *Stream) Current() llm.StreamFragment {
	return s.current
}

// Err returns the terminal error, or nil when the stream ended normally.
func (s *Stream) Err() error {
	return s.err
}

// Result returns the aggregated response once the stream has ended.
func (s *Stream) Result() (*llm.CreateResult, error) {
	if !s.done {
		return nil, errors.New("provider: stream has not finished")
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.abandoned {
		return nil, errors.New("provider: stream was closed before completion")
	}
	return &llm.CreateResult{
		Content:      s.text.String(),
		ToolCalls:    s.calls.Calls(),
		FinishReason: normalizeFinishReason(s.finishReason),
		Model:        s.model,
		Cached:       false,
	}, nil
}

// Close releases the response body. It is safe to call more than once and
// after the stream finished on its own.
func (s *Stream) Close() error {
	if !s.done {
		s.done = true
		s.abandoned = true
		s.pending = nil
		s.cfg.metrics.observeRequest(modeStream, outcomeAbandoned, s.cfg.started)
	}
	return s.closeBody()
}

func (s *Stream) closeBody() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

func (s *Stream) finish(err error) {
	s.done = true
	s.err = err
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
		s.cfg.logger.Warn("chat completion stream failed", "err", err)
	}
	s.cfg.metrics.observeRequest(modeStream, outcome, s.cfg.started)
	_ = s.closeBody()
}

// parseChunk decodes one data payload. A *StreamError result is an in-band
// server error; any other error marks the chunk as malformed.
func (s *Stream) parseChunk(data string) ([]llm.StreamFragment, error) {
	if !gjson.Valid(data) {
		return nil, errors.New("invalid JSON payload")
	}
	root := gjson.Parse(data)
	if !root.IsObject() {
		return nil, errors.New("payload is not an object")
	}

	if code := root.Get("code"); code.Exists() && code.String() != successCode {
		msg := root.Get("message").String()
		if msg == "" {
			msg = unknownErrorMsg
		}
		return nil, &StreamError{Code: code.String(), Message: msg}
	}

	body := root
	if inner := root.Get("data"); inner.IsObject() {
		body = inner
	}
	if model := body.Get("model").String(); model != "" {
		s.model = model
	}

	choices := body.Get("choices")
	if !choices.IsArray() {
		return nil, errors.New("chunk has no choices array")
	}
	choice := choices.Get("0")
	if !choice.Exists() {
		return nil, nil
	}
	if reason := choice.Get("finish_reason"); reason.Type == gjson.String && reason.String() != "" {
		s.finishReason = reason.String()
	}

	var obj gjson.Result
	if delta := choice.Get("delta"); delta.Exists() {
		obj = delta
	} else if message := choice.Get("message"); message.Exists() {
		obj = message
	} else {
		return nil, nil
	}
	if !obj.IsObject() {
		return nil, errors.New("choice delta is not an object")
	}

	var fragments []llm.StreamFragment
	if content := obj.Get("content"); content.Type == gjson.String && content.String() != "" {
		fragments = append(fragments, llm.TextFragment{Text: content.String()})
	}

	toolCalls := obj.Get("tool_calls")
	if toolCalls.Exists() && toolCalls.Type != gjson.Null {
		if !toolCalls.IsArray() {
			return nil, errors.New("tool_calls is not an array")
		}
		for _, tc := range toolCalls.Array() {
			index := -1
			if idx := tc.Get("index"); idx.Type == gjson.Number {
				index = int(idx.Int())
			}
			fragments = append(fragments, llm.ToolCallFragment{
				Index:     index,
				ID:        tc.Get("id").String(),
				Name:      tc.Get("function.name").String(),
				Arguments: tc.Get("function.arguments").String(),
			})
		}
	}

	for _, f := range fragments {
		switch f := f.(type) {
		case llm.TextFragment:
			s.text.WriteString(f.Text)
		case llm.ToolCallFragment:
			s.calls.Add(f)
		}
	}
	return fragments, nil
}

var errLineTooLong = errors.New("stream line exceeds size limit")

// readLine returns the next line including its terminator. A line longer than
// limit is consumed whole and reported as errLineTooLong so the caller can
// carry on with the following line. A final line without terminator is
// returned before io.EOF.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var (
		line    []byte
		tooLong bool
	)
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == nil, errors.Is(err, io.EOF) && (tooLong || len(line) > 0):
			if tooLong {
				return nil, errLineTooLong
			}
			return line, nil
		default:
			return nil, err
		}
	}
}
