package translator

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/poeproxy/poe-openai-proxy/internal/poe"
	"github.com/poeproxy/poe-openai-proxy/internal/tooling"
)

// ThinkingState tracks whether the "Thinking..." phase of a reasoning bot has
// been shown to the client.
type ThinkingState int

const (
	ThinkingNotStarted ThinkingState = iota
	ThinkingActive
	ThinkingFinished
)

const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
)

// StreamState converts one response's events into chunks. It is not safe for
// concurrent use.
type StreamState struct {
	opts         Options
	thinking     ThinkingState
	finishReason string
	text         strings.Builder
	buffer       string
	emitted      int
	extractor    *tooling.Extractor
	done         bool
}

// NewStreamState returns the initial state for a response.
func NewStreamState(opts Options) *StreamState {
	return &StreamState{
		opts:         opts,
		finishReason: FinishStop,
		extractor:    tooling.NewExtractor(),
	}
}

// Thinking reports the thinking sub-state.
func (s *StreamState) Thinking() ThinkingState { return s.thinking }

// FinishReason reports the finish reason accumulated so far.
func (s *StreamState) FinishReason() string { return s.finishReason }

// Text returns everything the bot produced so far, markers included.
func (s *StreamState) Text() string { return s.text.String() }

// Step translates one event. stop is true once a terminal chunk was produced;
// no further events may be passed after that.
func (s *StreamState) Step(ev poe.Event) (chunks []Chunk, stop bool) {
	if s.done {
		return nil, true
	}
	out := &chunkWriter{opts: s.opts}

	switch ev.Kind {
	case poe.EventError:
		s.done = true
		return []Chunk{{Payload: ErrorChunk(ev.Err), Err: ev.Err}, {Done: true}}, true
	case poe.EventMeta:
		return nil, false
	case poe.EventAttachment:
		text := fmt.Sprintf("\n![Image](%s)\n", ev.Attachment.URL)
		s.text.WriteString(text)
		out.content(text)
	case poe.EventToolCalls:
		if s.opts.Tools && s.opts.Native {
			s.emitCalls(out, s.extractor.Native(ev.Data))
		}
	case poe.EventText, poe.EventReplace:
		s.stepText(out, ev.Text)
	}
	return s.settle(out)
}

func (s *StreamState) stepText(out *chunkWriter, fragment string) {
	if fragment == "" {
		return
	}
	s.text.WriteString(fragment)

	if strings.Contains(fragment, ThinkingMarker) && !strings.HasPrefix(s.text.String(), ThinkingStarted) {
		if s.thinking == ThinkingNotStarted {
			s.thinking = ThinkingActive
			out.content(ThinkingStarted)
		}
		return
	}
	if s.thinking == ThinkingActive {
		s.thinking = ThinkingFinished
		out.content(thinkingSeparator)
	}

	if !s.opts.Tools || s.opts.Native {
		out.content(fragment)
		return
	}
	visible, calls, buffer := s.extractor.Feed(fragment, s.buffer)
	s.buffer = buffer
	s.emitCalls(out, calls)
	if visible != "" {
		out.content(visible)
	}
}

func (s *StreamState) emitCalls(out *chunkWriter, calls []tooling.ToolCall) {
	if len(calls) == 0 {
		return
	}
	s.finishReason = FinishToolCalls
	for _, call := range calls {
		call.Index = s.emitted
		s.emitted++
		out.toolCall(call)
	}
}

// Finish produces the chunks that close a stream that ended normally: calls
// whose closing tag arrived with the last fragment, the finish_reason chunk and
// the terminal sentinel.
func (s *StreamState) Finish() []Chunk {
	if s.done {
		return nil
	}
	out := &chunkWriter{opts: s.opts}
	if s.opts.Tools && !s.opts.Native && s.buffer != "" {
		_, calls := s.extractor.Parse(s.text.String())
		if len(calls) > s.emitted {
			s.emitCalls(out, calls[s.emitted:])
		} else if !strings.Contains(s.buffer, "<tool_call>") {
			out.content(s.buffer)
		}
		s.buffer = ""
	}
	out.finish(s.finishReason)
	chunks, _ := s.settle(out)
	if !s.done {
		s.done = true
		chunks = append(chunks, Chunk{Done: true})
	}
	return chunks
}

// settle turns a formatting failure into an error chunk and the sentinel,
// keeping the chunks produced before it.
func (s *StreamState) settle(out *chunkWriter) ([]Chunk, bool) {
	if out.err == nil {
		return out.chunks, false
	}
	s.done = true
	failure := &poe.StatusError{Code: http.StatusInternalServerError, Message: fmt.Sprintf("failed to format chunk: %v", out.err)}
	return append(out.chunks, Chunk{Payload: ErrorChunk(failure), Err: failure}, Chunk{Done: true}), true
}

// Backend streams a bot's partial responses. *poe.Client satisfies it.
type Backend interface {
	Stream(ctx context.Context, req poe.QueryRequest) <-chan poe.Event
}

// Stream translates events until the channel closes, an error event arrives
// or ctx is cancelled. Cancellation stops output without a sentinel.
func Stream(ctx context.Context, events <-chan poe.Event, opts Options) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		state := NewStreamState(opts)
		send := func(chunks []Chunk) bool {
			for _, c := range chunks {
				select {
				case <-ctx.Done():
					return false
				case out <- c:
				}
			}
			return true
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					if ctx.Err() == nil {
						send(state.Finish())
					}
					return
				}
				chunks, stop := state.Step(ev)
				if !send(chunks) || stop {
					return
				}
			}
		}
	}()
	return out
}

type chunkWriter struct {
	opts   Options
	chunks []Chunk
	err    error
}

func (w *chunkWriter) add(payload []byte, err error) {
	if w.err != nil {
		return
	}
	if err != nil {
		w.err = err
		return
	}
	w.chunks = append(w.chunks, Chunk{Payload: payload})
}

func (w *chunkWriter) content(text string)            { w.add(w.opts.contentChunk(text)) }
func (w *chunkWriter) toolCall(call tooling.ToolCall) { w.add(w.opts.toolCallChunk(call)) }
func (w *chunkWriter) finish(reason string)           { w.add(w.opts.finishChunk(reason)) }
