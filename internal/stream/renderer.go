// Package stream renders a generated response progressively by sending one
// placeholder message and editing it in place as content arrives.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"omnigate/internal/format"
	"omnigate/internal/lifecycle"
)

// Frame is one rendered version of the message.
type Frame struct {
	Text string
	// Final frames carry platform markup; streaming frames are plain text.
	Final bool
	// HTML marks frames built by Options.RenderThinking.
	HTML bool
}

// Editor is the platform send/edit primitive a Renderer drives.
type Editor interface {
	Send(ctx context.Context, f Frame) (string, error)
	Edit(ctx context.Context, id string, f Frame) error
}

// Clock provides time for throttling. Tests substitute a manual one.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) lifecycle.Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) lifecycle.Timer {
	return time.AfterFunc(d, f)
}

// Options tune a Renderer for one platform.
type Options struct {
	Throttle         time.Duration
	MaxStreamChars   int // display budget while streaming
	MaxMessageLength int // chunk limit for the final render
	Cursor           string
	Header           string // continuation marker for the tail window
	Dialect          format.Dialect
	Passthrough      bool // skip transcoding the final content

	// RenderThinking renders reasoning text for platforms with expandable
	// quotes. Nil makes the thinking phase a no-op.
	RenderThinking func(thinking string) string
	// ThinkingDelay hides reasoning that finishes quickly.
	ThinkingDelay time.Duration

	EditTimeout time.Duration
	Clock       Clock
	Logger      *slog.Logger
	// OnDone runs once when the renderer reaches its done phase.
	OnDone func()
}

const (
	DefaultThrottle       = 2500 * time.Millisecond
	DefaultMaxStreamChars = 3800
	DefaultHeader         = "⏳ ...\n"
)

type phase int

const (
	phaseIdle phase = iota
	phaseThinking
	phaseContent
	phaseDone
)

func (p phase) String() string {
	switch p {
	case phaseThinking:
		return "thinking"
	case phaseContent:
		return "content"
	case phaseDone:
		return "done"
	}
	return "idle"
}

// Renderer implements domain.Stream. Edits to the placeholder are strictly
// ordered: every Editor call runs under mu.
type Renderer struct {
	opts   Options
	ed     Editor
	clock  Clock
	logger *slog.Logger

	mu            sync.Mutex
	phase         phase
	messageID     string
	lastText      string
	lastEdit      time.Time
	editFailed    bool
	content       strings.Builder
	thinking      strings.Builder
	thinkingStart time.Time
	pending       *Frame
	timer         lifecycle.Timer
	gen           uint64
}

// New creates a renderer in the idle phase. Nothing is sent until the first
// delta arrives.
func New(ed Editor, opts Options) *Renderer {
	if opts.Throttle <= 0 {
		opts.Throttle = DefaultThrottle
	}
	if opts.MaxStreamChars <= 0 {
		opts.MaxStreamChars = DefaultMaxStreamChars
	}
	if opts.Header == "" {
		opts.Header = DefaultHeader
	}
	if opts.EditTimeout <= 0 {
		opts.EditTimeout = 15 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Renderer{opts: opts, ed: ed, clock: opts.Clock, logger: opts.Logger}
}

// MessageID returns the placeholder id, empty until the first send succeeds.
func (r *Renderer) MessageID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messageID
}

// Thinking appends reasoning text.
func (r *Renderer) Thinking(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == phaseDone || r.phase == phaseContent {
		return
	}
	if r.phase == phaseIdle {
		r.phase = phaseThinking
		r.thinkingStart = r.clock.Now()
	}
	r.thinking.WriteString(text)
	if r.opts.RenderThinking == nil {
		return
	}
	if r.clock.Now().Sub(r.thinkingStart) < r.opts.ThinkingDelay {
		return
	}
	r.throttledLocked(Frame{Text: r.opts.RenderThinking(r.thinking.String()), HTML: true})
}

// Append adds a content delta and schedules a throttled edit.
func (r *Renderer) Append(delta string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == phaseDone {
		return
	}
	r.phase = phaseContent
	r.content.WriteString(delta)
	r.throttledLocked(Frame{Text: r.display(r.content.String())})
}

// display builds the in-progress view: a tail window behind the header when
// the content exceeds the budget, then the cursor.
func (r *Renderer) display(content string) string {
	budget := r.opts.MaxStreamChars - len([]rune(r.opts.Header)) - len([]rune(r.opts.Cursor))
	if len([]rune(content)) > r.opts.MaxStreamChars && budget > 0 {
		return r.opts.Header + format.TailRunes(content, budget) + r.opts.Cursor
	}
	return content + r.opts.Cursor
}

func (r *Renderer) throttledLocked(f Frame) {
	if f.Text == r.lastText {
		return
	}
	if r.editFailed && r.messageID != "" {
		return
	}
	elapsed := r.clock.Now().Sub(r.lastEdit)
	if r.lastEdit.IsZero() || elapsed >= r.opts.Throttle {
		r.cancelPendingLocked()
		r.renderLocked(f)
		return
	}
	r.pending = &f
	if r.timer != nil {
		return
	}
	r.gen++
	gen := r.gen
	r.timer = r.clock.AfterFunc(r.opts.Throttle-elapsed, func() { r.flush(gen) })
}

func (r *Renderer) flush(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen || r.phase == phaseDone {
		return
	}
	r.timer = nil
	f := r.pending
	r.pending = nil
	if f == nil || f.Text == r.lastText {
		return
	}
	r.renderLocked(*f)
}

func (r *Renderer) renderLocked(f Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.EditTimeout)
	defer cancel()

	if r.messageID == "" {
		id, err := r.ed.Send(ctx, f)
		if err != nil {
			r.logger.Warn("stream placeholder send failed", "err", err)
			r.editFailed = true
			return
		}
		r.messageID = id
	} else if err := r.ed.Edit(ctx, r.messageID, f); err != nil {
		r.logger.Warn("stream edit failed, switching to new messages", "message", r.messageID, "err", err)
		r.editFailed = true
		return
	}
	r.lastText = f.Text
	r.lastEdit = r.clock.Now()
}

// Finish renders the final content: transcoded, chunked, with the first
// chunk replacing the placeholder when edits still work. Empty content
// leaves the last partial render in place.
func (r *Renderer) Finish(ctx context.Context, final string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == phaseDone {
		return nil
	}
	r.doneLocked()
	if final == "" {
		return nil
	}

	text := final
	if !r.opts.Passthrough {
		text = r.opts.Dialect.Transcode(text)
	}
	chunks := format.Chunk(text, r.opts.MaxMessageLength)

	var errs []error
	rest := chunks
	if r.messageID != "" && !r.editFailed {
		if err := r.ed.Edit(ctx, r.messageID, Frame{Text: chunks[0], Final: true}); err != nil {
			r.logger.Warn("final edit failed, sending as new messages", "message", r.messageID, "err", err)
			r.editFailed = true
		} else {
			r.lastText = chunks[0]
			rest = chunks[1:]
		}
	}
	for i, c := range rest {
		if _, err := r.ed.Send(ctx, Frame{Text: c, Final: true}); err != nil {
			r.logger.Error("stream chunk send failed", "chunk", i, "err", err)
			errs = append(errs, fmt.Errorf("send chunk %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Fail stops the stream after an upstream error, leaving the last render.
func (r *Renderer) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == phaseDone {
		return
	}
	r.logger.Warn("stream failed, leaving partial message", "message", r.messageID, "err", err)
	r.doneLocked()
}

// Abort stops the stream without further edits.
func (r *Renderer) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == phaseDone {
		return
	}
	r.logger.Debug("stream aborted", "message", r.messageID, "phase", r.phase)
	r.doneLocked()
}

func (r *Renderer) doneLocked() {
	r.phase = phaseDone
	r.cancelPendingLocked()
	if r.opts.OnDone != nil {
		r.opts.OnDone()
	}
}

func (r *Renderer) cancelPendingLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.gen++
	r.pending = nil
}
