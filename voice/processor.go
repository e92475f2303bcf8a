package voice

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// FrameProcessor transforms a stream of inbound frames into a stream of
// outbound frames. Implementations must close out before returning, even on
// error, so that a downstream stage's range over its input terminates.
type FrameProcessor interface {
	Process(ctx context.Context, in <-chan Frame, out chan<- Frame) error
}

// FrameProcessorFunc adapts a plain function to FrameProcessor.
type FrameProcessorFunc func(ctx context.Context, in <-chan Frame, out chan<- Frame) error

func (f FrameProcessorFunc) Process(ctx context.Context, in <-chan Frame, out chan<- Frame) error {
	return f(ctx, in, out)
}

// chainBufferSize bounds the channels Chain allocates between stages.
const chainBufferSize = 16

// Chain composes processors into a single FrameProcessor: stage i's output
// feeds stage i+1's input. Each stage runs in its own goroutine, so a slow
// downstream stage never blocks an upstream one beyond the channel buffer.
// Chain() with no processors is a pass-through. The first non-nil error
// returned by any stage is Chain's result; ctx cancellation propagates to
// every stage.
func Chain(procs ...FrameProcessor) FrameProcessor {
	if len(procs) == 0 {
		return FrameProcessorFunc(func(_ context.Context, in <-chan Frame, out chan<- Frame) error {
			defer close(out)
			for f := range in {
				out <- f
			}
			return nil
		})
	}

	return FrameProcessorFunc(func(ctx context.Context, in <-chan Frame, out chan<- Frame) error {
		g, gctx := errgroup.WithContext(ctx)

		stageIn := in
		for i, proc := range procs {
			proc := proc
			stageIn := stageIn

			var stageOut chan<- Frame
			var ownedOut chan Frame
			if i == len(procs)-1 {
				stageOut = out
			} else {
				ownedOut = make(chan Frame, chainBufferSize)
				stageOut = ownedOut
			}

			g.Go(func() error {
				return proc.Process(gctx, stageIn, stageOut)
			})

			if ownedOut != nil {
				stageIn = ownedOut
			}
		}

		return g.Wait()
	})
}

// Hooks lets a caller observe pipeline lifecycle events without modifying
// the frame stream itself.
type Hooks struct {
	// OnSpeechStart/OnSpeechEnd fire around a VAD-detected utterance.
	OnSpeechStart func(ctx context.Context)
	OnSpeechEnd   func(ctx context.Context)

	// OnTranscript/OnResponse fire with the STT transcript and the
	// assistant's reply text, respectively.
	OnTranscript func(ctx context.Context, text string)
	OnResponse   func(ctx context.Context, text string)

	// OnError fires when a stage (currently: VAD) fails on a single frame.
	// Returning nil suppresses the error and the pipeline continues;
	// returning non-nil aborts the pipeline with that error. A nil OnError
	// behaves as if it returned its input unchanged.
	OnError func(ctx context.Context, err error) error
}

// ComposeHooks fans lifecycle notifications out to every hook that defines
// one, in argument order. OnError is the exception: only the first Hooks
// with a non-nil OnError decides the outcome, matching the single-owner
// error-handling contract Pipeline relies on.
func ComposeHooks(hooks ...Hooks) Hooks {
	var composed Hooks

	composed.OnSpeechStart = func(ctx context.Context) {
		for _, h := range hooks {
			if h.OnSpeechStart != nil {
				h.OnSpeechStart(ctx)
			}
		}
	}
	composed.OnSpeechEnd = func(ctx context.Context) {
		for _, h := range hooks {
			if h.OnSpeechEnd != nil {
				h.OnSpeechEnd(ctx)
			}
		}
	}
	composed.OnTranscript = func(ctx context.Context, text string) {
		for _, h := range hooks {
			if h.OnTranscript != nil {
				h.OnTranscript(ctx, text)
			}
		}
	}
	composed.OnResponse = func(ctx context.Context, text string) {
		for _, h := range hooks {
			if h.OnResponse != nil {
				h.OnResponse(ctx, text)
			}
		}
	}
	composed.OnError = func(ctx context.Context, err error) error {
		for _, h := range hooks {
			if h.OnError != nil {
				return h.OnError(ctx, err)
			}
		}
		return err
	}

	return composed
}
