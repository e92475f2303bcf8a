package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
)

// recordingTransport is a minimal Transport fake that replays a fixed set of
// inbound frames and records every outbound frame.
type recordingTransport struct {
	frames []Frame
	sent   []Frame
}

func (m *recordingTransport) Recv(_ context.Context) (<-chan Frame, error) {
	ch := make(chan Frame, len(m.frames))
	for _, f := range m.frames {
		ch <- f
	}
	close(ch)
	return ch, nil
}

func (m *recordingTransport) Send(_ context.Context, frame Frame) error {
	m.sent = append(m.sent, frame)
	return nil
}

func (m *recordingTransport) AudioOut() io.Writer { return io.Discard }

func (m *recordingTransport) Close() error { return nil }

// recvFailTransport fails immediately on Recv.
type recvFailTransport struct{ err error }

func (t *recvFailTransport) Recv(_ context.Context) (<-chan Frame, error) { return nil, t.err }
func (t *recvFailTransport) Send(_ context.Context, _ Frame) error       { return nil }
func (t *recvFailTransport) AudioOut() io.Writer                         { return io.Discard }
func (t *recvFailTransport) Close() error                                { return nil }

// sendFailTransport succeeds on Recv but fails every Send.
type sendFailTransport struct {
	frames []Frame
	err    error
}

func (t *sendFailTransport) Recv(_ context.Context) (<-chan Frame, error) {
	ch := make(chan Frame, len(t.frames))
	for _, f := range t.frames {
		ch <- f
	}
	close(ch)
	return ch, nil
}
func (t *sendFailTransport) Send(_ context.Context, _ Frame) error { return t.err }
func (t *sendFailTransport) AudioOut() io.Writer                   { return io.Discard }
func (t *sendFailTransport) Close() error                          { return nil }

// blockingTransport never closes its Recv channel, so Run only returns via
// ctx cancellation.
type blockingTransport struct {
	recv chan Frame
	sent []Frame
}

func (t *blockingTransport) Recv(_ context.Context) (<-chan Frame, error) { return t.recv, nil }
func (t *blockingTransport) Send(_ context.Context, frame Frame) error {
	t.sent = append(t.sent, frame)
	return nil
}
func (t *blockingTransport) AudioOut() io.Writer { return io.Discard }
func (t *blockingTransport) Close() error        { return nil }

// alwaysErrVAD fails every DetectActivity call.
type alwaysErrVAD struct{ err error }

func (v *alwaysErrVAD) DetectActivity(_ context.Context, _ []byte) (ActivityResult, error) {
	return ActivityResult{}, v.err
}

var passThrough = FrameProcessorFunc(func(_ context.Context, in <-chan Frame, out chan<- Frame) error {
	defer close(out)
	for f := range in {
		out <- f
	}
	return nil
})

func TestNewPipelineDefaultBufferSize(t *testing.T) {
	p := NewPipeline()
	if p.config.ChannelBufferSize != 64 {
		t.Errorf("ChannelBufferSize = %d, want 64", p.config.ChannelBufferSize)
	}
}

func TestPipelineOptionsApply(t *testing.T) {
	transport := &recordingTransport{}
	vad := NewEnergyVAD(EnergyVADConfig{Threshold: 500})
	session := NewSession("test")

	p := NewPipeline(
		WithTransport(transport),
		WithVAD(vad),
		WithSTT(passThrough),
		WithLLM(passThrough),
		WithTTS(passThrough),
		WithSession(session),
		WithChannelBufferSize(128),
	)

	if p.config.Transport != transport {
		t.Error("Transport not applied")
	}
	if p.config.VAD == nil || p.config.STT == nil || p.config.LLM == nil || p.config.TTS == nil {
		t.Error("a processor option was not applied")
	}
	if p.config.Session != session {
		t.Error("Session not applied")
	}
	if p.config.ChannelBufferSize != 128 {
		t.Errorf("ChannelBufferSize = %d, want 128", p.config.ChannelBufferSize)
	}
}

func TestPipelineRunRequiresTransport(t *testing.T) {
	p := NewPipeline(WithSTT(passThrough))
	if err := p.Run(context.Background()); err == nil {
		t.Error("expected error when no transport is configured")
	}
}

func TestPipelineRunRequiresAProcessor(t *testing.T) {
	p := NewPipeline(WithTransport(&recordingTransport{}))
	if err := p.Run(context.Background()); err == nil {
		t.Error("expected error when no processor is configured")
	}
}

func TestPipelineRunPassThrough(t *testing.T) {
	transport := &recordingTransport{frames: []Frame{NewTextFrame("hello"), NewTextFrame("world")}}
	p := NewPipeline(WithTransport(transport), WithSTT(passThrough))

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(transport.sent) != 2 || transport.sent[0].Text() != "hello" || transport.sent[1].Text() != "world" {
		t.Errorf("sent = %+v, want [hello world]", transport.sent)
	}
}

func TestPipelineVADGatesSpeechAndFiresHooks(t *testing.T) {
	loud := sinePCM(480, 5000, 440, 16000)
	quiet := flatPCM(480, 10)
	transport := &recordingTransport{frames: []Frame{NewAudioFrame(loud, 16000), NewAudioFrame(quiet, 16000)}}

	var started, ended bool
	p := NewPipeline(
		WithTransport(transport),
		WithVAD(NewEnergyVAD(EnergyVADConfig{Threshold: 500})),
		WithSTT(passThrough),
		WithHooks(Hooks{
			OnSpeechStart: func(_ context.Context) { started = true },
			OnSpeechEnd:   func(_ context.Context) { ended = true },
		}),
	)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !started {
		t.Error("OnSpeechStart was not fired")
	}
	if !ended {
		t.Error("OnSpeechEnd was not fired")
	}
}

func TestPipelineVADFiltersSilence(t *testing.T) {
	transport := &recordingTransport{frames: []Frame{NewAudioFrame(flatPCM(480, 10), 16000)}}
	p := NewPipeline(
		WithTransport(transport),
		WithVAD(NewEnergyVAD(EnergyVADConfig{Threshold: 500})),
		WithSTT(passThrough),
	)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(transport.sent) != 0 {
		t.Errorf("sent %d frames, want 0 (silence should be filtered)", len(transport.sent))
	}
}

func TestPipelineVADPassesNonAudioFramesUnfiltered(t *testing.T) {
	transport := &recordingTransport{frames: []Frame{NewTextFrame("text-frame"), NewControlFrame(SignalStart)}}
	p := NewPipeline(
		WithTransport(transport),
		WithVAD(NewEnergyVAD(EnergyVADConfig{Threshold: 500})),
		WithSTT(passThrough),
	)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(transport.sent) != 2 {
		t.Fatalf("sent %d frames, want 2", len(transport.sent))
	}
	if transport.sent[0].Type != FrameText || transport.sent[1].Type != FrameControl {
		t.Errorf("sent types = [%v %v], want [text control]", transport.sent[0].Type, transport.sent[1].Type)
	}
}

func TestPipelineVADErrorSuppressedByHook(t *testing.T) {
	transport := &recordingTransport{frames: []Frame{
		NewAudioFrame(flatPCM(480, 100), 16000),
		NewTextFrame("after-error"),
	}}

	var hookCalled bool
	p := NewPipeline(
		WithTransport(transport),
		WithVAD(&alwaysErrVAD{err: fmt.Errorf("vad processing failed")}),
		WithSTT(passThrough),
		WithHooks(Hooks{OnError: func(_ context.Context, _ error) error {
			hookCalled = true
			return nil
		}}),
	)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !hookCalled {
		t.Error("OnError hook was not called")
	}
	if len(transport.sent) != 1 || transport.sent[0].Text() != "after-error" {
		t.Errorf("sent = %+v, want only the text frame", transport.sent)
	}
}

func TestPipelineVADErrorPropagatedByHook(t *testing.T) {
	hookErr := fmt.Errorf("fatal: vad failure")
	transport := &recordingTransport{frames: []Frame{NewAudioFrame(flatPCM(480, 100), 16000)}}

	p := NewPipeline(
		WithTransport(transport),
		WithVAD(&alwaysErrVAD{err: fmt.Errorf("vad failure")}),
		WithSTT(passThrough),
		WithHooks(Hooks{OnError: func(_ context.Context, _ error) error { return hookErr }}),
	)

	err := p.Run(context.Background())
	if !errors.Is(err, hookErr) {
		t.Errorf("Run() error = %v, want %v", err, hookErr)
	}
}

func TestPipelineVADErrorWithoutHookIsSkipped(t *testing.T) {
	transport := &recordingTransport{frames: []Frame{
		NewAudioFrame(flatPCM(480, 100), 16000),
		NewTextFrame("pass-through"),
	}}
	p := NewPipeline(
		WithTransport(transport),
		WithVAD(&alwaysErrVAD{err: fmt.Errorf("vad processing failed")}),
		WithSTT(passThrough),
	)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(transport.sent) != 1 {
		t.Errorf("sent %d frames, want 1", len(transport.sent))
	}
}

func TestPipelineRunTransportRecvError(t *testing.T) {
	recvErr := fmt.Errorf("connection refused")
	p := NewPipeline(WithTransport(&recvFailTransport{err: recvErr}), WithSTT(passThrough))

	err := p.Run(context.Background())
	if !errors.Is(err, recvErr) {
		t.Errorf("Run() error = %v, want wrapping %v", err, recvErr)
	}
}

func TestPipelineRunTransportSendError(t *testing.T) {
	sendErr := fmt.Errorf("write broken pipe")
	p := NewPipeline(
		WithTransport(&sendFailTransport{frames: []Frame{NewTextFrame("hello")}, err: sendErr}),
		WithSTT(passThrough),
	)

	if err := p.Run(context.Background()); !errors.Is(err, sendErr) {
		t.Errorf("Run() error = %v, want wrapping %v", err, sendErr)
	}
}

func TestPipelineRunContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	transport := &blockingTransport{recv: make(chan Frame)}
	p := NewPipeline(
		WithTransport(transport),
		WithVAD(NewEnergyVAD(EnergyVADConfig{Threshold: 500})),
		WithSTT(passThrough),
	)

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()

	if err := <-done; err == nil {
		t.Error("Run() should return an error when ctx is cancelled")
	}
}

func TestPipelineMultiStageCascade(t *testing.T) {
	transport := &recordingTransport{frames: []Frame{NewTextFrame("input")}}
	p := NewPipeline(
		WithTransport(transport),
		WithSTT(passThrough),
		WithLLM(passThrough),
		WithTTS(passThrough),
	)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(transport.sent) != 1 || transport.sent[0].Text() != "input" {
		t.Errorf("sent = %+v, want [input]", transport.sent)
	}
}

func TestPipelineEventsYieldsRunError(t *testing.T) {
	p := NewPipeline(WithSTT(passThrough))

	var gotErr error
	for _, err := range p.Events(context.Background()) {
		if err != nil {
			gotErr = err
			break
		}
	}
	if gotErr == nil {
		t.Error("Events() should yield an error when the pipeline fails")
	}
}

func TestPipelineEventsSilentOnSuccess(t *testing.T) {
	transport := &recordingTransport{frames: []Frame{NewTextFrame("hello")}}
	p := NewPipeline(WithTransport(transport), WithSTT(passThrough))

	count := 0
	for range p.Events(context.Background()) {
		count++
	}
	if count != 0 {
		t.Errorf("Events() yielded %d items, want 0 for a successful run", count)
	}
}
