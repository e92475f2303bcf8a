// Package voice defines the media-pipeline primitives shared by the
// transport, stt, and tts packages: frames, the session the worker binds to
// a room, and the processor chain a Session drives.
package voice

// FrameType identifies the kind of payload a Frame carries through the
// pipeline.
type FrameType string

const (
	FrameAudio   FrameType = "audio"
	FrameText    FrameType = "text"
	FrameControl FrameType = "control"
	FrameImage   FrameType = "image"
)

// Control signal values carried by FrameControl frames.
const (
	SignalStart          = "start"
	SignalStop           = "stop"
	SignalInterrupt      = "interrupt"
	SignalEndOfUtterance  = "end_of_utterance"

	// SignalAgentSelection carries a browser-requested agent switch
	// (spec.md §4.3's `{"type":"agent_selection",...}` data-channel message).
	SignalAgentSelection = "agent_selection"
	// SignalRoomCleanup carries a browser-requested graceful session end
	// (spec.md §4.3's `{"type":"room_cleanup",...}` data-channel message).
	SignalRoomCleanup = "room_cleanup"
)

// Frame is the unit exchanged between a transport and the STT/LLM/TTS
// pipeline stages.
type Frame struct {
	Type     FrameType
	Data     []byte
	Metadata map[string]any
}

// NewAudioFrame wraps raw PCM samples with their sample rate.
func NewAudioFrame(data []byte, sampleRate int) Frame {
	return Frame{
		Type:     FrameAudio,
		Data:     data,
		Metadata: map[string]any{"sample_rate": sampleRate},
	}
}

// NewTextFrame wraps a transcript or reply string.
func NewTextFrame(text string) Frame {
	return Frame{
		Type: FrameText,
		Data: []byte(text),
	}
}

// NewControlFrame wraps a pipeline control signal (start, stop, interrupt,
// end-of-utterance).
func NewControlFrame(signal string) Frame {
	return Frame{
		Type:     FrameControl,
		Metadata: map[string]any{"signal": signal},
	}
}

// NewAgentSelectionFrame wraps a browser-requested agent switch for the
// llmnode stage to arbitrate against the primary-agent lock.
func NewAgentSelectionFrame(agentID, agentName string) Frame {
	return Frame{
		Type: FrameControl,
		Metadata: map[string]any{
			"signal":     SignalAgentSelection,
			"agent_id":   agentID,
			"agent_name": agentName,
		},
	}
}

// NewRoomCleanupFrame wraps a browser-requested graceful session end.
func NewRoomCleanupFrame() Frame {
	return Frame{Type: FrameControl, Metadata: map[string]any{"signal": SignalRoomCleanup}}
}

// AgentID/AgentName return the fields carried by a SignalAgentSelection
// control frame, empty otherwise.
func (f Frame) AgentID() string {
	if f.Metadata == nil {
		return ""
	}
	v, _ := f.Metadata["agent_id"].(string)
	return v
}

func (f Frame) AgentName() string {
	if f.Metadata == nil {
		return ""
	}
	v, _ := f.Metadata["agent_name"].(string)
	return v
}

// NewTranscriptFrame wraps a user or assistant turn's text for the data
// channel, tagged with its role per spec.md §4.3's transcript payload.
func NewTranscriptFrame(role, text string) Frame {
	return Frame{
		Type:     FrameText,
		Data:     []byte(text),
		Metadata: map[string]any{"role": role},
	}
}

// Role returns the role tag carried by a transcript text frame ("user" or
// "assistant"), or "" if untagged.
func (f Frame) Role() string {
	if f.Metadata == nil {
		return ""
	}
	role, _ := f.Metadata["role"].(string)
	return role
}

// NewImageFrame wraps image bytes with their content type.
func NewImageFrame(data []byte, contentType string) Frame {
	return Frame{
		Type:     FrameImage,
		Data:     data,
		Metadata: map[string]any{"content_type": contentType},
	}
}

// Text returns the frame's payload as a string; empty for non-text frames.
func (f Frame) Text() string {
	if f.Type != FrameText {
		return ""
	}
	return string(f.Data)
}

// Signal returns the control signal carried by a FrameControl frame, or ""
// if f is not a control frame or carries no signal.
func (f Frame) Signal() string {
	if f.Type != FrameControl || f.Metadata == nil {
		return ""
	}
	s, _ := f.Metadata["signal"].(string)
	return s
}
