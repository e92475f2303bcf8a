package llmnode

import (
	"context"
	"errors"
	"fmt"

	"github.com/lookatitude/letta-voice-gateway/agent"
	"github.com/lookatitude/letta-voice-gateway/voice"
)

// ErrRoomCleanupRequested is returned by Processor.Process when the browser
// sent a room_cleanup message, telling the pipeline to end the session
// gracefully rather than treating the return as a failure (spec.md §4.3:
// "disconnect from room; release room assignment; the instance remains
// available for re-acquisition").
var ErrRoomCleanupRequested = errors.New("llmnode: room cleanup requested")

// Processor adapts a Node into a voice.FrameProcessor bound to one
// agent.Instance: every inbound text frame (an STT transcript) publishes a
// role-tagged user transcript, is passed to Reply, and the validated reply
// is re-emitted as a debug-prefixed assistant transcript for the TTS stage
// (spec.md §4.3's transcript payload). agent_selection control frames are
// arbitrated against the instance's primary-agent lock; room_cleanup control
// frames end the pipeline. Other control frames pass through untouched so
// VAD speech-boundary signals still reach downstream stages; audio frames
// are dropped, since by this point in the pipeline STT has already consumed
// them.
type Processor struct {
	node *Node
	inst *agent.Instance
}

// NewProcessor creates a Processor.
func NewProcessor(node *Node, inst *agent.Instance) *Processor {
	return &Processor{node: node, inst: inst}
}

func (p *Processor) Process(ctx context.Context, in <-chan voice.Frame, out chan<- voice.Frame) error {
	defer close(out)
	for f := range in {
		switch f.Type {
		case voice.FrameText:
			p.inst.Touch()
			userText := f.Text()
			out <- voice.NewTranscriptFrame("user", userText)
			reply := p.node.Reply(ctx, p.inst, userText)
			out <- voice.NewTranscriptFrame("assistant", p.debugPrefix(userText)+reply)
		case voice.FrameControl:
			switch f.Signal() {
			case voice.SignalAgentSelection:
				p.inst.Touch()
				if err := p.inst.SwitchAgent(f.AgentID(), f.AgentName()); err != nil {
					out <- voice.NewTranscriptFrame("assistant", "Locked to "+p.inst.PrimaryAgentName())
				}
			case voice.SignalRoomCleanup:
				return ErrRoomCleanupRequested
			default:
				out <- f
			}
		}
	}
	return nil
}

// debugPrefix builds spec.md §4.3's field-debugging prefix: the last 8
// characters of agent_id and the last 8 of the request fingerprint,
// prepended to every assistant transcript.
func (p *Processor) debugPrefix(userText string) string {
	fp := Fingerprint(userText, p.inst.AgentID)
	return fmt.Sprintf("[DEBUG: %s/%s] ", lastN(p.inst.AgentID, 8), lastN(fp, 8))
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
