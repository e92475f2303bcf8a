// Package worker implements the voice-worker runtime of spec.md §4.1: it
// registers this process with the media fabric under a well-known agent
// name, receives JobRequest events over a persistent websocket connection,
// gates them against the room-assignment registry, and on accept pre-cleans
// the room before handing off to the voice assistant entry point.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lookatitude/letta-voice-gateway/agent"
	"github.com/lookatitude/letta-voice-gateway/o11y"
)

// RoomCleaner is the one fabric operation the worker needs before accepting
// a JobRequest. Satisfied by *roomfabric.Client; defined locally so tests
// can substitute a fake without standing up a real fabric connection.
type RoomCleaner interface {
	EnsureCleanRoom(ctx context.Context, room string) error
}

// Message types exchanged on the fabric's agent-dispatch websocket.
const (
	msgRegisterWorker = "register_worker"
	msgJobRequest      = "job_request"
	msgJobResponse     = "job_response"
)

// pingPeriod/pongWait mirror the keepalive cadence used for the fabric's
// long-lived dispatch connection: a worker that stops responding to pings
// must be treated as gone by the fabric within one missed cycle.
const (
	pingPeriod = 30 * time.Second
	pongWait   = 45 * time.Second
)

// RegisterWorker is the first frame sent after connecting, announcing the
// agent name this worker serves (spec.md §4.1 "register(agent_name)").
type RegisterWorker struct {
	Type      string `json:"type"`
	AgentName string `json:"agent_name"`
}

// ServerMessage is any frame received from the fabric. Job is populated
// only when Type == msgJobRequest.
type ServerMessage struct {
	Type string      `json:"type"`
	Job  *JobRequest `json:"job,omitempty"`
}

// JobRequest is one dispatch request for this worker to join a room.
type JobRequest struct {
	ID       string `json:"id"`
	RoomName string `json:"room_name"`
}

// JobResponse answers a JobRequest with accept/reject.
type JobResponse struct {
	Type     string `json:"type"`
	JobID    string `json:"job_id"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Handoff is called once a JobRequest is accepted, with the room name and
// the agent_id bound to it. The worker does not know how to run a voice
// session itself (that lives in package voice); it only arbitrates and
// delegates.
type Handoff func(ctx context.Context, roomName, agentID string)

// Worker registers with the fabric's agent-dispatch endpoint and serves
// JobRequests for the lifetime of the connection.
type Worker struct {
	fabricURL      string
	agentName      string
	primaryAgentID string

	registry *agent.Registry
	fabric   RoomCleaner
	onAccept Handoff
	logger   *o11y.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// Option configures a Worker at construction.
type Option func(*Worker)

// WithLogger overrides the Worker's logger.
func WithLogger(l *o11y.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// New creates a Worker. dispatchURL is the fabric's agent-dispatch websocket
// endpoint (e.g. "wss://fabric.example.com/agent/register").
func New(dispatchURL, agentName, primaryAgentID string, registry *agent.Registry, fabric RoomCleaner, onAccept Handoff, opts ...Option) *Worker {
	w := &Worker{
		fabricURL:      dispatchURL,
		agentName:      agentName,
		primaryAgentID: primaryAgentID,
		registry:       registry,
		fabric:         fabric,
		onAccept:       onAccept,
		logger:         o11y.NewLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run connects, registers, and serves JobRequests until ctx is cancelled or
// the connection drops. Callers wanting automatic reconnection should call
// Run in a loop; spec.md §4.1 only requires that register(agent_name) is
// idempotent, not that Run itself retries forever.
func (w *Worker) Run(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.fabricURL, nil)
	if err != nil {
		return fmt.Errorf("worker: dial fabric: %w", err)
	}
	defer conn.Close()

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	if err := conn.WriteJSON(RegisterWorker{Type: msgRegisterWorker, AgentName: w.agentName}); err != nil {
		return fmt.Errorf("worker: register: %w", err)
	}
	w.logger.Info(ctx, "registered with fabric", "agent_name", w.agentName)

	done := make(chan struct{})
	go w.keepalive(ctx, done)
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var msg ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("worker: connection lost: %w", err)
		}
		if msg.Type != msgJobRequest || msg.Job == nil {
			continue
		}
		w.handleJobRequest(ctx, *msg.Job)
	}
}

func (w *Worker) keepalive(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			w.mu.Lock()
			conn := w.conn
			w.mu.Unlock()
			if conn == nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleJobRequest runs spec.md §4.1's accept/reject algorithm: gate on the
// room-assignment table, pre-clean on accept, respond, and only then hand
// off to the session entry point. Any error before the response is sent is
// treated as reject (step "Failure semantics").
func (w *Worker) handleJobRequest(ctx context.Context, job JobRequest) {
	if err := w.registry.AssignRoom(job.RoomName, w.primaryAgentID); err != nil {
		w.logger.Warn(ctx, "rejecting job request, room already assigned",
			"room", job.RoomName, "job_id", job.ID, "error", err)
		w.respond(JobResponse{Type: msgJobResponse, JobID: job.ID, Accepted: false, Reason: "room_in_use"})
		return
	}

	if err := w.fabric.EnsureCleanRoom(ctx, job.RoomName); err != nil {
		w.logger.Warn(ctx, "pre-clean failed, accepting anyway", "room", job.RoomName, "error", err)
	}

	w.respond(JobResponse{Type: msgJobResponse, JobID: job.ID, Accepted: true})
	w.logger.Info(ctx, "accepted job request", "room", job.RoomName, "job_id", job.ID)

	go w.onAccept(ctx, job.RoomName, w.primaryAgentID)
}

func (w *Worker) respond(resp JobResponse) {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteJSON(resp); err != nil {
		w.logger.Error(context.Background(), "failed to send job response", "job_id", resp.JobID, "error", err)
	}
}
