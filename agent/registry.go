package agent

import (
	"fmt"
	"sync"
)

// Registry holds the two process-wide tables described in spec.md §4.2:
// agent_id -> Instance, and room_name -> agent_id. Both tables are guarded
// by their own mutex; callers that must hold both always acquire
// instanceMu before roomMu, never the reverse, to rule out deadlock.
type Registry struct {
	instanceMu sync.Mutex
	instances  map[string]*Instance

	roomMu sync.Mutex
	rooms  map[string]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[string]*Instance),
		rooms:     make(map[string]string),
	}
}

// AcquireInstance returns the Instance for agentID, creating it via newFn if
// absent. wasExisting tells the caller whether it must run
// reset_for_reconnect before reusing it (spec.md §4.2: a reconnecting user
// for the same agent always reuses the same instance, never a parallel
// one).
func (r *Registry) AcquireInstance(agentID string, newFn func() *Instance) (inst *Instance, wasExisting bool) {
	r.instanceMu.Lock()
	defer r.instanceMu.Unlock()

	if existing, ok := r.instances[agentID]; ok {
		return existing, true
	}
	inst = newFn()
	r.instances[agentID] = inst
	return inst, false
}

// ReleaseInstance removes agentID's instance from the table. Callers must
// have already finished resetting it; Release does not itself stop
// background work.
func (r *Registry) ReleaseInstance(agentID string) {
	r.instanceMu.Lock()
	defer r.instanceMu.Unlock()
	delete(r.instances, agentID)
}

// LookupInstance returns the instance for agentID, if any.
func (r *Registry) LookupInstance(agentID string) (*Instance, bool) {
	r.instanceMu.Lock()
	defer r.instanceMu.Unlock()
	inst, ok := r.instances[agentID]
	return inst, ok
}

// AssignRoom records room as owned by agentID. It fails if the room is
// already assigned to any agent — the primary duplicate-agent defense from
// spec.md §4.1 step 3: of two concurrent JobRequests for the same room,
// exactly one may hold the assignment at a time, regardless of whether both
// name the same agent_id.
func (r *Registry) AssignRoom(room, agentID string) error {
	r.roomMu.Lock()
	defer r.roomMu.Unlock()

	if existing, ok := r.rooms[room]; ok {
		return fmt.Errorf("agent: room %q already assigned to agent %q", room, existing)
	}
	r.rooms[room] = agentID
	return nil
}

// UnassignRoom removes room's assignment, if any.
func (r *Registry) UnassignRoom(room string) {
	r.roomMu.Lock()
	defer r.roomMu.Unlock()
	delete(r.rooms, room)
}

// RoomAgent returns the agent_id assigned to room, if any.
func (r *Registry) RoomAgent(room string) (string, bool) {
	r.roomMu.Lock()
	defer r.roomMu.Unlock()
	id, ok := r.rooms[room]
	return id, ok
}
