// Package roomfabric wraps the LiveKit media fabric's room-management and
// agent-dispatch APIs, plus access-token minting, behind the small surface
// spec.md §4.1/§4.7 actually needs: list/clean rooms, dispatch a named
// worker, and mint time-limited browser credentials.
package roomfabric

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/twitchtv/twirp"

	"github.com/lookatitude/letta-voice-gateway/core"
	"github.com/lookatitude/letta-voice-gateway/o11y"
)

// AgentIdentityPrefix marks a participant identity as belonging to a worker
// rather than a human, used by EnsureCleanRoom to find stale agent
// occupants (spec.md §4.7 step 1) and by the worker process to name its own
// room identity when it joins.
const AgentIdentityPrefix = "agent-"

// MinTokenTTL and MaxTokenTTL bound /api/token's ttl query parameter
// (spec.md §6 "ttl=0 or ttl>168 -> 400").
const (
	MinTokenTTL = 1 * time.Hour
	MaxTokenTTL = 168 * time.Hour
	DefaultTokenTTL = 24 * time.Hour
)

// Client is the reliability-free fabric client: it does not own a circuit
// breaker of its own (spec.md §4.5 scopes the breaker to the stateful agent
// service), but every call returns a *core.Error so the HTTP plane and
// worker can classify failures uniformly.
type Client struct {
	url       string
	apiKey    string
	apiSecret string

	rooms    *lksdk.RoomServiceClient
	dispatch *lksdk.AgentDispatchServiceClient
}

// New creates a Client bound to the fabric at url, authenticated with
// apiKey/apiSecret.
func New(url, apiKey, apiSecret string) *Client {
	return &Client{
		url:       url,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		rooms:     lksdk.NewRoomServiceClient(url, apiKey, apiSecret),
		dispatch:  lksdk.NewAgentDispatchServiceClient(url, apiKey, apiSecret),
	}
}

// RoomInfo is the subset of livekit.Room this package's callers need.
type RoomInfo struct {
	Name            string
	NumParticipants int
	CreatedAt       time.Time
}

// ListRooms lists every active room on the fabric.
func (c *Client) ListRooms(ctx context.Context) ([]RoomInfo, error) {
	resp, err := c.rooms.ListRooms(ctx, &livekit.ListRoomsRequest{})
	if err != nil {
		return nil, wrapErr("roomfabric.list_rooms", err)
	}
	out := make([]RoomInfo, 0, len(resp.GetRooms()))
	for _, r := range resp.GetRooms() {
		out = append(out, RoomInfo{
			Name:            r.GetName(),
			NumParticipants: int(r.GetNumParticipants()),
			CreatedAt:       time.Unix(r.GetCreationTime(), 0),
		})
	}
	return out, nil
}

// Participant is the subset of livekit.ParticipantInfo the health monitor
// needs to classify occupants as human or agent and judge staleness.
type Participant struct {
	Identity string
	JoinedAt time.Time
}

// Participants lists every participant currently in room, with join times.
func (c *Client) Participants(ctx context.Context, room string) ([]Participant, error) {
	resp, err := c.rooms.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: room})
	if err != nil {
		return nil, wrapErr("roomfabric.list_participants", err)
	}
	out := make([]Participant, 0, len(resp.GetParticipants()))
	for _, p := range resp.GetParticipants() {
		out = append(out, Participant{Identity: p.GetIdentity(), JoinedAt: time.Unix(p.GetJoinedAt(), 0)})
	}
	return out, nil
}

// ParticipantIdentities lists the identities of every participant currently
// in room.
func (c *Client) ParticipantIdentities(ctx context.Context, room string) ([]string, error) {
	participants, err := c.Participants(ctx, room)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(participants))
	for _, p := range participants {
		out = append(out, p.Identity)
	}
	return out, nil
}

// EnsureCleanRoom implements spec.md §4.7's ensure_clean_room: list
// participants, remove any whose identity marks them as a worker, and if
// that removal fails, fall back to deleting the room outright so a fresh
// dispatch starts from a known-empty state. Calling it twice in succession
// with no new participants is a no-op the second time, since there is
// nothing left to remove (spec.md §8).
func (c *Client) EnsureCleanRoom(ctx context.Context, room string) error {
	identities, err := c.ParticipantIdentities(ctx, room)
	if err != nil {
		var ce *core.Error
		if errors.As(err, &ce) && ce.Code == core.ErrNotFound {
			return nil
		}
		return err
	}

	for _, identity := range identities {
		if !isAgentIdentity(identity) {
			continue
		}
		if rmErr := c.RemoveParticipant(ctx, room, identity); rmErr != nil {
			if delErr := c.DeleteRoom(ctx, room); delErr != nil {
				return delErr
			}
			return nil
		}
	}
	return nil
}

func isAgentIdentity(identity string) bool {
	return len(identity) >= len(AgentIdentityPrefix) && identity[:len(AgentIdentityPrefix)] == AgentIdentityPrefix
}

// RemoveParticipant evicts a single identity from room without affecting any
// other occupant, the fabric's per-identity removal RPC (used internally by
// EnsureCleanRoom, and by the health monitor's stale-agent sweep to reclaim a
// single abandoned agent participant rather than tearing down the room).
func (c *Client) RemoveParticipant(ctx context.Context, room, identity string) error {
	_, err := c.rooms.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{Room: room, Identity: identity})
	if err != nil {
		return wrapErr("roomfabric.remove_participant", err)
	}
	return nil
}

// DeleteRoom deletes room outright, disconnecting every participant in it.
func (c *Client) DeleteRoom(ctx context.Context, room string) error {
	_, err := c.rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: room})
	if err != nil {
		return wrapErr("roomfabric.delete_room", err)
	}
	return nil
}

// CreateDispatch dispatches the worker registered as agentName to room,
// returning the fabric's dispatch id (spec.md §4.7 step 2, §9
// "create_dispatch").
func (c *Client) CreateDispatch(ctx context.Context, room, agentName string) (string, error) {
	resp, err := c.dispatch.CreateDispatch(ctx, &livekit.CreateAgentDispatchRequest{
		Room:      room,
		AgentName: agentName,
	})
	if err != nil {
		o11y.Counter(ctx, "roomfabric.dispatch.failed", 1)
		return "", wrapErr("roomfabric.create_dispatch", err)
	}
	o11y.Counter(ctx, "roomfabric.dispatch.created", 1)
	return resp.GetId(), nil
}

// MintToken issues a signed, time-limited access token granting room-join,
// publish, subscribe, and reliable-data-channel use for identity in room
// (spec.md §4.7 "GET /api/token", §6). ttl is clamped by the caller before
// reaching here; MintToken itself only rejects ttl<=0.
func (c *Client) MintToken(room, identity string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", core.NewError("roomfabric.mint_token", core.ErrInvalidInput, "ttl must be positive", nil)
	}

	canPublish := true
	canSubscribe := true
	canPublishData := true

	at := auth.NewAccessToken(c.apiKey, c.apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin:       true,
		Room:           room,
		CanPublish:     &canPublish,
		CanSubscribe:   &canSubscribe,
		CanPublishData: &canPublishData,
	}
	at.SetVideoGrant(grant).SetIdentity(identity).SetValidFor(ttl)

	token, err := at.ToJWT()
	if err != nil {
		return "", core.NewError("roomfabric.mint_token", core.ErrInvalidInput, "failed to sign token", err)
	}
	return token, nil
}

// URL returns the fabric's websocket/HTTP base URL, surfaced to the browser
// alongside a minted token.
func (c *Client) URL() string { return c.url }

// ValidTTL reports whether hours falls within /api/token's accepted range
// (spec.md §6/§8: "ttl=0 or ttl>168 -> 400").
func ValidTTL(hours int) bool {
	return hours > 0 && hours <= 168
}

// wrapErr classifies the fabric SDK's twirp errors into core.ErrorCode so
// callers (EnsureCleanRoom's "room already gone" short-circuit, the HTTP
// plane's room_existed reporting) can branch on not-found without knowing
// about twirp.
func wrapErr(op string, err error) error {
	if twErr, ok := twirp.FromError(err); ok && twErr.Code() == twirp.NotFound {
		return core.NewError(op, core.ErrNotFound, fmt.Sprintf("%s: not found", op), err)
	}
	return core.NewError(op, core.ErrProviderDown, fmt.Sprintf("%s failed", op), err)
}
