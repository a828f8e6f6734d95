package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/ring/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller owns the WS endpoint and forwards call signals between
// connected users. One handler per message type; unknown types are ignored.
type Controller struct {
	hub        *Hub
	readLimit  int64
	pingPeriod time.Duration
}

func NewController(hub *Hub, readLimit int64, pingPeriod time.Duration) *Controller {
	return &Controller{hub: hub, readLimit: readLimit, pingPeriod: pingPeriod}
}

// HandleCall upgrades the connection for an authenticated user and starts
// the pumps. The username was resolved from the token by the router.
func (ctl *Controller) HandleCall(ctx context.Context, c *gin.Context) {
	username := c.GetString("username")
	log.Info().Str("module", "relay").Str("user", username).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}
	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}

	conn := newWSConn(ws)
	ctl.hub.Register(username, conn)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ctl.writePump(ctx, conn)
		cancel()
	}()
	go func() {
		ctl.readPump(ctx, username, conn)
		cancel()
	}()
}

func (ctl *Controller) handleSignal(username string, conn sender, data []byte) {
	var sig domain.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		log.Error().Err(err).Str("module", "relay").Str("user", username).Msg("bad json")
		return
	}
	sig.From = username

	log.Debug().Str("module", "relay").Str("user", username).Str("type", sig.Type).Str("call_id", sig.CallID).Msg("signal")

	switch sig.Type {
	case domain.TypeCreateCall:
		ctl.handleCreateCall(username, conn, sig)
	case domain.TypeCallInvite, domain.TypeAddParticipant:
		ctl.handleInvite(conn, sig)
	case domain.TypeCallAnswer, domain.TypeICECandidate:
		ctl.forwardToTarget(username, sig)
	case domain.TypeCallRejected:
		ctl.handleRejected(username, sig)
	case domain.TypeParticipantLeft:
		ctl.handleParticipantLeft(username, sig)
	case domain.TypeParticipantJoin:
		ctl.broadcastToCall(username, sig)
	case domain.TypeGetParticipants:
		ctl.handleGetParticipants(conn, sig)
	default:
		log.Warn().Str("module", "relay").Str("type", sig.Type).Msg("unknown signal")
	}
}

// handleCreateCall assigns the call ID and confirms to the caller. The
// caller becomes the first member of the call group.
func (ctl *Controller) handleCreateCall(username string, conn sender, sig domain.Signal) {
	callID := uuid.NewString()
	ctl.hub.JoinCall(callID, username)
	ctl.sendJSON(conn, domain.Signal{
		Type:   domain.TypeCallCreated,
		From:   sig.From,
		Target: sig.Target,
		CallID: callID,
	})
	log.Info().Str("module", "relay").Str("user", username).Str("call_id", callID).Msg("call created")
}

// handleInvite delivers the invite and adds the invitee to the call group
// so later targeted signals can reach them.
func (ctl *Controller) handleInvite(conn sender, sig domain.Signal) {
	target, ok := ctl.hub.Client(sig.Target)
	if !ok {
		ctl.sendJSON(conn, domain.Signal{
			Type:    domain.TypeCallError,
			CallID:  sig.CallID,
			Message: sig.Target + " is not available",
		})
		return
	}
	sig.Type = domain.TypeCallInvite
	ctl.hub.JoinCall(sig.CallID, sig.Target)
	ctl.deliver(target, sig)
}

// forwardToTarget routes a signal to its target within the same call group.
func (ctl *Controller) forwardToTarget(username string, sig domain.Signal) {
	if sig.CallID == "" || !ctl.hub.InCall(sig.CallID, sig.Target) {
		log.Warn().Str("module", "relay").Str("user", username).Str("type", sig.Type).Str("target", sig.Target).Msg("target not in call")
		return
	}
	target, ok := ctl.hub.Client(sig.Target)
	if !ok {
		log.Warn().Str("module", "relay").Str("target", sig.Target).Msg("target offline")
		return
	}
	ctl.deliver(target, sig)
}

// handleRejected forwards the rejection and removes the rejecting user from
// the call group they were invited into.
func (ctl *Controller) handleRejected(username string, sig domain.Signal) {
	ctl.hub.LeaveCall(sig.CallID, username)
	target, ok := ctl.hub.Client(sig.Target)
	if !ok {
		log.Warn().Str("module", "relay").Str("target", sig.Target).Msg("reject target offline")
		return
	}
	ctl.deliver(target, sig)
}

// handleParticipantLeft tells everyone else in the call and drops the
// sender from the group.
func (ctl *Controller) handleParticipantLeft(username string, sig domain.Signal) {
	ctl.broadcastToCall(username, sig)
	ctl.hub.LeaveCall(sig.CallID, username)
}

func (ctl *Controller) handleGetParticipants(conn sender, sig domain.Signal) {
	ctl.sendJSON(conn, domain.Signal{
		Type:         domain.TypeCallParticipants,
		CallID:       sig.CallID,
		Participants: ctl.hub.CallMembers(sig.CallID),
	})
}

// broadcastToCall fans a signal out to every member of its call group
// except the sender.
func (ctl *Controller) broadcastToCall(username string, sig domain.Signal) {
	for _, member := range ctl.hub.CallMembers(sig.CallID) {
		if member == username {
			continue
		}
		if target, ok := ctl.hub.Client(member); ok {
			ctl.deliver(target, sig)
		}
	}
}

func (ctl *Controller) deliver(target sender, sig domain.Signal) {
	data, err := json.Marshal(sig)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("marshal signal")
		return
	}
	if err := target.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("type", sig.Type).Msg("deliver failed")
	}
}

func (ctl *Controller) sendJSON(conn sender, sig domain.Signal) {
	data, err := json.Marshal(sig)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("sendJSON marshal")
		return
	}
	_ = conn.TrySend(data)
}
