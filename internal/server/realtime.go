package server

import (
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/ecocarbon/internal/auth"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/realtime"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/views"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultHeartbeatInterval = 25 * time.Second
	realtimeSourceBackend    = "ecocarbon-backend"
)

type realtimeEventPayload struct {
	Topics    []string `json:"topics"`
	Timestamp string   `json:"timestamp"`
	Source    string   `json:"source"`
}

type sessionEventPayload struct {
	State       views.State  `json:"state"`
	Transitions []views.View `json:"transitions"`
	Timestamp   string       `json:"timestamp"`
	Source      string       `json:"source"`
}

// handleEventStream streams session and record-change events for the caller as server-sent
// events until the client disconnects or the session ends.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	principal, _ := principalFrom(c)
	claims, _ := claimsFrom(c)

	ctx := c.Request.Context()
	changes, cleanup := h.realtime.Subscribe(ctx, principal.Profile.ID, realtime.EventRecordsChanged)
	defer cleanup()
	snapshots := h.watcher.Watch(ctx, claims)

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	clientGone := c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case snapshot, open := <-snapshots:
			if !open {
				return false
			}
			c.SSEvent(realtime.EventSession, newSessionEventPayload(snapshot))
		case message, open := <-changes:
			if !open {
				return false
			}
			c.SSEvent(message.EventType, newRealtimeEventPayload(message))
		case tick := <-ticker.C:
			c.SSEvent(realtime.EventHeartbeat, newRealtimeEventPayload(realtime.Message{Timestamp: tick}))
		}
		return !c.IsAborted()
	})
	h.logger.Debug("realtime stream closed",
		zap.String("user_id", principal.Profile.ID),
		zap.Bool("client_gone", clientGone),
		zap.Strings("errors", c.Errors.Errors()),
	)
}

func newRealtimeEventPayload(message realtime.Message) realtimeEventPayload {
	topics := message.Topics
	if topics == nil {
		topics = []string{}
	}
	return realtimeEventPayload{
		Topics:    topics,
		Timestamp: message.Timestamp.UTC().Format(time.RFC3339Nano),
		Source:    realtimeSourceBackend,
	}
}

func newSessionEventPayload(snapshot auth.SessionSnapshot) sessionEventPayload {
	state := views.Initial(snapshot.Session)
	transitions := state.Transitions()
	if transitions == nil {
		transitions = []views.View{}
	}
	return sessionEventPayload{
		State:       state,
		Transitions: transitions,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		Source:      realtimeSourceBackend,
	}
}
