package gateway

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/wirebird/wirebird/internal/agent"
	"github.com/wirebird/wirebird/internal/dispatch"
	"github.com/wirebird/wirebird/pkg/clog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Agents authenticate with their secret, not an Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler serves the agent websocket endpoint and runs one message
// loop per connection.
type Handler struct {
	hub             *Hub
	agents          *agent.Registry
	queue           *dispatch.Queue
	requiredVersion string
	logger          *slog.Logger
}

func NewHandler(hub *Hub, agents *agent.Registry, queue *dispatch.Queue, requiredVersion string, logger *slog.Logger) *Handler {
	return &Handler{
		hub:             hub,
		agents:          agents,
		queue:           queue,
		requiredVersion: requiredVersion,
		logger:          logger,
	}
}

// ServeAgent upgrades the request and hands the connection to the
// message loop. Route: /ws/agent/{name}/{secret}.
func (h *Handler) ServeAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	secret := chi.URLParam(r, "secret")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	ctx := clog.ContextWithAttributes(r.Context())
	clog.AddAttribute(ctx, "agent", name)

	// Authentication failures close with a distinguishing code so the
	// agent can decide whether reconnecting is worth it.
	if !h.agents.VerifySecret(name, secret) {
		h.closeWith(ws, CloseInvalidCredentials, "Invalid credentials")
		h.logger.InfoContext(ctx, "agent rejected: invalid credentials")
		return
	}
	a, ok := h.agents.Get(name)
	if !ok {
		h.closeWith(ws, CloseInvalidCredentials, "Agent not found")
		return
	}
	if !a.Enabled {
		h.closeWith(ws, CloseAgentDisabled, "Agent is disabled")
		h.logger.InfoContext(ctx, "agent rejected: disabled")
		return
	}

	c := h.hub.register(name, ws)
	h.markOnline(ctx, name, r)

	if err := c.send(&Message{Type: TypeConnectOK}); err != nil {
		h.logger.WarnContext(ctx, "failed to send connect_ok", slog.String("error", err.Error()))
	}
	h.logger.InfoContext(ctx, "agent connected")

	// Offer any work already waiting.
	h.hub.NotifyTaskAvailable(ctx)

	h.readLoop(ctx, name, c)

	// A displaced connection (the agent reconnected) must not requeue
	// the successor's tasks or flip the agent offline.
	if h.hub.unregister(name, c) {
		h.queue.RequeueAgentTasks(ctx, name)
		h.markOffline(ctx, name)
		h.logger.InfoContext(ctx, "agent disconnected")
	}
	_ = ws.Close()
}

func (h *Handler) readLoop(ctx context.Context, name string, c *conn) {
	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.InfoContext(ctx, "agent connection lost", slog.String("error", err.Error()))
			}
			return
		}
		h.handleMessage(ctx, name, c, &msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, name string, c *conn, msg *Message) {
	switch msg.Type {
	case TypeHeartbeat:
		h.touch(ctx, name)
		if err := c.send(&Message{Type: TypeHeartbeatAck}); err != nil {
			h.logger.WarnContext(ctx, "failed to ack heartbeat", slog.String("error", err.Error()))
		}

	case TypeVersion:
		version := msg.Version
		if _, err := h.agents.Update(ctx, name, agent.Update{Version: &version}); err != nil {
			h.logger.WarnContext(ctx, "failed to record agent version", slog.String("error", err.Error()))
		}
		if h.requiredVersion != "" && version != h.requiredVersion {
			h.logger.InfoContext(ctx, "agent version mismatch",
				slog.String("reported", version), slog.String("required", h.requiredVersion))
			_ = c.send(&Message{
				Type:            TypeUpgradeRequired,
				CurrentVersion:  version,
				RequiredVersion: h.requiredVersion,
			})
		}

	case TypeCredentialsReport:
		creds := msg.Credentials
		if creds == nil {
			creds = []string{}
		}
		if _, err := h.agents.Update(ctx, name, agent.Update{Credentials: &creds}); err != nil {
			h.logger.WarnContext(ctx, "failed to store credentials report", slog.String("error", err.Error()))
		}

	case TypeCredentialAck:
		h.hub.resolveAck(name, msg.Name, msg.Status, msg.Error)

	case TypeTaskClaim:
		if h.queue.Claim(ctx, msg.TaskID, name) {
			_ = c.send(&Message{Type: TypeTaskClaimedOK, TaskID: msg.TaskID})
		} else {
			_ = c.send(&Message{Type: TypeTaskClaimedFail, TaskID: msg.TaskID, Reason: "task unavailable"})
		}

	case TypeTaskProgress:
		h.queue.AddTaskLogs(msg.TaskID, msg.Logs)

	case TypeTaskComplete:
		h.queue.Complete(ctx, msg.TaskID, msg.Result)

	case TypeTaskFailed:
		h.queue.Fail(ctx, msg.TaskID, msg.Error)

	default:
		// Unknown types keep the connection open.
		h.logger.InfoContext(ctx, "ignoring unknown message type", slog.String("type", msg.Type))
	}
}

func (h *Handler) markOnline(ctx context.Context, name string, r *http.Request) {
	now := time.Now().UTC()
	status := agent.StatusOnline
	ip := remoteIP(r)
	update := agent.Update{Status: &status, LastSeen: &now}
	if ip != "" {
		update.IPAddress = &ip
	}
	if _, err := h.agents.Update(ctx, name, update); err != nil {
		h.logger.WarnContext(ctx, "failed to mark agent online", slog.String("error", err.Error()))
	}
}

func (h *Handler) markOffline(ctx context.Context, name string) {
	now := time.Now().UTC()
	status := agent.StatusOffline
	if _, err := h.agents.Update(ctx, name, agent.Update{Status: &status, LastSeen: &now}); err != nil {
		h.logger.WarnContext(ctx, "failed to mark agent offline", slog.String("error", err.Error()))
	}
}

func (h *Handler) touch(ctx context.Context, name string) {
	now := time.Now().UTC()
	if _, err := h.agents.Update(ctx, name, agent.Update{LastSeen: &now}); err != nil {
		h.logger.WarnContext(ctx, "failed to update last seen", slog.String("error", err.Error()))
	}
}

func (h *Handler) closeWith(ws *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = ws.Close()
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
