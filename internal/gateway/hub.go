package gateway

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/wirebird/wirebird/internal/agent"
	"github.com/wirebird/wirebird/internal/dispatch"
	"github.com/wirebird/wirebird/pkg/cerr"
)

// conn is one live agent connection. gorilla/websocket allows a single
// concurrent writer, so every send goes through the write mutex.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) send(msg *Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (c *conn) sendClose(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

type ackResult struct {
	status string
	err    string
}

// Hub tracks connected agents and routes server-initiated messages.
// It implements dispatch.Notifier so fresh pending work is offered to
// the fleet immediately.
type Hub struct {
	agents *agent.Registry
	queue  *dispatch.Queue
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*conn
	// pendingAcks awaits credential_ack per agent/credential pair.
	pendingAcks map[string]chan ackResult
}

func NewHub(agents *agent.Registry, queue *dispatch.Queue, logger *slog.Logger) *Hub {
	return &Hub{
		agents:      agents,
		queue:       queue,
		logger:      logger,
		conns:       map[string]*conn{},
		pendingAcks: map[string]chan ackResult{},
	}
}

// register tracks a fresh connection. An agent gets exactly one live
// connection; reconnecting displaces the old one.
func (h *Hub) register(name string, ws *websocket.Conn) *conn {
	c := &conn{ws: ws}
	h.mu.Lock()
	old := h.conns[name]
	h.conns[name] = c
	h.mu.Unlock()
	if old != nil {
		_ = old.ws.Close()
	}
	return c
}

// unregister drops the connection if it is still the agent's current
// one. A displaced connection must not tear down its successor.
func (h *Hub) unregister(name string, c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[name] != c {
		return false
	}
	delete(h.conns, name)
	return true
}

// ConnectedAgents returns the names of agents with a live connection.
func (h *Hub) ConnectedAgents() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.conns))
	for name := range h.conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsConnected reports whether the agent has a live connection.
func (h *Hub) IsConnected(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.conns[name]
	return ok
}

// Send delivers a message to a connected agent. Returns false when the
// agent is not connected.
func (h *Hub) Send(name string, msg *Message) bool {
	h.mu.Lock()
	c := h.conns[name]
	h.mu.Unlock()
	if c == nil {
		return false
	}
	if err := c.send(msg); err != nil {
		h.logger.Warn("failed to send to agent",
			slog.String("agent", name), slog.String("error", err.Error()))
		return false
	}
	return true
}

// NotifyTaskAvailable offers every connected agent its first eligible
// pending task. Best-effort: send failures are logged, never returned.
func (h *Hub) NotifyTaskAvailable(ctx context.Context) {
	for _, name := range h.ConnectedAgents() {
		task := h.queue.GetAvailableTask(name)
		if task == nil {
			continue
		}
		h.Send(name, &Message{
			Type:              TypeTaskAvailable,
			TaskID:            task.ID,
			WorkflowName:      task.WorkflowName,
			NodeID:            task.NodeID,
			ExecutionSnapshot: &task.Snapshot,
		})
	}
}

// PushCredential sends a credential bundle to a connected agent and
// waits for its credential_ack. Only a "success" ack records the
// credential on the agent's registry entry.
func (h *Hub) PushCredential(ctx context.Context, agentName, credName string, credential map[string]any) error {
	ackCh := make(chan ackResult, 1)
	key := ackKey(agentName, credName)

	h.mu.Lock()
	if _, exists := h.pendingAcks[key]; exists {
		h.mu.Unlock()
		return cerr.New(cerr.AlreadyExists, "credential push already in flight for "+key, nil)
	}
	h.pendingAcks[key] = ackCh
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pendingAcks, key)
		h.mu.Unlock()
	}()

	if !h.Send(agentName, &Message{Type: TypeCredentialPush, Name: credName, Credential: credential}) {
		return cerr.New(cerr.Unavailable, "agent "+agentName+" is not connected", nil)
	}

	select {
	case <-ctx.Done():
		return cerr.New(cerr.DeadlineExceeded, "credential ack from "+agentName+" timed out", ctx.Err())
	case ack := <-ackCh:
		if ack.status != "success" {
			return cerr.New(cerr.Internal, "agent "+agentName+" rejected credential "+credName+": "+ack.err, nil)
		}
	}

	a, ok := h.agents.Get(agentName)
	if !ok {
		return cerr.New(cerr.NotFound, "agent "+agentName+" not found", nil)
	}
	if !a.HasCredential(credName) {
		creds := append(a.Credentials, credName)
		if _, err := h.agents.Update(ctx, agentName, agent.Update{Credentials: &creds}); err != nil {
			return err
		}
	}
	return nil
}

// resolveAck hands a received credential_ack to its waiting pusher.
func (h *Hub) resolveAck(agentName, credName, status, errMsg string) {
	h.mu.Lock()
	ackCh := h.pendingAcks[ackKey(agentName, credName)]
	h.mu.Unlock()
	if ackCh == nil {
		h.logger.Warn("credential ack with no pending push",
			slog.String("agent", agentName), slog.String("credential", credName))
		return
	}
	select {
	case ackCh <- ackResult{status: status, err: errMsg}:
	default:
	}
}

func ackKey(agentName, credName string) string {
	return agentName + ":" + credName
}
