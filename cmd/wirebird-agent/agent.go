package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"

	"github.com/wirebird/wirebird/internal/dispatch"
	"github.com/wirebird/wirebird/internal/executor"
	"github.com/wirebird/wirebird/internal/gateway"
	"github.com/wirebird/wirebird/internal/nodes"
	"github.com/wirebird/wirebird/internal/workflow"
)

const (
	heartbeatInterval = 30 * time.Second
	reconnectDelay    = 5 * time.Second
	maxReconnectDelay = 60 * time.Second
	handshakeTimeout  = 10 * time.Second
)

type agent struct {
	serverURL string
	name      string
	secret    string
	creds     *credentialStore
	executor  *executor.Executor

	writeMu sync.Mutex
	ws      *websocket.Conn

	// offered remembers task_available snapshots until the claim
	// result arrives.
	offersMu sync.Mutex
	offers   map[string]*gateway.Message
}

func newAgent(serverURL, name, secret string, creds *credentialStore) *agent {
	types := workflow.NewTypeRegistry()
	nodes.RegisterBuiltins(types)
	return &agent{
		serverURL: strings.TrimRight(serverURL, "/"),
		name:      name,
		secret:    secret,
		creds:     creds,
		executor:  executor.New(types, nil, creds),
		offers:    map[string]*gateway.Message{},
	}
}

// run connects and serves until ctx is canceled, reconnecting with
// exponential backoff. The return value is the process exit code; the
// server demanding an upgrade is the one non-zero path.
func (a *agent) run(ctx context.Context) int {
	delay := reconnectDelay
	for {
		if ctx.Err() != nil {
			return 0
		}
		connected, upgrade := a.session(ctx)
		if upgrade {
			color.Yellow("server requires a newer agent build, exiting for update")
			return upgradeExitCode
		}
		if connected {
			delay = reconnectDelay
		}
		if ctx.Err() != nil {
			return 0
		}
		color.Yellow("reconnecting in %s", delay)
		select {
		case <-ctx.Done():
			return 0
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// session runs one connection from dial to disconnect. It reports
// whether the handshake succeeded and whether the server demanded an
// upgrade.
func (a *agent) session(ctx context.Context) (connected, upgrade bool) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, a.wsURL(), nil)
	if err != nil {
		color.Red("connection failed: %v", err)
		return false, false
	}
	defer ws.Close()

	// The server answers the handshake with connect_ok or closes with
	// a distinguishing code.
	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var hello gateway.Message
	if err := ws.ReadJSON(&hello); err != nil {
		color.Red("handshake failed: %v", err)
		return false, false
	}
	if hello.Type != gateway.TypeConnectOK {
		color.Red("connection rejected: %s", hello.Type)
		return false, false
	}
	_ = ws.SetReadDeadline(time.Time{})

	a.ws = ws
	color.Green("connected to %s", a.serverURL)

	a.send(&gateway.Message{Type: gateway.TypeVersion, Version: version})
	a.send(&gateway.Message{Type: gateway.TypeCredentialsReport, Credentials: a.creds.Names()})

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.heartbeatLoop(sessionCtx)

	for {
		var msg gateway.Message
		if err := ws.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				color.Yellow("connection closed: %v", err)
			}
			return true, false
		}
		if a.handle(sessionCtx, &msg) {
			return true, true
		}
	}
}

// handle processes one server message. It returns true when the agent
// must exit for an upgrade.
func (a *agent) handle(ctx context.Context, msg *gateway.Message) (upgrade bool) {
	switch msg.Type {
	case gateway.TypeHeartbeatAck:

	case gateway.TypeUpgradeRequired:
		color.Yellow("upgrade required: running %s, server wants %s",
			msg.CurrentVersion, msg.RequiredVersion)
		return true

	case gateway.TypeTaskAvailable:
		a.offersMu.Lock()
		a.offers[msg.TaskID] = msg
		a.offersMu.Unlock()
		color.White("task available: %s (%s/%s)", msg.TaskID, msg.WorkflowName, msg.NodeID)
		a.send(&gateway.Message{Type: gateway.TypeTaskClaim, TaskID: msg.TaskID})

	case gateway.TypeTaskClaimedOK:
		a.offersMu.Lock()
		offer := a.offers[msg.TaskID]
		delete(a.offers, msg.TaskID)
		a.offersMu.Unlock()
		if offer == nil || offer.ExecutionSnapshot == nil {
			a.send(&gateway.Message{
				Type:   gateway.TypeTaskFailed,
				TaskID: msg.TaskID,
				Error:  "claimed a task with no retained snapshot",
			})
			return false
		}
		go a.executeTask(ctx, msg.TaskID, offer)

	case gateway.TypeTaskClaimedFail:
		a.offersMu.Lock()
		delete(a.offers, msg.TaskID)
		a.offersMu.Unlock()
		color.Yellow("claim rejected for %s: %s", msg.TaskID, msg.Reason)

	case gateway.TypeCredentialPush:
		a.handleCredentialPush(msg)

	case gateway.TypeKillTask, gateway.TypeConfigUpdate:
		// Reserved, currently inert.

	default:
		color.Yellow("ignoring unknown message type: %s", msg.Type)
	}
	return false
}

// executeTask runs the claimed node against the shipped snapshot and
// reports the terminal result.
func (a *agent) executeTask(ctx context.Context, taskID string, offer *gateway.Message) {
	snapshot := offer.ExecutionSnapshot
	a.progress(taskID, fmt.Sprintf("executing node %s", offer.NodeID))

	execution, failure := a.executor.ExecuteNode(ctx, offer.NodeID, snapshot.Workflow, snapshot.Execution)
	if failure != nil {
		color.Red("task %s failed: %s", taskID, failure.Message)
		a.send(&gateway.Message{
			Type:   gateway.TypeTaskFailed,
			TaskID: taskID,
			Error:  failure.Message,
		})
		return
	}

	color.Green("task %s completed", taskID)
	a.send(&gateway.Message{
		Type:   gateway.TypeTaskComplete,
		TaskID: taskID,
		Result: workflow.Data{
			"success":   true,
			"execution": execution,
		},
	})
}

func (a *agent) handleCredentialPush(msg *gateway.Message) {
	if msg.Name == "" || msg.Credential == nil {
		color.Yellow("invalid credential_push message")
		return
	}
	if err := a.creds.Store(msg.Name, msg.Credential); err != nil {
		color.Red("failed to store credential %s: %v", msg.Name, err)
		a.send(&gateway.Message{
			Type:   gateway.TypeCredentialAck,
			Name:   msg.Name,
			Status: "failed",
			Error:  err.Error(),
		})
		return
	}
	color.Green("stored credential: %s", msg.Name)
	a.send(&gateway.Message{Type: gateway.TypeCredentialAck, Name: msg.Name, Status: "success"})
}

func (a *agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.send(&gateway.Message{Type: gateway.TypeHeartbeat})
		}
	}
}

func (a *agent) progress(taskID, line string) {
	a.send(&gateway.Message{
		Type:   gateway.TypeTaskProgress,
		TaskID: taskID,
		Logs: []dispatch.LogLine{{
			Line:      line,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
	})
}

func (a *agent) send(msg *gateway.Message) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.ws == nil {
		return
	}
	if err := a.ws.WriteJSON(msg); err != nil {
		color.Yellow("send failed: %v", err)
	}
}

func (a *agent) wsURL() string {
	url := a.serverURL
	switch {
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://"):
		url = "ws://" + url
	}
	return fmt.Sprintf("%s/ws/agent/%s/%s", url, a.name, a.secret)
}
