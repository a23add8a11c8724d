// wirebird-agent connects to a wirebird server over a persistent
// websocket, executes delegated node work and streams results back.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
)

const version = "1.0.0"

// upgradeExitCode tells the external updater wrapper that the server
// demanded a newer build.
const upgradeExitCode = 42

var (
	app = kingpin.New("wirebird-agent", "Workflow execution agent for wirebird")

	serverURL = app.Flag("server", "Server URL (e.g. http://localhost:5000)").Required().String()
	name      = app.Flag("name", "Agent name").Required().String()
	secret    = app.Flag("secret", "Agent secret").Required().String()
	credsFile = app.Flag("credentials-file", "Local credential store path").
			Default(".wirebird/agent-credentials.json").String()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	creds := newCredentialStore(*credsFile)
	a := newAgent(*serverURL, *name, *secret, creds)

	color.Cyan("agent %s starting (v%s)", *name, version)
	code := a.run(ctx)
	color.Cyan("agent %s stopped", *name)
	os.Exit(code)
}
