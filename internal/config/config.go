package config

import (
	"fmt"
	"log/slog"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"5000"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	// AgentVersion is the build version connected agents are expected to
	// report. A mismatch triggers an upgrade_required notice.
	AgentVersion string `envconfig:"AGENT_VERSION" default:"1.0.0"`
}

type StorageEnv struct {
	Type string `envconfig:"STORAGE_TYPE" default:"local"`
	// DataDir holds the registry documents and the execution work
	// directories (queue, inprogress, executions, indexes, stats).
	DataDir      string `envconfig:"DATA_DIR" default:".wirebird/data"`
	WorkflowsDir string `envconfig:"WORKFLOWS_DIR" default:".wirebird/workflows"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"wirebird/"`
	S3Region string `envconfig:"S3_REGION" default:"us-east-1"`
}

type EngineEnv struct {
	Workers      int `envconfig:"WORKERS" default:"10"`
	PollInterval int `envconfig:"POLL_INTERVAL_SECONDS" default:"1800"`
}

type Env struct {
	BaseEnv
	StorageEnv
	EngineEnv
}

const namespace = "WIREBIRD"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}
