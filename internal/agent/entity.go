package agent

import "time"

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Agent is a remote worker process that authenticates once and executes
// delegated node work over a persistent connection. Connection state is
// deliberately absent: it is transient and lives in the gateway hub only.
type Agent struct {
	Name        string     `yaml:"name"`
	Enabled     bool       `yaml:"enabled"`
	Priority    int        `yaml:"priority"` // reserved, unused by matching
	Tags        []string   `yaml:"tags"`
	Status      Status     `yaml:"status"`
	LastSeen    *time.Time `yaml:"last_seen,omitempty"`
	IPAddress   string     `yaml:"ip_address,omitempty"`
	Version     string     `yaml:"version,omitempty"`
	TotalTasks  int        `yaml:"total_tasks"`
	CurrentTask string     `yaml:"current_task,omitempty"`
	// SecretHash is the sha256 hex digest of the agent's secret. The
	// plaintext is handed out exactly once at creation.
	SecretHash  string   `yaml:"secret_hash"`
	Credentials []string `yaml:"credentials,omitempty"`
}

// HasTag reports whether the agent carries the capability label.
func (a *Agent) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasCredential reports whether the agent has acknowledged holding the
// named credential bundle.
func (a *Agent) HasCredential(name string) bool {
	for _, c := range a.Credentials {
		if c == name {
			return true
		}
	}
	return false
}

func (a *Agent) clone() *Agent {
	copied := *a
	copied.Tags = append([]string(nil), a.Tags...)
	copied.Credentials = append([]string(nil), a.Credentials...)
	if a.LastSeen != nil {
		ts := *a.LastSeen
		copied.LastSeen = &ts
	}
	return &copied
}

// Update is the field mask accepted by Registry.Update. SecretHash is
// intentionally not representable here, so no caller can forge it.
type Update struct {
	Enabled     *bool
	Priority    *int
	Tags        *[]string
	Status      *Status
	LastSeen    *time.Time
	IPAddress   *string
	Version     *string
	TotalTasks  *int
	CurrentTask *string
	Credentials *[]string
}
