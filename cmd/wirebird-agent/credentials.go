package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// credentialStore keeps pushed credential bundles in a local JSON
// file, readable only by the agent's user. It doubles as the
// executor's credential source for locally executed nodes.
type credentialStore struct {
	path string

	mu    sync.Mutex
	creds map[string]map[string]any
}

func newCredentialStore(path string) *credentialStore {
	s := &credentialStore{path: path, creds: map[string]map[string]any{}}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &s.creds)
	}
	return s
}

// Names returns the stored credential names, sorted. Reported to the
// server on every connect.
func (s *credentialStore) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.creds))
	for name := range s.creds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Store persists a pushed credential bundle.
func (s *credentialStore) Store(name string, credential map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[name] = credential
	return s.save()
}

// Credential implements executor.CredentialSource.
func (s *credentialStore) Credential(_ context.Context, name string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[name]
	if !ok {
		return nil, fmt.Errorf("credential %s not stored on this agent", name)
	}
	return cred, nil
}

func (s *credentialStore) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}
