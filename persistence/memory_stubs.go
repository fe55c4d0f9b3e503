package persistence

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/jeeves-ci/pipeline-core/domain"
)

// EnvSecretResolver resolves secrets.NAME references against the agent
// process's own environment. Production deployments replace this with a
// vault/KMS-backed ports.SecretResolver; nothing else in the Runner
// depends on the concrete choice.
type EnvSecretResolver struct{}

func (EnvSecretResolver) Resolve(_ context.Context, ref domain.SecretRef) (string, error) {
	val, ok := os.LookupEnv(ref.Path)
	if !ok {
		return "", fmt.Errorf("secret %q not set in agent environment", ref.Path)
	}
	return val, nil
}

// MemoryCache is a process-local ports.Cache. Restore never finds a hit
// across process restarts; it exists so a bare agent can run without an
// external cache service wired in.
type MemoryCache struct {
	mu    sync.Mutex
	store map[string][]string
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{store: make(map[string][]string)}
}

func (c *MemoryCache) Restore(_ context.Context, keys []string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if _, ok := c.store[k]; ok {
			return k, true, nil
		}
	}
	return "", false, nil
}

func (c *MemoryCache) Save(_ context.Context, key string, paths []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.store[key]; exists {
		return nil // single-writer-per-key: Save under an existing key is a no-op
	}
	c.store[key] = paths
	return nil
}

// DiscardArtifactStore logs every publish and discards it. A production
// deployment wires an object-store-backed ports.ArtifactStore instead.
type DiscardArtifactStore struct {
	Log func(runID, stepID string, artifact domain.ArtifactDef)
}

func (d DiscardArtifactStore) Publish(_ context.Context, runID, stepID string, artifact domain.ArtifactDef) error {
	if d.Log != nil {
		d.Log(runID, stepID, artifact)
	}
	return nil
}

// NoPluginHost rejects every plugin call. Plugin-backed steps need a real
// ports.PluginHost wired in; this stub only keeps a bare agent buildable
// and honest about the gap rather than silently no-opping.
type NoPluginHost struct{}

func (NoPluginHost) Call(_ context.Context, name string, _ map[string]string) (map[string]string, error) {
	return nil, fmt.Errorf("plugin %q: no plugin host configured", name)
}

func (NoPluginHost) Known() []string { return nil }
