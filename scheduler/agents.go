package scheduler

import (
	"sync"
	"time"

	"github.com/jeeves-ci/pipeline-core/domain"
)

// agentRegistry tracks known agents and their liveness. Grounded on
// coreengine/kernel/services.go's service-registry bookkeeping, narrowed to
// the fields the dispatch algorithm and heartbeat contract need (§4.3).
type agentRegistry struct {
	mu    sync.RWMutex
	byID  map[string]*domain.Agent
}

func newAgentRegistry() *agentRegistry {
	return &agentRegistry{byID: make(map[string]*domain.Agent)}
}

// register upserts an agent, defaulting it to Idle with no assigned jobs.
func (r *agentRegistry) register(a *domain.Agent, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.LastHeartbeat = now
	if a.Status == "" {
		a.Status = domain.AgentIdle
	}
	r.byID[a.ID] = a
}

func (r *agentRegistry) heartbeat(agentID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[agentID]
	if !ok {
		return false
	}
	a.LastHeartbeat = now
	if a.Status == domain.AgentOffline {
		a.Status = domain.AgentIdle
	}
	return true
}

func (r *agentRegistry) get(agentID string) *domain.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[agentID]
}

// markStale demotes every agent whose last heartbeat is older than
// threshold to Offline, returning the ids just demoted (§4.3 registration:
// silence beyond the stale threshold implies Offline).
func (r *agentRegistry) markStale(now time.Time, threshold time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var demoted []string
	for id, a := range r.byID {
		if a.Status == domain.AgentOffline {
			continue
		}
		if now.Sub(a.LastHeartbeat) > threshold {
			a.Status = domain.AgentOffline
			demoted = append(demoted, id)
		}
	}
	return demoted
}

// idleCapable returns every Idle agent with spare concurrency, for the
// dispatch pass to match against ready steps.
func (r *agentRegistry) idleCapable() []*domain.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Agent
	for _, a := range r.byID {
		if a.CanAccept() {
			out = append(out, a)
		}
	}
	return out
}

// assign increments an agent's job count, flipping it to Busy once it has
// no spare concurrency left.
func (r *agentRegistry) assign(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[agentID]
	if !ok {
		return
	}
	a.AssignedJobs++
	if a.AssignedJobs >= a.MaxConcurrentJobs {
		a.Status = domain.AgentBusy
	}
}

// release decrements an agent's job count, flipping it back to Idle unless
// it's draining.
func (r *agentRegistry) release(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[agentID]
	if !ok {
		return
	}
	if a.AssignedJobs > 0 {
		a.AssignedJobs--
	}
	if a.Status == domain.AgentBusy && a.AssignedJobs < a.MaxConcurrentJobs {
		a.Status = domain.AgentIdle
	}
}

func (r *agentRegistry) drain(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.byID[agentID]; ok {
		a.Status = domain.AgentDraining
	}
}
