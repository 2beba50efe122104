package local

import (
	"context"
	"sort"
	"sync"
)

// CancelManager tracks in-flight runs together with the function that
// cancels each one's execution context.
type CancelManager struct {
	runs  map[string]context.CancelFunc
	mutex sync.RWMutex
}

// NewCancelManager creates an empty run registry.
func NewCancelManager() *CancelManager {
	return &CancelManager{
		runs: make(map[string]context.CancelFunc),
	}
}

// AddRun registers a run that has started executing.
func (cm *CancelManager) AddRun(runID string, cancel context.CancelFunc) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.runs[runID] = cancel
}

// RemoveRun forgets a run once its execution has returned.
func (cm *CancelManager) RemoveRun(runID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	delete(cm.runs, runID)
}

// CancelRun cancels a tracked run. It returns false when the run is not
// (or no longer) in flight.
func (cm *CancelManager) CancelRun(runID string) bool {
	cm.mutex.RLock()
	cancel, exists := cm.runs[runID]
	cm.mutex.RUnlock()

	if !exists {
		return false
	}
	cancel()
	cm.RemoveRun(runID)
	return true
}

// CancelAll cancels every tracked run and returns how many there were.
func (cm *CancelManager) CancelAll() int {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cancelled := len(cm.runs)
	for id, cancel := range cm.runs {
		cancel()
		delete(cm.runs, id)
	}
	return cancelled
}

// ActiveRuns returns the ids of the runs still executing, sorted.
func (cm *CancelManager) ActiveRuns() []string {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	runs := make([]string, 0, len(cm.runs))
	for id := range cm.runs {
		runs = append(runs, id)
	}
	sort.Strings(runs)
	return runs
}
