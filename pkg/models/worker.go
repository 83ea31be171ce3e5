package models

// WorkerRecord describes a registered worker process. Heartbeats refresh
// LastSeenAt; the reaper evicts workers whose heartbeat goes stale and
// re-queues their claimed sessions.
type WorkerRecord struct {
	ID           string   `json:"id"`
	Hostname     string   `json:"hostname"`
	Capacity     int      `json:"capacity"`
	Version      string   `json:"version,omitempty"`
	Projects     []string `json:"projects,omitempty"`
	RegisteredAt int64    `json:"registered_at"`
	LastSeenAt   int64    `json:"last_seen_at"`
	ActiveCount  int      `json:"active_count"`
	Load         float64  `json:"load,omitempty"`
}

// ServesProject reports whether the worker accepts work for the given project.
// Work without a project name is accepted by every worker; a worker without a
// project list accepts everything.
func (w *WorkerRecord) ServesProject(project string) bool {
	if project == "" || len(w.Projects) == 0 {
		return true
	}
	for _, p := range w.Projects {
		if p == project {
			return true
		}
	}
	return false
}
