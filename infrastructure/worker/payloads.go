package worker

// SyncPayload is the sync job's counter set, carried in memory across the
// refresh loop and re-serialized into the job row on every progress commit.
// The status rollup and the websocket feed both read these keys.
type SyncPayload struct {
	Phase             string `json:"phase"`
	TotalListed       int    `json:"total_listed"`
	Completed         int    `json:"completed"`
	Processed         int    `json:"processed"`
	MatchedFaces      int    `json:"matched_faces"`
	RefreshedFiles    int    `json:"refreshed_files"`
	ReusedFiles       int    `json:"reused_files"`
	RefreshQueueTotal int    `json:"refresh_queue_total"`
	Failures          int    `json:"failures"`
	CurrentFileID     string `json:"current_file_id,omitempty"`
	CurrentFileName   string `json:"current_file_name,omitempty"`

	// Set on completion only: true when clustering was skipped because
	// nothing changed and clusters already exist
	ClusterReused *bool `json:"cluster_reused,omitempty"`
}

func (p *SyncPayload) Map() map[string]interface{} {
	out := map[string]interface{}{
		"phase":               p.Phase,
		"total_listed":        p.TotalListed,
		"completed":           p.Completed,
		"processed":           p.Processed,
		"matched_faces":       p.MatchedFaces,
		"refreshed_files":     p.RefreshedFiles,
		"reused_files":        p.ReusedFiles,
		"refresh_queue_total": p.RefreshQueueTotal,
		"failures":            p.Failures,
	}
	if p.CurrentFileID != "" {
		out["current_file_id"] = p.CurrentFileID
		out["current_file_name"] = p.CurrentFileName
	}
	if p.ClusterReused != nil {
		out["cluster_reused"] = *p.ClusterReused
	}
	return out
}

// ClusterPayload is the cluster job's payload.
type ClusterPayload struct {
	Phase        string `json:"phase"`
	ClusterCount *int   `json:"cluster_count,omitempty"`
}

func (p *ClusterPayload) Map() map[string]interface{} {
	out := map[string]interface{}{"phase": p.Phase}
	if p.ClusterCount != nil {
		out["cluster_count"] = *p.ClusterCount
	}
	return out
}

// MatchPayload tracks the match job's step while it runs. Completion
// payloads are outcome-specific and built at the call sites.
type MatchPayload struct {
	Phase string `json:"phase"`
	Steps string `json:"steps"`
}

func (p *MatchPayload) Map() map[string]interface{} {
	return map[string]interface{}{
		"phase": p.Phase,
		"steps": p.Steps,
	}
}
