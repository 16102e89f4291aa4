package entity

import "time"

// Surface kinds touched by a clear-all.
const (
	SurfaceDurable  = "durable_storage"
	SurfaceSession  = "session_storage"
	SurfaceDatabase = "database"
	SurfaceCache    = "cache_layer"
	SurfaceWorker   = "worker"
)

type ClearOutcome struct {
	Surface string `json:"surface"`
	Target  string `json:"target"`
	Removed bool   `json:"removed"`
	Error   string `json:"error,omitempty"`
}

type ClearReport struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Outcomes   []ClearOutcome `json:"outcomes"`
}

func (r *ClearReport) Add(surface, target string, removed bool, err error) {
	o := ClearOutcome{Surface: surface, Target: target, Removed: removed}
	if err != nil {
		o.Error = err.Error()
	}
	r.Outcomes = append(r.Outcomes, o)
}

func (r *ClearReport) Failed() []ClearOutcome {
	var failed []ClearOutcome
	for _, o := range r.Outcomes {
		if o.Error != "" {
			failed = append(failed, o)
		}
	}
	return failed
}

// OK reports whether every surface was cleared without error.
func (r *ClearReport) OK() bool {
	return len(r.Failed()) == 0
}

type SurfaceStatus struct {
	Surface string   `json:"surface"`
	Items   int      `json:"items"`
	Names   []string `json:"names,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type StatusReport struct {
	Surfaces []SurfaceStatus `json:"surfaces"`
}
