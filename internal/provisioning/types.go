package provisioning

import "time"

// Status is one line of progress from a run. The last Status of every run
// has Final set and empty Text.
type Status struct {
	RunID string    `json:"run_id"`
	Text  string    `json:"text"`
	Final bool      `json:"final"`
	At    time.Time `json:"at"`
}

// Outcome is delivered exactly once per run. A failed run carries no
// identity; the consumer decides what an unassigned node means.
type Outcome struct {
	RunID    string `json:"run_id"`
	Identity string `json:"identity,omitempty"`
	Success  bool   `json:"success"`
}

// Report is the full record of a finished run, kept for history.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	SerialPort string    `json:"serial_port,omitempty"`
	FQBN       string    `json:"fqbn,omitempty"`
	Staged     bool      `json:"staged"`
	BuildOK    bool      `json:"build_ok"`
	UploadOK   bool      `json:"upload_ok"`
	Identity   string    `json:"identity,omitempty"`
	Success    bool      `json:"success"`
	Failure    string    `json:"failure,omitempty"`
}

// Duration is the wall time of the run.
func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Outcome derives the callback value from the report.
func (r Report) Outcome() Outcome {
	return Outcome{RunID: r.RunID, Identity: r.Identity, Success: r.Success}
}
