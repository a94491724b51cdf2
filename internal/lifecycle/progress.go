package lifecycle

import "time"

// Install pipeline stages, in order.
const (
	StageDownloading = "downloading"
	StageExtracting  = "extracting"
	StageConfiguring = "configuring"
)

// InstallProgress is the observable state of the current or most recent
// install. Only the in-flight install mutates it; everyone else gets copies.
type InstallProgress struct {
	State     State     `json:"state"`
	Stage     string    `json:"stage,omitempty"`
	Percent   int       `json:"percent"`
	Version   string    `json:"version,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
	OpID      string    `json:"op_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
