package instance

import "time"

// Outcome is the terminal status of one provisioning task.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeFailed          Outcome = "failed"
	OutcomeValidationError Outcome = "validation_error"
	OutcomeCancelled       Outcome = "cancelled"
)

// Result is the outcome of provisioning one spec. Created exactly once
// per spec by its task and immutable afterwards.
type Result struct {
	Name          string  `json:"name"`
	Outcome       Outcome `json:"status"`
	InstanceID    string  `json:"instance_id,omitempty"`
	PublicIP      string  `json:"public_ip,omitempty"`
	PrivateIP     string  `json:"private_ip,omitempty"`
	Lifecycle     string  `json:"lifecycle"`
	ErrorKind     string  `json:"error_kind,omitempty"`
	Error         string  `json:"error,omitempty"`
	Attempts      int     `json:"attempts"`
	SpotRequestID string  `json:"spot_request_id,omitempty"`

	// Index is the spec's position in the submitted batch. Used to
	// restore input order when aggregating; not part of the persisted
	// record.
	Index int `json:"-"`
}

// Succeeded reports whether the instance was provisioned.
func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// SpotAttempt records one pass through the spot request cycle. Owned
// exclusively by the manager driving a single acquisition; attempts do
// not outlive their batch.
type SpotAttempt struct {
	Number  int
	Delay   time.Duration
	Outcome string
}
