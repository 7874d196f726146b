package instance

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Lifecycle values recorded on results.
const (
	LifecycleOnDemand = "on-demand"
	LifecycleSpot     = "spot"
)

// Defaults applied to specs loaded from configuration.
const (
	DefaultVolumeSize        = 8
	DefaultVolumeType        = "gp3"
	DefaultSpotMaxRetries    = 3
	DefaultSpotRetryDelaySec = 30
)

// Spec describes a single instance to provision. One spec yields
// exactly one Result.
type Spec struct {
	Name               string            `json:"name"`
	InstanceType       string            `json:"instance_type"`
	ImageID            string            `json:"image_id"`
	KeyName            string            `json:"key_name"`
	SecurityGroupIDs   []string          `json:"security_group_ids"`
	SubnetID           string            `json:"subnet_id"`
	UserData           string            `json:"user_data,omitempty"`
	Tags               map[string]string `json:"tags,omitempty"`
	VolumeSize         int               `json:"volume_size"`
	VolumeType         string            `json:"volume_type"`
	IAMInstanceProfile string            `json:"iam_instance_profile,omitempty"`

	IsSpot                bool   `json:"spot_instance"`
	SpotMaxPrice          string `json:"spot_max_price,omitempty"`
	SpotMaxRetries        int    `json:"spot_max_retries"`
	SpotRetryDelaySeconds int    `json:"spot_retry_delay"`
}

// Lifecycle returns the lifecycle label for this spec.
func (s Spec) Lifecycle() string {
	if s.IsSpot {
		return LifecycleSpot
	}
	return LifecycleOnDemand
}

// ApplyDefaults fills the optional fields that have documented
// defaults. Required fields (image_id, key_name, subnet_id, security
// groups) are left alone; their absence is a validation error.
func (s *Spec) ApplyDefaults() {
	if s.Name == "" && s.InstanceType != "" {
		s.Name = fmt.Sprintf("%s-%s", s.InstanceType, uuid.NewString()[:8])
	}
	if s.VolumeSize == 0 {
		s.VolumeSize = DefaultVolumeSize
	}
	if s.VolumeType == "" {
		s.VolumeType = DefaultVolumeType
	}
	if s.SpotRetryDelaySeconds == 0 {
		s.SpotRetryDelaySeconds = DefaultSpotRetryDelaySec
	}
	if s.Tags == nil {
		lifecycle := "OnDemand"
		if s.IsSpot {
			lifecycle = "Spot"
		}
		s.Tags = map[string]string{
			"Environment":  "Development",
			"Project":      "AutoProvisioned",
			"InstanceType": lifecycle,
		}
	}
}

// ValidationError reports a spec that must not be sent to the cloud
// API. It names every problem found, not just the first.
type ValidationError struct {
	Name     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid instance spec %q: %s", e.Name, strings.Join(e.Problems, "; "))
}

// Validate checks the invariants a spec must satisfy before a task is
// dispatched. A non-nil return is always a *ValidationError.
func (s Spec) Validate() error {
	var problems []string

	if s.Name == "" {
		problems = append(problems, "name is required")
	}
	if s.InstanceType == "" {
		problems = append(problems, "instance_type is required")
	}
	if s.ImageID == "" {
		problems = append(problems, "image_id is required")
	}
	if s.KeyName == "" {
		problems = append(problems, "key_name is required")
	}
	if len(s.SecurityGroupIDs) == 0 {
		problems = append(problems, "security_group_ids is required")
	}
	if s.SubnetID == "" {
		problems = append(problems, "subnet_id is required")
	}
	if s.SpotMaxRetries < 0 {
		problems = append(problems, "spot_max_retries must not be negative")
	}
	if s.IsSpot && s.SpotRetryDelaySeconds <= 0 {
		problems = append(problems, "spot_retry_delay must be positive")
	}

	if len(problems) > 0 {
		return &ValidationError{Name: s.Name, Problems: problems}
	}
	return nil
}
