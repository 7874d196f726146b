package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// clearEnv pins every environment override to empty so tests only see
// what they set themselves.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_PATH",
		"AWS_REGION",
		"AWS_ACCESS_KEY_ID",
		"AWS_SECRET_ACCESS_KEY",
		"EC2HERD_WORKERS",
		"EC2HERD_STORE_BACKEND",
		"EC2HERD_STORE_PATH",
		"EC2HERD_KEY_DIR",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ec2herd.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Region != "us-east-1" {
		t.Errorf("Region = %q, want us-east-1", cfg.Region)
	}
	if cfg.MaxWorkers != 5 {
		t.Errorf("MaxWorkers = %d, want 5", cfg.MaxWorkers)
	}
	if cfg.StoreBackend != "file" {
		t.Errorf("StoreBackend = %q, want file", cfg.StoreBackend)
	}
	if cfg.StorePath != "provisioning_results.json" {
		t.Errorf("StorePath = %q, want provisioning_results.json", cfg.StorePath)
	}
	if !cfg.ImportKeyPair {
		t.Error("ImportKeyPair should default to true")
	}
	if cfg.KeyName != "ec2herd" {
		t.Errorf("KeyName = %q, want ec2herd", cfg.KeyName)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
region: eu-west-1
max_workers: 2
import_key_pair: false
instances:
  - instance_type: t3.micro
  - instance_type: t3.medium
    name: db-1
    spot_instance: false
    spot_max_retries: 0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Region != "eu-west-1" {
		t.Errorf("Region = %q, want eu-west-1", cfg.Region)
	}
	if cfg.MaxWorkers != 2 {
		t.Errorf("MaxWorkers = %d, want 2", cfg.MaxWorkers)
	}
	if cfg.ImportKeyPair {
		t.Error("import_key_pair: false should override the default")
	}

	specs := cfg.Instances()
	if len(specs) != 2 {
		t.Fatalf("Instances() returned %d specs, want 2", len(specs))
	}

	first := specs[0]
	if !first.IsSpot {
		t.Error("instances without spot_instance should default to spot")
	}
	if first.SpotMaxRetries != 3 {
		t.Errorf("SpotMaxRetries = %d, want default 3", first.SpotMaxRetries)
	}
	if first.SpotRetryDelaySeconds != 30 {
		t.Errorf("SpotRetryDelaySeconds = %d, want default 30", first.SpotRetryDelaySeconds)
	}
	if first.VolumeSize != 8 || first.VolumeType != "gp3" {
		t.Errorf("volume defaults = %d %q, want 8 gp3", first.VolumeSize, first.VolumeType)
	}
	if !strings.HasPrefix(first.Name, "t3.micro-") {
		t.Errorf("generated name = %q, want t3.micro-<uuid> shape", first.Name)
	}

	second := specs[1]
	if second.Name != "db-1" {
		t.Errorf("Name = %q, want db-1", second.Name)
	}
	if second.IsSpot {
		t.Error("spot_instance: false should produce an on-demand spec")
	}
	if second.SpotMaxRetries != 0 {
		t.Errorf("explicit spot_max_retries: 0 was lost, got %d", second.SpotMaxRetries)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "region: us-east-1\nmax_workers: 3\n")
	t.Setenv("AWS_REGION", "us-west-2")
	t.Setenv("EC2HERD_WORKERS", "9")
	t.Setenv("EC2HERD_STORE_PATH", "runs.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Region != "us-west-2" {
		t.Errorf("Region = %q, AWS_REGION should win over the file", cfg.Region)
	}
	if cfg.MaxWorkers != 9 {
		t.Errorf("MaxWorkers = %d, EC2HERD_WORKERS should win over the file", cfg.MaxWorkers)
	}
	if cfg.StorePath != "runs.json" {
		t.Errorf("StorePath = %q, want runs.json", cfg.StorePath)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("EC2HERD_TEST_SUBNET", "subnet-0abc")
	path := writeConfig(t, `
instances:
  - instance_type: t3.micro
    subnet_id: ${EC2HERD_TEST_SUBNET}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.InstancesRaw[0].SubnetID; got != "subnet-0abc" {
		t.Errorf("SubnetID = %q, want expanded subnet-0abc", got)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
		want    string
	}{
		{
			name:    "empty region",
			content: "region: \"\"\n",
			want:    "region is required",
		},
		{
			name:    "zero workers",
			content: "max_workers: 0\n",
			want:    "max_workers",
		},
		{
			name:    "unknown store backend",
			content: "store_backend: redis\n",
			want:    "store_backend",
		},
		{
			name:    "etcd without endpoints",
			content: "store_backend: etcd\n",
			want:    "etcd_endpoints",
		},
		{
			name:    "access key without secret",
			content: "access_key_id: AKIAEXAMPLE\n",
			want:    "must be set together",
		},
		{
			name:    "unparsable workers override",
			content: "",
			env:     map[string]string{"EC2HERD_WORKERS": "lots"},
			want:    "EC2HERD_WORKERS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeConfig(t, tt.content)

			cfg, err := Load(path)
			if err == nil {
				t.Fatalf("Load() expected error containing %q, got config %+v", tt.want, cfg)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %q, want it to contain %q", err, tt.want)
			}
			if cfg != nil {
				t.Error("config should be nil when validation fails")
			}
		})
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("Load() error = %v, want not-found error for explicit path", err)
	}
}

func TestWriteSampleRoundtrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sample.yaml")

	if err := WriteSample(path); err != nil {
		t.Fatalf("WriteSample() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() on sample error = %v", err)
	}

	specs := cfg.Instances()
	if len(specs) != 3 {
		t.Fatalf("sample has %d instances, want 3", len(specs))
	}
	if !specs[0].IsSpot {
		t.Error("first sample instance should default to spot")
	}
	if specs[1].Name != "custom-name" {
		t.Errorf("second sample instance name = %q, want custom-name", specs[1].Name)
	}
	if specs[2].IsSpot {
		t.Error("third sample instance should be on-demand")
	}
}
