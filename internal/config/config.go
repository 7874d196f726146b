package config

import (
	"fmt"
	"os"
	"strconv"

	"ec2herd/internal/instance"

	"gopkg.in/yaml.v2"
)

// Config contains application configuration
type Config struct {
	// AWS connection parameters
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	// Max number of parallel provisioning workers
	MaxWorkers int `yaml:"max_workers"`

	// Run store settings
	StoreBackend  string   `yaml:"store_backend"` // file or etcd
	StorePath     string   `yaml:"store_path"`
	EtcdEndpoints []string `yaml:"etcd_endpoints"`

	// SSH key import settings
	ImportKeyPair bool   `yaml:"import_key_pair"`
	KeyName       string `yaml:"key_name"`
	KeyDir        string `yaml:"key_dir"`

	// Instances to provision (raw for defaulted deserialization)
	InstancesRaw []RawInstance `yaml:"instances"`
}

// RawInstance mirrors one entry of the instances list. Fields whose
// zero value is a legal setting use pointers so an absent key can fall
// back to its default.
type RawInstance struct {
	InstanceType       string            `yaml:"instance_type"`
	Name               string            `yaml:"name,omitempty"`
	ImageID            string            `yaml:"image_id,omitempty"`
	KeyName            string            `yaml:"key_name,omitempty"`
	SecurityGroupIDs   []string          `yaml:"security_group_ids,omitempty"`
	SubnetID           string            `yaml:"subnet_id,omitempty"`
	UserData           string            `yaml:"user_data,omitempty"`
	Tags               map[string]string `yaml:"tags,omitempty"`
	VolumeSize         int               `yaml:"volume_size,omitempty"`
	VolumeType         string            `yaml:"volume_type,omitempty"`
	IAMInstanceProfile string            `yaml:"iam_instance_profile,omitempty"`

	SpotInstance   *bool  `yaml:"spot_instance,omitempty"` // absent means spot
	SpotMaxPrice   string `yaml:"spot_max_price,omitempty"`
	SpotMaxRetries *int   `yaml:"spot_max_retries,omitempty"`
	SpotRetryDelay int    `yaml:"spot_retry_delay,omitempty"`
}

// ToSpec converts a raw config entry into an instance spec with all
// defaults applied.
func (r RawInstance) ToSpec() instance.Spec {
	spec := instance.Spec{
		Name:               r.Name,
		InstanceType:       r.InstanceType,
		ImageID:            r.ImageID,
		KeyName:            r.KeyName,
		SecurityGroupIDs:   r.SecurityGroupIDs,
		SubnetID:           r.SubnetID,
		UserData:           r.UserData,
		Tags:               r.Tags,
		VolumeSize:         r.VolumeSize,
		VolumeType:         r.VolumeType,
		IAMInstanceProfile: r.IAMInstanceProfile,

		IsSpot:                true,
		SpotMaxPrice:          r.SpotMaxPrice,
		SpotMaxRetries:        instance.DefaultSpotMaxRetries,
		SpotRetryDelaySeconds: r.SpotRetryDelay,
	}
	if r.SpotInstance != nil {
		spec.IsSpot = *r.SpotInstance
	}
	if r.SpotMaxRetries != nil {
		spec.SpotMaxRetries = *r.SpotMaxRetries
	}
	spec.ApplyDefaults()
	return spec
}

// Instances returns the parsed instance specs
func (c *Config) Instances() []instance.Spec {
	specs := make([]instance.Spec, len(c.InstancesRaw))
	for i, raw := range c.InstancesRaw {
		specs[i] = raw.ToSpec()
	}
	return specs
}

// Load loads configuration from YAML file
func Load(path string) (*Config, error) {
	config := &Config{
		Region:        "us-east-1",
		MaxWorkers:    5,
		StoreBackend:  "file",
		StorePath:     "provisioning_results.json",
		ImportKeyPair: true,
		KeyName:       "ec2herd",
		KeyDir:        ".ec2herd",
	}

	// Try to load from YAML file first
	configPath := path
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		configPath = "ec2herd.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		// Load from YAML file
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	} else if path != "" {
		// An explicitly requested file must exist
		return nil, fmt.Errorf("config file %s not found", path)
	}

	// Expand environment variables in string fields
	config.Region = os.ExpandEnv(config.Region)
	config.AccessKeyID = os.ExpandEnv(config.AccessKeyID)
	config.SecretAccessKey = os.ExpandEnv(config.SecretAccessKey)
	config.StorePath = os.ExpandEnv(config.StorePath)
	config.KeyName = os.ExpandEnv(config.KeyName)
	config.KeyDir = os.ExpandEnv(config.KeyDir)
	for i := range config.EtcdEndpoints {
		config.EtcdEndpoints[i] = os.ExpandEnv(config.EtcdEndpoints[i])
	}

	// Expand environment variables in instance entries
	for i := range config.InstancesRaw {
		raw := &config.InstancesRaw[i]
		raw.ImageID = os.ExpandEnv(raw.ImageID)
		raw.KeyName = os.ExpandEnv(raw.KeyName)
		raw.SubnetID = os.ExpandEnv(raw.SubnetID)
		raw.UserData = os.ExpandEnv(raw.UserData)
		for j := range raw.SecurityGroupIDs {
			raw.SecurityGroupIDs[j] = os.ExpandEnv(raw.SecurityGroupIDs[j])
		}
	}

	// Override with environment variables if set
	if region := os.Getenv("AWS_REGION"); region != "" {
		config.Region = region
	}

	if accessKey := os.Getenv("AWS_ACCESS_KEY_ID"); accessKey != "" {
		config.AccessKeyID = accessKey
	}

	if secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY"); secretKey != "" {
		config.SecretAccessKey = secretKey
	}

	if workers := os.Getenv("EC2HERD_WORKERS"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil {
			return nil, fmt.Errorf("invalid EC2HERD_WORKERS value %q: %v", workers, err)
		}
		config.MaxWorkers = n
	}

	if backend := os.Getenv("EC2HERD_STORE_BACKEND"); backend != "" {
		config.StoreBackend = backend
	}

	if storePath := os.Getenv("EC2HERD_STORE_PATH"); storePath != "" {
		config.StorePath = storePath
	}

	if keyDir := os.Getenv("EC2HERD_KEY_DIR"); keyDir != "" {
		config.KeyDir = keyDir
	}

	// Validate required parameters
	if config.Region == "" {
		return nil, fmt.Errorf("region is required (set region in config file or AWS_REGION environment variable)")
	}

	if (config.AccessKeyID == "") != (config.SecretAccessKey == "") {
		return nil, fmt.Errorf("access_key_id and secret_access_key must be set together (config file or AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY environment variables)")
	}

	if config.MaxWorkers < 1 {
		return nil, fmt.Errorf("max_workers must be at least 1 (config file or EC2HERD_WORKERS environment variable)")
	}

	switch config.StoreBackend {
	case "file", "etcd":
	default:
		return nil, fmt.Errorf("store_backend must be file or etcd, got %q", config.StoreBackend)
	}

	if config.StoreBackend == "etcd" && len(config.EtcdEndpoints) == 0 {
		return nil, fmt.Errorf("etcd_endpoints is required when store_backend is etcd")
	}

	return config, nil
}
