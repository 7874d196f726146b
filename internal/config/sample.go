package config

import (
	"fmt"
	"os"
)

const sampleConfig = `# ec2herd sample configuration.
region: us-east-1
max_workers: 5

# Every run is saved here; cleanup and status read it back.
store_backend: file
store_path: provisioning_results.json

# Generate a local RSA keypair and import it under key_name. Instances
# without a key_name of their own use the imported one.
import_key_pair: true
key_name: ec2herd
key_dir: .ec2herd

# image_id is optional: missing images resolve to the current Ubuntu
# LTS AMI for the region. Replace the network placeholders below with
# values from your VPC.
instances:
  - instance_type: t3.micro
    security_group_ids: ["sg-REPLACE"]
    subnet_id: subnet-REPLACE
  - instance_type: t3.small
    name: custom-name
    security_group_ids: ["sg-REPLACE"]
    subnet_id: subnet-REPLACE
  - instance_type: t3.medium
    spot_instance: false
    security_group_ids: ["sg-REPLACE"]
    subnet_id: subnet-REPLACE
`

// WriteSample writes a starter configuration file to path.
func WriteSample(path string) error {
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write sample config: %v", err)
	}
	return nil
}
