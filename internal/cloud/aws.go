package cloud

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"sync"
	"time"

	"ec2herd/internal/instance"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"go.uber.org/zap"
)

// createdByTag marks every resource this tool creates.
const createdByTag = "ec2herd"

// rootDeviceName is where the encrypted boot volume is attached.
const rootDeviceName = "/dev/sda1"

// ec2API is the subset of the EC2 API the client uses.
type ec2API interface {
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	RequestSpotInstances(ctx context.Context, params *ec2.RequestSpotInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RequestSpotInstancesOutput, error)
	DescribeSpotInstanceRequests(ctx context.Context, params *ec2.DescribeSpotInstanceRequestsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSpotInstanceRequestsOutput, error)
	CancelSpotInstanceRequests(ctx context.Context, params *ec2.CancelSpotInstanceRequestsInput, optFns ...func(*ec2.Options)) (*ec2.CancelSpotInstanceRequestsOutput, error)
	DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	ImportKeyPair(ctx context.Context, params *ec2.ImportKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.ImportKeyPairOutput, error)
}

// EC2Client implements InstanceClient against AWS EC2.
type EC2Client struct {
	api    ec2API
	log    *zap.Logger
	region string

	// describe-instances polling until the instance is running
	pollInterval time.Duration
	pollAttempts int

	// outstanding spot requests, kept so the instance and its volumes
	// can be tagged after fulfillment (spot launch specifications do
	// not carry tag specifications)
	mu          sync.Mutex
	pendingSpot map[string]instance.Spec
}

// NewEC2Client creates an EC2 client for the region. When accessKey
// and secretKey are empty the default credential chain is used.
func NewEC2Client(ctx context.Context, log *zap.Logger, region, accessKey, secretKey string) (*EC2Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &EC2Client{
		api:          ec2.NewFromConfig(cfg),
		log:          log,
		region:       region,
		pollInterval: 5 * time.Second,
		pollAttempts: 60,
		pendingSpot:  make(map[string]instance.Spec),
	}, nil
}

// CreateInstance launches one on-demand instance and waits for it to
// be running.
func (c *EC2Client) CreateInstance(ctx context.Context, spec instance.Spec) (*Instance, error) {
	input := &ec2.RunInstancesInput{
		ImageId:          aws.String(spec.ImageID),
		InstanceType:     types.InstanceType(spec.InstanceType),
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(1),
		KeyName:          aws.String(spec.KeyName),
		SecurityGroupIds: spec.SecurityGroupIDs,
		SubnetId:         aws.String(spec.SubnetID),
		BlockDeviceMappings: []types.BlockDeviceMapping{
			ebsMapping(spec),
		},
		TagSpecifications: []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags:         buildTags(spec),
			},
			{
				ResourceType: types.ResourceTypeVolume,
				Tags:         buildTags(spec),
			},
		},
	}
	if spec.UserData != "" {
		input.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(spec.UserData)))
	}
	if spec.IAMInstanceProfile != "" {
		input.IamInstanceProfile = &types.IamInstanceProfileSpecification{
			Name: aws.String(spec.IAMInstanceProfile),
		}
	}

	output, err := c.api.RunInstances(ctx, input)
	if err != nil {
		return nil, wrapAPIError("run instances", err)
	}

	instanceID := aws.ToString(output.Instances[0].InstanceId)
	return c.waitRunning(ctx, instanceID)
}

// RequestSpotInstance places a one-time spot request. The spec is
// remembered until the request resolves so the instance can be tagged
// on fulfillment.
func (c *EC2Client) RequestSpotInstance(ctx context.Context, spec instance.Spec) (string, error) {
	launchSpec := &types.RequestSpotLaunchSpecification{
		ImageId:          aws.String(spec.ImageID),
		InstanceType:     types.InstanceType(spec.InstanceType),
		KeyName:          aws.String(spec.KeyName),
		SecurityGroupIds: spec.SecurityGroupIDs,
		SubnetId:         aws.String(spec.SubnetID),
		BlockDeviceMappings: []types.BlockDeviceMapping{
			ebsMapping(spec),
		},
	}
	if spec.UserData != "" {
		launchSpec.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(spec.UserData)))
	}
	if spec.IAMInstanceProfile != "" {
		launchSpec.IamInstanceProfile = &types.IamInstanceProfileSpecification{
			Name: aws.String(spec.IAMInstanceProfile),
		}
	}

	input := &ec2.RequestSpotInstancesInput{
		InstanceCount:       aws.Int32(1),
		Type:                types.SpotInstanceTypeOneTime,
		LaunchSpecification: launchSpec,
	}
	if spec.SpotMaxPrice != "" {
		input.SpotPrice = aws.String(spec.SpotMaxPrice)
	}

	output, err := c.api.RequestSpotInstances(ctx, input)
	if err != nil {
		return "", wrapAPIError("request spot instance", err)
	}

	requestID := aws.ToString(output.SpotInstanceRequests[0].SpotInstanceRequestId)

	c.mu.Lock()
	c.pendingSpot[requestID] = spec
	c.mu.Unlock()

	return requestID, nil
}

// Spot request status codes that resolve the request. Everything not
// listed here and not a success code means the request is still open.
var spotFailureCodes = map[string]ErrorKind{
	"capacity-not-available":      KindCapacity,
	"capacity-oversubscribed":     KindCapacity,
	"price-too-low":               KindCapacity,
	"not-scheduled-yet":           KindCapacity,
	"launch-group-constraint":     KindCapacity,
	"az-group-constraint":         KindCapacity,
	"placement-group-constraint":  KindCapacity,
	"constraint-not-fulfillable":  KindCapacity,
	"schedule-expired":            KindUnknown,
	"canceled-before-fulfillment": KindUnknown,
	"bad-parameters":              KindUnknown,
	"system-error":                KindUnknown,
}

// PollSpotRequest reports the state of a spot request. On fulfillment
// it waits for the instance to be running, tags it, and returns the
// instance details.
func (c *EC2Client) PollSpotRequest(ctx context.Context, requestID string) (SpotPoll, error) {
	output, err := c.api.DescribeSpotInstanceRequests(ctx, &ec2.DescribeSpotInstanceRequestsInput{
		SpotInstanceRequestIds: []string{requestID},
	})
	if err != nil {
		return SpotPoll{}, wrapAPIError("describe spot request", err)
	}
	if len(output.SpotInstanceRequests) == 0 {
		return SpotPoll{}, wrapAPIError("describe spot request",
			fmt.Errorf("spot request %s not found", requestID))
	}

	req := output.SpotInstanceRequests[0]
	var code, message string
	if req.Status != nil {
		code = aws.ToString(req.Status.Code)
		message = aws.ToString(req.Status.Message)
	}

	switch {
	case code == "fulfilled" || code == "request-canceled-and-instance-running":
		instanceID := aws.ToString(req.InstanceId)
		if instanceID == "" {
			// Marked fulfilled but the instance id is not visible yet.
			return SpotPoll{State: SpotPending, Reason: code}, nil
		}
		inst, err := c.waitRunning(ctx, instanceID)
		if err != nil {
			return SpotPoll{}, err
		}
		c.tagFulfilledSpot(ctx, requestID, instanceID)
		return SpotPoll{State: SpotFulfilled, Instance: inst}, nil

	case spotFailureCodes[code] != "":
		reason := code
		if message != "" {
			reason = fmt.Sprintf("%s: %s", code, message)
		}
		return SpotPoll{State: SpotRejected, Reason: reason, Kind: spotFailureCodes[code]}, nil

	case req.State == types.SpotInstanceStateFailed || req.State == types.SpotInstanceStateCancelled:
		reason := string(req.State)
		if message != "" {
			reason = fmt.Sprintf("%s: %s", reason, message)
		}
		return SpotPoll{State: SpotRejected, Reason: reason, Kind: KindUnknown}, nil

	default:
		return SpotPoll{State: SpotPending, Reason: code}, nil
	}
}

// CancelSpotRequest cancels an outstanding spot request. Cancelling a
// request that already resolved or no longer exists is a success.
func (c *EC2Client) CancelSpotRequest(ctx context.Context, requestID string) error {
	c.mu.Lock()
	delete(c.pendingSpot, requestID)
	c.mu.Unlock()

	_, err := c.api.CancelSpotInstanceRequests(ctx, &ec2.CancelSpotInstanceRequestsInput{
		SpotInstanceRequestIds: []string{requestID},
	})
	if err != nil {
		if errorCodeIs(err, "InvalidSpotInstanceRequestID.NotFound") {
			return nil
		}
		return wrapAPIError("cancel spot request", err)
	}
	return nil
}

// TerminateInstance terminates an instance. Unknown and already
// terminated instance ids are a success.
func (c *EC2Client) TerminateInstance(ctx context.Context, instanceID string) error {
	_, err := c.api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		if errorCodeIs(err, "InvalidInstanceID.NotFound", "IncorrectInstanceState") {
			return nil
		}
		return wrapAPIError("terminate instance", err)
	}
	return nil
}

// ValidateCredentials verifies API access with a cheap read call.
func (c *EC2Client) ValidateCredentials(ctx context.Context) error {
	_, err := c.api.DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return wrapAPIError("describe regions", err)
	}
	return nil
}

// EnsureKeyPair imports a public key under the given name. Importing a
// key that already exists is a success.
func (c *EC2Client) EnsureKeyPair(ctx context.Context, name string, publicKey []byte) error {
	_, err := c.api.ImportKeyPair(ctx, &ec2.ImportKeyPairInput{
		KeyName:           aws.String(name),
		PublicKeyMaterial: publicKey,
	})
	if err != nil {
		if errorCodeIs(err, "InvalidKeyPair.Duplicate") {
			return nil
		}
		return wrapAPIError("import key pair", err)
	}
	return nil
}

// waitRunning polls the instance until it reaches the running state.
func (c *EC2Client) waitRunning(ctx context.Context, instanceID string) (*Instance, error) {
	for i := 0; i < c.pollAttempts; i++ {
		desc, err := c.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{instanceID},
		})
		if err != nil {
			return nil, wrapAPIError("describe instance", err)
		}

		if len(desc.Reservations) > 0 && len(desc.Reservations[0].Instances) > 0 {
			inst := desc.Reservations[0].Instances[0]
			if inst.State != nil && inst.State.Name == types.InstanceStateNameRunning {
				return &Instance{
					ID:        aws.ToString(inst.InstanceId),
					PublicIP:  aws.ToString(inst.PublicIpAddress),
					PrivateIP: aws.ToString(inst.PrivateIpAddress),
					State:     string(inst.State.Name),
				}, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}

	return nil, fmt.Errorf("timed out waiting for instance %s to be running", instanceID)
}

// tagFulfilledSpot tags the instance and its volumes for a fulfilled
// spot request. Tagging is best effort; the instance is already up.
func (c *EC2Client) tagFulfilledSpot(ctx context.Context, requestID, instanceID string) {
	c.mu.Lock()
	spec, ok := c.pendingSpot[requestID]
	delete(c.pendingSpot, requestID)
	c.mu.Unlock()
	if !ok {
		return
	}

	resources := []string{instanceID}
	desc, err := c.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err == nil && len(desc.Reservations) > 0 && len(desc.Reservations[0].Instances) > 0 {
		for _, bdm := range desc.Reservations[0].Instances[0].BlockDeviceMappings {
			if bdm.Ebs != nil && bdm.Ebs.VolumeId != nil {
				resources = append(resources, aws.ToString(bdm.Ebs.VolumeId))
			}
		}
	}

	if _, err := c.api.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: resources,
		Tags:      buildTags(spec),
	}); err != nil {
		c.log.Warn("failed to tag fulfilled spot instance",
			zap.String("instance_id", instanceID),
			zap.Error(err))
	}
}

// ebsMapping builds the encrypted root volume mapping for a spec.
func ebsMapping(spec instance.Spec) types.BlockDeviceMapping {
	return types.BlockDeviceMapping{
		DeviceName: aws.String(rootDeviceName),
		Ebs: &types.EbsBlockDevice{
			VolumeSize:          aws.Int32(int32(spec.VolumeSize)),
			VolumeType:          types.VolumeType(spec.VolumeType),
			Encrypted:           aws.Bool(true),
			DeleteOnTermination: aws.Bool(true),
		},
	}
}

// buildTags combines the standard tags with the spec's own. Spec tags
// never override the standard ones.
func buildTags(spec instance.Spec) []types.Tag {
	tags := []types.Tag{
		{Key: aws.String("Name"), Value: aws.String(spec.Name)},
		{Key: aws.String("CreatedBy"), Value: aws.String(createdByTag)},
		{Key: aws.String("CreationDate"), Value: aws.String(time.Now().Format("2006-01-02"))},
	}

	reserved := map[string]bool{"Name": true, "CreatedBy": true, "CreationDate": true}
	keys := make([]string, 0, len(spec.Tags))
	for k := range spec.Tags {
		if !reserved[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		tags = append(tags, types.Tag{Key: aws.String(k), Value: aws.String(spec.Tags[k])})
	}
	return tags
}
