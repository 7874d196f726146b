package cloud

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ec2herd/internal/instance"
)

// FakeClient is an in-memory InstanceClient for tests. Every call is
// recorded, and behavior can be scripted per spec name or instance id.
// The zero value is not usable; construct with NewFakeClient.
type FakeClient struct {
	mu sync.Mutex

	// Scripted behavior. Unscripted calls succeed.
	CreateErr      map[string]error      // spec name -> CreateInstance error
	SpotRequestErr map[string]error      // spec name -> RequestSpotInstance error
	SpotPolls      map[string][]SpotPoll // spec name -> successive poll answers, consumed in order
	RejectAllSpot  bool                  // every poll answers a capacity rejection
	TerminateErr   map[string]error      // instance id -> TerminateInstance error
	CancelErr      error
	CredentialsErr error
	CreateDelay    time.Duration // simulated work inside CreateInstance

	// Recorded calls, in order.
	CreateCalls    []string // spec names
	SpotRequests   []string // spec names
	PollCalls      []string // request ids
	CancelCalls    []string // request ids
	TerminateCalls []string // instance ids
	ValidateCalls  int

	requestSpec map[string]string // request id -> spec name
	requestSeq  int

	inFlight    int
	maxInFlight int
}

// NewFakeClient returns a fake that provisions everything instantly.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		CreateErr:      make(map[string]error),
		SpotRequestErr: make(map[string]error),
		SpotPolls:      make(map[string][]SpotPoll),
		TerminateErr:   make(map[string]error),
		requestSpec:    make(map[string]string),
	}
}

func (f *FakeClient) fakeInstance(name string) *Instance {
	return &Instance{
		ID:        "i-mock-" + name,
		PublicIP:  "198.51.100.10",
		PrivateIP: "10.0.0.10",
		State:     "running",
	}
}

func (f *FakeClient) CreateInstance(ctx context.Context, spec instance.Spec) (*Instance, error) {
	f.mu.Lock()
	f.CreateCalls = append(f.CreateCalls, spec.Name)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.CreateDelay
	err := f.CreateErr[spec.Name]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if err != nil {
		return nil, err
	}
	return f.fakeInstance(spec.Name), nil
}

func (f *FakeClient) RequestSpotInstance(ctx context.Context, spec instance.Spec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.SpotRequests = append(f.SpotRequests, spec.Name)
	if err := f.SpotRequestErr[spec.Name]; err != nil {
		return "", err
	}

	f.requestSeq++
	requestID := fmt.Sprintf("sir-%s-%d", spec.Name, f.requestSeq)
	f.requestSpec[requestID] = spec.Name
	return requestID, nil
}

func (f *FakeClient) PollSpotRequest(ctx context.Context, requestID string) (SpotPoll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.PollCalls = append(f.PollCalls, requestID)
	name := f.requestSpec[requestID]

	if f.RejectAllSpot {
		return SpotPoll{
			State:  SpotRejected,
			Reason: "capacity-not-available: There is no Spot capacity available",
			Kind:   KindCapacity,
		}, nil
	}

	if script := f.SpotPolls[name]; len(script) > 0 {
		next := script[0]
		f.SpotPolls[name] = script[1:]
		if next.State == SpotFulfilled && next.Instance == nil {
			next.Instance = f.fakeInstance(name)
		}
		return next, nil
	}

	return SpotPoll{State: SpotFulfilled, Instance: f.fakeInstance(name)}, nil
}

func (f *FakeClient) CancelSpotRequest(ctx context.Context, requestID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.CancelCalls = append(f.CancelCalls, requestID)
	return f.CancelErr
}

func (f *FakeClient) TerminateInstance(ctx context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.TerminateCalls = append(f.TerminateCalls, instanceID)
	return f.TerminateErr[instanceID]
}

func (f *FakeClient) ValidateCredentials(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ValidateCalls++
	return f.CredentialsErr
}

// MaxInFlight reports the highest number of CreateInstance calls that
// were running at the same time.
func (f *FakeClient) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// APICalls reports the total number of cloud calls made, across all
// operations.
func (f *FakeClient) APICalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.CreateCalls) + len(f.SpotRequests) + len(f.PollCalls) +
		len(f.CancelCalls) + len(f.TerminateCalls) + f.ValidateCalls
}
