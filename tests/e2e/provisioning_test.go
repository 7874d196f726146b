package e2e_test

import (
	"context"
	"time"

	"ec2herd/internal/cloud"
	"ec2herd/internal/instance"
	"ec2herd/internal/orchestrator"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

// spotSpec returns a valid spot spec with a one-second retry delay so
// backoff waits stay test-sized.
func spotSpec(name string, retries int) instance.Spec {
	return instance.Spec{
		Name:                  name,
		InstanceType:          "t3.micro",
		ImageID:               "ami-12345678",
		KeyName:               "ec2herd",
		SecurityGroupIDs:      []string{"sg-1"},
		SubnetID:              "subnet-1",
		IsSpot:                true,
		SpotMaxRetries:        retries,
		SpotRetryDelaySeconds: 1,
	}
}

func onDemandSpec(name string) instance.Spec {
	spec := spotSpec(name, 0)
	spec.IsSpot = false
	return spec
}

var _ = Describe("Batch provisioning", func() {
	var (
		fake *cloud.FakeClient
		orch *orchestrator.Orchestrator
	)

	BeforeEach(func() {
		fake = cloud.NewFakeClient()
		orch = orchestrator.New(fake, zap.NewNop())
	})

	Context("Mixed batch", func() {
		It("should provision spot and on-demand instances and keep input order", func() {
			// cache-1 gets rejected once, then fulfilled on the retry
			fake.SpotPolls["cache-1"] = []cloud.SpotPoll{
				{State: cloud.SpotRejected, Reason: "price-too-low: bid below current price", Kind: cloud.KindCapacity},
			}

			specs := []instance.Spec{
				spotSpec("web-1", 3),
				onDemandSpec("db-1"),
				{Name: "broken", InstanceType: "t3.micro"},
				spotSpec("cache-1", 3),
			}

			results, err := orch.Run(context.Background(), specs, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(4))

			names := make([]string, len(results))
			for i, res := range results {
				names[i] = res.Name
			}
			Expect(names).To(Equal([]string{"web-1", "db-1", "broken", "cache-1"}))

			Expect(results[0].Outcome).To(Equal(instance.OutcomeSuccess))
			Expect(results[0].Lifecycle).To(Equal("spot"))
			Expect(results[0].Attempts).To(Equal(1))
			Expect(results[0].SpotRequestID).NotTo(BeEmpty())

			Expect(results[1].Outcome).To(Equal(instance.OutcomeSuccess))
			Expect(results[1].InstanceID).To(Equal("i-mock-db-1"))
			Expect(results[1].Lifecycle).To(Equal("on-demand"))

			Expect(results[2].Outcome).To(Equal(instance.OutcomeValidationError))
			Expect(results[2].Error).To(ContainSubstring("image_id is required"))

			Expect(results[3].Outcome).To(Equal(instance.OutcomeSuccess))
			Expect(results[3].Attempts).To(Equal(2))

			// No spot request was left outstanding, so nothing to cancel
			Expect(fake.CancelCalls).To(BeEmpty())
		})
	})

	Context("Spot capacity exhaustion", func() {
		It("should retry with backoff, then cancel the outstanding request", func() {
			fake.RejectAllSpot = true

			results, err := orch.Run(context.Background(), []instance.Spec{spotSpec("stubborn", 1)}, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))

			res := results[0]
			Expect(res.Outcome).To(Equal(instance.OutcomeFailed))
			Expect(res.Attempts).To(Equal(2))
			Expect(res.ErrorKind).To(Equal(string(cloud.KindCapacity)))
			Expect(res.Error).To(ContainSubstring("spot retries exhausted after 2 attempts"))

			Expect(fake.SpotRequests).To(HaveLen(2))
			Expect(fake.CancelCalls).To(HaveLen(1))
		})
	})

	Context("Cancellation", func() {
		It("should stop starting new work once the context is cancelled", func() {
			fake.CreateDelay = 2 * time.Second

			specs := []instance.Spec{
				onDemandSpec("first"),
				onDemandSpec("second"),
				onDemandSpec("third"),
			}

			ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
			defer cancel()

			start := time.Now()
			results, err := orch.Run(ctx, specs, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))

			Expect(results).To(HaveLen(3))
			for _, res := range results {
				Expect(res.Outcome).To(Equal(instance.OutcomeCancelled))
			}

			// Only the in-flight create reached the API; queued specs
			// short-circuited.
			Expect(fake.CreateCalls).To(HaveLen(1))
		})
	})
})
