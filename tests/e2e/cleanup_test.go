package e2e_test

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"ec2herd/internal/cloud"
	"ec2herd/internal/instance"
	"ec2herd/internal/orchestrator"
	"ec2herd/internal/store"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

var _ = Describe("Run store and cleanup", func() {
	var (
		fake *cloud.FakeClient
		ctx  context.Context
	)

	BeforeEach(func() {
		fake = cloud.NewFakeClient()
		ctx = context.Background()
	})

	// provisionPair runs a two-instance batch and returns its results.
	provisionPair := func() []instance.Result {
		results, err := orchestrator.New(fake, zap.NewNop()).Run(ctx, []instance.Spec{
			onDemandSpec("web-1"),
			onDemandSpec("web-2"),
		}, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(2))
		return results
	}

	It("should persist a run and terminate everything it created", func() {
		results := provisionPair()

		st, err := store.New("file", filepath.Join(GinkgoT().TempDir(), "runs.json"), nil)
		Expect(err).NotTo(HaveOccurred())
		defer st.Close()

		record := store.RunRecord{
			ID:         uuid.NewString(),
			Region:     "us-east-1",
			Workers:    2,
			StartedAt:  time.Now().UTC(),
			FinishedAt: time.Now().UTC(),
			Results:    results,
		}
		Expect(st.SaveRun(ctx, record)).To(Succeed())

		loaded, err := st.LatestRun(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.ID).To(Equal(record.ID))
		Expect(loaded.Results).To(HaveLen(2))

		outcomes := orchestrator.NewCleanupManager(fake, zap.NewNop()).TerminateAll(ctx, loaded.Results)
		Expect(outcomes).To(HaveLen(2))
		for _, outcome := range outcomes {
			Expect(outcome.Terminated).To(BeTrue())
		}
		Expect(fake.TerminateCalls).To(ConsistOf("i-mock-web-1", "i-mock-web-2"))
	})

	It("should keep sweeping when one termination fails", func() {
		results := provisionPair()
		fake.TerminateErr["i-mock-web-1"] = &cloud.APIError{
			Op:   "TerminateInstances",
			Kind: cloud.KindPermissions,
			Err:  errors.New("UnauthorizedOperation"),
		}

		outcomes := orchestrator.NewCleanupManager(fake, zap.NewNop()).TerminateAll(ctx, results)
		Expect(outcomes).To(HaveLen(2))

		Expect(outcomes[0].InstanceID).To(Equal("i-mock-web-1"))
		Expect(outcomes[0].Terminated).To(BeFalse())
		Expect(outcomes[0].Error).To(ContainSubstring("UnauthorizedOperation"))

		Expect(outcomes[1].Terminated).To(BeTrue())
	})

	It("should be idempotent when cleanup runs twice", func() {
		results := provisionPair()
		manager := orchestrator.NewCleanupManager(fake, zap.NewNop())

		for round := 0; round < 2; round++ {
			outcomes := manager.TerminateAll(ctx, results)
			Expect(outcomes).To(HaveLen(2))
			for _, outcome := range outcomes {
				Expect(outcome.Terminated).To(BeTrue())
			}
		}
		Expect(fake.TerminateCalls).To(HaveLen(4))
	})
})
