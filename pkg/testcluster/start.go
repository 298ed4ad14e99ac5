package testcluster

import (
	"context"
	"testing"
)

// Start sets up a harness for the test and tears it down when the test and its subtests finish.
// A setup failure fails the test immediately.
func Start(t testing.TB, cfg HarnessConfig, opts ...Option) *Harness {
	t.Helper()
	h := New(cfg, opts...)
	if err := h.SetUp(context.Background()); err != nil {
		t.Fatalf("failed to set up test cluster: %v", err)
	}
	t.Cleanup(func() {
		if err := h.TearDown(context.Background()); err != nil {
			t.Errorf("failed to tear down test cluster: %v", err)
		}
	})
	return h
}
