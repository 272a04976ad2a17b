package version_test

import (
	"context"
	"testing"
	"time"

	"github.com/amanindex/coreengine/internal/model"
	"github.com/amanindex/coreengine/internal/version"
)

func newStore(t *testing.T) *version.Store {
	t.Helper()
	s, err := version.NewStore("")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_CreateCompleteAndGetLatest(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	v, err := s.CreateVersion(ctx, "repo1", "commitA")
	if err != nil {
		t.Fatalf("create version: %v", err)
	}
	if err := s.CompleteVersion(ctx, "repo1", v.VersionID, 42, 5*time.Second); err != nil {
		t.Fatalf("complete version: %v", err)
	}

	latest, err := s.GetLatestVersion(ctx, "repo1")
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if latest == nil || latest.Status != model.VersionCompleted || latest.FileCount != 42 {
		t.Fatalf("unexpected latest version: %+v", latest)
	}
}

func TestStore_GetLatestIgnoresFailed(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	v1, _ := s.CreateVersion(ctx, "repo1", "commitA")
	_ = s.CompleteVersion(ctx, "repo1", v1.VersionID, 1, time.Second)

	v2, _ := s.CreateVersion(ctx, "repo1", "commitB")
	if err := s.FailVersion(ctx, "repo1", v2.VersionID, nil); err != nil {
		t.Fatalf("fail version: %v", err)
	}

	latest, err := s.GetLatestVersion(ctx, "repo1")
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if latest.VersionID != v1.VersionID {
		t.Fatalf("expected latest completed version %d, got %d", v1.VersionID, latest.VersionID)
	}
}

// Scenario 6 from spec.md §8: an index older than max_age_minutes with a
// matching commit is invalid with an "Index too old" reason. MaxAgeMinutes
// is set to 0 here so the age accrued since CompleteVersion (even a few
// milliseconds) already exceeds the policy, standing in for the spec
// scenario's 2h-old-vs-60m-max without needing to fabricate a past
// indexed_at.
func TestChecker_StaleByAge(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	v, _ := s.CreateVersion(ctx, "repo1", "commitA")
	_ = s.CompleteVersion(ctx, "repo1", v.VersionID, 10, time.Second)
	time.Sleep(5 * time.Millisecond)

	checker := version.NewChecker(s, version.StalenessPolicy{MaxAgeMinutes: 0, AllowCommitMismatch: false})
	valid, reason, got, err := checker.CheckVersion(ctx, "repo1", "commitA", 0)
	if err != nil {
		t.Fatalf("check version: %v", err)
	}
	if valid {
		t.Fatalf("expected stale-by-age version to be invalid")
	}
	if got == nil || got.VersionID != v.VersionID {
		t.Fatalf("expected returned version %d, got %+v", v.VersionID, got)
	}
	if reason == "" {
		t.Fatalf("expected a reason string")
	}
}

func TestChecker_CommitMismatch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	v, _ := s.CreateVersion(ctx, "repo1", "commitA")
	_ = s.CompleteVersion(ctx, "repo1", v.VersionID, 1, time.Second)

	checker := version.NewChecker(s, version.DefaultStalenessPolicy())
	valid, _, _, err := checker.CheckVersion(ctx, "repo1", "commitB", 0)
	if err != nil {
		t.Fatalf("check version: %v", err)
	}
	if valid {
		t.Fatalf("expected commit mismatch to be invalid by default")
	}
}

func TestMiddleware_TriggersAutoRebuildWhenStale(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	v, _ := s.CreateVersion(ctx, "repo1", "commitA")
	_ = s.CompleteVersion(ctx, "repo1", v.VersionID, 1, time.Second)
	time.Sleep(5 * time.Millisecond)

	checker := version.NewChecker(s, version.StalenessPolicy{MaxAgeMinutes: 0, AllowCommitMismatch: false})
	rebuilt := false
	mw := version.NewMiddleware(checker, nil, nil, func(ctx context.Context, repoID string) error {
		rebuilt = true
		return nil
	})

	res, err := mw.CheckBeforeRequest(ctx, "repo1", "commitA")
	if err != nil {
		t.Fatalf("check before request: %v", err)
	}
	if res.IsValid {
		t.Fatalf("expected invalid result")
	}
	if !res.AutoReindexTriggered || !rebuilt {
		t.Fatalf("expected auto-rebuild to be triggered, got %+v", res)
	}
}
