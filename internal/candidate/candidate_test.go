package candidate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func testCandidate() *Candidate {
	return &Candidate{
		Fields: Fields{
			What:   "Warming center open at the community hall",
			Where:  "412 Main St",
			When:   "Tonight from 6pm",
			Who:    "County emergency services",
			SoWhat: "Overnight shelter available for displaced residents",
		},
		CreatedBy: "user-1",
	}
}

func TestRepositoryCreateDefaults(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, testCandidate())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID == "" {
		t.Error("expected generated ID")
	}
	if created.Revision != 1 {
		t.Errorf("Revision = %d, want 1", created.Revision)
	}
	if created.ReadinessState != ReadyInReview {
		t.Errorf("ReadinessState = %q, want %q", created.ReadinessState, ReadyInReview)
	}
	if created.RiskTier != TierRoutine {
		t.Errorf("RiskTier = %q, want %q", created.RiskTier, TierRoutine)
	}
}

func TestRepositoryUpdateRevisionConflict(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, testCandidate())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	first := *created
	first.Fields.When = "Tonight from 7pm"
	updated, err := repo.Update(ctx, &first)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Revision != 2 {
		t.Errorf("Revision = %d, want 2", updated.Revision)
	}

	// Second writer still holds revision 1.
	stale := *created
	stale.Fields.Who = "State emergency services"
	if _, err := repo.Update(ctx, &stale); !errors.Is(err, ErrRevisionConflict) {
		t.Errorf("Update() with stale revision error = %v, want ErrRevisionConflict", err)
	}

	got, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Fields.When != "Tonight from 7pm" {
		t.Errorf("When = %q, first writer's update was lost", got.Fields.When)
	}
}

func TestRepositoryCopyOnReturn(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, testCandidate())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	created.Fields.What = "mutated"
	created.Conflicts = append(created.Conflicts, Conflict{ID: "c1"})

	got, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Fields.What == "mutated" || len(got.Conflicts) != 0 {
		t.Error("repository returned a shared reference to stored state")
	}
}

func TestRepositoryListFilter(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	a := testCandidate()
	a.ClusterID = "cluster-1"
	if _, err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	b := testCandidate()
	b.ClusterID = "cluster-2"
	b.RiskTier = TierHighStakes
	created, err := repo.Create(ctx, b)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	now := time.Now().UTC()
	created.PublishedAt = &now
	if _, err := repo.Update(ctx, created); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	byCluster, err := repo.List(ctx, Filter{ClusterID: "cluster-1"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(byCluster) != 1 {
		t.Errorf("List(cluster-1) = %d candidates, want 1", len(byCluster))
	}

	unpublished, err := repo.List(ctx, Filter{Unpublished: true})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(unpublished) != 1 || unpublished[0].ClusterID != "cluster-1" {
		t.Errorf("List(unpublished) returned %d candidates, want only cluster-1", len(unpublished))
	}

	highStakes, err := repo.List(ctx, Filter{Tier: TierHighStakes})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(highStakes) != 1 || highStakes[0].ClusterID != "cluster-2" {
		t.Errorf("List(high_stakes) returned wrong candidates")
	}
}

func TestEffectiveTier(t *testing.T) {
	c := testCandidate()
	c.Revision = 3
	c.RiskTier = TierHighStakes
	c.TierOverride = &TierOverride{
		PreviousTier: TierHighStakes,
		NewTier:      TierElevated,
		Revision:     3,
	}

	if got := c.EffectiveTier(); got != TierElevated {
		t.Errorf("EffectiveTier() = %q, want %q", got, TierElevated)
	}

	// A later revision invalidates the override.
	c.Revision = 4
	if got := c.EffectiveTier(); got != TierHighStakes {
		t.Errorf("EffectiveTier() after revision bump = %q, want %q", got, TierHighStakes)
	}
}

func TestHasUnresolvedConflicts(t *testing.T) {
	c := testCandidate()
	c.Conflicts = []Conflict{
		{ID: "c1", Severity: SeverityLow, Resolved: true},
		{ID: "c2", Severity: SeverityHigh, Resolved: false},
	}

	if !c.HasUnresolvedConflicts() {
		t.Error("HasUnresolvedConflicts() = false, want true")
	}
	if !c.UnresolvedConflictAtLeast(SeverityMedium) {
		t.Error("UnresolvedConflictAtLeast(medium) = false, want true")
	}
	if c.UnresolvedConflictAtLeast(SeverityCritical) {
		t.Error("UnresolvedConflictAtLeast(critical) = true, want false")
	}
}

func TestCombinedText(t *testing.T) {
	c := &Candidate{Fields: Fields{What: "road closed", When: "now"}}
	want := "road closed now"
	if got := c.CombinedText(); got != want {
		t.Errorf("CombinedText() = %q, want %q", got, want)
	}
}

func TestLockerSerializesPerID(t *testing.T) {
	locker := NewLocker()

	var mu sync.Mutex
	events := make([]string, 0, 4)
	record := func(s string) {
		mu.Lock()
		events = append(events, s)
		mu.Unlock()
	}

	release := locker.Lock("a")
	done := make(chan struct{})
	go func() {
		defer close(done)
		unlock := locker.Lock("a")
		record("second acquired")
		unlock()
	}()

	// Different ID must not block.
	unlockB := locker.Lock("b")
	unlockB()

	record("first released")
	release()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] != "first released" {
		t.Errorf("events = %v, want first released before second acquired", events)
	}
}
