package leader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ship-commander/autoaccept/internal/kvstore"
)

type fakeStore struct {
	lease   Lease
	found   bool
	loadErr error
	saves   int
}

func (f *fakeStore) Load(context.Context) (Lease, bool, error) {
	return f.lease, f.found, f.loadErr
}

func (f *fakeStore) Save(_ context.Context, lease Lease) error {
	f.lease = lease
	f.found = true
	f.saves++
	return nil
}

func TestFirstTickAcquiresVacantLease(t *testing.T) {
	store := &fakeStore{}
	elector, err := NewElector(store, "self", Config{})
	if err != nil {
		t.Fatalf("new elector: %v", err)
	}

	decision, err := elector.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if decision.Role != RoleLeader || !decision.Changed {
		t.Fatalf("decision = %+v, want changed leader", decision)
	}
	if store.lease.OwnerID != "self" {
		t.Fatalf("lease owner = %q, want self", store.lease.OwnerID)
	}

	decision, err = elector.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if decision.Changed {
		t.Fatalf("repeated leader tick must not report a change")
	}
}

func TestStandbyWhileForeignHeartbeatIsFresh(t *testing.T) {
	now := time.Date(2026, 1, 4, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{lease: Lease{OwnerID: "other", LastHeartbeat: now.Add(-5 * time.Second)}, found: true}
	elector, err := NewElector(store, "self", Config{})
	if err != nil {
		t.Fatalf("new elector: %v", err)
	}
	elector.now = func() time.Time { return now }

	decision, err := elector.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if decision.Role != RoleStandby || decision.Holder != "other" {
		t.Fatalf("decision = %+v, want standby behind other", decision)
	}
	if store.saves != 0 {
		t.Fatalf("standby must not write the lease")
	}
}

func TestTakeoverAfterStaleness(t *testing.T) {
	now := time.Date(2026, 1, 4, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{lease: Lease{OwnerID: "A", LastHeartbeat: now}, found: true}
	elector, err := NewElector(store, "B", Config{Staleness: 15 * time.Second})
	if err != nil {
		t.Fatalf("new elector: %v", err)
	}
	elector.now = func() time.Time { return now.Add(10 * time.Second) }
	if decision, _ := elector.Tick(context.Background()); decision.Role != RoleStandby {
		t.Fatalf("role = %s, want standby inside window", decision.Role)
	}

	elector.now = func() time.Time { return now.Add(16 * time.Second) }
	decision, err := elector.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if decision.Role != RoleLeader || !decision.Changed {
		t.Fatalf("decision = %+v, want changed leader after staleness", decision)
	}
	if store.lease.OwnerID != "B" {
		t.Fatalf("lease owner = %q, want B", store.lease.OwnerID)
	}
}

func TestLoadErrorKeepsRole(t *testing.T) {
	store := &fakeStore{}
	elector, err := NewElector(store, "self", Config{})
	if err != nil {
		t.Fatalf("new elector: %v", err)
	}
	if _, err := elector.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	store.loadErr = errors.New("database is locked")
	decision, err := elector.Tick(context.Background())
	if err == nil {
		t.Fatalf("expected load error")
	}
	if decision.Role != RoleLeader || decision.Changed {
		t.Fatalf("decision = %+v, want unchanged leader", decision)
	}
}

func TestTwoElectorsShareKVStore(t *testing.T) {
	kv := kvstore.NewMemory()
	storeA, err := NewKVStore(kv, "cursor-instance-lock")
	if err != nil {
		t.Fatalf("new kv store: %v", err)
	}
	storeB, _ := NewKVStore(kv, "cursor-instance-lock")

	now := time.Date(2026, 1, 4, 10, 0, 0, 0, time.UTC)
	a, _ := NewElector(storeA, "A", Config{})
	b, _ := NewElector(storeB, "B", Config{})
	a.now = func() time.Time { return now }
	b.now = func() time.Time { return now.Add(time.Second) }

	if decision, _ := a.Tick(context.Background()); decision.Role != RoleLeader {
		t.Fatalf("A role = %s, want leader", decision.Role)
	}
	if decision, _ := b.Tick(context.Background()); decision.Role != RoleStandby {
		t.Fatalf("B role = %s, want standby", decision.Role)
	}

	b.now = func() time.Time { return now.Add(20 * time.Second) }
	if decision, _ := b.Tick(context.Background()); decision.Role != RoleLeader {
		t.Fatalf("B role = %s, want leader after A went silent", decision.Role)
	}
	a.now = func() time.Time { return now.Add(21 * time.Second) }
	decision, _ := a.Tick(context.Background())
	if decision.Role != RoleStandby || !decision.Changed {
		t.Fatalf("A decision = %+v, want changed standby", decision)
	}
}
