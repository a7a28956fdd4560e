// Package leader elects one host process to drive automation using a
// heartbeat lease stored in the shared key/value state.
package leader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ship-commander/autoaccept/internal/kvstore"
)

const (
	// DefaultStaleness is how long a lease stays valid without a heartbeat.
	DefaultStaleness = 15 * time.Second
)

// Lease is the persisted leader record.
type Lease struct {
	OwnerID       string    `json:"ownerId"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// Role is this process's current election outcome.
type Role string

const (
	RoleUnknown Role = "unknown"
	RoleLeader  Role = "leader"
	RoleStandby Role = "standby"
)

// Decision is the result of one election tick.
type Decision struct {
	Role    Role
	Changed bool
	Holder  string
}

// Store persists the lease.
type Store interface {
	Load(ctx context.Context) (Lease, bool, error)
	Save(ctx context.Context, lease Lease) error
}

// Config controls elector behavior.
type Config struct {
	Staleness time.Duration
}

// Elector runs the lease protocol for one process.
type Elector struct {
	store     Store
	selfID    string
	staleness time.Duration
	now       func() time.Time
	tracer    trace.Tracer

	mu   sync.Mutex
	role Role
}

// NewElector constructs an elector for selfID.
func NewElector(store Store, selfID string, cfg Config) (*Elector, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	selfID = strings.TrimSpace(selfID)
	if selfID == "" {
		return nil, errors.New("self id must not be empty")
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = DefaultStaleness
	}
	return &Elector{
		store:     store,
		selfID:    selfID,
		staleness: cfg.Staleness,
		now:       time.Now,
		tracer:    otel.Tracer("autoaccept/leader"),
		role:      RoleUnknown,
	}, nil
}

// SelfID returns the id this elector writes into the lease.
func (e *Elector) SelfID() string {
	if e == nil {
		return ""
	}
	return e.selfID
}

// Role returns the last decided role.
func (e *Elector) Role() Role {
	if e == nil {
		return RoleUnknown
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

// Tick runs one election round. A foreign lease with a fresh heartbeat puts
// this process in standby; otherwise it writes its own heartbeat and leads.
// On a store error the previous role is kept.
func (e *Elector) Tick(ctx context.Context) (Decision, error) {
	if e == nil {
		return Decision{Role: RoleUnknown}, errors.New("elector is nil")
	}
	ctx, span := e.tracer.Start(ctx, "leader.tick")
	defer span.End()

	lease, found, err := e.store.Load(ctx)
	if err != nil {
		return Decision{Role: e.Role()}, fmt.Errorf("load lease: %w", err)
	}

	now := e.now().UTC()
	next := RoleLeader
	holder := e.selfID
	if found && lease.OwnerID != "" && lease.OwnerID != e.selfID && now.Sub(lease.LastHeartbeat) < e.staleness {
		next = RoleStandby
		holder = lease.OwnerID
	}

	if next == RoleLeader {
		if err := e.store.Save(ctx, Lease{OwnerID: e.selfID, LastHeartbeat: now}); err != nil {
			return Decision{Role: e.Role()}, fmt.Errorf("save lease: %w", err)
		}
	}

	e.mu.Lock()
	changed := e.role != next
	e.role = next
	e.mu.Unlock()

	span.SetAttributes(attribute.String("leader.role", string(next)), attribute.String("leader.holder", holder))
	return Decision{Role: next, Changed: changed, Holder: holder}, nil
}

// KVStore stores the lease as one JSON record under a key.
type KVStore struct {
	kv  kvstore.KV
	key string
}

// NewKVStore constructs a lease store over kv at key.
func NewKVStore(kv kvstore.KV, key string) (*KVStore, error) {
	if kv == nil {
		return nil, errors.New("kv store is required")
	}
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("lease key must not be empty")
	}
	return &KVStore{kv: kv, key: key}, nil
}

// Load implements Store.
func (s *KVStore) Load(ctx context.Context) (Lease, bool, error) {
	var lease Lease
	found, err := s.kv.Get(ctx, s.key, &lease)
	if err != nil {
		var syntax *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntax) || errors.As(err, &typeErr) {
			return Lease{}, false, nil
		}
		return Lease{}, false, err
	}
	return lease, found, nil
}

// Save implements Store.
func (s *KVStore) Save(ctx context.Context, lease Lease) error {
	return s.kv.Set(ctx, s.key, lease)
}
