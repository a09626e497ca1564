package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/weavedata/weave/internal/apierror"
	"github.com/weavedata/weave/internal/query"
	"github.com/weavedata/weave/model"
)

// MemoryDatasource is the in-memory store. It models exclusivity with the
// same lease records the Postgres store persists, rather than relying on
// its mutex, so its behavior under concurrent workers matches a networked
// backend exactly. Used as the default store in tests and single-process
// deployments without Postgres.
type MemoryDatasource struct {
	mu            sync.Mutex
	negotiations  map[string]*model.Negotiation
	agreements    map[string]*model.ContractAgreement
	leases        map[string]model.Lease
	ownerID       string
	leaseDuration time.Duration
	clock         model.Clock
}

// NewMemoryDatasource creates an empty in-memory store with its own lease
// owner identity.
func NewMemoryDatasource(opts StoreOptions) *MemoryDatasource {
	opts = opts.withDefaults()
	return &MemoryDatasource{
		negotiations:  make(map[string]*model.Negotiation),
		agreements:    make(map[string]*model.ContractAgreement),
		leases:        make(map[string]model.Lease),
		ownerID:       opts.OwnerID,
		leaseDuration: opts.LeaseDuration,
		clock:         opts.Clock,
	}
}

func (m *MemoryDatasource) SaveNegotiation(_ context.Context, n *model.Negotiation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lease, held := m.leases[n.NegotiationID]; held {
		if lease.OwnerID != m.ownerID && !lease.Expired(m.clock.Now()) {
			return apierror.NewAPIError(apierror.ErrConflict,
				fmt.Sprintf("Negotiation '%s' is leased by another owner", n.NegotiationID), nil)
		}
		delete(m.leases, n.NegotiationID)
	}

	stored := n.Copy()
	stored.SetClock(m.clock)
	m.negotiations[n.NegotiationID] = stored
	if stored.ContractAgreement != nil {
		if _, exists := m.agreements[stored.ContractAgreement.AgreementID]; !exists {
			m.agreements[stored.ContractAgreement.AgreementID] = stored.ContractAgreement.Copy()
		}
	}
	return nil
}

func (m *MemoryDatasource) GetNegotiation(_ context.Context, id string) (*model.Negotiation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.negotiations[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Negotiation with ID '%s' not found", id), nil)
	}
	return n.Copy(), nil
}

func (m *MemoryDatasource) GetNegotiationByCorrelationID(_ context.Context, correlationID string) (*model.Negotiation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, n := range m.negotiations {
		if n.CorrelationID == correlationID {
			return n.Copy(), nil
		}
	}
	return nil, apierror.NewAPIError(apierror.ErrNotFound,
		fmt.Sprintf("Negotiation with correlation ID '%s' not found", correlationID), nil)
}

func (m *MemoryDatasource) NextNegotiationsForState(_ context.Context, state model.NegotiationState, batchSize int) ([]*model.Negotiation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var candidates []*model.Negotiation
	for _, n := range m.negotiations {
		if n.State != state {
			continue
		}
		if lease, held := m.leases[n.NegotiationID]; held && !lease.Expired(now) {
			continue
		}
		candidates = append(candidates, n)
	}

	// Oldest first; id as deterministic tie-break for clocks with coarse
	// resolution.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].StateTimestamp.Equal(candidates[j].StateTimestamp) {
			return candidates[i].NegotiationID < candidates[j].NegotiationID
		}
		return candidates[i].StateTimestamp.Before(candidates[j].StateTimestamp)
	})
	if len(candidates) > batchSize {
		candidates = candidates[:batchSize]
	}

	leased := make([]*model.Negotiation, 0, len(candidates))
	for _, n := range candidates {
		m.leases[n.NegotiationID] = model.Lease{
			OwnerID:  m.ownerID,
			LeasedAt: now,
			Duration: m.leaseDuration,
		}
		leased = append(leased, n.Copy())
	}
	return leased, nil
}

func (m *MemoryDatasource) DeleteNegotiation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.negotiations[id]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Negotiation with ID '%s' not found", id), nil)
	}
	if !n.State.IsDeletable() {
		return apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Cannot delete negotiation '%s' in state %s", id, n.State), nil)
	}
	delete(m.negotiations, id)
	delete(m.leases, id)
	return nil
}

func (m *MemoryDatasource) QueryNegotiations(_ context.Context, spec query.Spec) ([]*model.Negotiation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*model.Negotiation, 0, len(m.negotiations))
	for _, n := range m.negotiations {
		all = append(all, n)
	}
	// Stable base order before filters and optional sort are applied.
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].NegotiationID < all[j].NegotiationID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	matched := query.Apply(all, spec, negotiationField)
	out := make([]*model.Negotiation, 0, len(matched))
	for _, n := range matched {
		out = append(out, n.Copy())
	}
	return out, nil
}

func (m *MemoryDatasource) GetAgreement(_ context.Context, id string) (*model.ContractAgreement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agreements[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Agreement with ID '%s' not found", id), nil)
	}
	return a.Copy(), nil
}

func (m *MemoryDatasource) QueryAgreements(_ context.Context, spec query.Spec) ([]*model.ContractAgreement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*model.ContractAgreement, 0, len(m.agreements))
	for _, a := range m.agreements {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].ContractSigning.Equal(all[j].ContractSigning) {
			return all[i].AgreementID < all[j].AgreementID
		}
		return all[i].ContractSigning.Before(all[j].ContractSigning)
	})

	matched := query.Apply(all, spec, agreementField)
	out := make([]*model.ContractAgreement, 0, len(matched))
	for _, a := range matched {
		out = append(out, a.Copy())
	}
	return out, nil
}
