package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() *FixedClock {
	return &FixedClock{Time: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestNewNegotiationStartsUnsaved(t *testing.T) {
	clock := fixedClock()
	n := NewNegotiation(ConsumerNegotiation, clock)

	assert.Contains(t, n.NegotiationID, "neg_")
	assert.Equal(t, StateUnsaved, n.State)
	assert.Equal(t, 0, n.StateCount)
	assert.Equal(t, clock.Time, n.CreatedAt)
}

func TestTransitionSetsCountAndTimestamp(t *testing.T) {
	clock := fixedClock()
	n := NewNegotiation(ConsumerNegotiation, clock)

	require.NoError(t, n.TransitionRequesting())
	assert.Equal(t, StateRequesting, n.State)
	assert.Equal(t, 1, n.StateCount)
	assert.Equal(t, clock.Time, n.StateTimestamp)

	clock.Advance(time.Second)
	require.NoError(t, n.TransitionRequested())
	assert.Equal(t, StateRequested, n.State)
	assert.Equal(t, 1, n.StateCount)
	assert.Equal(t, clock.Time, n.StateTimestamp)
}

func TestSameStateTransitionIncrementsCount(t *testing.T) {
	clock := fixedClock()
	n := NewNegotiation(ConsumerNegotiation, clock)

	require.NoError(t, n.TransitionRequesting())
	require.NoError(t, n.TransitionRequesting())
	require.NoError(t, n.TransitionRequesting())

	assert.Equal(t, StateRequesting, n.State)
	assert.Equal(t, 3, n.StateCount)
}

func TestLowerTargetIsIgnored(t *testing.T) {
	// A replayed message targeting an earlier state must be a silent no-op.
	n := NewNegotiation(ConsumerNegotiation, fixedClock())
	require.NoError(t, n.TransitionRequesting())
	require.NoError(t, n.TransitionRequested())

	before := n.StateCount
	assert.NoError(t, n.TransitionInitial())
	assert.Equal(t, StateRequested, n.State)
	assert.Equal(t, before, n.StateCount)
}

func TestIllegalTransitionIsRejected(t *testing.T) {
	n := NewNegotiation(ConsumerNegotiation, fixedClock())
	require.NoError(t, n.TransitionRequesting())

	err := n.TransitionConfirming()
	assert.Error(t, err)
	assert.Equal(t, StateRequesting, n.State)
}

func TestTransitionNotAllowedError(t *testing.T) {
	n := NewNegotiation(ProviderNegotiation, fixedClock())
	require.NoError(t, n.TransitionRequested())

	err := n.TransitionConsumerApproved()
	var notAllowed ErrTransitionNotAllowed
	require.ErrorAs(t, err, &notAllowed)
	assert.Equal(t, StateRequested, notAllowed.From)
	assert.Equal(t, StateConsumerApproved, notAllowed.To)
}

func TestConsumerOnlyTransitions(t *testing.T) {
	n := NewNegotiation(ProviderNegotiation, fixedClock())

	assert.Error(t, n.TransitionRequesting())
	assert.Error(t, n.TransitionConsumerOffering())
	assert.Error(t, n.TransitionConsumerApproving())
}

func TestProviderOnlyTransitions(t *testing.T) {
	n := NewNegotiation(ConsumerNegotiation, fixedClock())
	require.NoError(t, n.TransitionRequesting())
	require.NoError(t, n.TransitionRequested())

	assert.Error(t, n.TransitionConfirming())
}

func TestConfirmedRequiresAgreement(t *testing.T) {
	n := NewNegotiation(ProviderNegotiation, fixedClock())
	require.NoError(t, n.TransitionRequested())
	require.NoError(t, n.TransitionConfirming())

	assert.Error(t, n.TransitionConfirmed())

	require.NoError(t, n.SetContractAgreement(&ContractAgreement{AgreementID: "cta_1", AssetID: "asset-1"}))
	assert.NoError(t, n.TransitionConfirmed())
	assert.Equal(t, StateConfirmed, n.State)
}

func TestErrorFromAnyNonTerminalState(t *testing.T) {
	n := NewNegotiation(ConsumerNegotiation, fixedClock())
	require.NoError(t, n.TransitionRequesting())

	require.NoError(t, n.TransitionError("dispatch failed"))
	assert.Equal(t, StateError, n.State)
	assert.Equal(t, 1, n.StateCount)
	assert.Equal(t, "dispatch failed", n.ErrorDetail)

	// Terminal states are final.
	assert.Error(t, n.TransitionError("again"))
	assert.Error(t, n.TransitionCancelled())
}

func TestCancelledFromAnyNonTerminalState(t *testing.T) {
	n := NewNegotiation(ProviderNegotiation, fixedClock())
	require.NoError(t, n.TransitionRequested())
	require.NoError(t, n.TransitionConfirming())

	require.NoError(t, n.TransitionCancelled())
	assert.Equal(t, StateCancelled, n.State)
	assert.Error(t, n.TransitionCancelled())
}

func TestDecliningReachableFromBothSides(t *testing.T) {
	consumer := NewNegotiation(ConsumerNegotiation, fixedClock())
	require.NoError(t, consumer.TransitionRequesting())
	require.NoError(t, consumer.TransitionRequested())
	assert.NoError(t, consumer.TransitionDeclining())
	assert.NoError(t, consumer.TransitionDeclined())

	provider := NewNegotiation(ProviderNegotiation, fixedClock())
	require.NoError(t, provider.TransitionRequested())
	assert.NoError(t, provider.TransitionDeclining())
	assert.NoError(t, provider.TransitionDeclined())
}

func TestSetContractAgreementOnce(t *testing.T) {
	n := NewNegotiation(ProviderNegotiation, fixedClock())
	require.NoError(t, n.SetContractAgreement(&ContractAgreement{AgreementID: "cta_1"}))
	assert.Equal(t, n.NegotiationID, n.ContractAgreement.NegotiationID)

	assert.Error(t, n.SetContractAgreement(&ContractAgreement{AgreementID: "cta_2"}))
	assert.Equal(t, "cta_1", n.ContractAgreement.AgreementID)
}

func TestLastContractOffer(t *testing.T) {
	n := NewNegotiation(ConsumerNegotiation, fixedClock())

	_, err := n.LastContractOffer()
	assert.Error(t, err)

	n.AddContractOffer(ContractOffer{OfferID: "offer-1", AssetID: "asset-1"})
	n.AddContractOffer(ContractOffer{OfferID: "offer-2", AssetID: "asset-1"})

	last, err := n.LastContractOffer()
	require.NoError(t, err)
	assert.Equal(t, "offer-2", last.OfferID)
}

func TestCopyIsIndependent(t *testing.T) {
	n := NewNegotiation(ConsumerNegotiation, fixedClock())
	n.AddContractOffer(ContractOffer{OfferID: "offer-1", Policy: []byte(`{"use":"any"}`)})
	require.NoError(t, n.SetContractAgreement(&ContractAgreement{AgreementID: "cta_1"}))

	cp := n.Copy()
	cp.ContractOffers[0].OfferID = "mutated"
	cp.ContractAgreement.AgreementID = "mutated"

	assert.Equal(t, "offer-1", n.ContractOffers[0].OfferID)
	assert.Equal(t, "cta_1", n.ContractAgreement.AgreementID)
}

func TestLeaseExpiry(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	lease := Lease{OwnerID: "runtime-a", LeasedAt: start, Duration: time.Minute}

	assert.False(t, lease.Expired(start.Add(30*time.Second)))
	assert.False(t, lease.Expired(start.Add(time.Minute)))
	assert.True(t, lease.Expired(start.Add(time.Minute+time.Millisecond)))
}

func TestStateStringAndPredicates(t *testing.T) {
	assert.Equal(t, "REQUESTED", StateRequested.String())
	assert.Equal(t, "CONFIRMED", StateConfirmed.String())

	assert.True(t, StateConfirmed.IsTerminal())
	assert.True(t, StateDeclined.IsTerminal())
	assert.True(t, StateCancelled.IsTerminal())
	assert.True(t, StateError.IsTerminal())
	assert.False(t, StateRequested.IsTerminal())

	assert.True(t, StateUnsaved.IsDeletable())
	assert.True(t, StateInitial.IsDeletable())
	assert.False(t, StateRequested.IsDeletable())
}
