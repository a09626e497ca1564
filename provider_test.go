package weave

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavedata/weave/model"
)

func inboundOfferRequest(correlationID string) model.ContractOfferRequest {
	return model.ContractOfferRequest{
		Type:             model.OfferRequestInitial,
		ConnectorID:      "consumer-connector",
		ConnectorAddress: "https://consumer.example/api",
		ProtocolName:     testProtocol,
		CorrelationID:    correlationID,
		ContractOffer:    testOffer(),
	}
}

func TestRequestedAcceptsValidOffer(t *testing.T) {
	fx := newEngineFixture(t, 3)
	m, err := NewProviderManager(fx.cfg)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := m.Requested(ctx, model.ClaimToken{}, inboundOfferRequest("corr-1"))
	require.NoError(t, err)
	assert.Equal(t, model.StateConfirming, n.State)
	assert.Equal(t, "corr-1", n.CorrelationID)
	assert.Equal(t, "consumer-connector", n.CounterPartyID)
	assert.Equal(t, model.ProviderNegotiation, n.Type)
	assert.Contains(t, fx.listener.recorded(), "requested")

	stored, err := fx.store.GetNegotiationByCorrelationID(ctx, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateConfirming, stored.State)
}

func TestRequestedDeclinesInvalidOffer(t *testing.T) {
	fx := newEngineFixture(t, 3)
	m, err := NewProviderManager(fx.cfg)
	require.NoError(t, err)
	ctx := context.Background()

	request := inboundOfferRequest("corr-1")
	request.ContractOffer.Policy = nil
	n, err := m.Requested(ctx, model.ClaimToken{}, request)
	require.NoError(t, err)
	assert.Equal(t, model.StateDeclining, n.State)
	assert.Equal(t, "corr-1", n.CorrelationID)
	assert.Len(t, n.ContractOffers, 1)
	assert.NotEmpty(t, n.DeclineReason)
	assert.Empty(t, n.ErrorDetail)
}

func TestRequestedRejectsMalformedRequest(t *testing.T) {
	fx := newEngineFixture(t, 3)
	m, err := NewProviderManager(fx.cfg)
	require.NoError(t, err)

	request := inboundOfferRequest("corr-1")
	request.ConnectorID = ""
	_, err = m.Requested(context.Background(), model.ClaimToken{}, request)
	assert.Error(t, err)
}

func TestConfirmingBuildsAndSendsAgreement(t *testing.T) {
	fx := newEngineFixture(t, 3)
	m, err := NewProviderManager(fx.cfg)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := m.Requested(ctx, model.ClaimToken{}, inboundOfferRequest("corr-1"))
	require.NoError(t, err)
	require.Equal(t, model.StateConfirming, n.State)

	m.runIteration(ctx, []stateProcessor{{state: model.StateConfirming, process: m.processConfirming}})
	m.inflight.Wait()

	stored, err := fx.store.GetNegotiation(ctx, n.NegotiationID)
	require.NoError(t, err)
	assert.Equal(t, model.StateConfirmed, stored.State)
	require.NotNil(t, stored.ContractAgreement)
	assert.Equal(t, "asset-1", stored.ContractAgreement.AssetID)
	assert.Equal(t, "connector-self", stored.ContractAgreement.ProviderAgentID)
	assert.Equal(t, "consumer-connector", stored.ContractAgreement.ConsumerAgentID)
	assert.Equal(t, fx.clock.Now(), stored.ContractAgreement.ContractSigning)

	sent := fx.dispatcher.sentMessages()
	require.Len(t, sent, 1)
	request, ok := sent[0].(model.ContractAgreementRequest)
	require.True(t, ok)
	assert.Equal(t, "corr-1", request.CorrelationID)
	require.NotNil(t, request.ContractAgreement)
	assert.Equal(t, stored.ContractAgreement.AgreementID, request.ContractAgreement.AgreementID)
	assert.Contains(t, fx.listener.recorded(), "confirmed")

	agreement, err := fx.store.GetAgreement(ctx, stored.ContractAgreement.AgreementID)
	require.NoError(t, err)
	assert.Equal(t, n.NegotiationID, agreement.NegotiationID)
}

func TestConfirmingRetriesOnSendFailure(t *testing.T) {
	fx := newEngineFixture(t, 3)
	fx.dispatcher.err = errors.New("counterparty unreachable")
	m, err := NewProviderManager(fx.cfg)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := m.Requested(ctx, model.ClaimToken{}, inboundOfferRequest("corr-1"))
	require.NoError(t, err)

	m.runIteration(ctx, []stateProcessor{{state: model.StateConfirming, process: m.processConfirming}})
	m.inflight.Wait()

	stored, err := fx.store.GetNegotiation(ctx, n.NegotiationID)
	require.NoError(t, err)
	assert.Equal(t, model.StateConfirming, stored.State)
	assert.Equal(t, 2, stored.StateCount)
	// The agreement built for the failed attempt is kept for the retry.
	assert.NotNil(t, stored.ContractAgreement)
}

func TestCounterOfferFlow(t *testing.T) {
	fx := newEngineFixture(t, 3)
	m, err := NewProviderManager(fx.cfg)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := m.Requested(ctx, model.ClaimToken{}, inboundOfferRequest("corr-1"))
	require.NoError(t, err)

	counter := model.ContractOffer{OfferID: "offer-2", AssetID: "asset-1", Policy: []byte(`{"price":2}`)}
	updated, err := m.CounterOffer(ctx, n.NegotiationID, counter)
	require.NoError(t, err)
	assert.Equal(t, model.StateProviderOffering, updated.State)
	assert.Len(t, updated.ContractOffers, 2)

	m.runIteration(ctx, []stateProcessor{{state: model.StateProviderOffering, process: m.processProviderOffering}})
	m.inflight.Wait()

	stored, err := fx.store.GetNegotiation(ctx, n.NegotiationID)
	require.NoError(t, err)
	assert.Equal(t, model.StateProviderOffered, stored.State)

	sent := fx.dispatcher.sentMessages()
	require.Len(t, sent, 1)
	request, ok := sent[0].(model.ContractOfferRequest)
	require.True(t, ok)
	assert.Equal(t, model.OfferRequestCounter, request.Type)
	assert.Equal(t, "offer-2", request.ContractOffer.OfferID)
	assert.Contains(t, fx.listener.recorded(), "offered")
}

func TestOfferReceivedValidProceedsToConfirming(t *testing.T) {
	fx := newEngineFixture(t, 3)
	m, err := NewProviderManager(fx.cfg)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := m.Requested(ctx, model.ClaimToken{}, inboundOfferRequest("corr-1"))
	require.NoError(t, err)

	counter := model.ContractOffer{OfferID: "offer-2", AssetID: "asset-1", Policy: []byte(`{}`)}
	_, err = m.CounterOffer(ctx, n.NegotiationID, counter)
	require.NoError(t, err)
	m.runIteration(ctx, []stateProcessor{{state: model.StateProviderOffering, process: m.processProviderOffering}})
	m.inflight.Wait()

	reply := model.ContractOffer{OfferID: "offer-3", AssetID: "asset-1", Policy: []byte(`{"price":3}`)}
	updated, err := m.OfferReceived(ctx, model.ClaimToken{}, "corr-1", reply)
	require.NoError(t, err)
	assert.Equal(t, model.StateConfirming, updated.State)
	assert.Len(t, updated.ContractOffers, 3)
}

func TestOfferReceivedInvalidDeclines(t *testing.T) {
	fx := newEngineFixture(t, 3)
	m, err := NewProviderManager(fx.cfg)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := m.Requested(ctx, model.ClaimToken{}, inboundOfferRequest("corr-1"))
	require.NoError(t, err)

	counter := model.ContractOffer{OfferID: "offer-2", AssetID: "asset-1", Policy: []byte(`{}`)}
	_, err = m.CounterOffer(ctx, n.NegotiationID, counter)
	require.NoError(t, err)
	m.runIteration(ctx, []stateProcessor{{state: model.StateProviderOffering, process: m.processProviderOffering}})
	m.inflight.Wait()

	broken := model.ContractOffer{OfferID: "offer-3"}
	updated, err := m.OfferReceived(ctx, model.ClaimToken{}, "corr-1", broken)
	require.NoError(t, err)
	assert.Equal(t, model.StateDeclining, updated.State)
	assert.NotEmpty(t, updated.DeclineReason)
	assert.Empty(t, updated.ErrorDetail)
}

func TestConsumerApprovedMovesToConfirming(t *testing.T) {
	fx := newEngineFixture(t, 3)
	m, err := NewProviderManager(fx.cfg)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := m.Requested(ctx, model.ClaimToken{}, inboundOfferRequest("corr-1"))
	require.NoError(t, err)

	counter := model.ContractOffer{OfferID: "offer-2", AssetID: "asset-1", Policy: []byte(`{}`)}
	_, err = m.CounterOffer(ctx, n.NegotiationID, counter)
	require.NoError(t, err)
	m.runIteration(ctx, []stateProcessor{{state: model.StateProviderOffering, process: m.processProviderOffering}})
	m.inflight.Wait()

	updated, err := m.ConsumerApproved(ctx, model.ClaimToken{}, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateConfirming, updated.State)
	assert.Contains(t, fx.listener.recorded(), "approved")
}

func TestProviderDeclinedInbound(t *testing.T) {
	fx := newEngineFixture(t, 3)
	m, err := NewProviderManager(fx.cfg)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := m.Requested(ctx, model.ClaimToken{}, inboundOfferRequest("corr-1"))
	require.NoError(t, err)

	counter := model.ContractOffer{OfferID: "offer-2", AssetID: "asset-1", Policy: []byte(`{}`)}
	_, err = m.CounterOffer(ctx, n.NegotiationID, counter)
	require.NoError(t, err)
	m.runIteration(ctx, []stateProcessor{{state: model.StateProviderOffering, process: m.processProviderOffering}})
	m.inflight.Wait()

	updated, err := m.Declined(ctx, model.ClaimToken{}, "corr-1", "terms rejected")
	require.NoError(t, err)
	assert.Equal(t, model.StateDeclined, updated.State)
	assert.Equal(t, "terms rejected", updated.DeclineReason)
	assert.Empty(t, updated.ErrorDetail)
	assert.Contains(t, fx.listener.recorded(), "declined")
}

func TestDeclineCommandRecordsReason(t *testing.T) {
	fx := newEngineFixture(t, 3)
	m, err := NewProviderManager(fx.cfg)
	require.NoError(t, err)
	ctx := context.Background()

	request := inboundOfferRequest("corr-1")
	n, err := m.Requested(ctx, model.ClaimToken{}, request)
	require.NoError(t, err)
	require.Equal(t, model.StateConfirming, n.State)

	// Confirming outranks declining, so the command is a no-op there; a
	// negotiation still negotiating can be declined.
	negotiating := model.NewNegotiation(model.ProviderNegotiation, fx.clock)
	negotiating.CorrelationID = "corr-2"
	require.NoError(t, negotiating.TransitionRequested())
	require.NoError(t, fx.store.SaveNegotiation(ctx, negotiating))

	require.NoError(t, m.cfg.CommandQueue.Enqueue(ctx, NegotiationCommand{
		Kind:          CommandDeclineNegotiation,
		NegotiationID: negotiating.NegotiationID,
		Reason:        "operator decision",
	}))
	m.runIteration(ctx, nil)

	stored, err := fx.store.GetNegotiation(ctx, negotiating.NegotiationID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDeclining, stored.State)
	assert.Equal(t, "operator decision", stored.DeclineReason)
	assert.Empty(t, stored.ErrorDetail)
}

func TestStartAndStopLifecycle(t *testing.T) {
	fx := newEngineFixture(t, 3)
	fx.cfg.PollInterval = 10 * time.Millisecond
	fx.cfg.MaxPoll = 20 * time.Millisecond
	m, err := NewProviderManager(fx.cfg)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := m.Requested(ctx, model.ClaimToken{}, inboundOfferRequest("corr-1"))
	require.NoError(t, err)

	m.Start(ctx)
	defer m.Stop()

	assert.Eventually(t, func() bool {
		stored, err := fx.store.GetNegotiation(ctx, n.NegotiationID)
		return err == nil && stored.State == model.StateConfirmed
	}, 5*time.Second, 20*time.Millisecond)
}
