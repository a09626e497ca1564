package weave

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavedata/weave/model"
)

type stubDispatcher struct {
	protocol string
	got      model.RemoteMessage
}

func (s *stubDispatcher) Protocol() string { return s.protocol }

func (s *stubDispatcher) Send(_ context.Context, _ model.ClaimToken, message model.RemoteMessage) (any, error) {
	s.got = message
	return "ack", nil
}

func TestRegistryRoutesByProtocol(t *testing.T) {
	registry := NewDispatcherRegistry()
	multipart := &stubDispatcher{protocol: "ids-multipart"}
	rest := &stubDispatcher{protocol: "ids-rest"}
	registry.Register(multipart)
	registry.Register(rest)

	message := model.ContractApproval{ProtocolName: "ids-rest", CorrelationID: "corr-1"}
	result, err := registry.Send(context.Background(), model.ClaimToken{}, message)
	require.NoError(t, err)
	assert.Equal(t, "ack", result)
	assert.Nil(t, multipart.got)
	require.NotNil(t, rest.got)
	assert.Equal(t, "corr-1", rest.got.(model.ContractApproval).CorrelationID)
}

func TestRegistryRejectsUnknownProtocol(t *testing.T) {
	registry := NewDispatcherRegistry()
	_, err := registry.Send(context.Background(), model.ClaimToken{}, model.ContractApproval{ProtocolName: "unknown"})
	assert.Error(t, err)
}

func TestValidateIncomingOffer(t *testing.T) {
	v := DefaultValidationService{}

	assert.NoError(t, v.ValidateIncomingOffer(model.ClaimToken{}, testOffer()))

	broken := testOffer()
	broken.OfferID = ""
	assert.Error(t, v.ValidateIncomingOffer(model.ClaimToken{}, broken))

	broken = testOffer()
	broken.AssetID = ""
	assert.Error(t, v.ValidateIncomingOffer(model.ClaimToken{}, broken))

	broken = testOffer()
	broken.Policy = nil
	assert.Error(t, v.ValidateIncomingOffer(model.ClaimToken{}, broken))
}

func TestValidateConfirmed(t *testing.T) {
	v := DefaultValidationService{}
	offer := testOffer()
	agreement := &model.ContractAgreement{AgreementID: "cta_1", AssetID: offer.AssetID}

	assert.NoError(t, v.ValidateConfirmed(model.ClaimToken{}, agreement, &offer))
	assert.Error(t, v.ValidateConfirmed(model.ClaimToken{}, nil, &offer))
	assert.Error(t, v.ValidateConfirmed(model.ClaimToken{}, agreement, nil))

	mismatched := &model.ContractAgreement{AgreementID: "cta_1", AssetID: "asset-other"}
	assert.Error(t, v.ValidateConfirmed(model.ClaimToken{}, mismatched, &offer))
}
