package weave

import (
	"github.com/pkg/errors"

	"github.com/weavedata/weave/model"
)

// ValidationService decides whether incoming offers and confirmations are
// acceptable to this connector. Implementations typically check the offer
// against the asset index and the policy engine; the default accepts offers
// that are structurally complete.
type ValidationService interface {
	// ValidateIncomingOffer checks a counter-party offer. A nil error means
	// the offer is acceptable as-is.
	ValidateIncomingOffer(token model.ClaimToken, offer model.ContractOffer) error

	// ValidateConfirmed checks a provider confirmation against the offer the
	// consumer last sent.
	ValidateConfirmed(token model.ClaimToken, agreement *model.ContractAgreement, latestOffer *model.ContractOffer) error
}

// DefaultValidationService performs structural checks only. Deployments
// wire their own policy-aware implementation through the manager builder.
type DefaultValidationService struct{}

func (DefaultValidationService) ValidateIncomingOffer(_ model.ClaimToken, offer model.ContractOffer) error {
	if offer.OfferID == "" {
		return errors.New("offer is missing an id")
	}
	if offer.AssetID == "" {
		return errors.New("offer does not reference an asset")
	}
	if len(offer.Policy) == 0 {
		return errors.New("offer carries no policy")
	}
	return nil
}

func (DefaultValidationService) ValidateConfirmed(_ model.ClaimToken, agreement *model.ContractAgreement, latestOffer *model.ContractOffer) error {
	if agreement == nil {
		return errors.New("confirmation carries no agreement")
	}
	if latestOffer == nil {
		return errors.New("negotiation has no offer to validate the agreement against")
	}
	if agreement.AssetID != latestOffer.AssetID {
		return errors.Errorf("agreement asset %q does not match offered asset %q", agreement.AssetID, latestOffer.AssetID)
	}
	return nil
}
