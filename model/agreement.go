package model

import (
	"encoding/json"
	"time"
)

// ContractOffer is one offer snapshot exchanged during a negotiation. The
// policy body is carried opaquely; evaluating it is the job of the external
// policy engine.
type ContractOffer struct {
	OfferID       string          `json:"offer_id"`
	AssetID       string          `json:"asset_id"`
	Policy        json.RawMessage `json:"policy,omitempty"`
	Provider      string          `json:"provider"`
	Consumer      string          `json:"consumer"`
	ContractStart time.Time       `json:"contract_start,omitempty"`
	ContractEnd   time.Time       `json:"contract_end,omitempty"`
}

// ContractAgreement is the finalized outcome of a confirmed negotiation. It
// is stored denormalized so agreements can be queried without loading their
// negotiation.
type ContractAgreement struct {
	AgreementID     string          `json:"id"`
	NegotiationID   string          `json:"negotiation_id"`
	ProviderAgentID string          `json:"provider_agent_id"`
	ConsumerAgentID string          `json:"consumer_agent_id"`
	AssetID         string          `json:"asset_id"`
	Policy          json.RawMessage `json:"policy,omitempty"`
	ContractSigning time.Time       `json:"contract_signing"`
	ContractStart   time.Time       `json:"contract_start"`
	ContractEnd     time.Time       `json:"contract_end"`
}

func (a *ContractAgreement) ToJSON() ([]byte, error) {
	return json.Marshal(a)
}

// Copy returns an independent copy of the agreement.
func (a *ContractAgreement) Copy() *ContractAgreement {
	if a == nil {
		return nil
	}
	cp := *a
	if a.Policy != nil {
		cp.Policy = append(json.RawMessage(nil), a.Policy...)
	}
	return &cp
}

func (o ContractOffer) copyOffer() ContractOffer {
	cp := o
	if o.Policy != nil {
		cp.Policy = append(json.RawMessage(nil), o.Policy...)
	}
	return cp
}
