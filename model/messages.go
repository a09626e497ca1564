package model

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ClaimToken carries the verified identity claims of the counterparty that
// sent an inbound message. Token verification happens at the transport
// boundary; the engine only consumes the result.
type ClaimToken struct {
	Claims map[string]interface{} `json:"claims"`
}

// RemoteMessage is any protocol message handed to a dispatcher. The engine
// is parametric over the wire encoding; it only needs routing information.
type RemoteMessage interface {
	Protocol() string
	Address() string
}

// OfferRequestType distinguishes an initial offer from a counter offer.
type OfferRequestType string

const (
	OfferRequestInitial OfferRequestType = "INITIAL"
	OfferRequestCounter OfferRequestType = "COUNTER_OFFER"
)

// ContractOfferRequest asks a counterparty to consider an offer. Sent by
// consumers to initiate a negotiation and by either side for counter offers.
type ContractOfferRequest struct {
	Type             OfferRequestType `json:"type"`
	ConnectorID      string           `json:"connector_id"`
	ConnectorAddress string           `json:"connector_address"`
	ProtocolName     string           `json:"protocol"`
	CorrelationID    string           `json:"correlation_id"`
	ContractOffer    ContractOffer    `json:"contract_offer"`
}

func (r ContractOfferRequest) Protocol() string { return r.ProtocolName }
func (r ContractOfferRequest) Address() string  { return r.ConnectorAddress }

// Validate checks the request shape. Policy-level validation of the offer
// itself is the job of the validation service.
func (r ContractOfferRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Type, validation.Required, validation.In(OfferRequestInitial, OfferRequestCounter)),
		validation.Field(&r.ConnectorID, validation.Required),
		validation.Field(&r.ConnectorAddress, validation.Required),
		validation.Field(&r.ProtocolName, validation.Required),
		validation.Field(&r.ContractOffer, validation.By(func(interface{}) error {
			return validation.ValidateStruct(&r.ContractOffer,
				validation.Field(&r.ContractOffer.OfferID, validation.Required),
				validation.Field(&r.ContractOffer.AssetID, validation.Required),
			)
		})),
	)
}

// ContractAgreementRequest transmits the finalized agreement from provider
// to consumer.
type ContractAgreementRequest struct {
	ConnectorID       string             `json:"connector_id"`
	ConnectorAddress  string             `json:"connector_address"`
	ProtocolName      string             `json:"protocol"`
	CorrelationID     string             `json:"correlation_id"`
	ContractAgreement *ContractAgreement `json:"contract_agreement"`
}

func (r ContractAgreementRequest) Protocol() string { return r.ProtocolName }
func (r ContractAgreementRequest) Address() string  { return r.ConnectorAddress }

// ContractApproval signals the consumer's acceptance of the current offer.
type ContractApproval struct {
	ConnectorID      string `json:"connector_id"`
	ConnectorAddress string `json:"connector_address"`
	ProtocolName     string `json:"protocol"`
	CorrelationID    string `json:"correlation_id"`
}

func (r ContractApproval) Protocol() string { return r.ProtocolName }
func (r ContractApproval) Address() string  { return r.ConnectorAddress }

// ContractRejection terminates a negotiation with a reason.
type ContractRejection struct {
	ConnectorID      string `json:"connector_id"`
	ConnectorAddress string `json:"connector_address"`
	ProtocolName     string `json:"protocol"`
	CorrelationID    string `json:"correlation_id"`
	RejectionReason  string `json:"rejection_reason"`
}

func (r ContractRejection) Protocol() string { return r.ProtocolName }
func (r ContractRejection) Address() string  { return r.ConnectorAddress }
