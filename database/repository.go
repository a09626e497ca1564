package database

import (
	"context"

	"github.com/weavedata/weave/internal/query"
	"github.com/weavedata/weave/model"
)

// IDataSource defines the interface for data source operations, grouping
// related functionalities. Both the Postgres datasource and the in-memory
// store implement it; correctness of the engine under concurrency rests
// entirely on the leasing contract of NextNegotiationsForState and
// SaveNegotiation.
type IDataSource interface {
	negotiation
	agreement
}

// negotiation defines methods for persisting and leasing negotiations.
type negotiation interface {
	// SaveNegotiation upserts the negotiation and releases any lease held
	// by this datasource's owner on it.
	SaveNegotiation(ctx context.Context, n *model.Negotiation) error
	// GetNegotiation retrieves a negotiation by id. Returns a NOT_FOUND
	// APIError if it does not exist. The returned entity is a copy.
	GetNegotiation(ctx context.Context, id string) (*model.Negotiation, error)
	// GetNegotiationByCorrelationID resolves an inbound protocol message to
	// its negotiation.
	GetNegotiationByCorrelationID(ctx context.Context, correlationID string) (*model.Negotiation, error)
	// NextNegotiationsForState leases and returns up to batchSize
	// negotiations in the given state whose lease is absent or expired,
	// oldest state timestamp first (ties broken by id). Two consecutive
	// calls without an intervening save return disjoint sets.
	NextNegotiationsForState(ctx context.Context, state model.NegotiationState, batchSize int) ([]*model.Negotiation, error)
	// DeleteNegotiation removes a negotiation. Returns a CONFLICT APIError
	// unless the negotiation is in a deletable state.
	DeleteNegotiation(ctx context.Context, id string) error
	// QueryNegotiations runs a filter/sort/paginate query. An unknown sort
	// field yields an empty result, not an error.
	QueryNegotiations(ctx context.Context, spec query.Spec) ([]*model.Negotiation, error)
}

// agreement defines methods for reading denormalized contract agreements.
type agreement interface {
	GetAgreement(ctx context.Context, id string) (*model.ContractAgreement, error)
	QueryAgreements(ctx context.Context, spec query.Spec) ([]*model.ContractAgreement, error)
}

// negotiationQueryColumns declares the queryable negotiation fields for
// both backends. Field names follow the JSON representation.
var negotiationQueryColumns = map[string]string{
	"id":                    "negotiation_id",
	"type":                  "type",
	"state":                 "state",
	"state_count":           "state_count",
	"correlation_id":        "correlation_id",
	"counter_party_id":      "counter_party_id",
	"counter_party_address": "counter_party_address",
	"protocol":              "protocol",
	"error_detail":          "error_detail",
	"decline_reason":        "decline_reason",
}

var agreementQueryColumns = map[string]string{
	"id":                "agreement_id",
	"negotiation_id":    "negotiation_id",
	"provider_agent_id": "provider_agent_id",
	"consumer_agent_id": "consumer_agent_id",
	"asset_id":          "asset_id",
}

// negotiationField resolves a queryable field on a negotiation for the
// in-memory backend.
func negotiationField(n *model.Negotiation, name string) (interface{}, bool) {
	switch name {
	case "id":
		return n.NegotiationID, true
	case "type":
		return string(n.Type), true
	case "state":
		return int(n.State), true
	case "state_count":
		return n.StateCount, true
	case "correlation_id":
		return n.CorrelationID, true
	case "counter_party_id":
		return n.CounterPartyID, true
	case "counter_party_address":
		return n.CounterPartyAddress, true
	case "protocol":
		return n.Protocol, true
	case "error_detail":
		return n.ErrorDetail, true
	case "decline_reason":
		return n.DeclineReason, true
	}
	return nil, false
}

func agreementField(a *model.ContractAgreement, name string) (interface{}, bool) {
	switch name {
	case "id":
		return a.AgreementID, true
	case "negotiation_id":
		return a.NegotiationID, true
	case "provider_agent_id":
		return a.ProviderAgentID, true
	case "consumer_agent_id":
		return a.ConsumerAgentID, true
	case "asset_id":
		return a.AssetID, true
	}
	return nil, false
}
