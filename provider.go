/*
Copyright 2025 Weave Data Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package weave

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weavedata/weave/model"
)

// ProviderNegotiationManager runs the provider side of contract
// negotiations: it reacts to consumer requests, counters or accepts their
// offers, and drives outbound sends for the states it watches.
type ProviderNegotiationManager struct {
	*negotiationManager
}

func NewProviderManager(cfg ManagerConfig) (*ProviderNegotiationManager, error) {
	base, err := newNegotiationManager(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "provider negotiation manager")
	}
	return &ProviderNegotiationManager{negotiationManager: base}, nil
}

func (m *ProviderNegotiationManager) Start(ctx context.Context) {
	m.start(ctx, []stateProcessor{
		{state: model.StateProviderOffering, process: m.processProviderOffering},
		{state: model.StateConfirming, process: m.processConfirming},
		{state: model.StateDeclining, process: m.processDeclining},
	})
}

// Requested handles an initial offer request from a consumer. The request
// shape is validated first; the offer itself is then judged by the
// validation service, which decides whether the negotiation heads for
// CONFIRMED or DECLINED.
func (m *ProviderNegotiationManager) Requested(ctx context.Context, token model.ClaimToken, request model.ContractOfferRequest) (*model.Negotiation, error) {
	if err := request.Validate(); err != nil {
		return nil, errors.Wrap(err, "handling offer request")
	}
	n := model.NewNegotiation(model.ProviderNegotiation, m.cfg.Clock)
	n.CorrelationID = request.CorrelationID
	n.CounterPartyID = request.ConnectorID
	n.CounterPartyAddress = request.ConnectorAddress
	n.Protocol = request.ProtocolName
	n.AddContractOffer(request.ContractOffer)
	if err := n.TransitionRequested(); err != nil {
		return nil, err
	}
	if err := m.cfg.Store.SaveNegotiation(ctx, n); err != nil {
		return nil, err
	}
	m.cfg.Observable.InvokeForEach(func(l NegotiationListener) { l.Requested(n) })

	if validationErr := m.cfg.Validation.ValidateIncomingOffer(token, request.ContractOffer); validationErr != nil {
		logrus.Warnf("declining offer request on negotiation %s: %v", n.NegotiationID, validationErr)
		n.DeclineReason = validationErr.Error()
		if err := n.TransitionDeclining(); err != nil {
			return nil, err
		}
	} else if err := n.TransitionConfirming(); err != nil {
		return nil, err
	}
	if err := m.cfg.Store.SaveNegotiation(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// OfferReceived handles a counter offer from the consumer.
func (m *ProviderNegotiationManager) OfferReceived(ctx context.Context, token model.ClaimToken, correlationID string, offer model.ContractOffer) (*model.Negotiation, error) {
	n, err := m.cfg.Store.GetNegotiationByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	n.AddContractOffer(offer)
	if err := n.TransitionConsumerOffered(); err != nil {
		return nil, err
	}
	if validationErr := m.cfg.Validation.ValidateIncomingOffer(token, offer); validationErr != nil {
		logrus.Warnf("declining counter offer on negotiation %s: %v", n.NegotiationID, validationErr)
		n.DeclineReason = validationErr.Error()
		if err := n.TransitionDeclining(); err != nil {
			return nil, err
		}
	} else if err := n.TransitionConfirming(); err != nil {
		return nil, err
	}
	if err := m.cfg.Store.SaveNegotiation(ctx, n); err != nil {
		return nil, err
	}
	m.cfg.Observable.InvokeForEach(func(l NegotiationListener) { l.Offered(n) })
	return n, nil
}

// CounterOffer records a provider counter offer and queues it for sending.
func (m *ProviderNegotiationManager) CounterOffer(ctx context.Context, negotiationID string, offer model.ContractOffer) (*model.Negotiation, error) {
	n, err := m.cfg.Store.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	n.AddContractOffer(offer)
	if err := n.TransitionProviderOffering(); err != nil {
		return nil, err
	}
	if err := m.cfg.Store.SaveNegotiation(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// ConsumerApproved handles the consumer accepting the provider's current
// offer.
func (m *ProviderNegotiationManager) ConsumerApproved(ctx context.Context, _ model.ClaimToken, correlationID string) (*model.Negotiation, error) {
	n, err := m.cfg.Store.GetNegotiationByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	if err := n.TransitionConfirming(); err != nil {
		return nil, err
	}
	if err := m.cfg.Store.SaveNegotiation(ctx, n); err != nil {
		return nil, err
	}
	m.cfg.Observable.InvokeForEach(func(l NegotiationListener) { l.Approved(n) })
	return n, nil
}

// Declined handles the consumer rejecting the negotiation.
func (m *ProviderNegotiationManager) Declined(ctx context.Context, _ model.ClaimToken, correlationID, reason string) (*model.Negotiation, error) {
	return m.declineInbound(ctx, correlationID, reason)
}

func (m *ProviderNegotiationManager) processProviderOffering(ctx context.Context, n *model.Negotiation) bool {
	if m.shouldDelaySend(ctx, n) {
		return false
	}
	offer, err := n.LastContractOffer()
	if err != nil {
		logrus.Errorf("negotiation %s is PROVIDER_OFFERING without an offer: %v", n.NegotiationID, err)
		return false
	}
	if err := n.TransitionProviderOffering(); err != nil {
		return false
	}
	if err := m.cfg.Store.SaveNegotiation(ctx, n); err != nil {
		logrus.Errorf("persisting send attempt for negotiation %s failed: %v", n.NegotiationID, err)
		return false
	}
	request := model.ContractOfferRequest{
		Type:             model.OfferRequestCounter,
		ConnectorID:      m.cfg.ConnectorID,
		ConnectorAddress: n.CounterPartyAddress,
		ProtocolName:     n.Protocol,
		CorrelationID:    n.CorrelationID,
		ContractOffer:    offer,
	}
	m.dispatchAsync(n.NegotiationID, request, "counter offer", func(n *model.Negotiation) (func(), error) {
		if err := n.TransitionProviderOffered(); err != nil {
			return nil, err
		}
		return func() {
			m.cfg.Observable.InvokeForEach(func(l NegotiationListener) { l.Offered(n) })
		}, nil
	})
	return true
}

// processConfirming finalizes the agreement and sends it to the consumer.
// The agreement is built and persisted before the send, so a crash between
// send and completion never loses it.
func (m *ProviderNegotiationManager) processConfirming(ctx context.Context, n *model.Negotiation) bool {
	if m.shouldDelaySend(ctx, n) {
		return false
	}
	if n.ContractAgreement == nil {
		agreement, err := m.buildAgreement(n)
		if err != nil {
			logrus.Errorf("building agreement for negotiation %s failed: %v", n.NegotiationID, err)
			if transitionErr := n.TransitionError(err.Error()); transitionErr == nil {
				if saveErr := m.cfg.Store.SaveNegotiation(ctx, n); saveErr != nil {
					logrus.Errorf("persisting error state for negotiation %s failed: %v", n.NegotiationID, saveErr)
					return false
				}
				m.cfg.Observable.InvokeForEach(func(l NegotiationListener) { l.Failed(n) })
			}
			return false
		}
		if err := n.SetContractAgreement(agreement); err != nil {
			logrus.Errorf("attaching agreement to negotiation %s failed: %v", n.NegotiationID, err)
			return false
		}
	}
	if err := n.TransitionConfirming(); err != nil {
		return false
	}
	if err := m.cfg.Store.SaveNegotiation(ctx, n); err != nil {
		logrus.Errorf("persisting send attempt for negotiation %s failed: %v", n.NegotiationID, err)
		return false
	}
	request := model.ContractAgreementRequest{
		ConnectorID:       m.cfg.ConnectorID,
		ConnectorAddress:  n.CounterPartyAddress,
		ProtocolName:      n.Protocol,
		CorrelationID:     n.CorrelationID,
		ContractAgreement: n.ContractAgreement,
	}
	m.dispatchAsync(n.NegotiationID, request, "agreement", func(n *model.Negotiation) (func(), error) {
		if err := n.TransitionConfirmed(); err != nil {
			return nil, err
		}
		return func() {
			m.cfg.Observable.InvokeForEach(func(l NegotiationListener) { l.Confirmed(n) })
		}, nil
	})
	return true
}

func (m *ProviderNegotiationManager) buildAgreement(n *model.Negotiation) (*model.ContractAgreement, error) {
	offer, err := n.LastContractOffer()
	if err != nil {
		return nil, err
	}
	return &model.ContractAgreement{
		AgreementID:     model.GenerateUUIDWithSuffix("cta"),
		ProviderAgentID: m.cfg.ConnectorID,
		ConsumerAgentID: n.CounterPartyID,
		AssetID:         offer.AssetID,
		Policy:          offer.Policy,
		ContractSigning: m.cfg.Clock.Now(),
		ContractStart:   offer.ContractStart,
		ContractEnd:     offer.ContractEnd,
	}, nil
}
