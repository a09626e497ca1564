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

// ConsumerNegotiationManager runs the consumer side of contract
// negotiations: it initiates them, counters or approves provider offers,
// and drives outbound sends for the states it watches.
type ConsumerNegotiationManager struct {
	*negotiationManager
}

func NewConsumerManager(cfg ManagerConfig) (*ConsumerNegotiationManager, error) {
	base, err := newNegotiationManager(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "consumer negotiation manager")
	}
	return &ConsumerNegotiationManager{negotiationManager: base}, nil
}

func (m *ConsumerNegotiationManager) Start(ctx context.Context) {
	m.start(ctx, []stateProcessor{
		{state: model.StateRequesting, process: m.processRequesting},
		{state: model.StateConsumerOffering, process: m.processConsumerOffering},
		{state: model.StateConsumerApproving, process: m.processConsumerApproving},
		{state: model.StateDeclining, process: m.processDeclining},
	})
}

// Initiate starts a new consumer negotiation for the given offer request.
// The negotiation is persisted in REQUESTING; the worker loop performs the
// actual send.
func (m *ConsumerNegotiationManager) Initiate(ctx context.Context, request model.ContractOfferRequest) (*model.Negotiation, error) {
	if err := request.Validate(); err != nil {
		return nil, errors.Wrap(err, "initiating negotiation")
	}
	n := model.NewNegotiation(model.ConsumerNegotiation, m.cfg.Clock)
	n.CounterPartyID = request.ConnectorID
	n.CounterPartyAddress = request.ConnectorAddress
	n.Protocol = request.ProtocolName
	// The consumer's own id doubles as the correlation id the provider
	// echoes on every message about this negotiation.
	n.CorrelationID = n.NegotiationID
	n.AddContractOffer(request.ContractOffer)
	if err := n.TransitionRequesting(); err != nil {
		return nil, err
	}
	if err := m.cfg.Store.SaveNegotiation(ctx, n); err != nil {
		return nil, err
	}
	m.cfg.Observable.InvokeForEach(func(l NegotiationListener) { l.Initiated(n) })
	return n, nil
}

// CounterOffer records a counter offer against a provider offer and queues
// it for sending.
func (m *ConsumerNegotiationManager) CounterOffer(ctx context.Context, negotiationID string, offer model.ContractOffer) (*model.Negotiation, error) {
	n, err := m.cfg.Store.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	n.AddContractOffer(offer)
	if err := n.TransitionConsumerOffering(); err != nil {
		return nil, err
	}
	if err := m.cfg.Store.SaveNegotiation(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Approve accepts the provider's current offer and queues the approval for
// sending.
func (m *ConsumerNegotiationManager) Approve(ctx context.Context, negotiationID string) (*model.Negotiation, error) {
	n, err := m.cfg.Store.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	if err := n.TransitionConsumerApproving(); err != nil {
		return nil, err
	}
	if err := m.cfg.Store.SaveNegotiation(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Offered handles a counter offer arriving from the provider. A valid
// offer is approved automatically; an unacceptable one moves the
// negotiation towards DECLINED.
func (m *ConsumerNegotiationManager) Offered(ctx context.Context, token model.ClaimToken, correlationID string, offer model.ContractOffer) (*model.Negotiation, error) {
	n, err := m.cfg.Store.GetNegotiationByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	n.AddContractOffer(offer)
	if err := n.TransitionProviderOffered(); err != nil {
		return nil, err
	}
	if validationErr := m.cfg.Validation.ValidateIncomingOffer(token, offer); validationErr != nil {
		logrus.Warnf("declining provider offer on negotiation %s: %v", n.NegotiationID, validationErr)
		n.DeclineReason = validationErr.Error()
		if err := n.TransitionDeclining(); err != nil {
			return nil, err
		}
	} else if err := n.TransitionConsumerApproving(); err != nil {
		return nil, err
	}
	if err := m.cfg.Store.SaveNegotiation(ctx, n); err != nil {
		return nil, err
	}
	m.cfg.Observable.InvokeForEach(func(l NegotiationListener) { l.Offered(n) })
	return n, nil
}

// Confirmed handles the provider's agreement. The agreement is validated
// against the last offer this consumer saw; a mismatch declines the
// negotiation instead of confirming it.
func (m *ConsumerNegotiationManager) Confirmed(ctx context.Context, token model.ClaimToken, correlationID string, agreement *model.ContractAgreement) (*model.Negotiation, error) {
	n, err := m.cfg.Store.GetNegotiationByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	latest, err := n.LastContractOffer()
	var latestPtr *model.ContractOffer
	if err == nil {
		latestPtr = &latest
	}
	if validationErr := m.cfg.Validation.ValidateConfirmed(token, agreement, latestPtr); validationErr != nil {
		logrus.Warnf("declining confirmation on negotiation %s: %v", n.NegotiationID, validationErr)
		n.DeclineReason = validationErr.Error()
		if err := n.TransitionDeclining(); err != nil {
			return nil, err
		}
		if err := m.cfg.Store.SaveNegotiation(ctx, n); err != nil {
			return nil, err
		}
		return n, nil
	}
	if err := n.SetContractAgreement(agreement); err != nil {
		return nil, err
	}
	if err := n.TransitionConfirmed(); err != nil {
		return nil, err
	}
	if err := m.cfg.Store.SaveNegotiation(ctx, n); err != nil {
		return nil, err
	}
	m.cfg.Observable.InvokeForEach(func(l NegotiationListener) { l.Confirmed(n) })
	return n, nil
}

// Declined handles the provider rejecting the negotiation.
func (m *ConsumerNegotiationManager) Declined(ctx context.Context, _ model.ClaimToken, correlationID, reason string) (*model.Negotiation, error) {
	return m.declineInbound(ctx, correlationID, reason)
}

func (m *ConsumerNegotiationManager) processRequesting(ctx context.Context, n *model.Negotiation) bool {
	if m.shouldDelaySend(ctx, n) {
		return false
	}
	offer, err := n.LastContractOffer()
	if err != nil {
		logrus.Errorf("negotiation %s is REQUESTING without an offer: %v", n.NegotiationID, err)
		if transitionErr := n.TransitionError("no contract offer to request"); transitionErr == nil {
			if saveErr := m.cfg.Store.SaveNegotiation(ctx, n); saveErr != nil {
				logrus.Errorf("persisting error state for negotiation %s failed: %v", n.NegotiationID, saveErr)
				return false
			}
			m.cfg.Observable.InvokeForEach(func(l NegotiationListener) { l.Failed(n) })
		}
		return false
	}
	if err := n.TransitionRequesting(); err != nil {
		logrus.Errorf("re-entering REQUESTING for negotiation %s failed: %v", n.NegotiationID, err)
		return false
	}
	if err := m.cfg.Store.SaveNegotiation(ctx, n); err != nil {
		logrus.Errorf("persisting send attempt for negotiation %s failed: %v", n.NegotiationID, err)
		return false
	}
	request := model.ContractOfferRequest{
		Type:             model.OfferRequestInitial,
		ConnectorID:      m.cfg.ConnectorID,
		ConnectorAddress: n.CounterPartyAddress,
		ProtocolName:     n.Protocol,
		CorrelationID:    n.CorrelationID,
		ContractOffer:    offer,
	}
	m.dispatchAsync(n.NegotiationID, request, "offer request", func(n *model.Negotiation) (func(), error) {
		if err := n.TransitionRequested(); err != nil {
			return nil, err
		}
		return func() {
			m.cfg.Observable.InvokeForEach(func(l NegotiationListener) { l.Requested(n) })
		}, nil
	})
	return true
}

func (m *ConsumerNegotiationManager) processConsumerOffering(ctx context.Context, n *model.Negotiation) bool {
	if m.shouldDelaySend(ctx, n) {
		return false
	}
	offer, err := n.LastContractOffer()
	if err != nil {
		logrus.Errorf("negotiation %s is CONSUMER_OFFERING without an offer: %v", n.NegotiationID, err)
		return false
	}
	if err := n.TransitionConsumerOffering(); err != nil {
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
		if err := n.TransitionConsumerOffered(); err != nil {
			return nil, err
		}
		return func() {
			m.cfg.Observable.InvokeForEach(func(l NegotiationListener) { l.Offered(n) })
		}, nil
	})
	return true
}

func (m *ConsumerNegotiationManager) processConsumerApproving(ctx context.Context, n *model.Negotiation) bool {
	if m.shouldDelaySend(ctx, n) {
		return false
	}
	if err := n.TransitionConsumerApproving(); err != nil {
		return false
	}
	if err := m.cfg.Store.SaveNegotiation(ctx, n); err != nil {
		logrus.Errorf("persisting send attempt for negotiation %s failed: %v", n.NegotiationID, err)
		return false
	}
	approval := model.ContractApproval{
		ConnectorID:      m.cfg.ConnectorID,
		ConnectorAddress: n.CounterPartyAddress,
		ProtocolName:     n.Protocol,
		CorrelationID:    n.CorrelationID,
	}
	m.dispatchAsync(n.NegotiationID, approval, "approval", func(n *model.Negotiation) (func(), error) {
		if err := n.TransitionConsumerApproved(); err != nil {
			return nil, err
		}
		return func() {
			m.cfg.Observable.InvokeForEach(func(l NegotiationListener) { l.Approved(n) })
		}, nil
	})
	return true
}
