package model

import (
	"fmt"
	"time"
)

// NegotiationType fixes which side of the protocol a negotiation runs:
// consumers initiate, providers react.
type NegotiationType string

const (
	ConsumerNegotiation NegotiationType = "CONSUMER"
	ProviderNegotiation NegotiationType = "PROVIDER"
)

// ErrTransitionNotAllowed is returned when a transition is attempted from a
// state that is not a legal origin for the target.
type ErrTransitionNotAllowed struct {
	From NegotiationState
	To   NegotiationState
}

func (e ErrTransitionNotAllowed) Error() string {
	return fmt.Sprintf("cannot transition from state %s to %s", e.From, e.To)
}

// Lease is a time-boxed ownership claim on a negotiation. It is persisted
// next to the entity by the store, never carried on the entity itself, and
// is the only synchronization primitive the engine relies on.
type Lease struct {
	OwnerID  string        `json:"owner_id"`
	LeasedAt time.Time     `json:"leased_at"`
	Duration time.Duration `json:"duration"`
}

// Expired reports whether the lease no longer protects the entity at the
// given instant.
func (l Lease) Expired(now time.Time) bool {
	return now.After(l.LeasedAt.Add(l.Duration))
}

// Negotiation is a contract negotiation between this connector and a remote
// counterparty. Its state is mutated exclusively through the transition
// methods below; callers outside the engine treat it as read-only.
type Negotiation struct {
	NegotiationID       string             `json:"id"`
	Type                NegotiationType    `json:"type"`
	State               NegotiationState   `json:"state"`
	StateCount          int                `json:"state_count"`
	StateTimestamp      time.Time          `json:"state_timestamp"`
	CorrelationID       string             `json:"correlation_id"`
	CounterPartyID      string             `json:"counter_party_id"`
	CounterPartyAddress string             `json:"counter_party_address"`
	Protocol            string             `json:"protocol"`
	ContractOffers      []ContractOffer    `json:"contract_offers"`
	ContractAgreement   *ContractAgreement `json:"contract_agreement,omitempty"`
	// ErrorDetail is set only when the negotiation reaches ERROR; a
	// declined negotiation carries its reason in DeclineReason instead.
	ErrorDetail   string    `json:"error_detail,omitempty"`
	DeclineReason string    `json:"decline_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`

	clock Clock
}

// NewNegotiation creates an unsaved negotiation. The clock is used for all
// subsequent state timestamping.
func NewNegotiation(negotiationType NegotiationType, clock Clock) *Negotiation {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Negotiation{
		NegotiationID: GenerateUUIDWithSuffix("neg"),
		Type:          negotiationType,
		State:         StateUnsaved,
		StateCount:    0,
		CreatedAt:     clock.Now(),
		clock:         clock,
	}
}

// SetClock attaches a clock to a negotiation rehydrated from storage.
func (n *Negotiation) SetClock(clock Clock) {
	n.clock = clock
}

func (n *Negotiation) now() time.Time {
	if n.clock == nil {
		return time.Now()
	}
	return n.clock.Now()
}

// AddContractOffer appends an offer snapshot. Offers are append-only; the
// last element is the current offer.
func (n *Negotiation) AddContractOffer(offer ContractOffer) {
	n.ContractOffers = append(n.ContractOffers, offer.copyOffer())
}

// LastContractOffer returns the current offer.
func (n *Negotiation) LastContractOffer() (ContractOffer, error) {
	if len(n.ContractOffers) == 0 {
		return ContractOffer{}, fmt.Errorf("negotiation %s has no contract offers", n.NegotiationID)
	}
	return n.ContractOffers[len(n.ContractOffers)-1], nil
}

// SetContractAgreement records the finalized agreement. It may be set once.
func (n *Negotiation) SetContractAgreement(agreement *ContractAgreement) error {
	if n.ContractAgreement != nil {
		return fmt.Errorf("negotiation %s already carries an agreement", n.NegotiationID)
	}
	agreement.NegotiationID = n.NegotiationID
	n.ContractAgreement = agreement
	return nil
}

// transitionTo moves the negotiation into target if the current state is one
// of the allowed origins. A target below the current state is treated as a
// replayed message and ignored. A transition into the current state is a
// retry: it increments the attempt count instead of resetting it.
func (n *Negotiation) transitionTo(target NegotiationState, origins ...NegotiationState) error {
	if target < n.State {
		return nil
	}
	allowed := false
	for _, origin := range origins {
		if n.State == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrTransitionNotAllowed{From: n.State, To: target}
	}
	if target == n.State {
		n.StateCount++
	} else {
		n.State = target
		n.StateCount = 1
	}
	n.StateTimestamp = n.now()
	return nil
}

func (n *Negotiation) TransitionInitial() error {
	return n.transitionTo(StateInitial, StateUnsaved, StateInitial)
}

func (n *Negotiation) TransitionRequesting() error {
	if n.Type != ConsumerNegotiation {
		return fmt.Errorf("provider negotiation %s cannot enter REQUESTING", n.NegotiationID)
	}
	return n.transitionTo(StateRequesting, StateUnsaved, StateInitial, StateRequesting)
}

func (n *Negotiation) TransitionRequested() error {
	if n.Type == ProviderNegotiation {
		return n.transitionTo(StateRequested, StateUnsaved, StateInitial)
	}
	return n.transitionTo(StateRequested, StateRequesting)
}

func (n *Negotiation) TransitionProviderOffering() error {
	return n.transitionTo(StateProviderOffering,
		StateRequested, StateProviderOffering, StateConsumerOffered)
}

func (n *Negotiation) TransitionProviderOffered() error {
	return n.transitionTo(StateProviderOffered, StateProviderOffering, StateRequested)
}

func (n *Negotiation) TransitionConsumerOffering() error {
	if n.Type != ConsumerNegotiation {
		return fmt.Errorf("provider negotiation %s cannot enter CONSUMER_OFFERING", n.NegotiationID)
	}
	return n.transitionTo(StateConsumerOffering,
		StateRequested, StateConsumerOffering, StateProviderOffered)
}

func (n *Negotiation) TransitionConsumerOffered() error {
	return n.transitionTo(StateConsumerOffered, StateConsumerOffering, StateProviderOffered)
}

func (n *Negotiation) TransitionConsumerApproving() error {
	if n.Type != ConsumerNegotiation {
		return fmt.Errorf("provider negotiation %s cannot enter CONSUMER_APPROVING", n.NegotiationID)
	}
	return n.transitionTo(StateConsumerApproving,
		StateRequested, StateProviderOffered, StateConsumerOffered, StateConsumerApproving)
}

func (n *Negotiation) TransitionConsumerApproved() error {
	return n.transitionTo(StateConsumerApproved, StateConsumerApproving)
}

func (n *Negotiation) TransitionDeclining() error {
	return n.transitionTo(StateDeclining,
		StateUnsaved, StateInitial, StateRequested, StateProviderOffering,
		StateProviderOffered, StateConsumerOffering, StateConsumerOffered,
		StateConsumerApproving, StateConsumerApproved, StateDeclining)
}

func (n *Negotiation) TransitionDeclined() error {
	return n.transitionTo(StateDeclined, StateDeclining)
}

func (n *Negotiation) TransitionConfirming() error {
	if n.Type != ProviderNegotiation {
		return fmt.Errorf("consumer negotiation %s cannot enter CONFIRMING", n.NegotiationID)
	}
	return n.transitionTo(StateConfirming,
		StateUnsaved, StateInitial, StateRequested, StateProviderOffered,
		StateConsumerOffered, StateConfirming)
}

// TransitionConfirmed requires the agreement to be set first; a confirmed
// negotiation without an agreement violates the data model.
func (n *Negotiation) TransitionConfirmed() error {
	if n.ContractAgreement == nil {
		return fmt.Errorf("negotiation %s cannot be confirmed without an agreement", n.NegotiationID)
	}
	return n.transitionTo(StateConfirmed,
		StateRequested, StateConfirming, StateConsumerApproving, StateConsumerApproved)
}

// TransitionError short-circuits the negotiation into the terminal error
// state from any non-terminal state, recording the cause.
func (n *Negotiation) TransitionError(detail string) error {
	if n.State.IsTerminal() {
		return ErrTransitionNotAllowed{From: n.State, To: StateError}
	}
	n.State = StateError
	n.StateCount = 1
	n.StateTimestamp = n.now()
	n.ErrorDetail = detail
	return nil
}

// TransitionCancelled aborts the negotiation from any non-terminal state.
func (n *Negotiation) TransitionCancelled() error {
	if n.State.IsTerminal() {
		return ErrTransitionNotAllowed{From: n.State, To: StateCancelled}
	}
	n.State = StateCancelled
	n.StateCount = 1
	n.StateTimestamp = n.now()
	return nil
}

// Copy returns a deep copy. Stores hand out copies only, so callers can
// never mutate persisted records in place.
func (n *Negotiation) Copy() *Negotiation {
	cp := *n
	if n.ContractOffers != nil {
		cp.ContractOffers = make([]ContractOffer, 0, len(n.ContractOffers))
		for _, offer := range n.ContractOffers {
			cp.ContractOffers = append(cp.ContractOffers, offer.copyOffer())
		}
	}
	cp.ContractAgreement = n.ContractAgreement.Copy()
	return &cp
}
