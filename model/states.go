package model

// NegotiationState is the position of a negotiation in its lifecycle. Codes
// are ordered by progress so that a transition to a lower code can be
// detected as a replayed message and ignored.
type NegotiationState int

const (
	StateUnsaved           NegotiationState = 0
	StateInitial           NegotiationState = 50
	StateRequesting        NegotiationState = 100
	StateRequested         NegotiationState = 200
	StateProviderOffering  NegotiationState = 300
	StateProviderOffered   NegotiationState = 400
	StateConsumerOffering  NegotiationState = 500
	StateConsumerOffered   NegotiationState = 600
	StateConsumerApproving NegotiationState = 700
	StateConsumerApproved  NegotiationState = 800
	StateDeclining         NegotiationState = 900
	StateDeclined          NegotiationState = 1000
	StateConfirming        NegotiationState = 1100
	StateConfirmed         NegotiationState = 1200
	StateCancelled         NegotiationState = 9000
	StateError             NegotiationState = 9999
)

var stateNames = map[NegotiationState]string{
	StateUnsaved:           "UNSAVED",
	StateInitial:           "INITIAL",
	StateRequesting:        "REQUESTING",
	StateRequested:         "REQUESTED",
	StateProviderOffering:  "PROVIDER_OFFERING",
	StateProviderOffered:   "PROVIDER_OFFERED",
	StateConsumerOffering:  "CONSUMER_OFFERING",
	StateConsumerOffered:   "CONSUMER_OFFERED",
	StateConsumerApproving: "CONSUMER_APPROVING",
	StateConsumerApproved:  "CONSUMER_APPROVED",
	StateDeclining:         "DECLINING",
	StateDeclined:          "DECLINED",
	StateConfirming:        "CONFIRMING",
	StateConfirmed:         "CONFIRMED",
	StateCancelled:         "CANCELLED",
	StateError:             "ERROR",
}

func (s NegotiationState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsTerminal reports whether a negotiation in this state has finished for
// good. Terminal negotiations are immutable: they are never leased again and
// no further transition is accepted.
func (s NegotiationState) IsTerminal() bool {
	switch s {
	case StateConfirmed, StateDeclined, StateCancelled, StateError:
		return true
	}
	return false
}

// IsDeletable reports whether a negotiation in this state may be removed
// from the store. Anything past INITIAL carries provenance that must be
// kept.
func (s NegotiationState) IsDeletable() bool {
	return s == StateUnsaved || s == StateInitial
}
