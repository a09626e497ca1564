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
	"time"

	"github.com/weavedata/weave/model"
)

// SendRetryManager decides whether a failed outbound send should be retried
// in place or whether the negotiation must move to the terminal error state.
// It is a pure decision function over the entity's attempt counter; the
// managers own the resulting transitions.
type SendRetryManager struct {
	retryLimit int
	baseDelay  time.Duration
	clock      model.Clock
}

func NewSendRetryManager(retryLimit int, baseDelay time.Duration, clock model.Clock) *SendRetryManager {
	if clock == nil {
		clock = model.SystemClock{}
	}
	return &SendRetryManager{
		retryLimit: retryLimit,
		baseDelay:  baseDelay,
		clock:      clock,
	}
}

// RetriesExhausted reports whether the negotiation has used up its send
// attempts for the current state.
func (r *SendRetryManager) RetriesExhausted(n *model.Negotiation) bool {
	return n.StateCount > r.retryLimit
}

// ShouldDelay reports whether the negotiation is inside its backoff window
// and should not be sent yet. The window doubles with every attempt made in
// the current state, so a flapping counterparty is probed progressively
// less often.
func (r *SendRetryManager) ShouldDelay(n *model.Negotiation) bool {
	if n.StateCount <= 1 {
		return false
	}
	waitUntil := n.StateTimestamp.Add(r.delayFor(n.StateCount - 1))
	return r.clock.Now().Before(waitUntil)
}

func (r *SendRetryManager) delayFor(attempts int) time.Duration {
	delay := r.baseDelay
	for i := 1; i < attempts && delay < time.Minute; i++ {
		delay *= 2
	}
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}
