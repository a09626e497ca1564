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
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/weavedata/weave/model"
)

// NegotiationListener is notified once per meaningful state transition.
// Because saves follow at-least-once semantics, listeners must be
// idempotent or dedupe on (negotiation id, state).
type NegotiationListener interface {
	Initiated(n *model.Negotiation)
	Requested(n *model.Negotiation)
	Offered(n *model.Negotiation)
	Approved(n *model.Negotiation)
	Declined(n *model.Negotiation)
	Confirmed(n *model.Negotiation)
	Cancelled(n *model.Negotiation)
	Failed(n *model.Negotiation)
}

// BaseNegotiationListener is a no-op implementation for embedding, so
// listeners only implement the events they care about.
type BaseNegotiationListener struct{}

func (BaseNegotiationListener) Initiated(*model.Negotiation) {}
func (BaseNegotiationListener) Requested(*model.Negotiation) {}
func (BaseNegotiationListener) Offered(*model.Negotiation)   {}
func (BaseNegotiationListener) Approved(*model.Negotiation)  {}
func (BaseNegotiationListener) Declined(*model.Negotiation)  {}
func (BaseNegotiationListener) Confirmed(*model.Negotiation) {}
func (BaseNegotiationListener) Cancelled(*model.Negotiation) {}
func (BaseNegotiationListener) Failed(*model.Negotiation)    {}

// NegotiationObservable fans out transition events to registered listeners.
// Registration is safe concurrently with notification, and a failing
// listener never blocks the others or the engine.
type NegotiationObservable struct {
	mu        sync.RWMutex
	listeners []NegotiationListener
}

func NewNegotiationObservable() *NegotiationObservable {
	return &NegotiationObservable{}
}

func (o *NegotiationObservable) RegisterListener(listener NegotiationListener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, listener)
}

func (o *NegotiationObservable) UnregisterListener(listener NegotiationListener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, registered := range o.listeners {
		if registered == listener {
			o.listeners = append(o.listeners[:i], o.listeners[i+1:]...)
			return
		}
	}
}

// InvokeForEach calls fn for every registered listener, isolating panics so
// one faulty subscriber cannot stop notification of the rest.
func (o *NegotiationObservable) InvokeForEach(fn func(NegotiationListener)) {
	o.mu.RLock()
	snapshot := make([]NegotiationListener, len(o.listeners))
	copy(snapshot, o.listeners)
	o.mu.RUnlock()

	for _, listener := range snapshot {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logrus.Errorf("negotiation listener panicked: %v", rec)
				}
			}()
			fn(listener)
		}()
	}
}
