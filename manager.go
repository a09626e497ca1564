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
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weavedata/weave/database"
	"github.com/weavedata/weave/model"
)

// stateProcessor binds one watched state to the function that advances
// negotiations found in it. The function reports whether it did meaningful
// work so that the loop can back off when the store is drained.
type stateProcessor struct {
	state   model.NegotiationState
	process func(ctx context.Context, n *model.Negotiation) bool
}

// ManagerConfig carries everything a negotiation manager needs. All
// reference fields are mandatory unless noted; NewConsumerManager and
// NewProviderManager reject incomplete configs up front rather than
// surfacing nil dereferences mid-negotiation.
type ManagerConfig struct {
	Store            database.IDataSource
	Dispatcher       *DispatcherRegistry
	Observable       *NegotiationObservable
	Validation       ValidationService
	CommandQueue     CommandQueue
	Retry            *SendRetryManager
	Clock            model.Clock
	ConnectorID      string
	ConnectorAddress string
	ProtocolName     string
	BatchSize        int
	Workers          int
	PollInterval     time.Duration
	MaxPoll          time.Duration
}

func (c *ManagerConfig) validate() error {
	switch {
	case c.Store == nil:
		return errors.New("manager config: store is required")
	case c.Dispatcher == nil:
		return errors.New("manager config: dispatcher is required")
	case c.Observable == nil:
		return errors.New("manager config: observable is required")
	case c.Validation == nil:
		return errors.New("manager config: validation service is required")
	case c.Retry == nil:
		return errors.New("manager config: send retry manager is required")
	case c.ConnectorID == "":
		return errors.New("manager config: connector id is required")
	case c.ConnectorAddress == "":
		return errors.New("manager config: connector address is required")
	case c.ProtocolName == "":
		return errors.New("manager config: protocol name is required")
	}
	return nil
}

func (c *ManagerConfig) withDefaults() {
	if c.Clock == nil {
		c.Clock = model.SystemClock{}
	}
	if c.CommandQueue == nil {
		c.CommandQueue = NewMemoryCommandQueue()
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxPoll <= 0 {
		c.MaxPoll = 30 * time.Second
	}
}

// negotiationManager drives negotiations through their states. The consumer
// and provider managers embed it and contribute their watched states and
// inbound-message handlers.
type negotiationManager struct {
	cfg       ManagerConfig
	commands  *CommandProcessor
	active    atomic.Bool
	wg        sync.WaitGroup
	cancelRun context.CancelFunc

	// dispatchCtx governs async sends. It is deliberately independent of
	// the worker run context: a graceful Stop must not abort a message
	// already on the wire. Only ForceStop cancels it.
	dispatchCtx    context.Context
	cancelDispatch context.CancelFunc

	// inflight tracks async dispatches so Stop can wait for their
	// completion handlers.
	inflight sync.WaitGroup
}

func newNegotiationManager(cfg ManagerConfig) (*negotiationManager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.withDefaults()
	m := &negotiationManager{cfg: cfg}
	m.dispatchCtx, m.cancelDispatch = context.WithCancel(context.Background())
	m.commands = NewCommandProcessor(cfg.Store)
	m.commands.RegisterHandler(CommandCancelNegotiation, m.handleCancelCommand)
	m.commands.RegisterHandler(CommandDeclineNegotiation, m.handleDeclineCommand)
	return m, nil
}

// start launches the worker goroutines running the given processors. It is
// idempotent while running.
func (m *negotiationManager) start(ctx context.Context, processors []stateProcessor) {
	if !m.active.CompareAndSwap(false, true) {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancelRun = cancel
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.run(runCtx, processors)
	}
}

// Stop drains gracefully: workers stop leasing new batches, in-flight
// dispatches run to completion and their outcomes are persisted. Leases on
// untouched entities simply expire.
func (m *negotiationManager) Stop() {
	if !m.active.CompareAndSwap(true, false) {
		return
	}
	m.cancelRun()
	m.wg.Wait()
	m.inflight.Wait()
}

// ForceStop shuts down immediately: the dispatch context is cancelled so
// in-flight sends return early, then workers and completion handlers are
// awaited. Aborted entities retry after their lease expires.
func (m *negotiationManager) ForceStop() {
	if !m.active.CompareAndSwap(true, false) {
		return
	}
	m.cancelRun()
	m.cancelDispatch()
	m.wg.Wait()
	m.inflight.Wait()
}

func (m *negotiationManager) run(ctx context.Context, processors []stateProcessor) {
	defer m.wg.Done()

	wait := backoff.NewExponentialBackOff()
	wait.InitialInterval = m.cfg.PollInterval
	wait.MaxInterval = m.cfg.MaxPoll
	wait.MaxElapsedTime = 0
	wait.Reset()

	for m.active.Load() && ctx.Err() == nil {
		processed := m.runIteration(ctx, processors)
		if processed > 0 {
			wait.Reset()
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait.NextBackOff()):
		}
	}
}

// runIteration performs one pass: drain pending commands, then lease and
// process one batch per watched state. Returns the number of entities that
// made progress.
func (m *negotiationManager) runIteration(ctx context.Context, processors []stateProcessor) int {
	processed := m.drainCommands(ctx)
	for _, p := range processors {
		batch, err := m.cfg.Store.NextNegotiationsForState(ctx, p.state, m.cfg.BatchSize)
		if err != nil {
			logrus.Errorf("leasing negotiations in state %s failed: %v", p.state, err)
			continue
		}
		for _, n := range batch {
			if p.process(ctx, n) {
				processed++
			}
		}
	}
	return processed
}

func (m *negotiationManager) drainCommands(ctx context.Context) int {
	commands, err := m.cfg.CommandQueue.Dequeue(ctx, m.cfg.BatchSize)
	if err != nil {
		logrus.Errorf("dequeuing negotiation commands failed: %v", err)
		return 0
	}
	for _, cmd := range commands {
		if err := m.commands.Process(ctx, cmd); err != nil {
			logrus.Errorf("command %s for negotiation %s failed: %v", cmd.Kind, cmd.NegotiationID, err)
		}
	}
	return len(commands)
}

func (m *negotiationManager) handleCancelCommand(ctx context.Context, cmd NegotiationCommand) error {
	n, err := m.cfg.Store.GetNegotiation(ctx, cmd.NegotiationID)
	if err != nil {
		return err
	}
	if err := n.TransitionCancelled(); err != nil {
		return err
	}
	if err := m.cfg.Store.SaveNegotiation(ctx, n); err != nil {
		return err
	}
	m.cfg.Observable.InvokeForEach(func(l NegotiationListener) { l.Cancelled(n) })
	return nil
}

func (m *negotiationManager) handleDeclineCommand(ctx context.Context, cmd NegotiationCommand) error {
	n, err := m.cfg.Store.GetNegotiation(ctx, cmd.NegotiationID)
	if err != nil {
		return err
	}
	if err := n.TransitionDeclining(); err != nil {
		return err
	}
	if cmd.Reason != "" {
		n.DeclineReason = cmd.Reason
	}
	return m.cfg.Store.SaveNegotiation(ctx, n)
}

// breakLease persists the entity unchanged, releasing this runtime's lease
// so another pass can retry without waiting for lease expiry.
func (m *negotiationManager) breakLease(ctx context.Context, n *model.Negotiation) {
	if err := m.cfg.Store.SaveNegotiation(ctx, n); err != nil {
		logrus.Errorf("releasing lease on negotiation %s failed: %v", n.NegotiationID, err)
	}
}

// dispatchAsync sends a message off the worker goroutine and applies the
// outcome through the completion handler. The entity must already be
// persisted in its sending state before this is called, so a crash between
// send and completion replays from the durable state. Sends run under the
// manager's dispatch context, which survives a graceful Stop.
func (m *negotiationManager) dispatchAsync(negotiationID string, message model.RemoteMessage, operation string, onSuccess func(n *model.Negotiation) (func(), error)) {
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		_, err := m.cfg.Dispatcher.Send(m.dispatchCtx, model.ClaimToken{}, message)
		m.handleSendResult(m.dispatchCtx, negotiationID, operation, err, onSuccess)
	}()
}

// handleSendResult refetches the negotiation by id so the outcome applies
// to current store state, not the possibly stale snapshot captured at
// dispatch time. The notify callback returned by onSuccess runs only once
// the transition is persisted; listeners never observe a state the store
// has not accepted.
func (m *negotiationManager) handleSendResult(ctx context.Context, negotiationID, operation string, sendErr error, onSuccess func(n *model.Negotiation) (func(), error)) {
	n, err := m.cfg.Store.GetNegotiation(ctx, negotiationID)
	if err != nil {
		logrus.Errorf("completing %s: refetching negotiation %s failed: %v", operation, negotiationID, err)
		return
	}

	if sendErr == nil {
		notify, err := onSuccess(n)
		if err != nil {
			logrus.Errorf("completing %s for negotiation %s failed: %v", operation, negotiationID, err)
			m.breakLease(ctx, n)
			return
		}
		if err := m.cfg.Store.SaveNegotiation(ctx, n); err != nil {
			logrus.Errorf("persisting %s outcome for negotiation %s failed: %v", operation, negotiationID, err)
			return
		}
		if notify != nil {
			notify()
		}
		return
	}

	if m.cfg.Retry.RetriesExhausted(n) {
		logrus.Errorf("%s for negotiation %s failed after %d attempts, transitioning to error: %v", operation, negotiationID, n.StateCount, sendErr)
		if err := n.TransitionError(sendErr.Error()); err != nil {
			logrus.Errorf("transitioning negotiation %s to error failed: %v", negotiationID, err)
			m.breakLease(ctx, n)
			return
		}
		if err := m.cfg.Store.SaveNegotiation(ctx, n); err != nil {
			logrus.Errorf("persisting error state for negotiation %s failed: %v", negotiationID, err)
			return
		}
		m.cfg.Observable.InvokeForEach(func(l NegotiationListener) { l.Failed(n) })
		return
	}

	logrus.Warnf("%s for negotiation %s failed, will retry (attempt %d): %v", operation, negotiationID, n.StateCount, sendErr)
	m.breakLease(ctx, n)
}

// processDeclining sends the rejection message for a negotiation that either
// side has decided to decline. Shared by both managers.
func (m *negotiationManager) processDeclining(ctx context.Context, n *model.Negotiation) bool {
	if m.shouldDelaySend(ctx, n) {
		return false
	}
	if err := n.TransitionDeclining(); err != nil {
		logrus.Errorf("re-entering DECLINING for negotiation %s failed: %v", n.NegotiationID, err)
		return false
	}
	if err := m.cfg.Store.SaveNegotiation(ctx, n); err != nil {
		logrus.Errorf("persisting send attempt for negotiation %s failed: %v", n.NegotiationID, err)
		return false
	}
	rejection := model.ContractRejection{
		ConnectorID:      m.cfg.ConnectorID,
		ConnectorAddress: n.CounterPartyAddress,
		ProtocolName:     n.Protocol,
		CorrelationID:    n.CorrelationID,
		RejectionReason:  n.DeclineReason,
	}
	m.dispatchAsync(n.NegotiationID, rejection, "rejection", func(n *model.Negotiation) (func(), error) {
		if err := n.TransitionDeclined(); err != nil {
			return nil, err
		}
		return func() {
			m.cfg.Observable.InvokeForEach(func(l NegotiationListener) { l.Declined(n) })
		}, nil
	})
	return true
}

// declineInbound applies a rejection received from the counterparty: the
// negotiation goes straight to DECLINED, there is nothing left to send.
func (m *negotiationManager) declineInbound(ctx context.Context, correlationID, reason string) (*model.Negotiation, error) {
	n, err := m.cfg.Store.GetNegotiationByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		n.DeclineReason = reason
	}
	if err := n.TransitionDeclining(); err != nil {
		return nil, err
	}
	if err := n.TransitionDeclined(); err != nil {
		return nil, err
	}
	if err := m.cfg.Store.SaveNegotiation(ctx, n); err != nil {
		return nil, err
	}
	m.cfg.Observable.InvokeForEach(func(l NegotiationListener) { l.Declined(n) })
	return n, nil
}

// shouldDelaySend reports whether a retry for n is still inside its backoff
// window; delayed entities are released so the next pass reconsiders them.
func (m *negotiationManager) shouldDelaySend(ctx context.Context, n *model.Negotiation) bool {
	if !m.cfg.Retry.ShouldDelay(n) {
		return false
	}
	m.breakLease(ctx, n)
	return true
}
