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
	"embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/weavedata/weave/config"
	"github.com/weavedata/weave/database"
	"github.com/weavedata/weave/internal/query"
	redis_db "github.com/weavedata/weave/internal/redis-db"
	"github.com/weavedata/weave/model"
)

var tracer = otel.Tracer("weave.negotiations")

//go:embed sql/*.sql
var SQLFiles embed.FS

// Weave is the negotiation engine: the store, both negotiation managers,
// the listener registry, and the queues that fan events out.
type Weave struct {
	queue       *Queue
	search      *TypesenseClient
	redis       redis.UniversalClient
	datasource  database.IDataSource
	observable  *NegotiationObservable
	dispatchers *DispatcherRegistry
	consumer    *ConsumerNegotiationManager
	provider    *ProviderNegotiationManager
	commands    CommandQueue
}

// NewWeave builds the engine from the loaded configuration. Dispatchers for
// the wire protocols in use must be registered on Dispatchers() before the
// managers are started.
func NewWeave(db database.IDataSource) (*Weave, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}

	newQueue := NewQueue(configuration)
	newSearch := NewTypesenseClient(configuration.TypeSenseKey, []string{configuration.TypeSense.Dns})

	observable := NewNegotiationObservable()
	observable.RegisterListener(NewWebhookListener(newQueue))
	observable.RegisterListener(NewIndexListener(newQueue))

	dispatchers := NewDispatcherRegistry()
	commands := NewRedisCommandQueue(redisClient.Client(), "")

	retry := NewSendRetryManager(
		configuration.Negotiation.MaxRetries,
		time.Duration(configuration.Negotiation.SendRetryBaseMillis)*time.Millisecond,
		model.SystemClock{},
	)

	managerCfg := ManagerConfig{
		Store:            db,
		Dispatcher:       dispatchers,
		Observable:       observable,
		Validation:       DefaultValidationService{},
		CommandQueue:     commands,
		Retry:            retry,
		ConnectorID:      configuration.Connector.ID,
		ConnectorAddress: configuration.Connector.Address,
		ProtocolName:     configuration.Connector.Protocol,
		BatchSize:        configuration.Negotiation.BatchSize,
		Workers:          configuration.Negotiation.Workers,
		PollInterval:     time.Duration(configuration.Negotiation.PollIntervalMillis) * time.Millisecond,
		MaxPoll:          time.Duration(configuration.Negotiation.MaxPollMillis) * time.Millisecond,
	}

	consumer, err := NewConsumerManager(managerCfg)
	if err != nil {
		return nil, err
	}
	provider, err := NewProviderManager(managerCfg)
	if err != nil {
		return nil, err
	}

	return &Weave{
		queue:       newQueue,
		search:      newSearch,
		redis:       redisClient.Client(),
		datasource:  db,
		observable:  observable,
		dispatchers: dispatchers,
		consumer:    consumer,
		provider:    provider,
		commands:    commands,
	}, nil
}

// Consumer returns the consumer-side negotiation manager.
func (w *Weave) Consumer() *ConsumerNegotiationManager { return w.consumer }

// Provider returns the provider-side negotiation manager.
func (w *Weave) Provider() *ProviderNegotiationManager { return w.provider }

// Observable returns the listener registry shared by both managers.
func (w *Weave) Observable() *NegotiationObservable { return w.observable }

// Dispatchers returns the protocol dispatcher registry.
func (w *Weave) Dispatchers() *DispatcherRegistry { return w.dispatchers }

// FindNegotiation fetches one negotiation by id.
func (w *Weave) FindNegotiation(ctx context.Context, id string) (*model.Negotiation, error) {
	ctx, span := tracer.Start(ctx, "Find Negotiation")
	defer span.End()
	return w.datasource.GetNegotiation(ctx, id)
}

// FindNegotiationByCorrelationID fetches the negotiation correlated with a
// counterparty process id.
func (w *Weave) FindNegotiationByCorrelationID(ctx context.Context, correlationID string) (*model.Negotiation, error) {
	ctx, span := tracer.Start(ctx, "Find Negotiation By Correlation ID")
	defer span.End()
	return w.datasource.GetNegotiationByCorrelationID(ctx, correlationID)
}

// FindAgreement fetches one contract agreement by id.
func (w *Weave) FindAgreement(ctx context.Context, id string) (*model.ContractAgreement, error) {
	ctx, span := tracer.Start(ctx, "Find Agreement")
	defer span.End()
	return w.datasource.GetAgreement(ctx, id)
}

// QueryNegotiations runs a filtered, sorted, paginated query against the
// store.
func (w *Weave) QueryNegotiations(ctx context.Context, spec query.Spec) ([]*model.Negotiation, error) {
	ctx, span := tracer.Start(ctx, "Query Negotiations")
	defer span.End()
	return w.datasource.QueryNegotiations(ctx, spec)
}

// QueryAgreements runs a filtered, sorted, paginated query over agreements.
func (w *Weave) QueryAgreements(ctx context.Context, spec query.Spec) ([]*model.ContractAgreement, error) {
	ctx, span := tracer.Start(ctx, "Query Agreements")
	defer span.End()
	return w.datasource.QueryAgreements(ctx, spec)
}

// DeleteNegotiation removes a negotiation that never left its initial
// states.
func (w *Weave) DeleteNegotiation(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Delete Negotiation")
	defer span.End()
	return w.datasource.DeleteNegotiation(ctx, id)
}

// CancelNegotiation queues a cancellation; the worker loop applies it ahead
// of automatic progression.
func (w *Weave) CancelNegotiation(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Cancel Negotiation")
	defer span.End()
	return w.commands.Enqueue(ctx, NegotiationCommand{
		Kind:          CommandCancelNegotiation,
		NegotiationID: id,
	})
}

// DeclineNegotiation queues a decline with a reason.
func (w *Weave) DeclineNegotiation(ctx context.Context, id, reason string) error {
	ctx, span := tracer.Start(ctx, "Decline Negotiation")
	defer span.End()
	return w.commands.Enqueue(ctx, NegotiationCommand{
		Kind:          CommandDeclineNegotiation,
		NegotiationID: id,
		Reason:        reason,
	})
}
