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
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/weavedata/weave/database"
)

// Command kinds understood by the processor.
const (
	CommandCancelNegotiation  = "cancel-negotiation"
	CommandDeclineNegotiation = "decline-negotiation"
)

// NegotiationCommand is an out-of-band instruction targeting one
// negotiation, e.g. an operator forcing a cancellation. Commands preempt
// automatic progression: the worker loop drains them before leasing state
// batches.
type NegotiationCommand struct {
	Kind          string `json:"kind"`
	NegotiationID string `json:"negotiation_id"`
	Reason        string `json:"reason,omitempty"`
}

// CommandQueue hands commands to the worker loop. Dequeue is non-blocking:
// it returns at most max commands and an empty slice when none are pending.
type CommandQueue interface {
	Enqueue(ctx context.Context, cmd NegotiationCommand) error
	Dequeue(ctx context.Context, max int) ([]NegotiationCommand, error)
}

// MemoryCommandQueue is the in-process queue used in tests and
// single-process deployments.
type MemoryCommandQueue struct {
	mu       sync.Mutex
	commands []NegotiationCommand
}

func NewMemoryCommandQueue() *MemoryCommandQueue {
	return &MemoryCommandQueue{}
}

func (q *MemoryCommandQueue) Enqueue(_ context.Context, cmd NegotiationCommand) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.commands = append(q.commands, cmd)
	return nil
}

func (q *MemoryCommandQueue) Dequeue(_ context.Context, max int) ([]NegotiationCommand, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max > len(q.commands) {
		max = len(q.commands)
	}
	if max <= 0 {
		return nil, nil
	}
	batch := make([]NegotiationCommand, max)
	copy(batch, q.commands[:max])
	q.commands = append(q.commands[:0], q.commands[max:]...)
	return batch, nil
}

// RedisCommandQueue is a durable queue backed by a redis list, so operator
// commands survive restarts and reach whichever worker process drains them
// first.
type RedisCommandQueue struct {
	client redis.UniversalClient
	key    string
}

func NewRedisCommandQueue(client redis.UniversalClient, key string) *RedisCommandQueue {
	if key == "" {
		key = "weave:negotiation:commands"
	}
	return &RedisCommandQueue{client: client, key: key}
}

func (q *RedisCommandQueue) Enqueue(ctx context.Context, cmd NegotiationCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, payload).Err()
}

func (q *RedisCommandQueue) Dequeue(ctx context.Context, max int) ([]NegotiationCommand, error) {
	if max <= 0 {
		return nil, nil
	}
	payloads, err := q.client.RPopCount(ctx, q.key, max).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	commands := make([]NegotiationCommand, 0, len(payloads))
	for _, payload := range payloads {
		var cmd NegotiationCommand
		if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
			logrus.Errorf("dropping malformed command payload: %v", err)
			continue
		}
		commands = append(commands, cmd)
	}
	return commands, nil
}

// CommandProcessor applies commands against entities fetched fresh from the
// store. A failing command is logged and dropped; it never terminates the
// worker loop.
type CommandProcessor struct {
	store    database.IDataSource
	handlers map[string]CommandHandler
}

// CommandHandler mutates the freshly loaded negotiation according to one
// command kind. The processor persists the result.
type CommandHandler func(ctx context.Context, cmd NegotiationCommand) error

func NewCommandProcessor(store database.IDataSource) *CommandProcessor {
	return &CommandProcessor{
		store:    store,
		handlers: make(map[string]CommandHandler),
	}
}

func (p *CommandProcessor) RegisterHandler(kind string, handler CommandHandler) {
	p.handlers[kind] = handler
}

// Process runs a single command. Returns an error for logging purposes
// only; callers continue with the next command regardless.
func (p *CommandProcessor) Process(ctx context.Context, cmd NegotiationCommand) error {
	handler, ok := p.handlers[cmd.Kind]
	if !ok {
		return fmt.Errorf("no handler registered for command kind %q", cmd.Kind)
	}
	return handler(ctx, cmd)
}
