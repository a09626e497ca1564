package weave

import (
	"context"
	"fmt"
	"sync"

	"github.com/weavedata/weave/model"
)

// RemoteMessageDispatcher delivers a message to the counter-party connector
// over one wire protocol. Send must be safe for concurrent use; delivery
// happens off the worker goroutine.
type RemoteMessageDispatcher interface {
	Protocol() string
	Send(ctx context.Context, token model.ClaimToken, message model.RemoteMessage) (any, error)
}

// DispatcherRegistry routes messages to the dispatcher registered for the
// message's protocol.
type DispatcherRegistry struct {
	mu          sync.RWMutex
	dispatchers map[string]RemoteMessageDispatcher
}

func NewDispatcherRegistry() *DispatcherRegistry {
	return &DispatcherRegistry{dispatchers: make(map[string]RemoteMessageDispatcher)}
}

func (r *DispatcherRegistry) Register(dispatcher RemoteMessageDispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatchers[dispatcher.Protocol()] = dispatcher
}

func (r *DispatcherRegistry) Send(ctx context.Context, token model.ClaimToken, message model.RemoteMessage) (any, error) {
	r.mu.RLock()
	dispatcher, ok := r.dispatchers[message.Protocol()]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no dispatcher registered for protocol %q", message.Protocol())
	}
	return dispatcher.Send(ctx, token, message)
}
