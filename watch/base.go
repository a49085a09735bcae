// Package watch fans client-side state changes out to subscribed UI
// connections.
package watch

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Watcher is anything a UI connection can hold subscriptions on.
type Watcher interface {
	Unsubscribe(id string)
}

type Subscription struct {
	ID       string
	Notifier Notifier
}

// BaseWatcher provides common subscription management for all watcher types.
// Subscribers are notified in the order they subscribed.
type BaseWatcher struct {
	idPrefix string

	subMu         sync.RWMutex
	subscriptions map[string]*Subscription
	order         []string

	ctx    context.Context
	cancel context.CancelFunc
}

func NewBaseWatcher(idPrefix string) *BaseWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &BaseWatcher{
		idPrefix:      idPrefix,
		subscriptions: make(map[string]*Subscription),
		ctx:           ctx,
		cancel:        cancel,
	}
}

func generateIDWithPrefix(prefix string) string {
	return prefix + "_" + uuid.Must(uuid.NewV7()).String()
}

func (b *BaseWatcher) GenerateID() string {
	return generateIDWithPrefix(b.idPrefix)
}

// AddSubscription adds sub, replacing any subscription with the same ID.
func (b *BaseWatcher) AddSubscription(sub *Subscription) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	if _, ok := b.subscriptions[sub.ID]; !ok {
		b.order = append(b.order, sub.ID)
	}
	b.subscriptions[sub.ID] = sub
}

func (b *BaseWatcher) RemoveSubscription(id string) *Subscription {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	sub, ok := b.subscriptions[id]
	if !ok {
		return nil
	}

	delete(b.subscriptions, id)
	b.order = slices.DeleteFunc(b.order, func(s string) bool { return s == id })
	return sub
}

// GetAllSubscriptions returns a snapshot in subscription order.
func (b *BaseWatcher) GetAllSubscriptions() []*Subscription {
	b.subMu.RLock()
	defer b.subMu.RUnlock()

	subs := make([]*Subscription, 0, len(b.order))
	for _, id := range b.order {
		subs = append(subs, b.subscriptions[id])
	}
	return subs
}

func (b *BaseWatcher) GetSubscription(id string) *Subscription {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return b.subscriptions[id]
}

// NotifyAll sends method to every subscriber and returns how many there were.
func (b *BaseWatcher) NotifyAll(method string, makeParams func(sub *Subscription) any) int {
	subs := b.GetAllSubscriptions()
	for _, sub := range subs {
		b.notify(sub, method, makeParams(sub))
	}
	return len(subs)
}

// notify delivers one notification. Failures are logged and otherwise
// ignored; the connection owning sub removes it when it closes.
func (b *BaseWatcher) notify(sub *Subscription, method string, params any) error {
	if b.ctx.Err() != nil {
		return b.ctx.Err()
	}
	err := sub.Notifier.Notify(b.ctx, Notification{Method: method, Params: params})
	if err != nil {
		slog.Debug("failed to notify subscriber",
			"id", sub.ID,
			"method", method,
			"error", err)
	}
	return err
}

func (b *BaseWatcher) Context() context.Context { return b.ctx }
func (b *BaseWatcher) Cancel()                  { b.cancel() }

func (b *BaseWatcher) HasSubscriptions() bool {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return len(b.subscriptions) > 0
}

func (b *BaseWatcher) Unsubscribe(id string) {
	b.RemoveSubscription(id)
}
