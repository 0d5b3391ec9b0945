package pubsub

import (
	"context"
	"path"
	"sync"

	pkglog "github.com/weiawesome/wes-io-live/call-service/pkg/log"
)

type localSubscription struct {
	key     string
	pattern bool
	ch      chan *Event
	cancel  context.CancelFunc
}

// LocalPubSub is an in-process PubSub for single-instance deployments.
// Patterns use path.Match syntax, so "*" matches one channel segment or more
// as long as it contains no "/".
type LocalPubSub struct {
	subscriptions map[string]*localSubscription
	mu            sync.RWMutex
	closed        bool
}

// NewLocalPubSub creates an in-process PubSub.
func NewLocalPubSub() *LocalPubSub {
	return &LocalPubSub{subscriptions: make(map[string]*localSubscription)}
}

// Publish delivers the event to every matching subscription. Full subscriber
// buffers drop the event, as the redis driver does.
func (p *LocalPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, sub := range p.subscriptions {
		if !sub.matches(channel) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			l := pkglog.Ctx(ctx)
			l.Warn().Str("channel", channel).Msg("local pubsub: subscriber buffer full, dropping event")
		}
	}
	return nil
}

// Subscribe subscribes to a specific channel.
func (p *LocalPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	return p.subscribe(ctx, channel, false), nil
}

// SubscribePattern subscribes to channels matching a pattern.
func (p *LocalPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}
	return p.subscribe(ctx, pattern, true), nil
}

func (p *LocalPubSub) subscribe(ctx context.Context, key string, pattern bool) <-chan *Event {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &localSubscription{
		key:     key,
		pattern: pattern,
		ch:      make(chan *Event, 100),
		cancel:  cancel,
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel()
		close(sub.ch)
		return sub.ch
	}
	if existing, ok := p.subscriptions[key]; ok {
		p.removeLocked(existing)
	}
	p.subscriptions[key] = sub
	p.mu.Unlock()

	go func() {
		<-subCtx.Done()
		p.mu.Lock()
		if current, ok := p.subscriptions[key]; ok && current == sub {
			p.removeLocked(sub)
		}
		p.mu.Unlock()
	}()

	return sub.ch
}

// Unsubscribe unsubscribes from a channel or pattern.
func (p *LocalPubSub) Unsubscribe(ctx context.Context, channel string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sub, ok := p.subscriptions[channel]; ok {
		p.removeLocked(sub)
	}
	return nil
}

// Close closes every subscription.
func (p *LocalPubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, sub := range p.subscriptions {
		p.removeLocked(sub)
	}
	p.closed = true
	return nil
}

func (p *LocalPubSub) removeLocked(sub *localSubscription) {
	delete(p.subscriptions, sub.key)
	sub.cancel()
	close(sub.ch)
}

func (s *localSubscription) matches(channel string) bool {
	if !s.pattern {
		return s.key == channel
	}
	ok, err := path.Match(s.key, channel)
	return err == nil && ok
}
