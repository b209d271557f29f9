// bus/bus.go
package bus

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
)

// -----------------------------------------------------------------------------
// Tokens + Topics
// -----------------------------------------------------------------------------

// Token is a single element in a topic path. Any comparable value works;
// strings and ints are the common case.
type Token = any

// Topic is a sequence of tokens.
type Topic []Token

const (
	wildSingle = "+"
	wildMulti  = "#"
)

// T builds a topic, panicking on non-comparable tokens so bad topics fail
// at construction rather than inside the trie.
func T(tokens ...any) Topic {
	for _, tok := range tokens {
		if tok == nil || !reflect.TypeOf(tok).Comparable() {
			panic("bus: topic token is not comparable")
		}
	}
	return Topic(tokens)
}

// Append returns a new topic with extra tokens.
func (t Topic) Append(tokens ...any) Topic {
	out := make(Topic, 0, len(t)+len(tokens))
	out = append(out, t...)
	return append(out, T(tokens...)...)
}

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
	ReplyTo  Topic
}

// NewMessage is a small constructor shared by Bus and Connection.
func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	topic Topic
	ch    chan *Message
	conn  *Connection // owning connection
	once  sync.Once
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

func (s *Subscription) close() { s.once.Do(func() { close(s.ch) }) }

// -----------------------------------------------------------------------------
// Trie node
// -----------------------------------------------------------------------------

type node struct {
	children map[Token]*node
	subs     []*Subscription
	retained *Message
}

func (n *node) child(tok Token, create bool) *node {
	if c, ok := n.children[tok]; ok {
		return c
	}
	if !create {
		return nil
	}
	if n.children == nil {
		n.children = make(map[Token]*node)
	}
	c := &node{}
	n.children[tok] = c
	return c
}

func (n *node) empty() bool {
	return len(n.subs) == 0 && len(n.children) == 0 && n.retained == nil
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

type Bus struct {
	mu      sync.Mutex
	subs    *node // subscription trie (may contain wildcards)
	store   *node // retained trie (concrete topics only)
	qLen    int
	replies atomic.Uint32
}

// NewBus creates a new bus with the given subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8 // safe default
	}
	return &Bus{
		subs:  &node{},
		store: &node{},
		qLen:  queueLen,
	}
}

// deliver never blocks: a full queue drops its oldest message.
func deliver(sub *Subscription, msg *Message) {
	defer func() { _ = recover() }() // subscription closed concurrently
	for {
		select {
		case sub.ch <- msg:
			return
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
	}
}

// addSubscription inserts a subscription into the trie and replays any
// retained messages that match it.
func (b *Bus) addSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.subs
	for _, tok := range sub.topic {
		n = n.child(tok, true)
	}
	n.subs = append(n.subs, sub)

	var retained []*Message
	collectRetained(b.store, sub.topic, &retained)
	for _, m := range retained {
		deliver(sub, m)
	}
}

func collectRetained(n *node, pattern Topic, out *[]*Message) {
	if len(pattern) == 0 {
		if n.retained != nil {
			*out = append(*out, n.retained)
		}
		return
	}
	switch pattern[0] {
	case wildMulti:
		var walk func(*node)
		walk = func(x *node) {
			if x.retained != nil {
				*out = append(*out, x.retained)
			}
			for _, c := range x.children {
				walk(c)
			}
		}
		walk(n)
	case wildSingle:
		for _, c := range n.children {
			collectRetained(c, pattern[1:], out)
		}
	default:
		if c := n.child(pattern[0], false); c != nil {
			collectRetained(c, pattern[1:], out)
		}
	}
}

func collectSubs(n *node, topic Topic, out *[]*Subscription) {
	if c := n.child(wildMulti, false); c != nil {
		*out = append(*out, c.subs...)
	}
	if len(topic) == 0 {
		*out = append(*out, n.subs...)
		return
	}
	if c := n.child(topic[0], false); c != nil {
		collectSubs(c, topic[1:], out)
	}
	if c := n.child(wildSingle, false); c != nil {
		collectSubs(c, topic[1:], out)
	}
}

// Publish delivers a message to all subscribers whose pattern matches its
// topic and updates the retained store.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.Retained {
		b.retain(msg)
	}

	var subs []*Subscription
	collectSubs(b.subs, msg.Topic, &subs)
	for _, sub := range subs {
		deliver(sub, msg)
	}
}

func (b *Bus) retain(msg *Message) {
	if msg.Payload != nil {
		n := b.store
		for _, tok := range msg.Topic {
			n = n.child(tok, true)
		}
		n.retained = msg
		return
	}
	// nil payload clears, pruning empty branches.
	stack := []*node{b.store}
	n := b.store
	for _, tok := range msg.Topic {
		if n = n.child(tok, false); n == nil {
			return
		}
		stack = append(stack, n)
	}
	n.retained = nil
	for i := len(msg.Topic) - 1; i >= 0; i-- {
		if !stack[i+1].empty() {
			break
		}
		delete(stack[i].children, msg.Topic[i])
	}
}

// unsubscribe removes a subscription from the trie.
func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stack := []*node{b.subs}
	n := b.subs
	for _, t := range sub.topic {
		if n = n.child(t, false); n == nil {
			return
		}
		stack = append(stack, n)
	}

	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}

	// Prune empty nodes.
	for i := len(sub.topic) - 1; i >= 0; i-- {
		if !stack[i+1].empty() {
			break
		}
		delete(stack[i].children, sub.topic[i])
	}
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

var ErrNoReply = errors.New("no_reply")

type Connection struct {
	bus  *Bus
	subs []*Subscription
	mu   sync.Mutex
	id   string
}

// NewConnection creates a new connection bound to this bus.
func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{
		bus: b,
		id:  id,
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return c.bus.NewMessage(topic, payload, retained)
}

// Publish sends a message via the bus.
func (c *Connection) Publish(msg *Message) {
	c.bus.Publish(msg)
}

// Subscribe registers a subscription owned by this connection.
func (c *Connection) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan *Message, c.bus.qLen),
		conn:  c,
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	c.bus.addSubscription(sub)
	return sub
}

// Unsubscribe removes a subscription owned by this connection.
func (c *Connection) Unsubscribe(sub *Subscription) {
	c.bus.unsubscribe(sub)
	c.mu.Lock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	sub.close()
}

// Disconnect closes all subscriptions and clears them.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.bus.unsubscribe(sub)
		sub.close()
	}
}

// -----------------------------------------------------------------------------
// Request / Reply
// -----------------------------------------------------------------------------

// Request assigns a private reply topic, subscribes to it and publishes msg.
// The caller owns the returned subscription.
func (c *Connection) Request(msg *Message) *Subscription {
	n := c.bus.replies.Add(1)
	msg.ReplyTo = T("_reply", c.id, int(n))
	sub := c.Subscribe(msg.ReplyTo)
	c.Publish(msg)
	return sub
}

// RequestWait is Request plus a wait for the first reply.
func (c *Connection) RequestWait(ctx context.Context, msg *Message) (*Message, error) {
	sub := c.Request(msg)
	defer c.Unsubscribe(sub)
	select {
	case m, ok := <-sub.Channel():
		if !ok {
			return nil, ErrNoReply
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply answers req on its ReplyTo topic. Requests without one are ignored.
func (c *Connection) Reply(req *Message, payload any, retained bool) {
	if req == nil || len(req.ReplyTo) == 0 {
		return
	}
	c.Publish(c.NewMessage(req.ReplyTo, payload, retained))
}
