package activity

import "github.com/roach88/arbor/internal/attr"

// Event selects a status listener registry.
type Event int

const (
	// EventStatusChanged fires on every status change.
	EventStatusChanged Event = iota
	EventExecuting
	EventCanceling
	EventClosed
	EventCompensating
	EventFaulting
	// EventStatusChangedLocked fires when a held node reaches its primary
	// close; holders are expected to finish and release.
	EventStatusChangedLocked
	// EventLockCountChanged fires when one hold is released and others remain.
	EventLockCountChanged
)

func eventFor(s Status) Event {
	switch s {
	case StatusExecuting:
		return EventExecuting
	case StatusCanceling:
		return EventCanceling
	case StatusClosed:
		return EventClosed
	case StatusCompensating:
		return EventCompensating
	case StatusFaulting:
		return EventFaulting
	default:
		return EventStatusChanged
	}
}

// StatusChange is delivered to listeners.
type StatusChange struct {
	Node   *Node
	Event  Event
	Status Status
	Result Result
}

// Subscription identifies a registered listener.
type Subscription int

type listener struct {
	id Subscription
	fn func(StatusChange)
}

// Subscribe registers fn for ev. Listeners of one event run in
// registration order.
func (n *Node) Subscribe(ev Event, fn func(StatusChange)) Subscription {
	n.nextSub++
	n.subscribeAs(ev, n.nextSub, fn)
	return n.nextSub
}

func (n *Node) subscribeAs(ev Event, id Subscription, fn func(StatusChange)) {
	if n.listeners == nil {
		n.listeners = make(map[Event][]listener)
	}
	n.listeners[ev] = append(n.listeners[ev], listener{id: id, fn: fn})
}

// Unsubscribe removes a listener. It reports false if sub was not
// registered for ev.
func (n *Node) Unsubscribe(ev Event, sub Subscription) bool {
	_, ok := n.unsubscribe(ev, sub)
	return ok
}

func (n *Node) unsubscribe(ev Event, sub Subscription) (func(StatusChange), bool) {
	ls := n.listeners[ev]
	for i, l := range ls {
		if l.id == sub {
			n.listeners[ev] = append(ls[:i:i], ls[i+1:]...)
			return l.fn, true
		}
	}
	return nil, false
}

// Listeners returns the number of listeners registered for ev.
func (n *Node) Listeners(ev Event) int {
	return len(n.listeners[ev])
}

func (n *Node) fire(ev Event) {
	ls := n.listeners[ev]
	if len(ls) == 0 {
		return
	}
	change := StatusChange{Node: n, Event: ev, Status: n.Status(), Result: n.Result()}
	// Listeners may unsubscribe themselves while running.
	for _, l := range append([]listener(nil), ls...) {
		l.fn(change)
	}
}

// Hold defers n's visible close until the hold is released. fn is
// notified through EventStatusChangedLocked when n's primary close
// happens while held.
func (n *Node) Hold(fn func(StatusChange)) Subscription {
	sub := n.Subscribe(EventStatusChangedLocked, fn)
	n.attrs.Seed(HoldCountProperty, n.HoldCount()+1)
	return sub
}

// ReleaseHold drops one hold. It returns the remaining hold count and an
// undo function that reinstates the hold, for callers whose follow-up
// close fails.
func (n *Node) ReleaseHold(sub Subscription) (remaining int, undo func(), ok bool) {
	fn, ok := n.unsubscribe(EventStatusChangedLocked, sub)
	if !ok {
		return n.HoldCount(), nil, false
	}
	remaining = n.HoldCount() - 1
	n.attrs.Seed(HoldCountProperty, remaining)
	undo = func() {
		n.attrs.Seed(HoldCountProperty, n.HoldCount()+1)
		n.subscribeAs(EventStatusChangedLocked, sub, fn)
	}
	return remaining, undo, true
}

// HoldCount returns the number of outstanding holds.
func (n *Node) HoldCount() int {
	return attr.Get[int](n.attrs, HoldCountProperty)
}

// HasPrimaryClosed reports whether n reached its close while held.
func (n *Node) HasPrimaryClosed() bool {
	return attr.Get[bool](n.attrs, HasPrimaryClosedProperty)
}

// MarkPrimaryClosed records a close deferred by holds and notifies holders.
func (n *Node) MarkPrimaryClosed() {
	n.attrs.Seed(HasPrimaryClosedProperty, true)
	n.fire(EventStatusChangedLocked)
}

// NotifyHoldCountChanged fires EventLockCountChanged.
func (n *Node) NotifyHoldCountChanged() {
	n.fire(EventLockCountChanged)
}
