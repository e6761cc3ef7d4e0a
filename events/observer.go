package events

import "github.com/mtgrelay/mtgproxy/mtglib"

// Observer reacts to events delivered by EventStream. One is spawned per
// stream-processing goroutine; implementations (logging, Prometheus,
// StatsD) must be safe to use from a single goroutine only - EventStream
// never calls an Observer's methods concurrently.
type Observer interface {
	EventStart(mtglib.EventStart)
	EventConnectedToDC(mtglib.EventConnectedToDC)
	EventTraffic(mtglib.EventTraffic)
	EventFinish(mtglib.EventFinish)
	EventDomainFronting(mtglib.EventDomainFronting)
	EventConcurrencyLimited(mtglib.EventConcurrencyLimited)
	EventIPBlocklisted(mtglib.EventIPBlocklisted)
	EventReplayAttack(mtglib.EventReplayAttack)
	EventIPListSize(mtglib.EventIPListSize)
	EventDNSCacheMetrics(mtglib.EventDNSCacheMetrics)
	EventPoolMetrics(mtglib.EventPoolMetrics)
	EventRateLimiterMetrics(mtglib.EventRateLimiterMetrics)
	EventIPListCacheFallback(mtglib.EventIPListCacheFallback)

	Shutdown()
}

// ObserverFactory builds one Observer per event-stream worker goroutine,
// so stateful observers (e.g. the Prometheus per-stream info map) don't
// need locking.
type ObserverFactory func() Observer

// noopObserver discards every event. Used when NewEventStream is given no
// factories, so the proxy always has somewhere to send events.
type noopObserver struct{}

func (noopObserver) EventStart(mtglib.EventStart)                           {}
func (noopObserver) EventConnectedToDC(mtglib.EventConnectedToDC)           {}
func (noopObserver) EventTraffic(mtglib.EventTraffic)                       {}
func (noopObserver) EventFinish(mtglib.EventFinish)                         {}
func (noopObserver) EventDomainFronting(mtglib.EventDomainFronting)         {}
func (noopObserver) EventConcurrencyLimited(mtglib.EventConcurrencyLimited) {}
func (noopObserver) EventIPBlocklisted(mtglib.EventIPBlocklisted)           {}
func (noopObserver) EventReplayAttack(mtglib.EventReplayAttack)             {}
func (noopObserver) EventIPListSize(mtglib.EventIPListSize)                 {}
func (noopObserver) EventDNSCacheMetrics(mtglib.EventDNSCacheMetrics)       {}
func (noopObserver) EventPoolMetrics(mtglib.EventPoolMetrics)               {}
func (noopObserver) EventRateLimiterMetrics(mtglib.EventRateLimiterMetrics) {}
func (noopObserver) EventIPListCacheFallback(mtglib.EventIPListCacheFallback) {
}
func (noopObserver) Shutdown() {}

// NewNoopObserver is the default ObserverFactory: an Observer that discards
// everything it's given.
func NewNoopObserver() Observer {
	return noopObserver{}
}

// multiObserver fans one event out to several observers built from
// independent factories, e.g. logging + Prometheus + StatsD at once.
type multiObserver struct {
	observers []Observer
}

func newMultiObserver(factories []ObserverFactory) Observer {
	observers := make([]Observer, len(factories))
	for i, factory := range factories {
		observers[i] = factory()
	}

	return multiObserver{observers: observers}
}

func (m multiObserver) EventStart(evt mtglib.EventStart) {
	for _, o := range m.observers {
		o.EventStart(evt)
	}
}

func (m multiObserver) EventConnectedToDC(evt mtglib.EventConnectedToDC) {
	for _, o := range m.observers {
		o.EventConnectedToDC(evt)
	}
}

func (m multiObserver) EventTraffic(evt mtglib.EventTraffic) {
	for _, o := range m.observers {
		o.EventTraffic(evt)
	}
}

func (m multiObserver) EventFinish(evt mtglib.EventFinish) {
	for _, o := range m.observers {
		o.EventFinish(evt)
	}
}

func (m multiObserver) EventDomainFronting(evt mtglib.EventDomainFronting) {
	for _, o := range m.observers {
		o.EventDomainFronting(evt)
	}
}

func (m multiObserver) EventConcurrencyLimited(evt mtglib.EventConcurrencyLimited) {
	for _, o := range m.observers {
		o.EventConcurrencyLimited(evt)
	}
}

func (m multiObserver) EventIPBlocklisted(evt mtglib.EventIPBlocklisted) {
	for _, o := range m.observers {
		o.EventIPBlocklisted(evt)
	}
}

func (m multiObserver) EventReplayAttack(evt mtglib.EventReplayAttack) {
	for _, o := range m.observers {
		o.EventReplayAttack(evt)
	}
}

func (m multiObserver) EventIPListSize(evt mtglib.EventIPListSize) {
	for _, o := range m.observers {
		o.EventIPListSize(evt)
	}
}

func (m multiObserver) EventDNSCacheMetrics(evt mtglib.EventDNSCacheMetrics) {
	for _, o := range m.observers {
		o.EventDNSCacheMetrics(evt)
	}
}

func (m multiObserver) EventPoolMetrics(evt mtglib.EventPoolMetrics) {
	for _, o := range m.observers {
		o.EventPoolMetrics(evt)
	}
}

func (m multiObserver) EventRateLimiterMetrics(evt mtglib.EventRateLimiterMetrics) {
	for _, o := range m.observers {
		o.EventRateLimiterMetrics(evt)
	}
}

func (m multiObserver) EventIPListCacheFallback(evt mtglib.EventIPListCacheFallback) {
	for _, o := range m.observers {
		o.EventIPListCacheFallback(evt)
	}
}

func (m multiObserver) Shutdown() {
	for _, o := range m.observers {
		o.Shutdown()
	}
}
