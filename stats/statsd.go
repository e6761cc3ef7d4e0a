package stats

import (
	"strconv"

	"github.com/mtgrelay/mtgproxy/events"
	"github.com/mtgrelay/mtgproxy/mtglib"
	statsd "github.com/smira/go-statsd"
)

// StatsDFactory builds events.Observer instances that forward to a single
// shared StatsD client.
type StatsDFactory struct {
	client *statsd.Client
}

// NewStatsD dials a StatsD/DogStatsD daemon at address. tagFormat selects
// the wire encoding for tags: "influxdb" or the datadog default.
func NewStatsD(address, metricPrefix, tagFormat string) *StatsDFactory {
	opts := []statsd.Option{
		statsd.MetricPrefix(metricPrefix + "."),
		statsd.MaxPacketSize(1400), //nolint: gomnd
	}

	if tagFormat == "influxdb" {
		opts = append(opts, statsd.TagStyle(statsd.TagFormatInfluxDB))
	} else {
		opts = append(opts, statsd.TagStyle(statsd.TagFormatDatadog))
	}

	return &StatsDFactory{client: statsd.NewClient(address, opts...)}
}

// Make builds a new observer sharing this factory's client.
func (f *StatsDFactory) Make() events.Observer {
	return &statsdProcessor{client: f.client}
}

// Close flushes and closes the underlying UDP socket.
func (f *StatsDFactory) Close() error {
	return f.client.Close() //nolint: wrapcheck
}

type statsdProcessor struct {
	client *statsd.Client
}

func (s *statsdProcessor) EventStart(evt mtglib.EventStart) {
	s.client.Incr("client_connections", 1)
}

func (s *statsdProcessor) EventConnectedToDC(evt mtglib.EventConnectedToDC) {
	s.client.Incr("telegram_connections", 1, statsd.StringTag("dc", dcTag(evt.DC)))
}

func (s *statsdProcessor) EventTraffic(evt mtglib.EventTraffic) {
	direction := "to"
	if evt.IsRead {
		direction = "from"
	}

	s.client.Incr("traffic", int64(evt.Traffic), statsd.StringTag("direction", direction))
}

func (s *statsdProcessor) EventFinish(mtglib.EventFinish) {
	s.client.Incr("client_disconnections", 1)
}

func (s *statsdProcessor) EventDomainFronting(mtglib.EventDomainFronting) {
	s.client.Incr("domain_fronting", 1)
}

func (s *statsdProcessor) EventConcurrencyLimited(mtglib.EventConcurrencyLimited) {
	s.client.Incr("concurrency_limited", 1)
}

func (s *statsdProcessor) EventIPBlocklisted(evt mtglib.EventIPBlocklisted) {
	tag := "allow"
	if evt.IsBlockList {
		tag = "block"
	}

	s.client.Incr("ip_rejected", 1, statsd.StringTag("list", tag))
}

func (s *statsdProcessor) EventReplayAttack(mtglib.EventReplayAttack) {
	s.client.Incr("replay_attacks", 1)
}

func (s *statsdProcessor) EventIPListSize(evt mtglib.EventIPListSize) {
	tag := "allow"
	if evt.IsBlockList {
		tag = "block"
	}

	s.client.Gauge("ip_list_size", int64(evt.Size), statsd.StringTag("list", tag))
}

func (s *statsdProcessor) EventDNSCacheMetrics(evt mtglib.EventDNSCacheMetrics) {
	s.client.Incr("dns_cache_hits", int64(evt.DeltaHits))
	s.client.Incr("dns_cache_misses", int64(evt.DeltaMisses))
	s.client.Incr("dns_cache_evictions", int64(evt.DeltaEvictions))
	s.client.Gauge("dns_cache_size", int64(evt.Size))
}

func (s *statsdProcessor) EventPoolMetrics(evt mtglib.EventPoolMetrics) {
	tag := statsd.StringTag("dc", dcTag(evt.DC))
	s.client.Incr("pool_hits", int64(evt.DeltaHits), tag)
	s.client.Incr("pool_misses", int64(evt.DeltaMisses), tag)
	s.client.Incr("pool_unhealthy", int64(evt.DeltaUnhealthy), tag)
	s.client.Gauge("pool_idle", int64(evt.Idle), tag)
}

func (s *statsdProcessor) EventRateLimiterMetrics(evt mtglib.EventRateLimiterMetrics) {
	s.client.Gauge("rate_limiter_tracked_ips", int64(evt.TrackedIPs))
	s.client.Incr("rate_limiter_rejected", int64(evt.Rejected))
}

func (s *statsdProcessor) EventIPListCacheFallback(evt mtglib.EventIPListCacheFallback) {
	tag := "allow"
	if evt.IsBlockList {
		tag = "block"
	}

	s.client.Incr("ip_list_cache_fallback", 1, statsd.StringTag("list", tag))
}

func (s *statsdProcessor) Shutdown() {}

func dcTag(dc int) string {
	return strconv.Itoa(dc)
}

var _ events.ObserverFactory = (&StatsDFactory{}).Make
