package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/mtgrelay/mtgproxy/antireplay"
	"github.com/mtgrelay/mtgproxy/events"
	"github.com/mtgrelay/mtgproxy/internal/config"
	"github.com/mtgrelay/mtgproxy/internal/iplist"
	"github.com/mtgrelay/mtgproxy/internal/logger"
	"github.com/mtgrelay/mtgproxy/internal/maintenance"
	"github.com/mtgrelay/mtgproxy/mtglib"
	"github.com/mtgrelay/mtgproxy/network"
	"github.com/mtgrelay/mtgproxy/stats"
)

// runtime bundles everything bootstrap assembles so Run/SimpleRun can serve,
// dump stats, and shut down cleanly.
type runtime struct {
	proxy            *mtglib.Proxy
	log              mtglib.Logger
	blocklist        *iplist.List
	allowlist        *iplist.List
	prometheus       *stats.PrometheusFactory
	prometheusBindTo string
	statsd           *stats.StatsDFactory
	maintenance      *maintenance.Runner
}

// bootstrap wires a *config.Config into a running mtglib.Proxy plus the
// supporting ip lists and stat sinks, the same set of components Run and
// SimpleRun both need.
func bootstrap(conf *config.Config) (*runtime, error) {
	log := logger.NewLogger(conf.Debug.Get(false), isatty.IsTerminal(os.Stderr.Fd()))

	rt, eventStream := newRuntime(conf)

	dialer, err := network.NewDefaultDialerWithTFO(
		conf.Network.Timeout.TCP.Get(network.DefaultTimeout),
		0,
		conf.Network.TCPFastOpen.Get(false))
	if err != nil {
		return nil, fmt.Errorf("cannot build dialer: %w", err)
	}

	net1, err := network.NewNetworkWithDNSMode(dialer,
		"mtg",
		conf.Network.DOHIP.Get("1.1.1.1"),
		conf.Network.Timeout.HTTP.Get(network.DefaultHTTPTimeout),
		conf.Network.DNSMode.Value() == config.DNSModePlain)
	if err != nil {
		return nil, fmt.Errorf("cannot build network: %w", err)
	}

	if err := loadIPList(rt.blocklist, conf.Defense.Blocklist, log); err != nil {
		return nil, fmt.Errorf("cannot load blocklist: %w", err)
	}

	if err := loadIPList(rt.allowlist, conf.Defense.Allowlist, log); err != nil {
		return nil, fmt.Errorf("cannot load allowlist: %w", err)
	}

	users, err := conf.BuildUsers()
	if err != nil {
		return nil, fmt.Errorf("cannot build users: %w", err)
	}

	if len(users) == 0 {
		users = []mtglib.User{{Name: "default", Secret: conf.Secret.Key}}
	}

	userManager, err := mtglib.NewUserManager(users)
	if err != nil {
		return nil, fmt.Errorf("cannot build user manager: %w", err)
	}

	maintenanceClient := net1.MakeHTTPClient(net1.DialContext)

	certProbe := buildCertProbe(conf, maintenanceClient, log)
	publicIP := maintenance.NewPublicIPInfo(maintenanceClient, log)

	proxy, err := mtglib.NewProxy(mtglib.ProxyOpts{
		Secret:                     conf.Secret,
		Users:                      userManager,
		Network:                    net1,
		AntiReplayCache:            buildAntiReplayCache(conf),
		IPBlocklist:                rt.blocklist,
		IPAllowlist:                rt.allowlist,
		EventStream:                eventStream,
		Logger:                     log,
		Concurrency:                conf.Concurrency.Get(1024), //nolint: gomnd
		TolerateTimeSkewness:       conf.TolerateTimeSkewness.Get(0),
		PreferIP:                   conf.PreferIP.Get("prefer-ipv4"),
		DomainFrontingPort:         conf.DomainFrontingPort.Get(443), //nolint: gomnd
		AllowFallbackOnUnknownDC:   conf.AllowFallbackOnUnknownDC.Get(true),
		FallbackOnDialError:        conf.FallbackOnDialError.Get(true),
		RateLimitPerSecond:         float64(conf.RateLimit.PerSecond.Get(0)),
		RateLimitBurst:             int(conf.RateLimit.Burst.Get(20)), //nolint: gomnd
		EnableConnectionPool:       conf.ConnectionPool.Enabled.Get(false),
		ConnectionPoolMaxIdle:      int(conf.ConnectionPool.MaxIdleConns.Get(5)), //nolint: gomnd
		ConnectionPoolIdleTimeout:  conf.ConnectionPool.IdleTimeout.Get(time.Minute),
		DCConfigFile:               conf.DCConfig.File,
		DCRefreshInterval:          conf.DCConfig.RefreshInterval.Get(24 * time.Hour), //nolint: gomnd
		TrustProxyProtocol:         conf.Network.TrustProxyProtocol.Get(false),
		CoverCertLength:            certProbe.Length,
		MiddleProxyRefreshInterval: middleProxyRefreshInterval(conf),
		PublicIP: func(wantV6 bool) net.IP {
			if wantV6 {
				return publicIP.IPv6()
			}

			return publicIP.IPv4()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("cannot build proxy: %w", err)
	}

	rt.proxy = proxy
	rt.log = log
	rt.maintenance = buildMaintenanceRunner(conf, maintenanceClient, proxy, certProbe, log)
	rt.maintenance.PublicIP = publicIP
	rt.maintenance.Start()

	return rt, nil
}

// buildCertProbe always returns a usable probe: when the maintenance task
// is disabled in config, Length just returns the fixed 1024-byte fallback
// mtglib.ProxyOpts.CoverCertLength defaults to on its own, and Start is
// simply never called on it.
func buildCertProbe(conf *config.Config, client *http.Client, log mtglib.Logger) *maintenance.CertLengthProbe {
	const defaultCoverLen = 1024

	addr := net.JoinHostPort(conf.Secret.Host, strconv.Itoa(int(conf.DomainFrontingPort.Get(443)))) //nolint: gomnd

	period := conf.Maintenance.CertProbe.Period.Get(0)
	if !conf.Maintenance.CertProbe.Enabled.Get(false) {
		period = 0
	}

	probe := maintenance.NewCertLengthProbe(addr, conf.Secret.Host, period, defaultCoverLen, log)

	return probe
}

// middleProxyRefreshInterval returns 0 (disabled) unless
// maintenance.middleProxyRefresh is explicitly enabled.
func middleProxyRefreshInterval(conf *config.Config) time.Duration {
	if !conf.Maintenance.MiddleProxyRefresh.Enabled.Get(false) {
		return 0
	}

	return conf.Maintenance.MiddleProxyRefresh.Period.Get(24 * time.Hour) //nolint: gomnd
}

// buildMaintenanceRunner wires whichever maintenance tasks config enables.
// The cert probe is built either way (buildCertProbe already no-ops it when
// disabled, since ProxyOpts.CoverCertLength needs a func regardless); it's
// only added to the runner - and so only ticks in the background - when its
// own Optional.Enabled is set. Time-sync likewise.
func buildMaintenanceRunner(
	conf *config.Config,
	client *http.Client,
	proxy *mtglib.Proxy,
	certProbe *maintenance.CertLengthProbe,
	log mtglib.Logger,
) *maintenance.Runner {
	runner := &maintenance.Runner{}

	if conf.Maintenance.CertProbe.Enabled.Get(false) {
		runner.CertProbe = certProbe
	}

	if conf.Maintenance.TimeSync.Enabled.Get(false) {
		runner.TimeSync = maintenance.NewTimeSync(
			client,
			maintenance.DefaultTimeSyncURL,
			conf.Maintenance.TimeSync.Period.Get(4*time.Hour), //nolint: gomnd
			proxy.SetTimeSkewed,
			log)
	}

	return runner
}

// newRuntime builds the stat-sink factories configured stats enables, the
// event stream that fans events out to them, and the two ip lists bound to
// that stream.
func newRuntime(conf *config.Config) (*runtime, mtglib.EventStream) {
	rt := &runtime{}

	var factories []events.ObserverFactory

	if conf.Stats.Prometheus.Enabled.Get(false) {
		rt.prometheus = stats.NewPrometheus(
			conf.Stats.Prometheus.MetricPrefix.Get("mtg"),
			conf.Stats.Prometheus.HTTPPath.Get("/metrics"),
			"")
		rt.prometheusBindTo = conf.Stats.Prometheus.BindTo.Value
		factories = append(factories, rt.prometheus.Make)
	}

	if conf.Stats.StatsD.Enabled.Get(false) {
		rt.statsd = stats.NewStatsD(
			conf.Stats.StatsD.Address.Value,
			conf.Stats.StatsD.MetricPrefix.Get("mtg"),
			conf.Stats.StatsD.TagFormat.Get("datadog"))
		factories = append(factories, rt.statsd.Make)
	}

	eventStream := events.NewEventStream(factories)

	rt.blocklist = iplist.New(eventStream, true)
	rt.allowlist = iplist.New(eventStream, false)

	return rt, eventStream
}

func loadIPList(list *iplist.List, cfg config.ListConfig, log mtglib.Logger) error {
	if !cfg.Enabled.Get(false) || len(cfg.URLs) == 0 {
		return nil
	}

	sources := make([]string, len(cfg.URLs))
	for i, u := range cfg.URLs {
		sources[i] = u.Value
	}

	client := &http.Client{Timeout: 30 * time.Second} //nolint: gomnd

	concurrency := int(cfg.DownloadConcurrency.Get(4)) //nolint: gomnd

	if err := list.LoadRemote(context.Background(), client, sources, concurrency); err != nil {
		return err //nolint: wrapcheck
	}

	if interval := cfg.UpdateEach.Get(0); interval > 0 {
		list.WatchRemote(client, sources, concurrency, interval, log)
	}

	return nil
}

// buildAntiReplayCache builds the handshake replay guard. FIFOCache is the
// one wired here: it gives a hard no-false-positive guarantee, unlike the
// Stable Bloom Filter in this package, which is sized for a probabilistic
// secondary budget instead (see antireplay.NewStableBloomFilter's doc
// comment).
func buildAntiReplayCache(conf *config.Config) mtglib.AntiReplayCache {
	if !conf.Defense.AntiReplay.Enabled.Get(true) {
		return antireplay.NewFIFOCache(0)
	}

	maxSize := conf.Defense.AntiReplay.MaxSize.Get(0)
	if maxSize == 0 {
		return antireplay.NewFIFOCache(antireplay.DefaultFIFOCapacity)
	}

	const approxFingerprintSize = 40

	return antireplay.NewFIFOCache(int(maxSize) / approxFingerprintSize)
}

// shutdown tears down every background component bootstrap started.
func (rt *runtime) shutdown() {
	rt.proxy.Shutdown()
	rt.blocklist.Shutdown()
	rt.allowlist.Shutdown()
	rt.maintenance.Stop()

	if rt.prometheus != nil {
		rt.prometheus.Close() //nolint: errcheck
	}

	if rt.statsd != nil {
		rt.statsd.Close() //nolint: errcheck
	}
}
