package cli

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/mtgrelay/mtgproxy/internal/utils"
)

// Run loads a TOML config file and serves the proxy until terminated.
type Run struct {
	ConfigPath string `kong:"arg,required,type='existingfile',help='Path to config file.',name='config-path'"` //nolint: lll
}

func (r Run) Run(cli *CLI, version string) error {
	conf, err := utils.ReadConfig(r.ConfigPath)
	if err != nil {
		return fmt.Errorf("cannot parse config: %w", err)
	}

	rt, err := bootstrap(conf)
	if err != nil {
		return fmt.Errorf("cannot initialize proxy: %w", err)
	}

	return serve(rt, conf.BindTo.Value, conf.Network.TCPFastOpen.Get(false))
}

// serve listens on bindTo, starts the proxy and (if configured) the
// Prometheus scrape endpoint, and blocks handling signals until a shutdown
// signal arrives: SIGUSR1 dumps live connection/user stats, SIGUSR2 is a
// no-op placeholder for a future config hot-reload, SIGINT/SIGTERM drain
// and exit.
func serve(rt *runtime, bindTo string, tcpFastOpen bool) error {
	listener, err := utils.NewListenerWithTFO(bindTo, 0, tcpFastOpen)
	if err != nil {
		return fmt.Errorf("cannot listen on %s: %w", bindTo, err)
	}

	go func() {
		if err := rt.proxy.Serve(listener); err != nil {
			rt.log.WarningError("proxy stopped serving", err)
		}
	}()

	if rt.prometheus != nil && rt.prometheusBindTo != "" {
		promListener, err := net.Listen("tcp", rt.prometheusBindTo)
		if err != nil {
			return fmt.Errorf("cannot listen on prometheus address %s: %w", rt.prometheusBindTo, err)
		}

		go func() {
			if err := rt.prometheus.Serve(promListener); err != nil {
				rt.log.WarningError("prometheus server stopped", err)
			}
		}()
	}

	rt.log.Info("proxy is listening on " + bindTo)

	waitForSignals(rt)

	return nil
}

func waitForSignals(rt *runtime) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	for sig := range sigCh {
		switch sig {
		case syscall.SIGUSR1:
			dumpStats(rt)
		default:
			rt.log.Info("shutting down")
			rt.shutdown()

			return
		}
	}
}

func dumpStats(rt *runtime) {
	for _, u := range rt.proxy.UserStats() {
		rt.log.Info(fmt.Sprintf(
			"user=%s connects=%d current=%d octets_from=%d octets_to=%d",
			u.Name, u.Connects, u.ConnectsCurr, u.OctetsFrom, u.OctetsTo))
	}

	rt.log.Info(fmt.Sprintf("rate limiter tracked ips=%d", rt.proxy.GetRateLimiterSize()))
}
