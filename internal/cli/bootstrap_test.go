package cli

import (
	"testing"
	"time"

	"github.com/mtgrelay/mtgproxy/internal/config"
)

func TestMiddleProxyRefreshIntervalDisabledByDefault(t *testing.T) {
	var conf config.Config

	if got := middleProxyRefreshInterval(&conf); got != 0 {
		t.Errorf("middleProxyRefreshInterval() = %v, want 0", got)
	}
}

func TestMiddleProxyRefreshIntervalUsesConfiguredPeriod(t *testing.T) {
	var conf config.Config

	if err := conf.Maintenance.MiddleProxyRefresh.Enabled.Set("true"); err != nil {
		t.Fatalf("Enabled.Set: %v", err)
	}

	conf.Maintenance.MiddleProxyRefresh.Period.Value = 6 * time.Hour

	if got := middleProxyRefreshInterval(&conf); got != 6*time.Hour {
		t.Errorf("middleProxyRefreshInterval() = %v, want 6h", got)
	}
}

func TestMiddleProxyRefreshIntervalDefaultsPeriodWhenEnabledButUnset(t *testing.T) {
	var conf config.Config

	if err := conf.Maintenance.MiddleProxyRefresh.Enabled.Set("true"); err != nil {
		t.Fatalf("Enabled.Set: %v", err)
	}

	if got := middleProxyRefreshInterval(&conf); got != 24*time.Hour {
		t.Errorf("middleProxyRefreshInterval() = %v, want 24h", got)
	}
}
