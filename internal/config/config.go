package config

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/mtgrelay/mtgproxy/mtglib"
)

// UserConfig is one entry of the optional multi-user list (§3). Secret is
// the bare 32 hex character key (coerced the same way the legacy top-level
// secret's key half is); unlike Config.Secret it carries no host, since all
// users share the single FakeTLS cover host configured at the top level.
type UserConfig struct {
	Name           string    `toml:"name" json:"name"`
	Secret         string    `toml:"secret" json:"secret"`
	MaxTCPConns    int       `toml:"maxTcpConns" json:"maxTcpConns"`
	ExpirationDate string    `toml:"expirationDate" json:"expirationDate"`
	DataQuota      TypeBytes `toml:"dataQuota" json:"dataQuota"`

	// AdTag is the hex-encoded ad_tag Telegram issues to "promoted channel"
	// affiliates. Non-empty routes this user through a middle proxy instead
	// of dialing the DC directly.
	AdTag string `toml:"adTag" json:"adTag"`
}

// BuildUsers turns the configured user list into mtglib.User values,
// resolving each hex secret and expiration date. An empty list is legal:
// ProxyOpts.getUsers then falls back to a single anonymous user built from
// Config.Secret's key.
func (c *Config) BuildUsers() ([]mtglib.User, error) {
	users := make([]mtglib.User, 0, len(c.Users))

	for _, u := range c.Users {
		key, err := mtglib.ParseSecret(u.Secret)
		if err != nil {
			return nil, fmt.Errorf("user %q: cannot parse secret: %w", u.Name, err)
		}

		expiration, err := mtglib.ParseExpirationDate(u.ExpirationDate)
		if err != nil {
			return nil, fmt.Errorf("user %q: cannot parse expirationDate: %w", u.Name, err)
		}

		var adTag []byte

		if u.AdTag != "" {
			adTag, err = hex.DecodeString(u.AdTag)
			if err != nil {
				return nil, fmt.Errorf("user %q: cannot parse adTag: %w", u.Name, err)
			}
		}

		users = append(users, mtglib.User{
			Name:           u.Name,
			Secret:         key,
			MaxTCPConns:    u.MaxTCPConns,
			ExpirationDate: expiration,
			DataQuota:      uint64(u.DataQuota.Value),
			AdTag:          adTag,
		})
	}

	return users, nil
}

type Optional struct {
	Enabled TypeBool `toml:"enabled" json:"enabled"`
}

type ListConfig struct {
	Optional

	DownloadConcurrency TypeConcurrency    `toml:"downloadConcurrency" json:"downloadConcurrency"`
	URLs                []TypeBlocklistURI `toml:"urls" json:"urls"`
	UpdateEach          TypeDuration       `toml:"updateEach" json:"updateEach"`
}

type Config struct {
	Debug                    TypeBool        `toml:"debug" json:"debug"`
	AllowFallbackOnUnknownDC TypeBool        `toml:"allowFallbackOnUnknownDc" json:"allowFallbackOnUnknownDc"`
	FallbackOnDialError      TypeBool        `toml:"fallbackOnDialError" json:"fallbackOnDialError"`
	Secret                   mtglib.Secret   `toml:"secret" json:"secret"`
	BindTo                   TypeHostPort    `toml:"bindTo" json:"bindTo"`
	PreferIP                 TypePreferIP    `toml:"preferIp" json:"preferIp"`
	DomainFrontingPort       TypePort        `toml:"domainFrontingPort" json:"domainFrontingPort"`
	TolerateTimeSkewness     TypeDuration    `toml:"tolerateTimeSkewness" json:"tolerateTimeSkewness"`
	Concurrency              TypeConcurrency `toml:"concurrency" json:"concurrency"`

	// Users is the optional multi-user list (§3). Empty means single-user
	// mode: the legacy Secret.Key above is the only accepted secret.
	Users []UserConfig `toml:"users" json:"users"`

	Defense                  struct {
		AntiReplay struct {
			Optional

			MaxSize   TypeBytes     `toml:"maxSize" json:"maxSize"`
			ErrorRate TypeErrorRate `toml:"errorRate" json:"errorRate"`
		} `toml:"antiReplay" json:"antiReplay"`
		Blocklist ListConfig `toml:"blocklist" json:"blocklist"`
		Allowlist ListConfig `toml:"allowlist" json:"allowlist"`
	} `toml:"defense" json:"defense"`
	Network struct {
		Timeout struct {
			TCP  TypeDuration `toml:"tcp" json:"tcp"`
			HTTP TypeDuration `toml:"http" json:"http"`
			Idle TypeDuration `toml:"idle" json:"idle"`
		} `toml:"timeout" json:"timeout"`
		DOHIP   TypeIP         `toml:"dohIp" json:"dohIp"`
		DNSMode TypeDNSMode    `toml:"dnsMode" json:"dnsMode"`
		Proxies []TypeProxyURL `toml:"proxies" json:"proxies"`
		// TCPFastOpen включает TCP Fast Open на listener и исходящих соединениях.
		// TFO экономит 1×RTT на первом соединении (~50-100ms).
		// Требует поддержки ядром (net.ipv4.tcp_fastopen >= 3).
		// Default: false (для обратной совместимости)
		TCPFastOpen TypeBool `toml:"tcpFastOpen" json:"tcpFastOpen"`
		// TrustProxyProtocol expects a PROXY protocol v1/v2 header on every
		// accepted connection (e.g. behind nginx or haproxy) and rewrites
		// the peer address it declares before IP list checks run.
		TrustProxyProtocol TypeBool `toml:"trustProxyProtocol" json:"trustProxyProtocol"`
	} `toml:"network" json:"network"`
	// ConnectionPool — настройки пула соединений к Telegram DC.
	// Переиспользование соединений снижает latency на 30-50ms.
	ConnectionPool struct {
		Optional

		// MaxIdleConns — максимальное количество idle соединений на DC.
		// Default: 5
		MaxIdleConns TypeConcurrency `toml:"maxIdleConns" json:"maxIdleConns"`

		// IdleTimeout — таймаут простоя для соединений в пуле.
		// Default: 1m
		IdleTimeout TypeDuration `toml:"idleTimeout" json:"idleTimeout"`
	} `toml:"connectionPool" json:"connectionPool"`
	// RateLimit — ограничение количества handshakes на IP.
	// Защищает от brute-force подбора секрета.
	RateLimit struct {
		Optional

		// PerSecond — максимальное количество handshakes в секунду на IP.
		// Default: 0 (отключено)
		PerSecond TypeRateLimit `toml:"perSecond" json:"perSecond"`

		// Burst — максимальный burst для rate limiter.
		// Default: 20
		Burst TypeConcurrency `toml:"burst" json:"burst"`
	} `toml:"rateLimit" json:"rateLimit"`
	// DCConfig — настройки авто-обновления DC-адресов Telegram.
	// По умолчанию используются hardcoded адреса из исходного кода.
	// JSON файл позволяет обновлять адреса без пересборки образа.
	DCConfig struct {
		Optional

		// File — путь к JSON файлу с DC-адресами.
		File string `toml:"file" json:"file"`

		// RefreshInterval — интервал проверки файла на обновления.
		// Default: 24h
		RefreshInterval TypeDuration `toml:"refreshInterval" json:"refreshInterval"`
	} `toml:"dcConfig" json:"dcConfig"`
	// AntiFingerprint — настройки противодействия DPI-анализу.
	// DEPRECATED: CCS padding удалён — RFC 8446 violation.
	// Секция сохранена для backward compatibility при парсинге старых конфигов.
	AntiFingerprint struct {
		// CCSPadding — DEPRECATED, игнорируется. CCS между ApplicationData = DPI fingerprint.
		CCSPadding TypeBool `toml:"ccsPadding" json:"ccsPadding"`
	} `toml:"antiFingerprint" json:"antiFingerprint"`
	// Maintenance configures the background upkeep tasks: clock-skew
	// detection and the cover site cert-length probe. Both default to
	// disabled - a fixed cover length and the FakeTLS time window check
	// work fine without them.
	Maintenance struct {
		TimeSync struct {
			Optional

			Period TypeDuration `toml:"period" json:"period"`
		} `toml:"timeSync" json:"timeSync"`
		CertProbe struct {
			Optional

			Period TypeDuration `toml:"period" json:"period"`
		} `toml:"certProbe" json:"certProbe"`
		// MiddleProxyRefresh re-fetches Telegram's published middle-proxy
		// address lists and RPC secret on a timer (proxy_info_update_period
		// in the original). Only meaningful for users with an adTag set.
		MiddleProxyRefresh struct {
			Optional

			Period TypeDuration `toml:"period" json:"period"`
		} `toml:"middleProxyRefresh" json:"middleProxyRefresh"`
	} `toml:"maintenance" json:"maintenance"`
	Stats struct {
		StatsD struct {
			Optional

			Address      TypeHostPort        `toml:"address" json:"address"`
			MetricPrefix TypeMetricPrefix    `toml:"metricPrefix" json:"metricPrefix"`
			TagFormat    TypeStatsdTagFormat `toml:"tagFormat" json:"tagFormat"`
		} `toml:"statsd" json:"statsd"`
		Prometheus struct {
			Optional

			BindTo       TypeHostPort     `toml:"bindTo" json:"bindTo"`
			HTTPPath     TypeHTTPPath     `toml:"httpPath" json:"httpPath"`
			MetricPrefix TypeMetricPrefix `toml:"metricPrefix" json:"metricPrefix"`
		} `toml:"prometheus" json:"prometheus"`
	} `toml:"stats" json:"stats"`
}

func (c *Config) Validate() error {
	if !c.Secret.Valid() {
		return fmt.Errorf("invalid secret")
	}

	if c.BindTo.Get("") == "" {
		return fmt.Errorf("incorrect bind-to parameter %s", c.BindTo.String())
	}

	// Connection Pool: если включён, требуются корректные параметры
	if c.ConnectionPool.Enabled.Get(false) {
		if c.ConnectionPool.MaxIdleConns.Value == 0 {
			return fmt.Errorf("connection-pool.maxIdleConns must be > 0 when pool is enabled")
		}

		if c.ConnectionPool.IdleTimeout.Value == 0 {
			return fmt.Errorf("connection-pool.idleTimeout must be > 0 when pool is enabled")
		}
	}

	// Rate Limit: burst обязателен если rate limit включён
	if c.RateLimit.Enabled.Get(false) && c.RateLimit.PerSecond.Value > 0 {
		if c.RateLimit.Burst.Value == 0 {
			return fmt.Errorf("rateLimit.burst must be > 0 when rate limiting is enabled")
		}
	}

	// Prometheus: bindTo обязателен если включён
	if c.Stats.Prometheus.Enabled.Get(false) {
		if c.Stats.Prometheus.BindTo.Get("") == "" {
			return fmt.Errorf("prometheus.bindTo is required when prometheus is enabled")
		}
	}

	// StatsD: address обязателен если включён
	if c.Stats.StatsD.Enabled.Get(false) {
		if c.Stats.StatsD.Address.Get("") == "" {
			return fmt.Errorf("statsd.address is required when statsd is enabled")
		}
	}

	return nil
}

func (c *Config) String() string {
	// Маскируем секрет для безопасного логирования
	safe := *c
	safe.Secret = mtglib.Secret{} // Zero value — не сериализует реальный секрет

	buf := &bytes.Buffer{}
	encoder := json.NewEncoder(buf)

	encoder.SetEscapeHTML(false)

	if err := encoder.Encode(safe); err != nil {
		return "{}"
	}

	return buf.String()
}
