package mtglib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mtgrelay/mtgproxy/essentials"
	"github.com/mtgrelay/mtgproxy/mtglib/internal/cover"
	"github.com/mtgrelay/mtgproxy/mtglib/internal/faketls"
	"github.com/mtgrelay/mtgproxy/mtglib/internal/middleproxy"
	"github.com/mtgrelay/mtgproxy/mtglib/internal/obfuscated2"
	"github.com/mtgrelay/mtgproxy/mtglib/internal/proxyproto"
	"github.com/mtgrelay/mtgproxy/mtglib/internal/relay"
	"github.com/mtgrelay/mtgproxy/mtglib/internal/telegram"
	"github.com/panjf2000/ants/v2"
)

// isBrokenPipeError проверяет, является ли ошибка broken pipe или connection reset.
// Это происходит когда соединение из pool было закрыто Telegram до использования.
func isBrokenPipeError(err error) bool {
	if err == nil {
		return false
	}

	// Используем errors.Is для проверки syscall.Errno (Errno реализует Is() с Go 1.13)
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	// Fallback для wrapped ошибок где errors.Is не срабатывает
	errStr := err.Error()
	return strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}

// Proxy is an MTPROTO proxy structure.
type Proxy struct {
	ctx             context.Context
	ctxCancel       context.CancelFunc
	streamWaitGroup sync.WaitGroup

	allowFallbackOnUnknownDC bool
	fallbackOnDialError      bool
	tolerateTimeSkewness     time.Duration
	domainFrontingPort       int
	workerPool               *ants.PoolWithFunc
	telegram                 *telegram.Telegram
	config                   ProxyConfig
	rateLimiter              *RateLimiter

	secret          Secret
	users           *UserManager
	ignoreTimeSkew  bool
	timeSkewed      atomic.Bool
	coverCertLength func() int
	network         Network
	antiReplayCache AntiReplayCache
	blocklist          IPBlocklist
	allowlist          IPBlocklist
	eventStream        EventStream
	logger             Logger
	trustProxyProtocol bool

	middleProxyAddrs     *middleproxy.AddressTable
	middleProxyRefresher *middleproxy.Refresher
	preferIPv6           bool
	publicIP             func(wantV6 bool) net.IP

	coverCacheStop chan struct{}
}

// SetTimeSkewed records the maintenance time-sync task's live finding that
// the host clock disagrees with Telegram's Date header by more than the
// tolerated window. While set, the FakeTLS timestamp window check is
// bypassed instead of rejecting every handshake.
func (p *Proxy) SetTimeSkewed(skewed bool) {
	p.timeSkewed.Store(skewed)
}

func (p *Proxy) isTimeSkewed() bool {
	return p.timeSkewed.Load()
}

// DomainFrontingAddress returns a host:port pair for a fronting domain.
func (p *Proxy) DomainFrontingAddress() string {
	return net.JoinHostPort(p.secret.Host, strconv.Itoa(p.domainFrontingPort))
}

// ServeConn serves a connection. We do not check IP blocklist and concurrency
// limit here.
func (p *Proxy) ServeConn(conn essentials.Conn) {
	p.streamWaitGroup.Add(1)
	defer p.streamWaitGroup.Done()

	// Rate limiting check BEFORE creating stream context
	ipAddr := conn.RemoteAddr().(*net.TCPAddr).IP //nolint: forcetypeassert
	if p.rateLimiter != nil && !p.rateLimiter.Allow(ipAddr) {
		p.logger.BindStr("ip", hashIP(ipAddr)).Warning("Rate limited")
		p.eventStream.Send(p.ctx, NewEventConcurrencyLimited())
		conn.Close()

		return
	}

	ctx, err := newStreamContext(p.ctx, p.logger, conn)
	if err != nil {
		p.logger.WarningError("cannot create stream context", err)
		conn.Close()

		return
	}
	defer ctx.Close()

	// Handshake deadline: сбрасывается ЯВНО после хендшейка, а не через defer.
	// defer здесь нельзя — deadline остался бы активен во время relay, убивая
	// все соединения через HandshakeTimeout секунд.
	if p.config.HandshakeTimeout > 0 {
		conn.SetDeadline(time.Now().Add(p.config.HandshakeTimeout)) //nolint: errcheck
	}

	go func() {
		<-ctx.Done()
		ctx.Close()
	}()

	p.eventStream.Send(ctx, NewEventStart(ctx.streamID, ctx.ClientIP()))
	ctx.logger.Info("Stream has been started")

	defer func() {
		p.eventStream.Send(ctx, NewEventFinish(ctx.streamID))
		ctx.logger.Info("Stream has been finished")
	}()

	if !p.doHandshake(ctx) {
		return
	}

	if err := p.users.Admit(ctx.userIdx); err != nil {
		ctx.logger.InfoError("user was rejected", err)

		return
	}
	defer p.users.Release(ctx.userIdx)

	// Хендшейк завершён — сбрасываем deadline перед relay.
	// TCP_USER_TIMEOUT (30s) в relay.go берёт на себя защиту от мёртвых соединений.
	conn.SetDeadline(time.Time{}) //nolint: errcheck

	if err := p.doTelegramCall(ctx); err != nil {
		// Не логировать спам для несуществующих DC (203, 999 и т.д.)
		if !strings.Contains(err.Error(), "invalid DC") {
			p.logger.WarningError("cannot dial to telegram", err)
		}

		return
	}

	relay.Relay(
		ctx,
		ctx.logger.Named("relay"),
		ctx.telegramConn,
		ctx.clientConn,
	)
}

// Serve starts a proxy on a given listener.
func (p *Proxy) Serve(listener net.Listener) error {
	p.streamWaitGroup.Add(1)
	defer p.streamWaitGroup.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-p.ctx.Done():
				return nil
			default:
				return fmt.Errorf("cannot accept a new connection: %w", err)
			}
		}

		var servedConn essentials.Conn = conn.(*net.TCPConn) //nolint: forcetypeassert

		if p.trustProxyProtocol {
			ppConn, ppErr := proxyproto.NewConn(conn)
			if ppErr != nil {
				conn.Close()

				continue
			}

			if ppErr := ppConn.ReadHeader(); ppErr != nil {
				conn.Close()
				p.logger.Info("rejected connection with bad PROXY protocol header")

				continue
			}

			servedConn = ppConn
		}

		ipAddr := servedConn.RemoteAddr().(*net.TCPAddr).IP //nolint: forcetypeassert
		logger := p.logger.BindStr("ip", hashIP(ipAddr))

		if !p.allowlist.Contains(ipAddr) {
			servedConn.Close()
			logger.Info("ip was rejected by allowlist")
			p.eventStream.Send(p.ctx, NewEventIPAllowlisted(ipAddr))

			continue
		}

		if p.blocklist.Contains(ipAddr) {
			servedConn.Close()
			logger.Info("ip was blacklisted")
			p.eventStream.Send(p.ctx, NewEventIPBlocklisted(ipAddr))

			continue
		}

		err = p.workerPool.Invoke(servedConn)

		switch {
		case err == nil:
		case errors.Is(err, ants.ErrPoolClosed):
			conn.Close()

			return nil
		case errors.Is(err, ants.ErrPoolOverload):
			conn.Close()
			logger.Info("connection was concurrency limited")
			p.eventStream.Send(p.ctx, NewEventConcurrencyLimited())
		}
	}
}

// Shutdown 'gracefully' shutdowns all connections. Please remember that it
// does not close an underlying listener.
func (p *Proxy) Shutdown() {
	p.ctxCancel()
	p.streamWaitGroup.Wait()
	p.workerPool.Release()

	p.allowlist.Shutdown()
	p.blocklist.Shutdown()

	// Остановка rate limiter cleanup goroutine (предотвращение goroutine leak)
	if p.rateLimiter != nil {
		p.rateLimiter.Stop()
	}

	// Закрытие connection pool к Telegram DC
	p.telegram.Close()

	if p.middleProxyRefresher != nil {
		p.middleProxyRefresher.Stop()
	}

	close(p.coverCacheStop)
}

// GetPoolStats returns connection pool statistics for all DCs.
// Returns nil if connection pooling is disabled.
func (p *Proxy) GetPoolStats() []telegram.PoolStats {
	return p.telegram.PoolStats()
}

// GetRateLimiterSize returns number of tracked IPs in rate limiter.
// Returns 0 if rate limiting is disabled.
func (p *Proxy) GetRateLimiterSize() int {
	if p.rateLimiter == nil {
		return 0
	}

	return p.rateLimiter.Size()
}

// UserStats returns a snapshot of every configured user's counters, in
// configuration order. Used by the SIGUSR1 stats dump.
func (p *Proxy) UserStats() []UserStats {
	return p.users.Stats()
}

// doHandshake dispatches an inbound connection to the FakeTLS or the plain
// obfuscated MTProto path depending on whether its first bytes match the
// outer TLS 1.3 ClientHello prefix (§4.3 Step 2). Either path falls back to
// the cover-host tunnel, byte-for-byte replaying whatever was read so far,
// when verification fails.
func (p *Proxy) doHandshake(ctx *streamContext) bool {
	rewind := newConnRewind(ctx.clientConn)
	ctx.clientConn = rewind

	var prefix [len(faketls.TLSClientHelloPrefix)]byte

	if _, err := io.ReadFull(rewind, prefix[:]); err != nil {
		p.logger.InfoError("cannot read handshake prefix", err)
		rewind.Rewind()
		p.doDomainFronting(ctx, rewind)

		return false
	}

	if faketls.LooksLikeClientHello(prefix[:]) {
		return p.doFakeTLSHandshake(ctx, rewind, prefix[:])
	}

	return p.doObfuscated2Handshake(ctx, rewind)
}

func (p *Proxy) doFakeTLSHandshake(ctx *streamContext, rewind *connRewind, prefix []byte) bool {
	rest := make([]byte, faketls.TLSHandshakeLen-len(prefix))

	if _, err := io.ReadFull(rewind, rest); err != nil {
		p.logger.InfoError("cannot read client hello", err)
		rewind.Rewind()
		p.doDomainFronting(ctx, rewind)

		return false
	}

	buf := make([]byte, 0, faketls.TLSHandshakeLen)
	buf = append(buf, prefix...)
	buf = append(buf, rest...)

	secrets := p.users.Secrets()

	hello, err := faketls.ParseClientHello(secrets, buf)
	if err != nil {
		p.logger.InfoError("cannot parse client hello", err)
		rewind.Rewind()
		p.doDomainFronting(ctx, rewind)

		return false
	}

	if err := hello.Valid(p.tolerateTimeSkewness, p.ignoreTimeSkew, p.isTimeSkewed()); err != nil {
		p.logger.BindStr("hello-time", hello.Time.String()).InfoError("invalid faketls client hello", err)
		rewind.Rewind()
		p.doDomainFronting(ctx, rewind)

		return false
	}

	if p.antiReplayCache.SeenBefore(hello.SessionID) {
		p.logger.Warning("replay attack has been detected!")
		p.eventStream.Send(p.ctx, NewEventReplayAttack(ctx.streamID))
		rewind.Rewind()
		p.doDomainFronting(ctx, rewind)

		return false
	}

	if err := faketls.SendWelcomePacket(rewind, secrets[hello.UserIdx], hello, p.coverCertLength()); err != nil {
		p.logger.InfoError("cannot send welcome packet", err)

		return false
	}

	ctx.clientConn = &faketls.Conn{Conn: rewind}

	// No cover-tunnel fallback past this point: the ServerHello is already
	// on the wire, so the client now expects an encrypted MTProto stream,
	// not a raw replay to the cover host.
	return p.doObfuscated2Handshake(ctx, nil)
}

// doObfuscated2Handshake runs the inner handshake. rewind is non-nil only on
// the plain (non-FakeTLS) path, where a failed match can still be tunnelled
// to the cover host by replaying every byte read so far.
func (p *Proxy) doObfuscated2Handshake(ctx *streamContext, rewind *connRewind) bool {
	idx, tag, dc, encryptor, decryptor, err := obfuscated2.ClientHandshake(p.users.Secrets(), p.antiReplayCache, ctx.clientConn)
	if err != nil {
		p.logger.InfoError("obfuscated2 handshake failed", err)

		if rewind != nil {
			rewind.Rewind()
			p.doDomainFronting(ctx, rewind)
		}

		return false
	}

	ctx.userIdx = idx
	ctx.dc = dc
	ctx.protoTag = tag
	ctx.logger = ctx.logger.BindInt("dc", dc).BindStr("user", p.users.User(idx).Name)
	ctx.clientConn = obfuscated2.Conn{
		Conn:      ctx.clientConn,
		Encryptor: encryptor,
		Decryptor: decryptor,
	}

	return true
}

func (p *Proxy) doTelegramCall(ctx *streamContext) error {
	dc := ctx.dc
	originalDC := dc

	// Telegram официально поддерживает только DC 1-5
	// Отклонять запросы к несуществующим DC (203, 999 и т.д.) без логирования
	if !p.telegram.IsKnownDC(dc) {
		if p.allowFallbackOnUnknownDC {
			dc = p.telegram.GetFallbackDC()
			ctx.logger = ctx.logger.BindInt("fallback_dc", dc)
			ctx.logger.Warning("unknown DC, fallbacks")
		} else {
			// Silent reject для DC > 5 - избегаем спама в логах
			return fmt.Errorf("invalid DC %d (only DC 1-5 are supported)", dc)
		}
	}

	adTag := p.users.User(ctx.userIdx).AdTag

	var (
		conn essentials.Conn
		err  error
	)

	if len(adTag) > 0 {
		conn, err = p.dialMiddleProxy(ctx, dc, adTag)
	} else {
		conn, err = p.telegram.Dial(ctx, dc)
	}

	if err != nil {
		// Fallback to another DC on dial error. Middle-proxy dials don't
		// retry through this path: a missing/unreachable middle proxy for
		// one DC says nothing about the others being reachable, and
		// GetFallbackDCExcluding only knows about direct DC connectivity.
		if p.fallbackOnDialError && len(adTag) == 0 {
			fallbackDC := p.telegram.GetFallbackDCExcluding(dc)
			ctx.logger = ctx.logger.BindInt("original_dc", originalDC).BindInt("fallback_dc", fallbackDC)
			ctx.logger.Warning("DC unavailable, trying fallback")

			conn, err = p.telegram.Dial(ctx, fallbackDC)
			if err != nil {
				return fmt.Errorf("cannot dial to Telegram (fallback DC %d also failed): %w", fallbackDC, err)
			}

			dc = fallbackDC
		} else {
			return fmt.Errorf("cannot dial to Telegram: %w", err)
		}
	}

	encryptor, decryptor, err := obfuscated2.ServerHandshake(conn)
	if err != nil {
		// ForceClose: соединение с ошибкой handshake нельзя возвращать в пул
		if pc, ok := conn.(*telegram.PooledConn); ok {
			pc.ForceClose()
		} else {
			conn.Close()
		}

		// Retry с новым соединением при broken pipe (stale connection из pool)
		if isBrokenPipeError(err) {
			ctx.logger.Debug("broken pipe on handshake, retrying with fresh connection")

			// Получаем новое соединение напрямую (минуя pool)
			conn, err = p.telegram.DialDirect(ctx, dc)
			if err != nil {
				return fmt.Errorf("cannot dial to Telegram (retry): %w", err)
			}

			encryptor, decryptor, err = obfuscated2.ServerHandshake(conn)
			if err != nil {
				conn.Close()
				return fmt.Errorf("cannot perform obfuscated2 handshake (retry): %w", err)
			}
		} else {
			return fmt.Errorf("cannot perform obfuscated2 handshake: %w", err)
		}
	}

	// After obfuscated2 handshake, соединение имеет per-session протокольное состояние.
	// Unwrap PooledConn чтобы Close() реально закрыл TCP,
	// а не возвращал использованное соединение в пул.
	if pc, ok := conn.(*telegram.PooledConn); ok {
		conn = pc.Unwrap()
	}

	traffic := newConnTraffic(conn, ctx.streamID, p.eventStream, ctx)

	userIdx := ctx.userIdx
	traffic.onTraffic = func(n uint64, isRead bool) {
		if p.users.AddTraffic(userIdx, n, isRead) {
			ctx.Close()
		}
	}

	ctx.telegramConn = obfuscated2.Conn{
		Conn:      traffic,
		Encryptor: encryptor,
		Decryptor: decryptor,
	}

	p.eventStream.Send(ctx,
		NewEventConnectedToDC(ctx.streamID,
			conn.RemoteAddr().(*net.TCPAddr).IP, //nolint: forcetypeassert
			dc),
	)

	return nil
}

// dialMiddleProxy dials a Telegram middle proxy for dc instead of the DC
// directly, so traffic from this adTag-carrying user is attributed to the
// configured affiliate tag (original_source's "promoted channel" mode).
func (p *Proxy) dialMiddleProxy(ctx *streamContext, dc int, adTag []byte) (essentials.Conn, error) {
	secret := middleproxy.DefaultSecret()
	if p.middleProxyRefresher != nil {
		secret = p.middleProxyRefresher.Secret()
	}

	tunnel := middleproxy.TunnelInfo{
		ClientIP:   ctx.ClientIP(),
		ClientPort: ctx.ClientPort(),
		ProtoTag:   middleproxy.ProtoTag(ctx.protoTag),
		AdTag:      adTag,
	}

	publicIP := p.publicIP(p.preferIPv6)

	conn, err := middleproxy.Dial(ctx, p.network.DialContext, p.middleProxyAddrs, secret, dc, p.preferIPv6, publicIP, tunnel)
	if err != nil {
		return nil, fmt.Errorf("cannot dial middle proxy: %w", err)
	}

	return conn, nil
}

// doDomainFronting is the cover-host tunnel (spec.md section 4.4): the
// dial-with-cached-IP, splice, and FIN/RST close propagation live in
// mtglib/internal/cover, grounded in original_source's handle_bad_client;
// this method only supplies the traffic-accounting wrapper around the
// dialed cover socket and the stream's own telemetry event.
func (p *Proxy) doDomainFronting(ctx *streamContext, conn *connRewind) {
	p.eventStream.Send(p.ctx, NewEventDomainFronting(ctx.streamID))
	conn.Rewind()

	dial := func(dialCtx context.Context, network, address string) (essentials.Conn, error) {
		raw, err := p.network.DialContext(dialCtx, network, address)
		if err != nil {
			return nil, err
		}

		return newConnTraffic(raw, ctx.streamID, p.eventStream, ctx), nil
	}

	cover.Tunnel(ctx, dial, p.secret.Host, p.domainFrontingPort, conn, ctx.logger.Named("cover-host"))
}

// NewProxy makes a new proxy instance.
// antsLoggerAdapter lets a Logger back the worker pool's own diagnostic
// logging, which wants a bare Printf rather than the structured Logger
// interface.
type antsLoggerAdapter struct {
	logger Logger
}

func (a antsLoggerAdapter) Printf(format string, args ...interface{}) {
	a.logger.Info(fmt.Sprintf(format, args...))
}

func NewProxy(opts ProxyOpts) (*Proxy, error) {
	if err := opts.valid(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	// Подготовка опций для telegram dialer
	var tgOpts []telegram.TelegramOption
	if opts.EnableConnectionPool {
		poolConfig := telegram.PoolConfig{
			MaxIdleConns:        opts.getConnectionPoolMaxIdle(),
			IdleTimeout:         opts.getConnectionPoolIdleTimeout(),
			HealthCheckInterval: 30 * time.Second,
		}
		tgOpts = append(tgOpts, telegram.WithConnectionPool(poolConfig))
	}

	// DC auto-refresh из JSON файла
	if opts.DCConfigFile != "" {
		tgOpts = append(tgOpts, telegram.WithDCConfigFile(
			opts.DCConfigFile,
			opts.DCRefreshInterval,
		))
	}

	tg, err := telegram.New(opts.Network, opts.getPreferIP(), opts.UseTestDCs, tgOpts...)
	if err != nil {
		return nil, fmt.Errorf("cannot build telegram dialer: %w", err)
	}

	// DNS pre-warming: resolve FakeTLS domain before accepting connections.
	// This reduces latency for the first client by 50-100ms.
	if opts.Secret.Host != "" {
		opts.Network.WarmUp([]string{opts.Secret.Host})
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Get config or use defaults
	config := opts.getConfig()

	// Create rate limiter if enabled
	var rateLimiter *RateLimiter
	if opts.getRateLimitPerSecond() > 0 {
		rateLimiter = NewRateLimiter(
			opts.getRateLimitPerSecond(),
			opts.getRateLimitBurst(),
			time.Minute, // cleanup every minute
		)
	}

	users, err := opts.getUsers()
	if err != nil {
		return nil, fmt.Errorf("cannot build user manager: %w", err)
	}

	middleProxyAddrs := middleproxy.NewAddressTable()

	var middleProxyRefresher *middleproxy.Refresher

	if opts.MiddleProxyRefreshInterval > 0 {
		middleProxyRefresher = middleproxy.NewRefresher(
			opts.Network.MakeHTTPClient(opts.Network.DialContext),
			middleProxyAddrs,
			opts.getMiddleProxySecret(),
			opts.MiddleProxyRefreshInterval,
			opts.getLogger("middle-proxy-refresh"))
		middleProxyRefresher.Start()
	}

	proxy := &Proxy{
		ctx:                      ctx,
		ctxCancel:                cancel,
		secret:                   opts.Secret,
		users:                    users,
		ignoreTimeSkew:           opts.IgnoreTimeSkew,
		coverCertLength:          opts.getCoverCertLength(),
		network:                  opts.Network,
		antiReplayCache:          opts.AntiReplayCache,
		blocklist:                opts.IPBlocklist,
		allowlist:                opts.IPAllowlist,
		eventStream:              opts.EventStream,
		logger:                   opts.getLogger("proxy"),
		domainFrontingPort:       opts.getDomainFrontingPort(),
		tolerateTimeSkewness:     opts.getTolerateTimeSkewness(),
		allowFallbackOnUnknownDC: opts.AllowFallbackOnUnknownDC,
		fallbackOnDialError:      opts.getFallbackOnDialError(),
		telegram:                 tg,
		config:                   config,
		rateLimiter:              rateLimiter,
		trustProxyProtocol:       opts.TrustProxyProtocol,
		middleProxyAddrs:         middleProxyAddrs,
		middleProxyRefresher:     middleProxyRefresher,
		preferIPv6:               opts.getPreferIP() == "prefer-ipv6" || opts.getPreferIP() == "only-ipv6",
		publicIP:                 opts.getPublicIP,
		coverCacheStop:           make(chan struct{}),
	}

	cover.StartCacheClearer(proxy.coverCacheStop)

	pool, err := ants.NewPoolWithFunc(opts.getConcurrency(),
		func(arg interface{}) {
			proxy.ServeConn(arg.(essentials.Conn)) //nolint: forcetypeassert
		},
		ants.WithLogger(antsLoggerAdapter{opts.getLogger("ants")}),
		ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("cannot create worker pool: %w", err)
	}

	proxy.workerPool = pool

	return proxy, nil
}
