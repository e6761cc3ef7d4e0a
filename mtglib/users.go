package mtglib

import (
	"sync"
	"time"
)

// expirationDateLayout is the dd/mm/yyyy format §6 specifies for
// Users.expiration_date.
const expirationDateLayout = "02/01/2006"

// User is one entry of the immutable user list (§3). It is never mutated
// after config load; only its live counters (tracked separately, in
// userState) change during the process lifetime.
type User struct {
	Name string

	// Secret is the 16-byte key derived from the configured 32 hex chars.
	Secret [secretKeyLength]byte

	// MaxTCPConns is the maximum number of concurrently open connections
	// for this user. Zero means unlimited.
	MaxTCPConns int

	// ExpirationDate, if non-zero, is the dd/mm/yyyy date after which the
	// user is rejected.
	ExpirationDate time.Time

	// DataQuota is the maximum total octets (both directions, lifetime of
	// the process) this user may transfer. Zero means unlimited.
	DataQuota uint64

	// AdTag, when non-empty, routes this user's Telegram-bound traffic
	// through a middle proxy carrying this ad_tag instead of dialing the DC
	// directly - the MTProxy "promoted channel" affiliate mode.
	AdTag []byte
}

// ParseExpirationDate parses the dd/mm/yyyy format used in the users list.
// An empty string means "no expiration".
func ParseExpirationDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}

	return time.Parse(expirationDateLayout, raw) //nolint: wrapcheck
}

// userState is the live, mutable counterpart of a User: the explicit,
// materialized counters the orchestrator checks before relaying a byte.
//
// REDESIGN FLAG / Open Question (b): the source enforces maxTcpConns and
// dataQuota through a filter whose result it never materializes, so limits
// can silently go unenforced. Here every check is an explicit lookup
// against a concrete counter guarded by a mutex - there is no path that
// skips the check.
type userState struct {
	mu          sync.Mutex
	openConns   int
	octetsTotal uint64

	connects     uint64
	connectsCurr int64
	octetsFrom   uint64
	octetsTo     uint64
	msgsFrom     uint64
	msgsTo       uint64
}

// UserManager resolves incoming secrets to a configured User and enforces
// the per-user policy of §4.8. It is safe for concurrent use.
type UserManager struct {
	users  []User
	states []*userState
	now    func() time.Time
}

// NewUserManager builds a UserManager from the immutable user list loaded
// from configuration. Order is preserved: it is also the order in which
// secrets are tried during the handshake (§4.3 "one attempt per configured
// user").
func NewUserManager(users []User) (*UserManager, error) {
	if len(users) == 0 {
		return nil, ErrNoUsersDefined
	}

	states := make([]*userState, len(users))
	for i := range states {
		states[i] = &userState{}
	}

	return &UserManager{users: users, states: states, now: time.Now}, nil
}

// Secrets returns the ordered list of 16-byte secrets, exactly the shape the
// handshake engine needs to try each user in turn.
func (m *UserManager) Secrets() [][]byte {
	out := make([][]byte, len(m.users))
	for i := range m.users {
		out[i] = m.users[i].Secret[:]
	}

	return out
}

// User returns the configured user at index idx, as returned by the
// handshake matcher.
func (m *UserManager) User(idx int) User {
	return m.users[idx]
}

// Admit enforces maxTcpConns/expirationDate before a connection is allowed
// to proceed to DC dial. It increments openConns/connects counters on
// success; the caller must call Release exactly once for every successful
// Admit.
func (m *UserManager) Admit(idx int) error {
	u := m.users[idx]
	s := m.states[idx]

	s.mu.Lock()
	defer s.mu.Unlock()

	if !u.ExpirationDate.IsZero() && m.now().After(u.ExpirationDate) {
		return ErrUserExpired
	}

	if u.DataQuota > 0 && s.octetsTotal >= u.DataQuota {
		return ErrQuotaExceeded
	}

	if u.MaxTCPConns > 0 && s.openConns >= u.MaxTCPConns {
		return ErrTooManyConns
	}

	s.openConns++
	s.connects++
	s.connectsCurr++

	return nil
}

// Release decrements the live connection counter for a user that was
// previously admitted.
func (m *UserManager) Release(idx int) {
	s := m.states[idx]

	s.mu.Lock()
	s.openConns--
	s.connectsCurr--
	s.mu.Unlock()
}

// AddTraffic accounts octets/messages transferred in one direction for a
// user, and reports whether the user is now over its data quota (checked
// again so a long-lived connection is torn down mid-flight, not just at
// admission time).
func (m *UserManager) AddTraffic(idx int, octets uint64, isFrom bool) (overQuota bool) {
	u := m.users[idx]
	s := m.states[idx]

	s.mu.Lock()
	defer s.mu.Unlock()

	s.octetsTotal += octets

	if isFrom {
		s.octetsFrom += octets
		s.msgsFrom++
	} else {
		s.octetsTo += octets
		s.msgsTo++
	}

	return u.DataQuota > 0 && s.octetsTotal > u.DataQuota
}

// UserStats is a point-in-time snapshot of one user's counters, used by the
// metrics sink.
type UserStats struct {
	Name         string
	Connects     uint64
	ConnectsCurr int64
	OctetsFrom   uint64
	OctetsTo     uint64
	MsgsFrom     uint64
	MsgsTo       uint64
}

// Stats returns a snapshot for every configured user, in configuration
// order.
func (m *UserManager) Stats() []UserStats {
	out := make([]UserStats, len(m.users))

	for i, u := range m.users {
		s := m.states[i]

		s.mu.Lock()
		out[i] = UserStats{
			Name:         u.Name,
			Connects:     s.connects,
			ConnectsCurr: s.connectsCurr,
			OctetsFrom:   s.octetsFrom,
			OctetsTo:     s.octetsTo,
			MsgsFrom:     s.msgsFrom,
			MsgsTo:       s.msgsTo,
		}
		s.mu.Unlock()
	}

	return out
}
