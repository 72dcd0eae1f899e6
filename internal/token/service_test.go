package token_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/frahmantamala/capgate/internal"
	tokenDatamodel "github.com/frahmantamala/capgate/internal/core/datamodel/token"
	"github.com/frahmantamala/capgate/internal/core/events"
	"github.com/frahmantamala/capgate/internal/obs"
	"github.com/frahmantamala/capgate/internal/password"
	"github.com/frahmantamala/capgate/internal/role"
	"github.com/frahmantamala/capgate/internal/token"
	"github.com/frahmantamala/capgate/internal/user"
	"github.com/frahmantamala/capgate/pkg/logger"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/crypto/bcrypt"
)

func TestToken(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Token Suite")
}

const testSecret = "0123456789abcdef0123456789abcdef"

// memoryLedger is an in-memory ledger whose Rotate is atomic under a mutex.
type memoryLedger struct {
	mu   sync.Mutex
	rows map[string]*tokenDatamodel.RefreshToken
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{rows: map[string]*tokenDatamodel.RefreshToken{}}
}

func (m *memoryLedger) Create(_ context.Context, rec *tokenDatamodel.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.rows[rec.TokenID] = &cp
	return nil
}

func (m *memoryLedger) GetByTokenID(_ context.Context, id string) (*tokenDatamodel.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.rows[id]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, nil
}

func (m *memoryLedger) revokeLocked(rec *tokenDatamodel.RefreshToken, reason string, at time.Time) {
	rec.Revoked = true
	rec.RevokedReason = &reason
	rec.RevokedAt = &at
}

func (m *memoryLedger) Rotate(_ context.Context, oldID, reason string, at time.Time, next *tokenDatamodel.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[oldID]
	if !ok || rec.Revoked || !rec.ExpiresAt.After(at) {
		return token.ErrAlreadyRevoked
	}
	m.revokeLocked(rec, reason, at)
	rec.ReplacedBy = &next.TokenID
	cp := *next
	m.rows[next.TokenID] = &cp
	return nil
}

func (m *memoryLedger) Revoke(_ context.Context, id, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok || rec.Revoked {
		return false, nil
	}
	m.revokeLocked(rec, reason, at)
	return true, nil
}

func (m *memoryLedger) RevokeAllForUser(_ context.Context, userID, reason string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, rec := range m.rows {
		if rec.UserID == userID && !rec.Revoked {
			m.revokeLocked(rec, reason, at)
			n++
		}
	}
	return n, nil
}

func (m *memoryLedger) CountActive(_ context.Context, userID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, rec := range m.rows {
		if rec.UserID == userID && !rec.Revoked && rec.ExpiresAt.After(at) {
			n++
		}
	}
	return n, nil
}

func (m *memoryLedger) PurgeExpired(_ context.Context, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.rows {
		if !rec.ExpiresAt.After(at) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

type directory struct {
	users map[string]*user.User
	roles map[string][]*role.Role
}

func (d *directory) FindByID(_ context.Context, id string) (*user.User, error) {
	return d.users[id], nil
}

func (d *directory) FindByUsername(_ context.Context, username string) (*user.User, error) {
	for _, u := range d.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, nil
}

func (d *directory) RolesForUser(_ context.Context, userID string) ([]*role.Role, error) {
	return d.roles[userID], nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturingPublisher) Publish(_ context.Context, e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *capturingPublisher) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.EventType()
	}
	return out
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ = Describe("Service", func() {
	var (
		ctx       context.Context
		clock     *testClock
		ledger    *memoryLedger
		dir       *directory
		publisher *capturingPublisher
		metrics   *obs.Metrics
		signer    *token.Signer
		svc       *token.Service
		alice     *user.User
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
		ledger = newMemoryLedger()
		publisher = &capturingPublisher{}
		metrics = obs.NewMetrics()

		hasher := password.NewHasher(bcrypt.MinCost)
		hash, err := hasher.Hash("correct-horse")
		Expect(err).NotTo(HaveOccurred())

		alice = &user.User{ID: "01HALICE", Username: "alice", PasswordHash: hash, Active: true}
		dir = &directory{
			users: map[string]*user.User{alice.ID: alice},
			roles: map[string][]*role.Role{alice.ID: {{Name: "Viewer"}, {Name: "Operator"}}},
		}

		signer, err = token.NewSigner(testSecret, "capgate-test", clock.Now)
		Expect(err).NotTo(HaveOccurred())

		svc, err = token.NewService(ledger, dir, dir, password.NewPool(hasher, 2), signer,
			token.WithClock(clock.Now),
			token.WithEvents(publisher),
			token.WithMetrics(metrics),
			token.WithLogger(logger.Discard()),
		)
		Expect(err).NotTo(HaveOccurred())
	})

	login := func() token.Pair {
		pair, err := svc.Authenticate(ctx, "alice", "correct-horse")
		Expect(err).NotTo(HaveOccurred())
		return pair
	}

	Describe("construction", func() {
		It("refuses a missing or short signing secret", func() {
			_, err := token.NewSigner("", "x", nil)
			Expect(errors.Is(err, internal.ErrConfiguration)).To(BeTrue())

			_, err = token.NewSigner("too-short", "x", nil)
			Expect(errors.Is(err, internal.ErrConfiguration)).To(BeTrue())
		})

		It("refuses a nil signer", func() {
			_, err := token.NewService(ledger, dir, dir, password.NewPool(password.NewHasher(bcrypt.MinCost), 1), nil)
			Expect(errors.Is(err, internal.ErrConfiguration)).To(BeTrue())
		})
	})

	Describe("Authenticate", func() {
		It("issues an access and refresh pair with the documented claims", func() {
			// Given valid credentials
			// When alice logs in
			pair := login()

			// Then the access token carries identity and roles
			access, err := svc.VerifyAccessToken(pair.AccessToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(access.Subject).To(Equal(alice.ID))
			Expect(access.Username).To(Equal("alice"))
			Expect(access.Roles).To(Equal([]string{"Viewer", "Operator"}))
			Expect(access.IssuedAt.Time).To(BeTemporally("==", clock.Now()))
			Expect(access.ExpiresAt.Time).To(BeTemporally("==", clock.Now().Add(3600*time.Second)))
			Expect(pair.TokenType).To(Equal("Bearer"))

			// And the refresh token lives longer with its own jti
			refresh, err := svc.VerifyRefreshToken(ctx, pair.RefreshToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(refresh.ExpiresAt.Time).To(BeTemporally("==", clock.Now().Add(604800*time.Second)))
			Expect(refresh.ID).NotTo(Equal(access.ID))

			// And only the refresh token is persisted
			rec, _ := ledger.GetByTokenID(ctx, refresh.ID)
			Expect(rec).NotTo(BeNil())
			Expect(rec.UserID).To(Equal(alice.ID))
			none, _ := ledger.GetByTokenID(ctx, access.ID)
			Expect(none).To(BeNil())

			count, err := svc.GetActiveSessionCount(ctx, alice.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(1))
		})

		DescribeTable("answers every failure with the same generic error",
			func(username, pw string, deactivate bool) {
				alice.Active = !deactivate
				_, err := svc.Authenticate(ctx, username, pw)
				Expect(err).To(MatchError(internal.ErrInvalidCredentials))
				Expect(err.Error()).To(Equal("invalid credentials"))
				Expect(publisher.types()).To(ContainElement(events.EventTypeLoginFailed))
			},
			Entry("unknown user", "mallory", "correct-horse", false),
			Entry("wrong password", "alice", "wrong-horse", false),
			Entry("username is case sensitive", "Alice", "correct-horse", false),
			Entry("inactive user with the right password", "alice", "correct-horse", true),
		)

		It("does not persist anything on failure", func() {
			_, _ = svc.Authenticate(ctx, "alice", "nope")
			count, _ := svc.GetActiveSessionCount(ctx, alice.ID)
			Expect(count).To(BeZero())
		})
	})

	Describe("token validity", func() {
		DescribeTable("an access token is valid iff exp > now",
			func(offset time.Duration, valid bool) {
				pair := login()
				clock.Advance(offset)

				_, err := svc.VerifyAccessToken(pair.AccessToken)
				if valid {
					Expect(err).NotTo(HaveOccurred())
				} else {
					Expect(errors.Is(err, internal.ErrTokenExpired)).To(BeTrue())
				}
			},
			Entry("just issued", time.Duration(0), true),
			Entry("mid life", 30*time.Minute, true),
			Entry("one second before expiry", 3599*time.Second, true),
			Entry("exactly at expiry", 3600*time.Second, false),
			Entry("past expiry", 2*time.Hour, false),
		)

		DescribeTable("a refresh token is valid iff exp > now and its record is live",
			func(offset time.Duration, revoke bool, want error) {
				pair := login()
				if revoke {
					Expect(svc.RevokeToken(ctx, pair.RefreshToken, token.ReasonLogout)).To(Succeed())
				}
				clock.Advance(offset)

				_, err := svc.VerifyRefreshToken(ctx, pair.RefreshToken)
				if want == nil {
					Expect(err).NotTo(HaveOccurred())
				} else {
					Expect(errors.Is(err, want)).To(BeTrue(), "got %v", err)
				}
			},
			Entry("fresh", time.Hour, false, nil),
			Entry("revoked", time.Hour, true, internal.ErrTokenRevoked),
			Entry("expired", 604800*time.Second, false, internal.ErrTokenExpired),
			Entry("expired and revoked", 8*24*time.Hour, true, internal.ErrTokenExpired),
		)

		It("rejects a tampered signature", func() {
			pair := login()
			parts := strings.Split(pair.AccessToken, ".")
			sig := []byte(parts[2])
			if sig[0] == 'A' {
				sig[0] = 'B'
			} else {
				sig[0] = 'A'
			}
			tampered := parts[0] + "." + parts[1] + "." + string(sig)

			_, err := svc.VerifyAccessToken(tampered)
			Expect(errors.Is(err, internal.ErrInvalidToken)).To(BeTrue())
		})

		It("rejects tokens signed with another secret", func() {
			other, err := token.NewSigner("ffffffffffffffffffffffffffffffff", "capgate-test", clock.Now)
			Expect(err).NotTo(HaveOccurred())
			forged, err := other.Sign(&token.Claims{Type: token.TypeAccess})
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.VerifyAccessToken(forged)
			Expect(errors.Is(err, internal.ErrInvalidToken)).To(BeTrue())
		})

		It("rejects garbage", func() {
			_, err := svc.VerifyAccessToken("not.a.jwt")
			Expect(errors.Is(err, internal.ErrInvalidToken)).To(BeTrue())
			_, err = svc.VerifyAccessToken("")
			Expect(errors.Is(err, internal.ErrInvalidToken)).To(BeTrue())
		})

		It("keeps the two token types apart", func() {
			pair := login()
			_, err := svc.VerifyAccessToken(pair.RefreshToken)
			Expect(errors.Is(err, internal.ErrInvalidToken)).To(BeTrue())
			_, err = svc.VerifyRefreshToken(ctx, pair.AccessToken)
			Expect(errors.Is(err, internal.ErrInvalidToken)).To(BeTrue())
		})

		It("dispatches VerifyToken on the token type", func() {
			pair := login()
			c, err := svc.VerifyToken(ctx, pair.AccessToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Type).To(Equal(token.TypeAccess))

			Expect(svc.RevokeToken(ctx, pair.RefreshToken, token.ReasonLogout)).To(Succeed())
			_, err = svc.VerifyToken(ctx, pair.RefreshToken)
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeTokenRevoked))
		})
	})

	Describe("RevokeToken", func() {
		It("is permanent for refresh tokens", func() {
			pair := login()
			Expect(svc.RevokeToken(ctx, pair.RefreshToken, token.ReasonLogout)).To(Succeed())

			for i := 0; i < 5; i++ {
				clock.Advance(time.Minute)
				_, err := svc.VerifyRefreshToken(ctx, pair.RefreshToken)
				Expect(errors.Is(err, internal.ErrTokenRevoked)).To(BeTrue())
			}
			Expect(publisher.types()).To(ContainElement(events.EventTypeTokenRevoked))
		})

		It("is idempotent", func() {
			pair := login()
			Expect(svc.RevokeToken(ctx, pair.RefreshToken, token.ReasonLogout)).To(Succeed())
			Expect(svc.RevokeToken(ctx, pair.RefreshToken, "again")).To(Succeed())

			claims, _ := signer.ParseIgnoringExpiry(pair.RefreshToken)
			rec, _ := ledger.GetByTokenID(ctx, claims.ID)
			Expect(*rec.RevokedReason).To(Equal(token.ReasonLogout))
		})

		It("is a no-op for access tokens, which stay valid until expiry", func() {
			pair := login()
			Expect(svc.RevokeToken(ctx, pair.AccessToken, token.ReasonLogout)).To(Succeed())

			_, err := svc.VerifyAccessToken(pair.AccessToken)
			Expect(err).NotTo(HaveOccurred())
		})

		It("accepts an expired refresh token", func() {
			pair := login()
			clock.Advance(8 * 24 * time.Hour)
			Expect(svc.RevokeToken(ctx, pair.RefreshToken, token.ReasonLogout)).To(Succeed())
		})

		It("rejects tokens it did not sign", func() {
			Expect(errors.Is(svc.RevokeToken(ctx, "bogus", token.ReasonLogout), internal.ErrInvalidToken)).To(BeTrue())
		})
	})

	Describe("Refresh", func() {
		It("rotates the pair and retires the old refresh token", func() {
			// Given a logged-in session
			pair := login()
			old, _ := signer.Parse(pair.RefreshToken)
			clock.Advance(10 * time.Minute)

			// When it is refreshed
			next, err := svc.Refresh(ctx, pair.RefreshToken)
			Expect(err).NotTo(HaveOccurred())

			// Then the new tokens verify
			_, err = svc.VerifyAccessToken(next.AccessToken)
			Expect(err).NotTo(HaveOccurred())
			_, err = svc.VerifyRefreshToken(ctx, next.RefreshToken)
			Expect(err).NotTo(HaveOccurred())

			// And the old record is marked rotated
			state, err := svc.SessionState(ctx, old.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(token.StateRotated))

			// And the session count is unchanged
			count, _ := svc.GetActiveSessionCount(ctx, alice.ID)
			Expect(count).To(Equal(1))
		})

		It("rejects sequential replay of the rotated token and reports it", func() {
			pair := login()
			_, err := svc.Refresh(ctx, pair.RefreshToken)
			Expect(err).NotTo(HaveOccurred())

			for i := 0; i < 3; i++ {
				_, err = svc.Refresh(ctx, pair.RefreshToken)
				Expect(errors.Is(err, internal.ErrTokenRevoked)).To(BeTrue())
			}

			Expect(publisher.types()).To(ContainElement(events.EventTypeRefreshReplay))
			Expect(testutil.ToFloat64(metrics.RefreshReplays)).To(Equal(3.0))
		})

		It("lets exactly one of many concurrent refreshes win", func() {
			pair := login()

			const callers = 12
			var (
				wg      sync.WaitGroup
				start   = make(chan struct{})
				mu      sync.Mutex
				wins    int
				revoked int
			)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					<-start
					_, err := svc.Refresh(ctx, pair.RefreshToken)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						wins++
					case errors.Is(err, internal.ErrTokenRevoked):
						revoked++
					default:
						Fail("unexpected error: " + err.Error())
					}
				}()
			}
			close(start)
			wg.Wait()

			Expect(wins).To(Equal(1))
			Expect(revoked).To(Equal(callers - 1))
		})

		It("carries the user's current roles into the new access token", func() {
			pair := login()
			dir.roles[alice.ID] = []*role.Role{{Name: "Administrator"}}

			next, err := svc.Refresh(ctx, pair.RefreshToken)
			Expect(err).NotTo(HaveOccurred())
			claims, _ := svc.VerifyAccessToken(next.AccessToken)
			Expect(claims.Roles).To(Equal([]string{"Administrator"}))
		})

		It("refuses inactive users without rotating", func() {
			pair := login()
			alice.Active = false

			_, err := svc.Refresh(ctx, pair.RefreshToken)
			Expect(err).To(MatchError(internal.ErrInvalidCredentials))
			_, err = svc.VerifyRefreshToken(ctx, pair.RefreshToken)
			Expect(err).NotTo(HaveOccurred())
		})

		It("refuses expired refresh tokens", func() {
			pair := login()
			clock.Advance(604800 * time.Second)
			_, err := svc.Refresh(ctx, pair.RefreshToken)
			Expect(errors.Is(err, internal.ErrTokenExpired)).To(BeTrue())
		})
	})

	Describe("session bookkeeping", func() {
		It("revokes every session of a user in one batch", func() {
			first := login()
			second := login()

			n, err := svc.RevokeAllUserTokens(ctx, alice.ID, token.ReasonLogoutAll)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(2)))

			for _, p := range []token.Pair{first, second} {
				_, err := svc.VerifyRefreshToken(ctx, p.RefreshToken)
				Expect(errors.Is(err, internal.ErrTokenRevoked)).To(BeTrue())
			}
			count, _ := svc.GetActiveSessionCount(ctx, alice.ID)
			Expect(count).To(BeZero())
			Expect(publisher.types()).To(ContainElement(events.EventTypeSessionsRevoked))
		})

		It("does not count expired sessions", func() {
			login()
			clock.Advance(5 * 24 * time.Hour)
			login()
			clock.Advance(3 * 24 * time.Hour)

			count, _ := svc.GetActiveSessionCount(ctx, alice.ID)
			Expect(count).To(Equal(1))
		})

		It("purges expired records whether or not they were revoked", func() {
			a := login()
			Expect(svc.RevokeToken(ctx, a.RefreshToken, token.ReasonLogout)).To(Succeed())
			login()
			clock.Advance(8 * 24 * time.Hour)
			login()

			n, err := svc.PurgeExpired(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(2)))
			Expect(testutil.ToFloat64(metrics.PurgedTokens)).To(Equal(2.0))

			Expect(ledger.rows).To(HaveLen(1))
		})
	})
})

var _ = Describe("StateOf", func() {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rotated := token.ReasonRotated
	logout := token.ReasonLogout

	DescribeTable("lifecycle states",
		func(rec tokenDatamodel.RefreshToken, want token.State) {
			Expect(token.StateOf(&rec, now)).To(Equal(want))
		},
		Entry("active", tokenDatamodel.RefreshToken{ExpiresAt: now.Add(time.Hour)}, token.StateActive),
		Entry("rotated", tokenDatamodel.RefreshToken{ExpiresAt: now.Add(time.Hour), Revoked: true, RevokedReason: &rotated}, token.StateRotated),
		Entry("revoked", tokenDatamodel.RefreshToken{ExpiresAt: now.Add(time.Hour), Revoked: true, RevokedReason: &logout}, token.StateRevoked),
		Entry("expired", tokenDatamodel.RefreshToken{ExpiresAt: now}, token.StateExpired),
	)

	It("names states", func() {
		Expect(token.StateRotated.String()).To(Equal("rotated"))
	})
})

type countingPurger struct {
	mu    sync.Mutex
	calls int
}

func (c *countingPurger) PurgeExpired(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 1, nil
}

func (c *countingPurger) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

var _ = Describe("Sweeper", func() {
	It("sweeps immediately, then on every tick until cancelled", func() {
		p := &countingPurger{}
		sweeper := token.NewSweeper(p, 10*time.Millisecond, logger.Discard())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- sweeper.Run(ctx) }()

		Eventually(p.count).Should(BeNumerically(">=", 3))
		cancel()
		Eventually(done).Should(Receive(MatchError(context.Canceled)))
	})
})
