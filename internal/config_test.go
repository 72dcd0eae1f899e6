package internal_test

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/frahmantamala/capgate/internal"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const secret = "0123456789abcdef0123456789abcdef"

func setenv(key, value string) {
	GinkgoHelper()
	prev, had := os.LookupEnv(key)
	Expect(os.Setenv(key, value)).To(Succeed())
	DeferCleanup(func() {
		if had {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

var _ = Describe("LoadConfig", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("runs on defaults plus env when there is no config file", func() {
		setenv("CAPGATE_SECURITY_JWT_SECRET", secret)

		cfg, err := internal.LoadConfig(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Security.JWTSecret).To(Equal(secret))
		Expect(cfg.Security.AccessTokenTTL).To(Equal(3600 * time.Second))
		Expect(cfg.Security.RefreshTokenTTL).To(Equal(604800 * time.Second))
		Expect(cfg.Security.BCryptCost).To(Equal(12))
		Expect(cfg.Security.HashWorkers).To(BeNumerically(">=", 1))
		Expect(cfg.Server.Port).To(Equal(8080))
		Expect(cfg.Observability.Metrics.Path).To(Equal("/metrics"))
	})

	It("rejects a short signing secret as a configuration error", func() {
		setenv("CAPGATE_SECURITY_JWT_SECRET", "too-short")

		_, err := internal.LoadConfig(dir)
		Expect(errors.Is(err, internal.ErrConfiguration)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("jwt_secret"))
	})

	It("lets env vars override the file", func() {
		yml := []byte(`
http_server:
  port: 9090
security:
  jwt_secret: "` + secret + `"
  access_token_ttl: 15m
observability:
  logging:
    level: debug
    format: text
`)
		Expect(os.WriteFile(filepath.Join(dir, "config.yml"), yml, 0o600)).To(Succeed())
		setenv("CAPGATE_HTTP_SERVER_PORT", "9191")

		cfg, err := internal.LoadConfig(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Server.Port).To(Equal(9191))
		Expect(cfg.Security.AccessTokenTTL).To(Equal(15 * time.Minute))
		Expect(cfg.Observability.Logging.Level).To(Equal("debug"))
	})

	It("reports a malformed file", func() {
		Expect(os.WriteFile(filepath.Join(dir, "config.yml"), []byte("http_server: [\n"), 0o600)).To(Succeed())

		_, err := internal.LoadConfig(dir)
		Expect(err).To(MatchError(ContainSubstring("error reading config")))
	})
})

var _ = Describe("Config.Validate", func() {
	valid := func() internal.Config {
		return internal.Config{
			Server:   internal.ServerConfig{ReadHeaderTimeout: time.Second, ReadTimeout: 2 * time.Second},
			Database: internal.DatabaseConfig{MaxOpenConns: 10, MaxIdleConns: 2},
			Security: internal.SecurityConfig{
				JWTSecret:       secret,
				AccessTokenTTL:  time.Hour,
				RefreshTokenTTL: 7 * 24 * time.Hour,
				BCryptCost:      10,
				HashWorkers:     2,
			},
			Observability: internal.ObservabilityConfig{
				Logging: internal.LoggingConfig{Level: "info", Format: "json"},
			},
		}
	}

	It("accepts a complete configuration", func() {
		cfg := valid()
		Expect(cfg.Validate()).To(Succeed())
	})

	DescribeTable("rejects",
		func(mutate func(*internal.Config), fragment string) {
			cfg := valid()
			mutate(&cfg)
			err := cfg.Validate()
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, internal.ErrConfiguration)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring(fragment))
		},
		Entry("refresh shorter than access", func(c *internal.Config) { c.Security.RefreshTokenTTL = time.Minute }, "refresh_token_ttl"),
		Entry("zero access ttl", func(c *internal.Config) { c.Security.AccessTokenTTL = 0 }, "access_token_ttl"),
		Entry("bcrypt cost below minimum", func(c *internal.Config) { c.Security.BCryptCost = 3 }, "bcrypt_cost"),
		Entry("no hash workers", func(c *internal.Config) { c.Security.HashWorkers = 0 }, "hash_workers"),
		Entry("more idle than open conns", func(c *internal.Config) { c.Database.MaxIdleConns = 20 }, "max_idle_conns"),
		Entry("unknown log level", func(c *internal.Config) { c.Observability.Logging.Level = "verbose" }, "verbose"),
		Entry("read timeout below header timeout", func(c *internal.Config) { c.Server.ReadTimeout = 0 }, "read_timeout"),
	)
})
