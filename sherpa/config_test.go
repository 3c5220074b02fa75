package sherpa

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	require.NotNil(t, cfg.Discord)
	require.NotNil(t, cfg.API)

	assert.Equal(t, DefaultLogLevel, cfg.LogLevel.Level())
	assert.Equal(t, DefaultStartupTimeout, cfg.StartupTimeout)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)
	assert.Equal(t, DefaultSessionIdleTimeout, cfg.SessionIdleTimeout)
	assert.Equal(t, DefaultReminderLead, cfg.ReminderLead)

	assert.Equal(t, DefaultDiscordGatewayIntent, cfg.Discord.GatewayIntents)
	assert.Equal(t, DefaultDiscordLogLevel, cfg.Discord.LogLevel.Level())
	assert.Equal(
		t,
		DefaultDiscordgoLogLevel,
		cfg.Discord.DiscordGoLogLevel.Level(),
	)
	assert.Equal(t, DefaultDiscordStartupMessage, cfg.Discord.StartupMessage)
	assert.Equal(t, DefaultDiscordCustomStatus, cfg.Discord.CustomStatus)

	assert.Equal(t, DefaultAPIListen, cfg.API.Listen)
	assert.Equal(t, "tcp", cfg.API.ListenNetwork)
	assert.Equal(t, DefaultAPILogLevel, cfg.API.LogLevel.Level())
	assert.Equal(t, uint16(DefaultAPITLSMinVersion), cfg.API.SSL.TLSMinVersion)
	assert.Equal(t, DefaultCORSAllowMethods, cfg.API.CORS.AllowMethods)
	assert.Empty(t, cfg.API.CORS.AllowOrigins)
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name: "missing discord token",
			mutate: func(c *Config) {
				c.Discord.Token = ""
			},
			wantErr: true,
		},
		{
			name: "missing application id",
			mutate: func(c *Config) {
				c.Discord.ApplicationID = ""
			},
			wantErr: true,
		},
		{
			name: "short api token",
			mutate: func(c *Config) {
				c.API.Token = "short"
			},
			wantErr: true,
		},
		{
			name: "missing listen address",
			mutate: func(c *Config) {
				c.API.Listen = ""
			},
			wantErr: true,
		},
		{
			name: "bad listen network",
			mutate: func(c *Config) {
				c.API.ListenNetwork = "udp"
			},
			wantErr: true,
		},
		{
			name: "session idle timeout too short",
			mutate: func(c *Config) {
				c.SessionIdleTimeout = time.Second
			},
			wantErr: true,
		},
		{
			name: "reminder lead too short",
			mutate: func(c *Config) {
				c.ReminderLead = 30 * time.Second
			},
			wantErr: true,
		},
		{
			name: "unix socket listen",
			mutate: func(c *Config) {
				c.API.Listen = "/tmp/sherpa.sock"
				c.API.ListenNetwork = "unix"
			},
		},
	} {
		tc := tc
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				cfg := DefaultTestConfig(t)
				tc.mutate(cfg)

				err := structValidator.Struct(cfg)
				if tc.wantErr {
					assert.Error(t, err)
				} else {
					assert.NoError(t, err)
				}
			},
		)
	}
}

func TestRoleConfigMention(t *testing.T) {
	t.Parallel()
	roles := RoleConfig{
		Raid:      "111",
		Nightfall: "222",
	}

	assert.Equal(t, "<@&111>", roles.Mention(ActivityRaid))
	assert.Equal(t, "<@&222>", roles.Mention(ActivityNightfall))
	assert.Empty(t, roles.Mention(ActivityTrials))
	assert.Empty(t, roles.Mention(ActivityType("bogus")))
}

func TestConfigLogValueRedactsSecrets(t *testing.T) {
	t.Parallel()
	cfg := DefaultTestConfig(t)
	cfg.Discord.Token = "super-secret-token"
	cfg.API.Token = "another-secret-token"

	val := cfg.LogValue()
	require.Equal(t, slog.KindGroup, val.Kind())

	checked := 0
	for _, attr := range val.Group() {
		switch attr.Key {
		case "discord", "api":
			require.Equal(t, slog.KindGroup, attr.Value.Kind())
			for _, sub := range attr.Value.Group() {
				if sub.Key == "token" {
					checked++
					assert.Equal(t, "[redacted]", sub.Value.String())
				}
			}
		}
	}
	assert.Equal(t, 2, checked, "both tokens present and redacted")
}
