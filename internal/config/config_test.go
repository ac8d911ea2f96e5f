package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	cfg "github.com/ArkLabsHQ/lightning-mcp/internal/config"
	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
	"github.com/stretchr/testify/require"
)

const lndConfig = `{
  "server": {"port": 9000, "transport": "stdio"},
  "lightning": {
    "implementation": "lnd",
    "connection": {
      "lnd": {
        "rpc_server": "localhost:10009",
        "tls_cert_path": "$LND_DIR/tls.cert",
        "macaroon_path": "$LND_DIR/admin.macaroon",
        "network": "regtest"
      }
    }
  },
  "payment_limits": {"min_payment_sat": 10, "max_payment_sat": 5000, "daily_outbound_limit_sat": 20000},
  "advanced": {"payment_timeout_seconds": 90, "max_routing_fee_percent": 1.5}
}`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("json file", func(t *testing.T) {
		t.Setenv("LND_DIR", "/data/lnd")
		config, err := cfg.LoadConfig(writeConfig(t, "config.json", lndConfig))
		require.NoError(t, err)

		require.Equal(t, uint32(9000), config.Server.Port)
		require.Equal(t, cfg.TransportStdio, config.Server.Transport)
		require.Equal(t, "127.0.0.1:9000", config.Address())

		opts := config.LnConnectionOpts()
		require.Equal(t, domain.LND, opts.Implementation)
		require.Equal(t, domain.Regtest, opts.Network)
		require.Equal(t, "localhost:10009", opts.RpcServer)
		require.Equal(t, "/data/lnd/tls.cert", opts.TlsCertPath)
		require.Equal(t, "/data/lnd/admin.macaroon", opts.MacaroonPath)

		require.Equal(t, domain.PaymentLimits{
			MinPaymentSat: 10, MaxPaymentSat: 5000, DailyOutboundLimitSat: 20000,
		}, config.Limits())
		require.Equal(t, 90*time.Second, config.PaymentTimeout())
		require.Equal(t, 30*time.Second, config.ConnectionTimeout())
		require.Equal(t, 1.5, config.Advanced.MaxRoutingFeePercent)
	})

	t.Run("yaml file", func(t *testing.T) {
		path := writeConfig(t, "config.yaml", `
lightning:
  implementation: c-lightning
  connection:
    c-lightning:
      socket_path: /tmp/lightning-rpc
      network: signet
`)
		config, err := cfg.LoadConfig(path)
		require.NoError(t, err)

		opts := config.LnConnectionOpts()
		require.Equal(t, domain.CLightning, opts.Implementation)
		require.Equal(t, domain.Signet, opts.Network)
		require.Equal(t, "/tmp/lightning-rpc", opts.SocketPath)
		require.Empty(t, opts.RpcServer)
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("LND_DIR", "/data/lnd")
		t.Setenv("LIGHTNING_MCP_SERVER_PORT", "9100")
		t.Setenv("LIGHTNING_MCP_PAYMENT_LIMITS_MAX_PAYMENT_SAT", "7000")
		t.Setenv("LIGHTNING_MCP_LIGHTNING_CONNECTION_LND_NETWORK", "testnet")

		config, err := cfg.LoadConfig(writeConfig(t, "config.json", lndConfig))
		require.NoError(t, err)
		require.Equal(t, uint32(9100), config.Server.Port)
		require.Equal(t, int64(7000), config.PaymentLimits.MaxPaymentSat)
		require.Equal(t, domain.Testnet, config.LnConnectionOpts().Network)
	})

	t.Run("config path from env", func(t *testing.T) {
		t.Setenv("LND_DIR", "/data/lnd")
		path := writeConfig(t, "lightning.json", lndConfig)
		t.Setenv(cfg.ConfigEnvVar, path)

		config, err := cfg.LoadConfig("")
		require.NoError(t, err)
		require.Equal(t, path, config.File())
	})

	t.Run("external from env only", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("LIGHTNING_MCP_LIGHTNING_IMPLEMENTATION", "external")
		t.Setenv("LIGHTNING_MCP_LIGHTNING_CONNECTION_EXTERNAL_HOST", "node.example.com")
		t.Setenv("LIGHTNING_MCP_LIGHTNING_CONNECTION_EXTERNAL_TLS_CERT_PATH", "/certs/tls.cert")
		t.Setenv("LIGHTNING_MCP_LIGHTNING_CONNECTION_EXTERNAL_MACAROON_PATH", "/certs/admin.macaroon")

		config, err := cfg.LoadConfig("")
		require.NoError(t, err)
		require.Empty(t, config.File())

		opts := config.LnConnectionOpts()
		require.Equal(t, domain.External, opts.Implementation)
		require.Equal(t, "node.example.com", opts.Host)
		require.Equal(t, uint32(8080), opts.Port)
		require.Equal(t, domain.Mainnet, opts.Network)
	})

	t.Run("datadir", func(t *testing.T) {
		datadir := filepath.Join(t.TempDir(), "journal")
		t.Setenv("LIGHTNING_MCP_LIGHTNING_IMPLEMENTATION", "eclair")
		t.Setenv("LIGHTNING_MCP_STORAGE_DATADIR", datadir)
		t.Chdir(t.TempDir())

		config, err := cfg.LoadConfig("")
		require.NoError(t, err)
		require.Equal(t, datadir, config.Datadir())
		require.DirExists(t, datadir)
	})

	t.Run("invalid", func(t *testing.T) {
		fixtures := []struct {
			name        string
			content     string
			expectedErr string
		}{
			{
				name:        "unknown implementation",
				content:     `{"lightning": {"implementation": "ldk"}}`,
				expectedErr: "implementation",
			},
			{
				name:        "missing lnd fields",
				content:     `{"lightning": {"implementation": "lnd"}}`,
				expectedErr: "missing lightning.connection.lnd.tls_cert_path",
			},
			{
				name:        "missing socket path",
				content:     `{"lightning": {"implementation": "c-lightning"}}`,
				expectedErr: "missing lightning.connection.c-lightning.socket_path",
			},
			{
				name: "missing external port",
				content: `{"lightning": {"implementation": "external", "connection": {"external": {
					"host": "h", "port": 0, "tls_cert_path": "c", "macaroon_path": "m"}}}}`,
				expectedErr: "missing lightning.connection.external.port",
			},
			{
				name: "min above max",
				content: `{"lightning": {"implementation": "eclair"},
					"payment_limits": {"min_payment_sat": 100, "max_payment_sat": 10}}`,
				expectedErr: "min_payment_sat 100 is greater than max_payment_sat 10",
			},
			{
				name: "negative limit",
				content: `{"lightning": {"implementation": "eclair"},
					"payment_limits": {"daily_outbound_limit_sat": -1}}`,
				expectedErr: "daily_outbound_limit_sat",
			},
			{
				name: "zero timeout",
				content: `{"lightning": {"implementation": "eclair"},
					"advanced": {"payment_timeout_seconds": 0}}`,
				expectedErr: "payment_timeout_seconds",
			},
			{
				name: "fee percent out of range",
				content: `{"lightning": {"implementation": "eclair"},
					"advanced": {"max_routing_fee_percent": 150}}`,
				expectedErr: "max_routing_fee_percent",
			},
			{
				name: "unknown network",
				content: `{"lightning": {"implementation": "c-lightning", "connection": {
					"c-lightning": {"socket_path": "/tmp/rpc", "network": "liquid"}}}}`,
				expectedErr: "network",
			},
			{
				name: "unknown transport",
				content: `{"server": {"transport": "websocket"},
					"lightning": {"implementation": "eclair"}}`,
				expectedErr: "transport",
			},
		}
		for _, f := range fixtures {
			t.Run(f.name, func(t *testing.T) {
				config, err := cfg.LoadConfig(writeConfig(t, "config.json", f.content))
				require.ErrorContains(t, err, f.expectedErr)
				require.Nil(t, config)
			})
		}
	})

	t.Run("missing file", func(t *testing.T) {
		config, err := cfg.LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
		require.ErrorContains(t, err, "not found")
		require.Nil(t, config)
	})
}
