package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "LIGHTNING_MCP"
	ConfigEnvVar   = EnvPrefix + "_CONFIG"
	DefaultConfig  = "config.json"
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server" json:"server"`
	Lightning     LightningConfig     `mapstructure:"lightning" json:"lightning"`
	PaymentLimits PaymentLimitsConfig `mapstructure:"payment_limits" json:"payment_limits"`
	Advanced      AdvancedConfig      `mapstructure:"advanced" json:"advanced"`
	Storage       StorageConfig       `mapstructure:"storage" json:"storage"`

	// path of the loaded file, empty if none
	file string
}

type ServerConfig struct {
	Host      string `mapstructure:"host" json:"host" envDefault:"127.0.0.1" envInfo:"Address the HTTP transport listens on"`
	Port      uint32 `mapstructure:"port" json:"port" envDefault:"8080" envInfo:"Port the HTTP transport listens on"`
	Name      string `mapstructure:"name" json:"name" envDefault:"lightning-mcp" envInfo:"Server name advertised to MCP clients"`
	Version   string `mapstructure:"version" json:"version" envDefault:"" envInfo:"Server version advertised to MCP clients, defaults to the build version"`
	Transport string `mapstructure:"transport" json:"transport" envDefault:"http" envInfo:"MCP transport: http | stdio"`
	LogLevel  uint32 `mapstructure:"log_level" json:"log_level" envDefault:"4" envInfo:"Log verbosity (higher = more verbose)"`
}

type LightningConfig struct {
	Implementation string           `mapstructure:"implementation" json:"implementation" envDefault:"lnd" envInfo:"Backend: lnd | c-lightning | eclair | external"`
	Connection     ConnectionConfig `mapstructure:"connection" json:"connection"`
}

type ConnectionConfig struct {
	Lnd        LndConnection        `mapstructure:"lnd" json:"lnd"`
	CLightning CLightningConnection `mapstructure:"c-lightning" json:"c-lightning"`
	External   ExternalConnection   `mapstructure:"external" json:"external"`
}

type LndConnection struct {
	RpcServer    string `mapstructure:"rpc_server" json:"rpc_server" envDefault:"localhost:10009" envInfo:"lnd gRPC address (host:port)"`
	TlsCertPath  string `mapstructure:"tls_cert_path" json:"tls_cert_path" envDefault:"" envInfo:"Path to lnd tls.cert"`
	MacaroonPath string `mapstructure:"macaroon_path" json:"macaroon_path" envDefault:"" envInfo:"Path to the lnd macaroon"`
	Network      string `mapstructure:"network" json:"network" envDefault:"mainnet" envInfo:"Bitcoin network of the lnd node"`
}

type CLightningConnection struct {
	SocketPath string `mapstructure:"socket_path" json:"socket_path" envDefault:"" envInfo:"Path to the lightning-rpc unix socket"`
	Network    string `mapstructure:"network" json:"network" envDefault:"mainnet" envInfo:"Bitcoin network of the c-lightning node"`
}

type ExternalConnection struct {
	Host         string `mapstructure:"host" json:"host" envDefault:"" envInfo:"Host of the lnd REST proxy"`
	Port         uint32 `mapstructure:"port" json:"port" envDefault:"8080" envInfo:"Port of the lnd REST proxy"`
	TlsCertPath  string `mapstructure:"tls_cert_path" json:"tls_cert_path" envDefault:"" envInfo:"Path to the REST proxy TLS certificate"`
	MacaroonPath string `mapstructure:"macaroon_path" json:"macaroon_path" envDefault:"" envInfo:"Path to the macaroon sent with every request"`
	Network      string `mapstructure:"network" json:"network" envDefault:"mainnet" envInfo:"Bitcoin network of the remote node"`
}

type PaymentLimitsConfig struct {
	MinPaymentSat         int64 `mapstructure:"min_payment_sat" json:"min_payment_sat" envDefault:"1" envInfo:"Smallest invoice or payment amount in sat"`
	MaxPaymentSat         int64 `mapstructure:"max_payment_sat" json:"max_payment_sat" envDefault:"100000" envInfo:"Largest invoice or payment amount in sat, 0 disables the check"`
	DailyOutboundLimitSat int64 `mapstructure:"daily_outbound_limit_sat" json:"daily_outbound_limit_sat" envDefault:"1000000" envInfo:"Outbound sat allowed over a rolling 24h window, 0 disables the check"`
}

type AdvancedConfig struct {
	ConnectionTimeoutSeconds int64   `mapstructure:"connection_timeout_seconds" json:"connection_timeout_seconds" envDefault:"30" envInfo:"Timeout of every backend call but payments"`
	PaymentTimeoutSeconds    int64   `mapstructure:"payment_timeout_seconds" json:"payment_timeout_seconds" envDefault:"60" envInfo:"Timeout of pay_invoice"`
	MaxRoutingFeePercent     float64 `mapstructure:"max_routing_fee_percent" json:"max_routing_fee_percent" envDefault:"3" envInfo:"Fee ceiling, in percent of the amount, when a payment sets none"`
	ReconcileIntervalSeconds int64   `mapstructure:"reconcile_interval_seconds" json:"reconcile_interval_seconds" envDefault:"60" envInfo:"Interval of the in-flight payments check, 0 disables it"`
	MaxCallsPerSecond        float64 `mapstructure:"max_calls_per_second" json:"max_calls_per_second" envDefault:"0" envInfo:"Tool calls allowed per second, 0 means unlimited"`
}

type StorageConfig struct {
	Datadir string `mapstructure:"datadir" json:"datadir" envDefault:"" envInfo:"Directory of the payment journal, empty keeps it in memory"`
}

// LoadConfig reads the file at path, or the one named by LIGHTNING_MCP_CONFIG,
// or ./config.json if present. Environment variables override file values.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := setDefaultConfig(v); err != nil {
		return nil, fmt.Errorf("error setting default config: %w", err)
	}

	file, err := configFile(path)
	if err != nil {
		return nil, err
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %v", err)
	}
	config.file = file

	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := config.initDatadir(); err != nil {
		return nil, fmt.Errorf("error initializing data directory: %w", err)
	}
	return &config, nil
}

func configFile(path string) (string, error) {
	explicit := true
	if path == "" {
		path = os.Getenv(ConfigEnvVar)
	}
	if path == "" {
		path = DefaultConfig
		explicit = false
	}
	path = cleanAndExpandPath(path)

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %s not found: %w", path, err)
	}
	return path, nil
}

// Validate runs the structural schema check, then the checks that depend on
// more than one field.
func (c *Config) Validate() error {
	doc, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := validateSchema(doc); err != nil {
		return err
	}

	impl := domain.Implementation(c.Lightning.Implementation)
	var errs []error
	require := func(value, key string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("missing lightning.connection.%s.%s", impl, key))
		}
	}
	switch impl {
	case domain.LND:
		conn := c.Lightning.Connection.Lnd
		require(conn.RpcServer, "rpc_server")
		require(conn.TlsCertPath, "tls_cert_path")
		require(conn.MacaroonPath, "macaroon_path")
	case domain.CLightning:
		require(c.Lightning.Connection.CLightning.SocketPath, "socket_path")
	case domain.External:
		conn := c.Lightning.Connection.External
		require(conn.Host, "host")
		require(conn.TlsCertPath, "tls_cert_path")
		require(conn.MacaroonPath, "macaroon_path")
		if conn.Port == 0 {
			errs = append(errs, fmt.Errorf("missing lightning.connection.external.port"))
		}
	}

	limits := c.PaymentLimits
	if limits.MaxPaymentSat > 0 && limits.MinPaymentSat > limits.MaxPaymentSat {
		errs = append(errs, fmt.Errorf(
			"min_payment_sat %d is greater than max_payment_sat %d",
			limits.MinPaymentSat, limits.MaxPaymentSat,
		))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) File() string {
	return c.file
}

func (c *Config) LnConnectionOpts() domain.LnConnectionOpts {
	impl := domain.Implementation(c.Lightning.Implementation)
	opts := domain.LnConnectionOpts{Implementation: impl}

	switch impl {
	case domain.LND:
		conn := c.Lightning.Connection.Lnd
		opts.Network = domain.Network(conn.Network)
		opts.RpcServer = conn.RpcServer
		opts.TlsCertPath = cleanAndExpandPath(conn.TlsCertPath)
		opts.MacaroonPath = cleanAndExpandPath(conn.MacaroonPath)
	case domain.CLightning:
		conn := c.Lightning.Connection.CLightning
		opts.Network = domain.Network(conn.Network)
		opts.SocketPath = cleanAndExpandPath(conn.SocketPath)
	case domain.External:
		conn := c.Lightning.Connection.External
		opts.Network = domain.Network(conn.Network)
		opts.Host = conn.Host
		opts.Port = conn.Port
		opts.TlsCertPath = cleanAndExpandPath(conn.TlsCertPath)
		opts.MacaroonPath = cleanAndExpandPath(conn.MacaroonPath)
	}
	return opts
}

func (c *Config) Limits() domain.PaymentLimits {
	return domain.PaymentLimits{
		MinPaymentSat:         c.PaymentLimits.MinPaymentSat,
		MaxPaymentSat:         c.PaymentLimits.MaxPaymentSat,
		DailyOutboundLimitSat: c.PaymentLimits.DailyOutboundLimitSat,
	}
}

func (c *Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.Advanced.ConnectionTimeoutSeconds) * time.Second
}

func (c *Config) PaymentTimeout() time.Duration {
	return time.Duration(c.Advanced.PaymentTimeoutSeconds) * time.Second
}

func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Advanced.ReconcileIntervalSeconds) * time.Second
}

func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Datadir() string {
	return cleanAndExpandPath(c.Storage.Datadir)
}

func (c *Config) initDatadir() error {
	datadir := c.Datadir()
	if datadir == "" {
		return nil
	}
	return makeDirectoryIfNotExists(datadir)
}

// setDefaultConfig registers the envDefault of every leaf field and binds it
// to its environment variable, so env overrides work without a file.
func setDefaultConfig(v *viper.Viper) error {
	return walkConfig(reflect.TypeOf(Config{}), "", func(key string, f reflect.StructField) error {
		if def, ok := f.Tag.Lookup("envDefault"); ok && def != "" {
			v.SetDefault(key, def)
		}
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("error binding env variable for key %s: %w", key, err)
		}
		return nil
	})
}

func walkConfig(
	t reflect.Type, prefix string, fn func(key string, f reflect.StructField) error,
) error {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		key := f.Tag.Get("mapstructure")
		if prefix != "" {
			key = prefix + "." + key
		}
		if f.Type.Kind() == reflect.Struct {
			if err := walkConfig(f.Type, key, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(key, f); err != nil {
			return err
		}
	}
	return nil
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

func cleanAndExpandPath(path string) string {
	if path == "" {
		return path
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
