package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dehouse/donation-ledger/internal/domain"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// BitcoinConfig holds Bitcoin listener configuration
type BitcoinConfig struct {
	APIURL            string        `mapstructure:"api_url"`
	TreasuryAddresses []string      `mapstructure:"treasury_addresses"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// ERC20TokenConfig describes one allow-listed ERC-20 token
type ERC20TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Address  string `mapstructure:"address"`
	Decimals int    `mapstructure:"decimals"`
}

// EthereumConfig holds Ethereum listener configuration
type EthereumConfig struct {
	RPCURL           string             `mapstructure:"rpc_url"`
	TreasuryAddress  string             `mapstructure:"treasury_address"`
	Tokens           []ERC20TokenConfig `mapstructure:"tokens"`
	PollInterval     time.Duration      `mapstructure:"poll_interval"`
	MaxBlocksPerPoll uint64             `mapstructure:"max_blocks_per_poll"`
}

// SolanaConfig holds Solana listener configuration
type SolanaConfig struct {
	RPCURL          string        `mapstructure:"rpc_url"`
	TreasuryAddress string        `mapstructure:"treasury_address"`
	USDCMint        string        `mapstructure:"usdc_mint"`
	SignatureLimit  int           `mapstructure:"signature_limit"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

// PricingConfig holds price oracle configuration
type PricingConfig struct {
	APIURL            string `mapstructure:"api_url"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // in seconds
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTPublicKey string   `mapstructure:"jwt_public_key"`
	APIKeys      []string `mapstructure:"api_keys"`
}

// ChainsConfig groups the per-chain listener settings
type ChainsConfig struct {
	Bitcoin  BitcoinConfig  `mapstructure:"bitcoin"`
	Ethereum EthereumConfig `mapstructure:"ethereum"`
	Solana   SolanaConfig   `mapstructure:"solana"`
}

// ListenerConfig holds configuration for the donation listener daemon
type ListenerConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	Chains     ChainsConfig   `mapstructure:"chains"`
	Pricing    PricingConfig  `mapstructure:"pricing"`
}

// APIConfig holds configuration for the API server
type APIConfig struct {
	BaseConfig  `mapstructure:",squash"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Auth        AuthConfig     `mapstructure:"auth"`
	Chains      ChainsConfig   `mapstructure:"chains"`
	Pricing     PricingConfig  `mapstructure:"pricing"`
	AdminWallet string         `mapstructure:"admin_wallet"`
}

// LoadListenerConfig loads configuration for the donation listener
func LoadListenerConfig(configFile string, envPath string) (*ListenerConfig, error) {
	v := configureViper("listener", configFile, envPath)
	setChainDefaults(v)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config ListenerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Database.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadAPIConfig loads configuration for the API server
func LoadAPIConfig(configFile string, envPath string) (*APIConfig, error) {
	v := configureViper("api", configFile, envPath)
	setChainDefaults(v)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.idle_timeout", 120)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config APIConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Database.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// setChainDefaults sets the defaults shared by every binary that talks to the chains.
// Poll cadence mirrors the expected settlement speed: Solana shortest, Bitcoin longest.
func setChainDefaults(v *viper.Viper) {
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("chains.bitcoin.api_url", "https://blockstream.info/api")
	v.SetDefault("chains.bitcoin.treasury_addresses", []string{
		domain.BTC_LEGACY_ADDRESS,
		domain.BTC_SEGWIT_ADDRESS,
		domain.BTC_TAPROOT_ADDRESS,
	})
	v.SetDefault("chains.bitcoin.poll_interval", "90s")

	v.SetDefault("chains.ethereum.treasury_address", domain.ETH_TREASURY_ADDRESS)
	v.SetDefault("chains.ethereum.poll_interval", "15s")
	v.SetDefault("chains.ethereum.max_blocks_per_poll", 10)

	v.SetDefault("chains.solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("chains.solana.treasury_address", domain.SOL_TREASURY_ADDRESS)
	v.SetDefault("chains.solana.usdc_mint", domain.SOL_USDC_MINT)
	v.SetDefault("chains.solana.signature_limit", 30)
	v.SetDefault("chains.solana.poll_interval", "20s")

	v.SetDefault("pricing.api_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("pricing.requests_per_minute", 40)
}

// DefaultERC20Tokens returns the mainnet stablecoin allow-list used when no
// tokens are configured
func DefaultERC20Tokens() []ERC20TokenConfig {
	return []ERC20TokenConfig{
		{Symbol: "USDC", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6},
		{Symbol: "USDT", Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Decimals: 6},
		{Symbol: "DAI", Address: "0x6b175474e89094c44da98b954eedeac495271d0f", Decimals: 18},
	}
}

// readConfig reads the config file, tolerating its absence when environment
// variables carry the configuration
func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// validate checks the required database fields
func (c *DatabaseConfig) validate() error {
	if c.Host == "" {
		return errors.New("database.host is required")
	}
	if c.DBName == "" {
		return errors.New("database.dbname is required")
	}
	return nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	loadEnv(envPath, service)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		// Search for config.yaml in multiple locations:
		// 1. Current directory
		v.AddConfigPath(".")
		// 2. Service-specific directory (e.g., cmd/listener/, cmd/api/)
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		// 3. Config directory
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix("DONATION_LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables
// This is required for viper to map env vars to config struct fields when no config file exists
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		"admin_wallet",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		// Bitcoin
		"chains.bitcoin.api_url",
		"chains.bitcoin.treasury_addresses",
		"chains.bitcoin.poll_interval",
		// Ethereum
		"chains.ethereum.rpc_url",
		"chains.ethereum.treasury_address",
		"chains.ethereum.poll_interval",
		"chains.ethereum.max_blocks_per_poll",
		// Solana
		"chains.solana.rpc_url",
		"chains.solana.treasury_address",
		"chains.solana.usdc_mint",
		"chains.solana.signature_limit",
		"chains.solana.poll_interval",
		// Pricing
		"pricing.api_url",
		"pricing.requests_per_minute",
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		// Auth
		"auth.jwt_public_key",
		"auth.api_keys",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	// Always try shared base first, then local, then optional per-service local.
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
