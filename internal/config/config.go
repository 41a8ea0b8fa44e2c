package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Settings keeps all configuration options.
type Settings struct {
	Env              string        `mapstructure:"env"`
	RPCURL           string        `mapstructure:"rpc_url"`
	NetworkName      string        `mapstructure:"network"`
	FlashbotsAuthPK  string        `mapstructure:"flashbots_auth_pk"`
	PriorityFeeGwei  int64         `mapstructure:"priority_fee_gwei"`
	GasBufferPct     int64         `mapstructure:"gas_buffer_pct"`
	FundingMarginPct int64         `mapstructure:"funding_margin_pct"`
	FundingFeePct    int64         `mapstructure:"funding_fee_pct"`
	BlockInterval    time.Duration `mapstructure:"block_interval"`
	MaxPollAttempts  int           `mapstructure:"max_poll_attempts"`
	ListenAddr       string        `mapstructure:"listen_addr"`
	RelayEndpoint    string        `mapstructure:"relay_endpoint"`
	SessionBackend   string        `mapstructure:"session_backend"`
	SessionFile      string        `mapstructure:"session_file"`
	RedisAddr        string        `mapstructure:"redis_addr"`
	RedisPassword    string        `mapstructure:"redis_password"`
	RedisDB          int           `mapstructure:"redis_db"`
	DonationAddress  string        `mapstructure:"donation_address"`
	DiscoveryTokens  []string      `mapstructure:"discovery_tokens"`
	NetcheckBlocks   int           `mapstructure:"netcheck_blocks"`

	Network Network `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("rpc_url", "https://eth.llamarpc.com")
	v.SetDefault("network", "mainnet")
	v.SetDefault("flashbots_auth_pk", "")
	v.SetDefault("priority_fee_gwei", 3)
	v.SetDefault("gas_buffer_pct", 15)
	v.SetDefault("funding_margin_pct", 1)
	v.SetDefault("funding_fee_pct", 120)
	v.SetDefault("block_interval", 12*time.Second)
	v.SetDefault("max_poll_attempts", 0)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("relay_endpoint", "")
	v.SetDefault("session_backend", "file")
	v.SetDefault("session_file", "recovery_session.json")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("donation_address", "")
	v.SetDefault("discovery_tokens", []string{})
	v.SetDefault("netcheck_blocks", 100)
}

// Load reads .env files, an optional config.yaml and the environment.
// Environment keys are the upper-case setting names (RPC_URL, NETWORK, ...).
func Load(paths ...string) (Settings, error) {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (Settings, error) {
	var st Settings
	if err := v.Unmarshal(&st); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	// env values arrive as one comma separated string
	if len(st.DiscoveryTokens) == 1 {
		st.DiscoveryTokens = splitCSV(st.DiscoveryTokens[0])
	}
	n, err := LookupNetwork(st.NetworkName)
	if err != nil {
		return Settings{}, err
	}
	st.Network = n
	if st.RelayEndpoint == "" {
		_, port, err := net.SplitHostPort(st.ListenAddr)
		if err != nil {
			return Settings{}, fmt.Errorf("listen_addr %q: %w", st.ListenAddr, err)
		}
		st.RelayEndpoint = "http://" + net.JoinHostPort("127.0.0.1", port)
	}
	if st.BlockInterval <= 0 {
		return Settings{}, errors.New("block_interval must be > 0")
	}
	return st, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
