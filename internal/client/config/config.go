package config

import (
	"time"
)

// Config holds runtime settings for gophctl.
//
// Fields:
//   - ServerEndpointAddr: host:port of the gRPC gateway.
//   - AccessToken: bearer token sent with every gateway call.
//   - SecretKey: HMAC secret used when minting tokens locally.
//   - RequestTimeout: upper bound for one gateway call.
//   - StorageKind / DatabaseDSN: ledger store for local ledger commands.
//   - GiftRoleID: role id minted into tokens issued with --operator.
type Config struct {
	ServerEndpointAddr string
	AccessToken        string
	SecretKey          string
	RequestTimeout     time.Duration
	StorageKind        string
	DatabaseDSN        string
	GiftRoleID         string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.SecretKey = "secretKey"
	c.RequestTimeout = 5 * time.Minute
	c.StorageKind = "sqlite"
	c.DatabaseDSN = "file:gophdeobf.db"
	c.GiftRoleID = "1441821570266955858"
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from the JSON file at path (if non-empty) and the environment. Later
// sources take precedence over earlier ones.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, path); err != nil {
		return nil, err
	}
	parseEnv(cfg)
	return cfg, nil
}
