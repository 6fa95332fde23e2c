package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/gophdeobf/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Only
// non-zero fields override the defaults.
type JsonConfig struct {
	ServerEndpointAddr string         `json:"server_endpoint_addr"`
	AccessToken        string         `json:"access_token"`
	SecretKey          string         `json:"secret_key"`
	RequestTimeout     timex.Duration `json:"request_timeout"`
	StorageKind        string         `json:"storage_kind"`
	DatabaseDSN        string         `json:"database_dsn"`
	GiftRoleID         string         `json:"gift_role_id"`
}

func parseJson(cfg *Config, path string) error {
	if path == "" {
		path = os.Getenv("GOPHCTL_CONFIG")
	}
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&cfg.ServerEndpointAddr, jc.ServerEndpointAddr)
	setString(&cfg.AccessToken, jc.AccessToken)
	setString(&cfg.SecretKey, jc.SecretKey)
	setString(&cfg.StorageKind, jc.StorageKind)
	setString(&cfg.DatabaseDSN, jc.DatabaseDSN)
	setString(&cfg.GiftRoleID, jc.GiftRoleID)
	if jc.RequestTimeout.Duration > 0 {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
