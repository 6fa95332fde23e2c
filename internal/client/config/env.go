package config

import (
	"os"

	"github.com/joho/godotenv"
)

func parseEnv(cfg *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("GOPHDEOBF_ADDR"); v != "" {
		cfg.ServerEndpointAddr = v
	}
	if v := os.Getenv("GOPHDEOBF_TOKEN"); v != "" {
		cfg.AccessToken = v
	}
	if v := os.Getenv("GOPHDEOBF_SECRET"); v != "" {
		cfg.SecretKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseDSN = v
		cfg.StorageKind = "postgres"
	}
	if v := os.Getenv("GIFT_ROLE_ID"); v != "" {
		cfg.GiftRoleID = v
	}
}
