package config

import (
	"os"

	"github.com/joho/godotenv"
)

// parseEnv loads an optional .env file from the working directory and then
// applies the recognised environment variables. Variables already present
// in the process environment win over the .env file.
//
//	DATABASE_URL        PostgreSQL DSN; selects the postgres backend
//	GOPHDEOBF_SECRET    JWT HMAC secret
//	DEOBFUSCATOR_PATH   path to the deobfuscator assembly
//	GIFT_ROLE_ID        role allowed to gift tokens
func parseEnv(config *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.DatabaseDSN = v
		config.StorageKind = "postgres"
	}
	if v := os.Getenv("GOPHDEOBF_SECRET"); v != "" {
		config.SecretKey = v
	}
	if v := os.Getenv("DEOBFUSCATOR_PATH"); v != "" {
		config.ToolPath = v
	}
	if v := os.Getenv("GIFT_ROLE_ID"); v != "" {
		config.GiftRoleID = v
	}
}
