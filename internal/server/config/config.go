// Package config handles configuration for the server component,
// including defaults, a JSON overlay, environment overrides and
// command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/gophdeobf/internal/common"
)

// Config holds runtime settings for the gophdeobf server.
//
// Fields:
//   - EndpointAddrGRPC: bind address for the command gateway.
//   - EndpointAddrHTTP: bind address for /health, /metrics and /api.
//   - StorageKind / DatabaseDSN: ledger backend (postgres, sqlite, memory).
//   - SecretKey: HMAC secret for gateway JWTs (HS256).
//   - AccessTokenValidityDuration: lifetime of tokens minted by gophctl.
//   - WorkDir: root of per-request working areas.
//   - ToolCommand / ToolPath / ToolTimeout: the external deobfuscator.
//   - MaxUploadBytes / AllowedExtensions: submission validation.
//   - MaxConcurrentJobs: how many tool processes may run at once.
//   - DailyClaimAmount / DailyClaimWindow: free token refill.
//   - GiftRoleID: role required to gift tokens.
//   - DownloadTimeout: limit for fetching URL-sourced submissions.
//   - AllowedDownloadHosts: hosts a submission URL (and every redirect)
//     may point at.
//   - S3*: optional result archive; ArchiveResults switches it on.
type Config struct {
	EndpointAddrGRPC            string
	EndpointAddrHTTP            string
	StorageKind                 string
	DatabaseDSN                 string
	SecretKey                   string
	AccessTokenValidityDuration time.Duration
	LogLevel                    string

	WorkDir           string
	ToolCommand       string
	ToolPath          string
	ToolTimeout       time.Duration
	MaxUploadBytes    int64
	AllowedExtensions []string
	MaxConcurrentJobs int64
	LinkScanBytes     int
	DailyClaimAmount  int64
	DailyClaimWindow  time.Duration
	GiftRoleID        string
	DownloadTimeout   time.Duration

	AllowedDownloadHosts []string

	ArchiveResults bool
	PresignTTL     time.Duration
	S3RootUser     string
	S3RootPassword string
	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
}

// DefaultToolTimeout bounds a single deobfuscator run.
const DefaultToolTimeout = 2 * time.Minute

// LoadDefaults populates Config with development defaults.
// NOTE: SecretKey is insecure and must be overridden in production.
func (c *Config) LoadDefaults() {
	c.EndpointAddrGRPC = ":50051"
	c.EndpointAddrHTTP = ":8080"
	c.StorageKind = "sqlite"
	c.DatabaseDSN = "file:gophdeobf.db"
	c.SecretKey = "secretKey"
	c.AccessTokenValidityDuration = 24 * time.Hour
	c.LogLevel = "info"

	c.WorkDir = filepath.Join(os.TempDir(), "gophdeobf")
	c.ToolCommand = "dotnet"
	c.ToolPath = "MoonsecDeobfuscator.dll"
	c.ToolTimeout = DefaultToolTimeout
	c.MaxUploadBytes = 25 * common.MiB
	c.AllowedExtensions = []string{".lua", ".txt"}
	c.MaxConcurrentJobs = 4
	c.LinkScanBytes = 1_000_000
	c.DailyClaimAmount = 2
	c.DailyClaimWindow = 24 * time.Hour
	c.GiftRoleID = "1441821570266955858"
	c.DownloadTimeout = 30 * time.Second
	c.AllowedDownloadHosts = []string{"cdn.discordapp.com", "media.discordapp.net"}

	c.ArchiveResults = false
	c.PresignTTL = 15 * time.Minute
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = "deobf-results"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file, the environment (including a .env file) and
// finally command-line flags. A resulting config that fails Validate
// panics, like any other parse error.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

// Validate rejects settings the server cannot run with safely.
func (c *Config) Validate() error {
	if c.ToolTimeout <= 0 {
		return fmt.Errorf("tool timeout must be positive, got %s", c.ToolTimeout)
	}
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("max concurrent jobs must be positive, got %d", c.MaxConcurrentJobs)
	}
	return nil
}
