package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/gophdeobf/internal/flagx"
	"github.com/dmitrijs2005/gophdeobf/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations accept both
// "30s" strings and integer nanoseconds (see timex.Duration). Pointer
// fields distinguish "absent" from an explicit zero.
type JsonConfig struct {
	EndpointAddrGRPC            string         `json:"endpoint_addr_grpc"`
	EndpointAddrHTTP            string         `json:"endpoint_addr_http"`
	StorageKind                 string         `json:"storage_kind"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	LogLevel                    string         `json:"log_level"`

	WorkDir           string         `json:"work_dir"`
	ToolCommand       string         `json:"tool_command"`
	ToolPath          string         `json:"tool_path"`
	ToolTimeout       timex.Duration `json:"tool_timeout"`
	MaxUploadBytes    int64          `json:"max_upload_bytes"`
	AllowedExtensions []string       `json:"allowed_extensions"`
	MaxConcurrentJobs int64          `json:"max_concurrent_jobs"`
	LinkScanBytes     int            `json:"link_scan_bytes"`
	DailyClaimAmount  int64          `json:"daily_claim_amount"`
	DailyClaimWindow  timex.Duration `json:"daily_claim_window"`
	GiftRoleID        string         `json:"gift_role_id"`
	DownloadTimeout   timex.Duration `json:"download_timeout"`

	AllowedDownloadHosts []string `json:"allowed_download_hosts"`

	ArchiveResults *bool          `json:"archive_results"`
	PresignTTL     timex.Duration `json:"presign_ttl"`
	S3RootUser     string         `json:"s3_root_user"`
	S3RootPassword string         `json:"s3_root_password"`
	S3Bucket       string         `json:"s3_bucket"`
	S3Region       string         `json:"s3_region"`
	S3BaseEndpoint string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from the JSON file named by -c or
// -config into the provided Config. Only keys present in the file
// override what is already set. An unreadable file or invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigPath(os.Args[1:])

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.StorageKind, c.StorageKind)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.WorkDir, c.WorkDir)
	setString(&config.ToolCommand, c.ToolCommand)
	setString(&config.ToolPath, c.ToolPath)
	setString(&config.GiftRoleID, c.GiftRoleID)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)

	if c.AccessTokenValidityDuration.Duration > 0 {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.ToolTimeout.Duration > 0 {
		config.ToolTimeout = c.ToolTimeout.Duration
	}
	if c.DailyClaimWindow.Duration > 0 {
		config.DailyClaimWindow = c.DailyClaimWindow.Duration
	}
	if c.DownloadTimeout.Duration > 0 {
		config.DownloadTimeout = c.DownloadTimeout.Duration
	}
	if c.PresignTTL.Duration > 0 {
		config.PresignTTL = c.PresignTTL.Duration
	}

	if c.MaxUploadBytes > 0 {
		config.MaxUploadBytes = c.MaxUploadBytes
	}
	if len(c.AllowedExtensions) > 0 {
		config.AllowedExtensions = c.AllowedExtensions
	}
	if len(c.AllowedDownloadHosts) > 0 {
		config.AllowedDownloadHosts = c.AllowedDownloadHosts
	}
	if c.MaxConcurrentJobs > 0 {
		config.MaxConcurrentJobs = c.MaxConcurrentJobs
	}
	if c.LinkScanBytes > 0 {
		config.LinkScanBytes = c.LinkScanBytes
	}
	if c.DailyClaimAmount > 0 {
		config.DailyClaimAmount = c.DailyClaimAmount
	}
	if c.ArchiveResults != nil {
		config.ArchiveResults = *c.ArchiveResults
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
