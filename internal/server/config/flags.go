package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophdeobf/internal/common"
	"github.com/dmitrijs2005/gophdeobf/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-h string   HTTP bind address (e.g., ":8080")
//	-k string   storage kind: postgres, sqlite or memory
//	-d string   database DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-l string   log level
//	-w string   work directory
//	-x string   tool command (e.g., "dotnet")
//	-y string   tool assembly path
//	-o int      tool timeout, seconds
//	-m int      max upload size, MiB
//	-n string   allowed extensions, comma separated
//	-j int      max concurrent jobs
//	-r string   gift role id
//	-q string   allowed download hosts, comma separated
//	-z bool     archive results to S3
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with -c/-config.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-h", "-k", "-d", "-s", "-t", "-l", "-w", "-x", "-y", "-o",
		"-m", "-n", "-j", "-r", "-q", "-z", "-u", "-p", "-b", "-g", "-e",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "gRPC address and port")
	fs.StringVar(&config.EndpointAddrHTTP, "h", config.EndpointAddrHTTP, "HTTP address and port")
	fs.StringVar(&config.StorageKind, "k", config.StorageKind, "storage kind (postgres, sqlite, memory)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	accessTokenValidity := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	fs.StringVar(&config.WorkDir, "w", config.WorkDir, "work directory")
	fs.StringVar(&config.ToolCommand, "x", config.ToolCommand, "tool command")
	fs.StringVar(&config.ToolPath, "y", config.ToolPath, "tool assembly path")
	toolTimeout := fs.Int("o", int(config.ToolTimeout.Seconds()), "tool timeout (in seconds)")
	maxUpload := fs.Int64("m", config.MaxUploadBytes/common.MiB, "max upload size (in MiB)")
	extensions := fs.String("n", strings.Join(config.AllowedExtensions, ","), "allowed extensions")
	fs.Int64Var(&config.MaxConcurrentJobs, "j", config.MaxConcurrentJobs, "max concurrent jobs")
	fs.StringVar(&config.GiftRoleID, "r", config.GiftRoleID, "gift role id")
	downloadHosts := fs.String("q", strings.Join(config.AllowedDownloadHosts, ","), "allowed download hosts")

	fs.BoolVar(&config.ArchiveResults, "z", config.ArchiveResults, "archive results to S3")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidity) * time.Minute
	config.ToolTimeout = time.Duration(*toolTimeout) * time.Second
	config.MaxUploadBytes = *maxUpload * common.MiB
	config.AllowedExtensions = splitList(*extensions)
	config.AllowedDownloadHosts = splitList(*downloadHosts)
}

func splitList(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
