// Package config loads runtime configuration for gophctl.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file, given with --config or GOPHCTL_CONFIG.
//  3. Environment (and a .env file in the working directory).
//  4. Command-line flags, applied by the cobra commands themselves.
//
// # JSON schema
//
// Durations use timex.Duration, so values can be strings like "2m" or
// integer nanoseconds:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "access_token": "eyJ...",
//	  "request_timeout": "5m"
//	}
//
// # Environment
//
//	GOPHDEOBF_ADDR      gateway address
//	GOPHDEOBF_TOKEN     access token
//	GOPHDEOBF_SECRET    JWT secret for `gophctl token`
//	DATABASE_URL        ledger DSN for `gophctl ledger`; selects postgres
//	GIFT_ROLE_ID        role id minted into operator tokens
package config
