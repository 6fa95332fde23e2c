// Package common contains shared constants and sentinel errors used across
// gophdeobf components.
package common

// AccessTokenHeaderName is the gRPC/HTTP metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// MiB is one mebibyte.
const MiB = 1024 * 1024
