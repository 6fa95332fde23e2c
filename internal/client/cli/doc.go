// Package cli implements gophctl, the operator command line for
// gophdeobf.
//
// Remote commands talk to the gRPC gateway with an access token:
//
//	gophctl deobf script.lua            submit a file, save the result
//	gophctl deobf --url https://...     submit by URL
//	gophctl balance | claim | ping
//	gophctl gift USER AMOUNT            needs a token with the gift role
//
// Local commands work without a running server:
//
//	gophctl token --user U [--operator] mint an access token
//	gophctl ledger balance|grant|claim  operate on the ledger store directly
package cli
