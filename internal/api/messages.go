// Package api defines the command gateway's wire contract: request and
// response messages, the gRPC service description and a typed client.
// Messages travel as JSON through the "json" codec registered here.
package api

// DeobfuscateRequest submits one file. Either Source or SourceURL is set.
type DeobfuscateRequest struct {
	Filename     string `json:"filename"`
	Source       []byte `json:"source,omitempty"`
	SourceURL    string `json:"source_url,omitempty"`
	DeclaredSize int64  `json:"declared_size,omitempty"`
}

// DeobfuscateResponse carries one finished job. RemainingBalance is -1
// when the server could not read the balance after the debit.
type DeobfuscateResponse struct {
	RequestID        string   `json:"request_id"`
	OutputName       string   `json:"output_name"`
	Output           []byte   `json:"output"`
	OriginalSize     int64    `json:"original_size"`
	OutputSize       int64    `json:"output_size"`
	Diagnostics      string   `json:"diagnostics,omitempty"`
	Links            []string `json:"links"`
	Digest           string   `json:"digest"`
	DurationMillis   int64    `json:"duration_ms"`
	RemainingBalance int64    `json:"remaining_balance"`
	DownloadURL      string   `json:"download_url,omitempty"`
}

type BalanceRequest struct{}

type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

type ClaimDailyRequest struct{}

type ClaimDailyResponse struct {
	Claimed bool  `json:"claimed"`
	Balance int64 `json:"balance"`
}

// GiftRequest credits another user. The caller needs the gift role.
type GiftRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}

type GiftResponse struct {
	Balance int64 `json:"balance"`
}

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}
