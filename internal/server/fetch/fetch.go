// Package fetch downloads submission payloads that arrive as URLs, such as
// chat attachments.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophdeobf/internal/common"
)

// maxRedirects matches net/http's default policy.
const maxRedirects = 10

// HTTPDownloader fetches a URL into memory with a hard size cap. Only hosts
// on its allow-list are contacted, including every redirect hop.
type HTTPDownloader struct {
	client  *http.Client
	timeout time.Duration
	hosts   map[string]struct{}
}

// NewHTTPDownloader returns a downloader whose requests give up after
// timeout and only reach allowedHosts. A nil client means
// http.DefaultClient; the client is copied, never modified.
func NewHTTPDownloader(client *http.Client, timeout time.Duration, allowedHosts []string) *HTTPDownloader {
	if client == nil {
		client = http.DefaultClient
	}

	d := &HTTPDownloader{timeout: timeout, hosts: make(map[string]struct{}, len(allowedHosts))}
	for _, h := range allowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			d.hosts[h] = struct{}{}
		}
	}

	c := *client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return d.check(req.URL)
	}
	d.client = &c
	return d
}

func (d *HTTPDownloader) check(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if _, ok := d.hosts[strings.ToLower(u.Hostname())]; !ok {
		return fmt.Errorf("host %q is not allowed", u.Hostname())
	}
	return nil
}

// Fetch GETs rawURL and returns the body. Only http and https URLs on an
// allowed host are accepted. A body larger than limit is rejected with
// ErrorValidation; every other failure wraps ErrorDownload.
func (d *HTTPDownloader) Fetch(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: unsupported url %q", common.ErrorDownload, rawURL)
	}
	if err := d.check(u); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorDownload, err)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorDownload, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %s", common.ErrorDownload, resp.Status)
	}
	if limit > 0 && resp.ContentLength > limit {
		return nil, fmt.Errorf("%w: payload is %d bytes, limit %d", common.ErrorValidation, resp.ContentLength, limit)
	}

	r := io.Reader(resp.Body)
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorDownload, err)
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", common.ErrorValidation, limit)
	}

	return body, nil
}
