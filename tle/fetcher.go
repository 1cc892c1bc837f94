package tle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/signalsfoundry/groundpass/internal/logging"
	"github.com/signalsfoundry/groundpass/timectrl"
)

const (
	// DefaultBaseURL is the CelesTrak general-perturbations endpoint.
	DefaultBaseURL = "https://celestrak.org/NORAD/elements/gp.php"
	// DefaultGroup is fetched when no group is configured.
	DefaultGroup = "active"

	maxBodyBytes = 50 << 20
	userAgent    = "groundpass/0.1"
)

// Fetcher retrieves TLE groups over HTTP.
type Fetcher struct {
	baseURL    string
	httpClient *http.Client
	clock      timectrl.Clock
	log        logging.Logger
}

// NewFetcher creates a Fetcher for baseURL (DefaultBaseURL when empty).
func NewFetcher(baseURL string, log logging.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Fetcher{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		clock:      timectrl.SystemClock{},
		log:        log,
	}
}

// GroupURL returns the request URL for a CelesTrak group in TLE format.
func (f *Fetcher) GroupURL(group string) string {
	if group == "" {
		group = DefaultGroup
	}
	q := url.Values{}
	q.Set("GROUP", group)
	q.Set("FORMAT", "tle")
	return f.baseURL + "?" + q.Encode()
}

// FetchGroup downloads and parses one group. A response that yields no valid
// entry is an error, as that usually means the upstream format changed.
func (f *Fetcher) FetchGroup(ctx context.Context, group string) (*Dataset, error) {
	src := f.GroupURL(group)
	body, err := f.fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	entries, err := Parse(ctx, bytes.NewReader(body), f.log)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no TLEs parsed from %s", src)
	}
	f.log.Info(ctx, "fetched TLE group",
		logging.String("group", group),
		logging.Int("entries", len(entries)),
		logging.Int("bytes", len(body)),
	)
	return &Dataset{Source: src, FetchedAt: f.clock.Now(), Entries: entries}, nil
}

func (f *Fetcher) fetch(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/plain")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching TLE data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, src)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response from %s exceeds %d byte limit", src, maxBodyBytes)
	}
	return body, nil
}
