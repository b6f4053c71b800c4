// ABOUTME: Slack web API client: form-encoded calls with token and cookie auth
// ABOUTME: Non-ok responses become chat.RequestError values

package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TinLe/localslackirc/internal/chat"
)

// DefaultBaseURL is the Slack web API root.
const DefaultBaseURL = "https://slack.com/api/"

// Options configures a Client.
type Options struct {
	Token  string
	Cookie string
	// BaseURL overrides DefaultBaseURL, mostly for tests.
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client calls the Slack web API.
type Client struct {
	baseURL string
	token   string
	cookie  string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a web API client.
func NewClient(opts Options) *Client {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimSuffix(base, "/") + "/",
		token:   opts.Token,
		cookie:  opts.Cookie,
		http:    hc,
		logger:  logger.With("component", "slack"),
	}
}

// response is the envelope every web API reply shares.
type response struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error"`
	Metadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

func (r response) envelope() response { return r }

type enveloped interface {
	envelope() response
}

// call posts a form-encoded request and decodes the reply into out.
func (c *Client) call(ctx context.Context, method string, params url.Values, out enveloped) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+method,
		strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, method, out)
}

// upload posts a multipart request carrying one file.
func (c *Client) upload(ctx context.Context, method string, params url.Values, path string, out enveloped) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, vs := range params {
		for _, v := range vs {
			if err := mw.WriteField(k, v); err != nil {
				return fmt.Errorf("writing field %s: %w", k, err)
			}
		}
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("creating file part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+method, &body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, method, out)
}

func (c *Client) do(req *http.Request, method string, out enveloped) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("api call", "method", method, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode == http.StatusTooManyRequests {
		return &chat.RequestError{Method: method, Reason: "ratelimited, retry after " + resp.Header.Get("Retry-After")}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &chat.RequestError{Method: method, Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", method, err)
	}
	if env := out.envelope(); !env.OK {
		return &chat.RequestError{Method: method, Reason: env.Error}
	}
	return nil
}

