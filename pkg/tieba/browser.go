package tieba

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Browser fetches thread pages through the signed mobile pb endpoint. It
// needs no credentials and is shared by the whole process.
type Browser struct {
	cfg        BrowserConfig
	httpClient *http.Client
}

// BrowserConfig tunes the page client. Zero values select the production
// endpoints.
type BrowserConfig struct {
	BaseURL string
	Timeout time.Duration
	// DiagnosticsDir, when set, receives dumps of payloads that failed to
	// parse so upstream format drift can be inspected after the fact.
	DiagnosticsDir string
}

// NewBrowser builds a page client.
func NewBrowser(cfg BrowserConfig) *Browser {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Browser{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg.Timeout),
	}
}

// GetPosts fetches one page of a thread with inline sub-reply previews.
// A payload with a non-zero error_code is dumped to the diagnostics
// directory and returned as *APIError.
func (b *Browser) GetPosts(ctx context.Context, tid int64, pn int) (*PostPage, error) {
	form := map[string]string{
		"_client_type":    clientType,
		"_client_version": clientVersion,
		"kz":              strconv.FormatInt(tid, 10),
		"pn":              strconv.Itoa(pn),
		"rn":              "30",
		"with_floor":      "1",
		"floor_rn":        "4",
	}

	body, err := postSigned(ctx, b.httpClient, b.cfg.BaseURL+"/c/f/pb/page", form, "")
	if err != nil {
		return nil, fmt.Errorf("get posts tid=%d pn=%d: %w", tid, pn, err)
	}

	var resp postsResponse
	if err := decodeBody(body, &resp); err != nil {
		b.dumpPayload(body)
		return nil, fmt.Errorf("get posts tid=%d pn=%d: %w", tid, pn, err)
	}
	if resp.ErrorCode != 0 {
		b.dumpPayload(body)
		return nil, &APIError{Code: int64(resp.ErrorCode), Msg: resp.ErrorMsg}
	}
	if resp.PostList == nil {
		b.dumpPayload(body)
		return nil, fmt.Errorf("get posts tid=%d pn=%d: payload missing post_list", tid, pn)
	}

	return parsePostsResponse(&resp), nil
}

// dumpPayload writes the raw body for later inspection. Best effort.
func (b *Browser) dumpPayload(body []byte) {
	if b.cfg.DiagnosticsDir == "" {
		return
	}
	if err := os.MkdirAll(b.cfg.DiagnosticsDir, 0o755); err != nil {
		log.Warn().Err(err).Msg("Failed to create diagnostics directory")
		return
	}
	name := filepath.Join(b.cfg.DiagnosticsDir,
		fmt.Sprintf("fetch_post_%d.json", time.Now().UnixNano()))
	if err := os.WriteFile(name, body, 0o644); err != nil {
		log.Warn().Err(err).Msg("Failed to save diagnostics payload")
		return
	}
	log.Warn().Str("file", name).Msg("Unparseable page payload saved for inspection")
}

// postSigned sends a signed form POST and returns the response body.
// cookie, when non-empty, is attached verbatim.
func postSigned(ctx context.Context, client *http.Client, endpoint string, form map[string]string, cookie string) ([]byte, error) {
	values := signForm(form)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("http 429: %w", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}

	return readBody(resp)
}
