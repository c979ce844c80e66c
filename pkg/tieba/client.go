package tieba

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Client talks to the Tieba mobile API. Read operations work without
// credentials; the moderation calls (DelThread, DelPost, Block) require a
// BDUSS/SToken pair with bawu rights in the target forum.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client

	mu   sync.Mutex
	tbs  string
	fids map[string]int64
}

// ClientConfig holds credentials and endpoint overrides. Zero-valued URLs
// select the production hosts.
type ClientConfig struct {
	BDUSS  string
	SToken string

	BaseURL     string // mobile API host
	WebURL      string // web host for tbs and fid lookups
	ImageURL    string // forum image host
	PortraitURL string // avatar host
	Timeout     time.Duration
}

// NewClient builds a client. No network traffic happens until the first
// call.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.WebURL == "" {
		cfg.WebURL = defaultWebURL
	}
	if cfg.ImageURL == "" {
		cfg.ImageURL = defaultImageURL
	}
	if cfg.PortraitURL == "" {
		cfg.PortraitURL = defaultPortraitURL
	}
	return &Client{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg.Timeout),
		fids:       make(map[string]int64),
	}
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) cookie() string {
	if c.cfg.BDUSS == "" {
		return ""
	}
	cookie := "BDUSS=" + c.cfg.BDUSS
	if c.cfg.SToken != "" {
		cookie += "; STOKEN=" + c.cfg.SToken
	}
	return cookie
}

// GetSelfInfo logs the credential pair in and returns the account it
// belongs to. A UserID of zero means the credentials were rejected.
func (c *Client) GetSelfInfo(ctx context.Context) (*SelfInfo, error) {
	form := map[string]string{
		"_client_type":    clientType,
		"_client_version": clientVersion,
		"bdusstoken":      c.cfg.BDUSS,
	}

	body, err := postSigned(ctx, c.httpClient, c.cfg.BaseURL+"/c/s/login", form, c.cookie())
	if err != nil {
		return nil, fmt.Errorf("get self info: %w", err)
	}

	var resp struct {
		ErrorCode flexInt64 `json:"error_code"`
		ErrorMsg  string    `json:"error_msg"`
		User      struct {
			ID       flexInt64 `json:"id"`
			Name     string    `json:"name"`
			Portrait string    `json:"portrait"`
		} `json:"user"`
		Anti struct {
			Tbs string `json:"tbs"`
		} `json:"anti"`
	}
	if err := decodeBody(body, &resp); err != nil {
		return nil, fmt.Errorf("get self info: %w", err)
	}
	if resp.ErrorCode != 0 {
		return nil, &APIError{Code: int64(resp.ErrorCode), Msg: resp.ErrorMsg}
	}

	if resp.Anti.Tbs != "" {
		c.mu.Lock()
		c.tbs = resp.Anti.Tbs
		c.mu.Unlock()
	}

	return &SelfInfo{
		UserID:   int64(resp.User.ID),
		UserName: resp.User.Name,
		Portrait: resp.User.Portrait,
	}, nil
}

// GetThreads fetches one page of a forum's thread list.
func (c *Client) GetThreads(ctx context.Context, fname string, pn int) (*ThreadPage, error) {
	form := map[string]string{
		"_client_type":    clientType,
		"_client_version": clientVersion,
		"kw":              fname,
		"pn":              strconv.Itoa(pn),
		"rn":              "30",
	}

	body, err := postSigned(ctx, c.httpClient, c.cfg.BaseURL+"/c/f/frs/page", form, "")
	if err != nil {
		return nil, fmt.Errorf("get threads %s pn=%d: %w", fname, pn, err)
	}

	var resp threadsResponse
	if err := decodeBody(body, &resp); err != nil {
		return nil, fmt.Errorf("get threads %s pn=%d: %w", fname, pn, err)
	}
	if resp.ErrorCode != 0 {
		return nil, &APIError{Code: int64(resp.ErrorCode), Msg: resp.ErrorMsg}
	}

	page := parseThreadsResponse(&resp)
	if page.Fid != 0 {
		c.mu.Lock()
		c.fids[fname] = page.Fid
		c.mu.Unlock()
	}
	return page, nil
}

// GetComments fetches one page of a post's sub-replies.
func (c *Client) GetComments(ctx context.Context, tid, pid int64, pn int) (*CommentPage, error) {
	form := map[string]string{
		"_client_type":    clientType,
		"_client_version": clientVersion,
		"kz":              strconv.FormatInt(tid, 10),
		"pid":             strconv.FormatInt(pid, 10),
		"pn":              strconv.Itoa(pn),
	}

	body, err := postSigned(ctx, c.httpClient, c.cfg.BaseURL+"/c/f/pb/floor", form, "")
	if err != nil {
		return nil, fmt.Errorf("get comments tid=%d pid=%d pn=%d: %w", tid, pid, pn, err)
	}

	var resp commentsResponse
	if err := decodeBody(body, &resp); err != nil {
		return nil, fmt.Errorf("get comments tid=%d pid=%d pn=%d: %w", tid, pid, pn, err)
	}
	if resp.ErrorCode != 0 {
		return nil, &APIError{Code: int64(resp.ErrorCode), Msg: resp.ErrorMsg}
	}

	return parseCommentsResponse(&resp), nil
}

// GetUserInfo fetches a user's profile, including the disclosed IP region
// and the public tieba_uid.
func (c *Client) GetUserInfo(ctx context.Context, userID int64) (*UserDetail, error) {
	form := map[string]string{
		"_client_type":    clientType,
		"_client_version": clientVersion,
		"uid":             strconv.FormatInt(userID, 10),
		"need_post_count": "0",
	}

	body, err := postSigned(ctx, c.httpClient, c.cfg.BaseURL+"/c/u/user/profile", form, "")
	if err != nil {
		return nil, fmt.Errorf("get user info %d: %w", userID, err)
	}

	var resp struct {
		ErrorCode flexInt64 `json:"error_code"`
		ErrorMsg  string    `json:"error_msg"`
		User      struct {
			ID        flexInt64 `json:"id"`
			Name      string    `json:"name"`
			NameShow  string    `json:"name_show"`
			Portrait  string    `json:"portrait"`
			TiebaUID  flexInt64 `json:"tieba_uid"`
			IPAddress string    `json:"ip_address"`
		} `json:"user"`
	}
	if err := decodeBody(body, &resp); err != nil {
		return nil, fmt.Errorf("get user info %d: %w", userID, err)
	}
	if resp.ErrorCode != 0 {
		return nil, &APIError{Code: int64(resp.ErrorCode), Msg: resp.ErrorMsg}
	}

	return &UserDetail{
		ID:       int64(resp.User.ID),
		Name:     resp.User.Name,
		NickName: resp.User.NameShow,
		Portrait: resp.User.Portrait,
		TiebaUID: int64(resp.User.TiebaUID),
		IP:       resp.User.IPAddress,
	}, nil
}

// GetFid resolves a forum name to its numeric id, caching results.
func (c *Client) GetFid(ctx context.Context, fname string) (int64, error) {
	c.mu.Lock()
	if fid, ok := c.fids[fname]; ok {
		c.mu.Unlock()
		return fid, nil
	}
	c.mu.Unlock()

	endpoint := c.cfg.WebURL + "/f/commit/share/fnameShareApi?ie=utf-8&fname=" + url.QueryEscape(fname)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get fid %s: %w", fname, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("get fid %s: http %d", fname, resp.StatusCode)
	}

	body, err := readBody(resp)
	if err != nil {
		return 0, fmt.Errorf("get fid %s: %w", fname, err)
	}
	var payload struct {
		No   flexInt64 `json:"no"`
		Data struct {
			Fid flexInt64 `json:"fid"`
		} `json:"data"`
	}
	if err := decodeBody(body, &payload); err != nil {
		return 0, fmt.Errorf("get fid %s: %w", fname, err)
	}
	if payload.No != 0 || payload.Data.Fid == 0 {
		return 0, fmt.Errorf("get fid %s: forum not found", fname)
	}

	fid := int64(payload.Data.Fid)
	c.mu.Lock()
	c.fids[fname] = fid
	c.mu.Unlock()
	return fid, nil
}

// getTbs returns the cached anti-forgery token, fetching it on first use.
func (c *Client) getTbs(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.tbs != "" {
		tbs := c.tbs
		c.mu.Unlock()
		return tbs, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.WebURL+"/dc/common/tbs", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Cookie", c.cookie())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("get tbs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get tbs: http %d", resp.StatusCode)
	}

	body, err := readBody(resp)
	if err != nil {
		return "", fmt.Errorf("get tbs: %w", err)
	}
	var payload struct {
		Tbs     string    `json:"tbs"`
		IsLogin flexInt64 `json:"is_login"`
	}
	if err := decodeBody(body, &payload); err != nil {
		return "", fmt.Errorf("get tbs: %w", err)
	}
	if payload.IsLogin == 0 || payload.Tbs == "" {
		return "", fmt.Errorf("get tbs: not logged in")
	}

	c.mu.Lock()
	c.tbs = payload.Tbs
	c.mu.Unlock()
	return payload.Tbs, nil
}

// bawuForm assembles the common fields of a moderation request.
func (c *Client) bawuForm(ctx context.Context, fname string) (map[string]string, error) {
	fid, err := c.GetFid(ctx, fname)
	if err != nil {
		return nil, err
	}
	tbs, err := c.getTbs(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"BDUSS":           c.cfg.BDUSS,
		"_client_type":    clientType,
		"_client_version": clientVersion,
		"fid":             strconv.FormatInt(fid, 10),
		"tbs":             tbs,
	}, nil
}

func (c *Client) bawuCall(ctx context.Context, op, path string, form map[string]string) error {
	body, err := postSigned(ctx, c.httpClient, c.cfg.BaseURL+path, form, c.cookie())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var resp struct {
		ErrorCode flexInt64 `json:"error_code"`
		ErrorMsg  string    `json:"error_msg"`
	}
	if err := decodeBody(body, &resp); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.ErrorCode != 0 {
		return fmt.Errorf("%s: %w", op, &APIError{Code: int64(resp.ErrorCode), Msg: resp.ErrorMsg})
	}
	return nil
}

// DelThread removes a whole thread.
func (c *Client) DelThread(ctx context.Context, fname string, tid int64) error {
	form, err := c.bawuForm(ctx, fname)
	if err != nil {
		return fmt.Errorf("del thread %d: %w", tid, err)
	}
	form["z"] = strconv.FormatInt(tid, 10)

	log.Debug().Str("fname", fname).Int64("tid", tid).Msg("Deleting thread")
	return c.bawuCall(ctx, fmt.Sprintf("del thread %d", tid), "/c/c/bawu/delthread", form)
}

// DelPost removes a single post or sub-reply.
func (c *Client) DelPost(ctx context.Context, fname string, tid, pid int64) error {
	form, err := c.bawuForm(ctx, fname)
	if err != nil {
		return fmt.Errorf("del post %d: %w", pid, err)
	}
	form["z"] = strconv.FormatInt(tid, 10)
	form["pid"] = strconv.FormatInt(pid, 10)

	log.Debug().Str("fname", fname).Int64("tid", tid).Int64("pid", pid).Msg("Deleting post")
	return c.bawuCall(ctx, fmt.Sprintf("del post %d", pid), "/c/c/bawu/delpost", form)
}

// Block bans a user from the forum for the given number of days. The ban
// endpoint keys on portrait, so the profile is resolved first.
func (c *Client) Block(ctx context.Context, fname string, userID int64, day int, reason string) error {
	detail, err := c.GetUserInfo(ctx, userID)
	if err != nil {
		return fmt.Errorf("block %d: %w", userID, err)
	}

	form, err := c.bawuForm(ctx, fname)
	if err != nil {
		return fmt.Errorf("block %d: %w", userID, err)
	}
	form["day"] = strconv.Itoa(day)
	form["ntn"] = "banid"
	form["portrait"] = detail.Portrait
	form["reason"] = reason
	form["un"] = detail.Name
	form["word"] = fname

	log.Debug().Str("fname", fname).Int64("uid", userID).Int("day", day).Msg("Blocking user")
	return c.bawuCall(ctx, fmt.Sprintf("block %d", userID), "/c/c/bawu/commitprison", form)
}

// Hash2Image downloads a forum image by content hash. size is "s" for the
// preview rendition or "" for the original.
func (c *Client) Hash2Image(ctx context.Context, hash, size string) ([]byte, error) {
	dir := "pic"
	if size == "s" {
		dir = "abpic"
	}
	return c.getBytes(ctx, fmt.Sprintf("%s/forum/%s/item/%s.jpg", c.cfg.ImageURL, dir, hash))
}

// GetPortrait downloads a user's avatar. size is "s", "m" or "l".
func (c *Client) GetPortrait(ctx context.Context, portrait, size string) ([]byte, error) {
	variant := "portrait"
	switch size {
	case "s":
		variant = "portraitn"
	case "l":
		variant = "portraith"
	}
	return c.getBytes(ctx, fmt.Sprintf("%s/sys/%s/item/%s", c.cfg.PortraitURL, variant, portrait))
}

func (c *Client) getBytes(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	return readBody(resp)
}
