// Package tieba provides typed clients for the Baidu Tieba mobile API:
// Browser fetches post pages through the signed pb endpoint, Client adds
// the authenticated moderation calls (delete, block) on top of the shared
// read operations.
package tieba

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
)

const (
	defaultBaseURL     = "http://c.tieba.baidu.com"
	defaultWebURL      = "http://tieba.baidu.com"
	defaultImageURL    = "https://imgsrc.baidu.com"
	defaultPortraitURL = "http://tb.himg.baidu.com"

	clientType    = "2"
	clientVersion = "7.0.0"

	signSuffix = "tiebaclient!!!"

	// maxBodySize caps response reads; real payloads stay far below this.
	maxBodySize = 8 << 20
)

// ErrRateLimited marks an HTTP 429 from the upstream.
var ErrRateLimited = errors.New("tieba: rate limited")

// APIError is a response payload carrying a non-zero error_code.
type APIError struct {
	Code int64
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tieba: api error %d: %s", e.Code, e.Msg)
}

// signForm adds the mobile-client signature: md5 over the sorted k=v
// concatenation plus a fixed suffix.
func signForm(form map[string]string) url.Values {
	keys := make([]string, 0, len(form))
	for k := range form {
		if k != "sign" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(form[k])
	}
	buf.WriteString(signSuffix)
	sum := md5.Sum(buf.Bytes())

	out := make(url.Values, len(form)+1)
	for k, v := range form {
		out.Set(k, v)
	}
	out.Set("sign", hex.EncodeToString(sum[:]))
	return out
}

func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func decodeBody(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// flexInt64 decodes JSON numbers that the upstream serves interchangeably
// as numbers and as quoted strings.
type flexInt64 int64

func (n *flexInt64) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(bytes.TrimSpace(data), `"`))
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", s, err)
	}
	*n = flexInt64(v)
	return nil
}
