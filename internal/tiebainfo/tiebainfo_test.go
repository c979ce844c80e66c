package tiebainfo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/webtm/webtm-go/internal/config"
	"github.com/webtm/webtm-go/internal/models"
	"github.com/webtm/webtm-go/internal/store"
	"github.com/webtm/webtm-go/pkg/tieba"
)

func newTestService(t *testing.T, handler http.Handler) (*Service, *store.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	st, err := store.Open(config.DatabaseConfig{
		Type: "sqlite",
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	client := tieba.NewClient(tieba.ClientConfig{BaseURL: srv.URL, WebURL: srv.URL})
	browser := tieba.NewBrowser(tieba.BrowserConfig{BaseURL: srv.URL})
	return New(client, browser, st), st
}

func TestUserInfoCaches(t *testing.T) {
	var calls atomic.Int64
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/c/u/user/profile" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		calls.Add(1)
		w.Write([]byte(`{
			"error_code": "0",
			"user": {"id": "555", "name": "someone", "name_show": "Some One",
			         "portrait": "tb.1.someone", "tieba_uid": "987", "ip_address": "北京"}
		}`))
	}))

	ctx := context.Background()
	first, err := svc.UserInfo(ctx, 555)
	if err != nil {
		t.Fatal(err)
	}
	if first.IP != "北京" || first.TiebaUID != 987 {
		t.Errorf("detail = %+v", first)
	}

	second, err := svc.UserInfo(ctx, 555)
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Error("second lookup did not come from cache")
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", calls.Load())
	}
}

func TestIsThreadAuthor(t *testing.T) {
	var pageCalls atomic.Int64
	svc, st := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/c/f/pb/page" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		pageCalls.Add(1)
		w.Write([]byte(`{
			"error_code": "0",
			"forum": {"id": "77", "name": "f1"},
			"thread": {"id": "2000", "title": "t"},
			"page": {"total_page": "1"},
			"user_list": [{"id": "9", "name": "op", "name_show": "OP", "portrait": "tb.1.op", "level_id": "3"}],
			"post_list": [
				{"id": "2000", "author_id": "9", "time": "1690000000", "floor": "1",
				 "sub_post_number": "0", "content": [{"type": "0", "text": "body"}]}
			]
		}`))
	}))
	ctx := context.Background()

	// A thread is trivially authored by its own author.
	thread := &models.Thread{ContentBase: models.ContentBase{
		Fname: "f1", Tid: 1000, Pid: 1000, Floor: 1,
		Author: models.User{UserID: 9},
	}}
	ok, err := svc.IsThreadAuthor(ctx, thread)
	if err != nil || !ok {
		t.Fatalf("thread: ok=%v err=%v", ok, err)
	}

	// When the thread row is stored, the answer is local.
	if _, err := st.ClassifyAndUpdate(ctx, thread); err != nil {
		t.Fatal(err)
	}
	post := &models.Post{ContentBase: models.ContentBase{
		Fname: "f1", Tid: 1000, Pid: 1001, Floor: 2,
		Author: models.User{UserID: 9},
	}}
	ok, err = svc.IsThreadAuthor(ctx, post)
	if err != nil || !ok {
		t.Fatalf("stored thread: ok=%v err=%v", ok, err)
	}
	otherAuthor := &models.Post{ContentBase: models.ContentBase{
		Fname: "f1", Tid: 1000, Pid: 1002, Floor: 3,
		Author: models.User{UserID: 10},
	}}
	ok, err = svc.IsThreadAuthor(ctx, otherAuthor)
	if err != nil || ok {
		t.Fatalf("other author: ok=%v err=%v", ok, err)
	}
	if pageCalls.Load() != 0 {
		t.Errorf("page calls = %d, want 0 for stored thread", pageCalls.Load())
	}

	// Unknown thread falls back to fetching the first page.
	fallback := &models.Post{ContentBase: models.ContentBase{
		Fname: "f1", Tid: 2000, Pid: 2001, Floor: 2,
		Author: models.User{UserID: 9},
	}}
	ok, err = svc.IsThreadAuthor(ctx, fallback)
	if err != nil || !ok {
		t.Fatalf("fallback: ok=%v err=%v", ok, err)
	}
	if pageCalls.Load() != 1 {
		t.Errorf("page calls = %d, want 1", pageCalls.Load())
	}
}
