package rules

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/webtm/webtm-go/internal/config"
	"github.com/webtm/webtm-go/internal/models"
	"github.com/webtm/webtm-go/pkg/tieba"
)

type blockCall struct {
	fname  string
	userID int64
	day    int
	reason string
}

type fakeModerator struct {
	deletedPids    []int64
	deletedThreads []int64
	blocks         []blockCall
	deleteErr      error
}

func (m *fakeModerator) Delete(_ context.Context, c models.Content) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deletedPids = append(m.deletedPids, c.Base().Pid)
	return nil
}

func (m *fakeModerator) DeleteThread(_ context.Context, _ string, tid int64) error {
	m.deletedThreads = append(m.deletedThreads, tid)
	return nil
}

func (m *fakeModerator) Block(_ context.Context, fname string, userID int64, day int, reason string) error {
	m.blocks = append(m.blocks, blockCall{fname: fname, userID: userID, day: day, reason: reason})
	return nil
}

type fakeInfo struct {
	detail     *tieba.UserDetail
	infoErr    error
	isAuthor   bool
	authorErr  error
	infoCalls  int
	authorCall int
}

func (f *fakeInfo) UserInfo(context.Context, int64) (*tieba.UserDetail, error) {
	f.infoCalls++
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.detail, nil
}

func (f *fakeInfo) IsThreadAuthor(context.Context, models.Content) (bool, error) {
	f.authorCall++
	if f.authorErr != nil {
		return false, f.authorErr
	}
	return f.isAuthor, nil
}

func TestBuildOperationsShorthand(t *testing.T) {
	g, err := BuildOperations(config.OperationSpec{Shorthand: config.OpDeleteAndBlock})
	if err != nil {
		t.Fatalf("BuildOperations: %v", err)
	}
	if !g.IsShorthand() || g.Empty() {
		t.Fatal("delete_and_block should resolve to a non-empty shorthand group")
	}
	if !g.NeedBawu() {
		t.Error("delete_and_block needs moderator rights")
	}
	if g.Direct() != nil {
		t.Error("shorthand groups have no direct subset")
	}
	if g.NonDirect() != g {
		t.Error("shorthand groups confirm as a whole")
	}
	if spec := g.Serialize(); spec.Shorthand != config.OpDeleteAndBlock {
		t.Errorf("serialize = %+v, want shorthand token", spec)
	}

	ignore, err := BuildOperations(config.OperationSpec{Shorthand: config.OpIgnore})
	if err != nil {
		t.Fatalf("BuildOperations: %v", err)
	}
	if !ignore.Empty() || ignore.NeedBawu() {
		t.Error("ignore should execute nothing and need no rights")
	}

	if _, err := BuildOperations(config.OperationSpec{Shorthand: "obliterate"}); err == nil {
		t.Error("unknown token should fail the build")
	}
}

func TestOperationGroupSplit(t *testing.T) {
	g, err := BuildOperations(config.OperationSpec{List: []config.OperationConfig{
		{Type: "delete"},
		{Type: "block", Options: json.RawMessage(`{"day":10}`), Direct: true},
	}})
	if err != nil {
		t.Fatalf("BuildOperations: %v", err)
	}

	direct := g.Direct()
	if direct == nil || len(direct.ops) != 1 || direct.ops[0].Type() != "block" {
		t.Fatalf("direct subset = %+v", direct)
	}
	nonDirect := g.NonDirect()
	if len(nonDirect.ops) != 1 || nonDirect.ops[0].Type() != "delete" {
		t.Fatalf("non-direct subset = %+v", nonDirect)
	}

	spec := nonDirect.Serialize()
	if spec.IsShorthand() || len(spec.List) != 1 || spec.List[0].Type != "delete" {
		t.Errorf("non-direct serialize = %+v", spec)
	}

	allDirect, err := BuildOperations(config.OperationSpec{List: []config.OperationConfig{
		{Type: "block", Direct: true},
	}})
	if err != nil {
		t.Fatalf("BuildOperations: %v", err)
	}
	if !allDirect.NonDirect().Empty() {
		t.Error("all-direct group should leave nothing to confirm")
	}
}

func TestDeleteOperationThreadEscalation(t *testing.T) {
	build := func() Operation {
		op, err := BuildOperation(config.OperationConfig{
			Type:    "delete",
			Options: json.RawMessage(`{"delete_thread_if_author":true}`),
		})
		if err != nil {
			t.Fatalf("BuildOperation: %v", err)
		}
		return op
	}
	author := models.User{UserID: 9, UserName: "alice"}

	t.Run("snapshot says author", func(t *testing.T) {
		mod := &fakeModerator{}
		obj := NewProcessObject(testPost("spam", author))
		obj.Data["is_thread_author"] = true
		if err := build().Execute(context.Background(), obj, mod); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if len(mod.deletedThreads) != 1 || mod.deletedThreads[0] != 100 {
			t.Errorf("thread deletes = %v, want [100]", mod.deletedThreads)
		}
		if len(mod.deletedPids) != 0 {
			t.Errorf("reply deletes = %v, want none", mod.deletedPids)
		}
	})

	t.Run("snapshot says not author", func(t *testing.T) {
		mod := &fakeModerator{}
		obj := NewProcessObject(testPost("spam", author))
		obj.Data["is_thread_author"] = false
		if err := build().Execute(context.Background(), obj, mod); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if len(mod.deletedPids) != 1 || mod.deletedPids[0] != 101 {
			t.Errorf("reply deletes = %v, want [101]", mod.deletedPids)
		}
		if len(mod.deletedThreads) != 0 {
			t.Errorf("thread deletes = %v, want none", mod.deletedThreads)
		}
	})

	t.Run("no snapshot falls back to live lookup", func(t *testing.T) {
		mod := &fakeModerator{}
		info := &fakeInfo{isAuthor: true}
		obj := NewProcessObject(testPost("spam", author))
		obj.Info = info
		if err := build().Execute(context.Background(), obj, mod); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if info.authorCall != 1 {
			t.Errorf("author lookups = %d, want 1", info.authorCall)
		}
		if len(mod.deletedThreads) != 1 {
			t.Errorf("thread deletes = %v, want one", mod.deletedThreads)
		}
	})

	t.Run("lookup failure degrades to reply delete", func(t *testing.T) {
		mod := &fakeModerator{}
		obj := NewProcessObject(testPost("spam", author))
		obj.Info = &fakeInfo{authorErr: errors.New("profile api down")}
		if err := build().Execute(context.Background(), obj, mod); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if len(mod.deletedPids) != 1 || len(mod.deletedThreads) != 0 {
			t.Errorf("deletes = pids %v threads %v, want reply only", mod.deletedPids, mod.deletedThreads)
		}
	})

	t.Run("thread content deletes itself without lookup", func(t *testing.T) {
		mod := &fakeModerator{}
		info := &fakeInfo{isAuthor: true}
		obj := NewProcessObject(testThreadContent("spam", author))
		obj.Info = info
		if err := build().Execute(context.Background(), obj, mod); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if info.authorCall != 0 {
			t.Errorf("author lookups = %d, want 0 for thread content", info.authorCall)
		}
		if len(mod.deletedPids) != 1 {
			t.Errorf("deletes = %v, want the thread itself via Delete", mod.deletedPids)
		}
	})
}

func TestAuthorDeleteOperation(t *testing.T) {
	op, err := BuildOperation(config.OperationConfig{Type: "author_delete"})
	if err != nil {
		t.Fatalf("BuildOperation: %v", err)
	}
	author := models.User{UserID: 9, UserName: "alice"}

	mod := &fakeModerator{}
	obj := NewProcessObject(testPost("spam", author))
	obj.Data["is_thread_author"] = true
	if err := op.Execute(context.Background(), obj, mod); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(mod.deletedThreads) != 1 {
		t.Errorf("thread deletes = %v, want one", mod.deletedThreads)
	}

	mod = &fakeModerator{}
	obj = NewProcessObject(testPost("spam", author))
	obj.Data["is_thread_author"] = false
	if err := op.Execute(context.Background(), obj, mod); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(mod.deletedThreads) != 0 || len(mod.deletedPids) != 0 {
		t.Error("author_delete should be a no-op when the author is not the op")
	}
}

func TestBlockOperationFallbacks(t *testing.T) {
	forum := &config.ForumConfig{Fname: "f1", BlockDay: 3, BlockReason: "house rules"}
	author := models.User{UserID: 9, UserName: "alice"}

	t.Run("forum defaults", func(t *testing.T) {
		op, err := BuildOperation(config.OperationConfig{Type: "block"})
		if err != nil {
			t.Fatalf("BuildOperation: %v", err)
		}
		mod := &fakeModerator{}
		obj := NewProcessObject(testPost("spam", author))
		obj.Forum = forum
		if err := op.Execute(context.Background(), obj, mod); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		want := blockCall{fname: "f1", userID: 9, day: 3, reason: "house rules"}
		if len(mod.blocks) != 1 || mod.blocks[0] != want {
			t.Errorf("block = %+v, want %+v", mod.blocks, want)
		}
	})

	t.Run("option overrides", func(t *testing.T) {
		op, err := BuildOperation(config.OperationConfig{
			Type:    "block",
			Options: json.RawMessage(`{"day":10,"reason":"spam wave"}`),
		})
		if err != nil {
			t.Fatalf("BuildOperation: %v", err)
		}
		mod := &fakeModerator{}
		obj := NewProcessObject(testPost("spam", author))
		obj.Forum = forum
		if err := op.Execute(context.Background(), obj, mod); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		want := blockCall{fname: "f1", userID: 9, day: 10, reason: "spam wave"}
		if len(mod.blocks) != 1 || mod.blocks[0] != want {
			t.Errorf("block = %+v, want %+v", mod.blocks, want)
		}
	})

	t.Run("zero day is an explicit override", func(t *testing.T) {
		op, err := BuildOperation(config.OperationConfig{
			Type:    "block",
			Options: json.RawMessage(`{"day":0}`),
		})
		if err != nil {
			t.Fatalf("BuildOperation: %v", err)
		}
		mod := &fakeModerator{}
		obj := NewProcessObject(testPost("spam", author))
		obj.Forum = forum
		if err := op.Execute(context.Background(), obj, mod); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if mod.blocks[0].day != 0 {
			t.Errorf("day = %d, want explicit 0", mod.blocks[0].day)
		}
	})
}

func TestOperationGroupStoreData(t *testing.T) {
	g, err := BuildOperations(config.OperationSpec{List: []config.OperationConfig{
		{Type: "delete", Options: json.RawMessage(`{"delete_thread_if_author":true}`)},
		{Type: "author_delete"},
	}})
	if err != nil {
		t.Fatalf("BuildOperations: %v", err)
	}

	info := &fakeInfo{isAuthor: true}
	obj := NewProcessObject(testPost("spam", models.User{UserID: 9}))
	obj.Info = info
	if err := g.StoreData(context.Background(), obj); err != nil {
		t.Fatalf("StoreData: %v", err)
	}
	if v, ok := obj.Data["is_thread_author"].(bool); !ok || !v {
		t.Errorf("data = %v, want is_thread_author=true", obj.Data)
	}
	if info.authorCall != 1 {
		t.Errorf("author lookups = %d, want 1 despite two consumers", info.authorCall)
	}

	// A pre-seeded fact is left alone.
	info = &fakeInfo{isAuthor: true}
	obj = NewProcessObject(testPost("spam", models.User{UserID: 9}))
	obj.Info = info
	obj.Data["is_thread_author"] = false
	if err := g.StoreData(context.Background(), obj); err != nil {
		t.Fatalf("StoreData: %v", err)
	}
	if info.authorCall != 0 {
		t.Errorf("author lookups = %d, want 0 for pre-seeded fact", info.authorCall)
	}
}

func TestOperationGroupExecuteContinuesAfterFailure(t *testing.T) {
	g, err := BuildOperations(config.OperationSpec{Shorthand: config.OpDeleteAndBlock})
	if err != nil {
		t.Fatalf("BuildOperations: %v", err)
	}
	mod := &fakeModerator{deleteErr: errors.New("already gone")}
	obj := NewProcessObject(testPost("spam", models.User{UserID: 9}))
	obj.Forum = &config.ForumConfig{Fname: "f1", BlockDay: 1}

	err = g.Execute(context.Background(), obj, mod)
	if err == nil {
		t.Fatal("delete failure should surface in the joined error")
	}
	if len(mod.blocks) != 1 {
		t.Errorf("block should still run after delete fails, got %v", mod.blocks)
	}
}
