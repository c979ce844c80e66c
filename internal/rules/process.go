// Package rules implements the per-user moderation rule engine: a registry
// of condition and operation templates, rule deserialization and evaluation,
// and the Processer that drives a user's rule set over incoming content.
//
// Registries are populated from init functions and are read-only afterwards.
package rules

import (
	"context"

	"github.com/webtm/webtm-go/internal/config"
	"github.com/webtm/webtm-go/internal/models"
	"github.com/webtm/webtm-go/pkg/tieba"
)

// InfoProvider resolves facts that need an extra upstream lookup, such as a
// user's IP region or whether a content's author opened the thread it sits
// in. Implemented by the tiebainfo service.
type InfoProvider interface {
	UserInfo(ctx context.Context, userID int64) (*tieba.UserDetail, error)
	IsThreadAuthor(ctx context.Context, c models.Content) (bool, error)
}

// Moderator executes moderation actions against the platform. Implemented
// by the per-user moderator client.
type Moderator interface {
	// Delete removes the content itself: the whole thread for a thread,
	// the single reply otherwise.
	Delete(ctx context.Context, c models.Content) error
	// DeleteThread removes a whole thread regardless of which content
	// triggered the action.
	DeleteThread(ctx context.Context, fname string, tid int64) error
	Block(ctx context.Context, fname string, userID int64, day int, reason string) error
}

// ProcessObject carries one content item through rule evaluation and
// operation execution.
//
// Data is an opaque facts bag: operations snapshot expensive lookups into it
// at confirm-enqueue time (via StoreData) so that a later human-approved
// execution does not repeat them. Keys are operation-specific strings such
// as "is_thread_author".
type ProcessObject struct {
	Content models.Content
	Data    map[string]any
	Info    InfoProvider
	Forum   *config.ForumConfig
}

// NewProcessObject wraps a content item with an empty facts bag.
func NewProcessObject(c models.Content) *ProcessObject {
	return &ProcessObject{Content: c, Data: map[string]any{}}
}
