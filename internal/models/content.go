package models

import (
	"encoding/json"
	"fmt"
)

// ContentType identifies the variant of a Content item.
type ContentType string

const (
	TypeThread  ContentType = "thread"
	TypePost    ContentType = "post"
	TypeComment ContentType = "comment"
)

// User is the author of a piece of content. UserID is the stable identity;
// UserName may be absent for accounts that never set one.
type User struct {
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
	NickName string `json:"nick_name"`
	Portrait string `json:"portrait"`
	Level    int    `json:"level"`
}

// LogName returns the best human-readable handle for log lines.
func (u *User) LogName() string {
	if u.UserName != "" {
		return u.UserName
	}
	if u.Portrait != "" {
		return fmt.Sprintf("%s/%s", u.NickName, u.Portrait)
	}
	return fmt.Sprintf("%d", u.UserID)
}

// Image is one attachment on a content item.
type Image struct {
	Hash   string `json:"hash"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Src    string `json:"src"`
}

// ContentBase carries the fields shared by all three content variants.
// Title is always the owning thread's title, denormalized for display.
type ContentBase struct {
	Fname      string  `json:"fname"`
	Tid        int64   `json:"tid"`
	Pid        int64   `json:"pid"`
	Title      string  `json:"title"`
	Text       string  `json:"text"`
	Images     []Image `json:"images"`
	CreateTime int64   `json:"create_time"`
	Floor      int64   `json:"floor"`
	Author     User    `json:"author"`
}

// Content is the tagged union over Thread, Post and Comment.
type Content interface {
	Base() *ContentBase
	Type() ContentType
	// Mark renders a short human-readable label for log lines.
	Mark() string
	// Link returns the canonical URL of the content.
	Link() string
}

// Thread is a top-level topic. Its Pid equals its Tid and it always sits
// on floor 1.
type Thread struct {
	ContentBase
	LastTime int64 `json:"last_time"`
	ReplyNum int64 `json:"reply_num"`
}

// Post is a reply inside a thread, floor >= 2.
type Post struct {
	ContentBase
	ReplyNum int64 `json:"reply_num"`
}

// Comment is a nested sub-reply. It carries its parent post's floor number
// and never has images.
type Comment struct {
	ContentBase
}

func (t *Thread) Base() *ContentBase { return &t.ContentBase }
func (p *Post) Base() *ContentBase   { return &p.ContentBase }
func (c *Comment) Base() *ContentBase {
	return &c.ContentBase
}

func (t *Thread) Type() ContentType  { return TypeThread }
func (p *Post) Type() ContentType    { return TypePost }
func (c *Comment) Type() ContentType { return TypeComment }

func (t *Thread) Mark() string { return t.Title }

func (p *Post) Mark() string {
	return fmt.Sprintf("%s %d楼", p.Title, p.Floor)
}

func (c *Comment) Mark() string {
	return fmt.Sprintf("%s %d楼 楼中楼", c.Title, c.Floor)
}

func (t *Thread) Link() string {
	return fmt.Sprintf("https://tieba.baidu.com/p/%d", t.Tid)
}

func (p *Post) Link() string    { return contentLink(&p.ContentBase) }
func (c *Comment) Link() string { return contentLink(&c.ContentBase) }

func contentLink(b *ContentBase) string {
	return fmt.Sprintf("https://tieba.baidu.com/p/%d?pid=%d#%d", b.Tid, b.Pid, b.Pid)
}

type contentEnvelope struct {
	Type ContentType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalContent wraps c in a type-tagged envelope so the variant survives
// a JSON round trip.
func MarshalContent(c Content) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(contentEnvelope{Type: c.Type(), Data: data})
}

// UnmarshalContent decodes a type-tagged envelope produced by MarshalContent.
func UnmarshalContent(b []byte) (Content, error) {
	var env contentEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	var c Content
	switch env.Type {
	case TypeThread:
		c = &Thread{}
	case TypePost:
		c = &Post{}
	case TypeComment:
		c = &Comment{}
	default:
		return nil, fmt.Errorf("unknown content type %q", env.Type)
	}
	if err := json.Unmarshal(env.Data, c); err != nil {
		return nil, err
	}
	return c, nil
}
