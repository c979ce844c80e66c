package models

import "strings"

// CrawlNeed expresses which content layers a caller wants yielded for one
// forum. Needs from multiple users are OR-ed together by the crawler.
type CrawlNeed struct {
	Thread  bool `json:"thread"`
	Post    bool `json:"post"`
	Comment bool `json:"comment"`
}

// Or returns the union of two needs.
func (n CrawlNeed) Or(other CrawlNeed) CrawlNeed {
	return CrawlNeed{
		Thread:  n.Thread || other.Thread,
		Post:    n.Post || other.Post,
		Comment: n.Comment || other.Comment,
	}
}

// Minus returns n with every layer cleared that other has set.
func (n CrawlNeed) Minus(other CrawlNeed) CrawlNeed {
	return CrawlNeed{
		Thread:  n.Thread && !other.Thread,
		Post:    n.Post && !other.Post,
		Comment: n.Comment && !other.Comment,
	}
}

// IsEmpty reports whether no layer is wanted.
func (n CrawlNeed) IsEmpty() bool {
	return !n.Thread && !n.Post && !n.Comment
}

// Wants reports whether the given content layer is wanted.
func (n CrawlNeed) Wants(t ContentType) bool {
	switch t {
	case TypeThread:
		return n.Thread
	case TypePost:
		return n.Post
	case TypeComment:
		return n.Comment
	}
	return false
}

func (n CrawlNeed) String() string {
	var parts []string
	if n.Thread {
		parts = append(parts, "thread")
	}
	if n.Post {
		parts = append(parts, "post")
	}
	if n.Comment {
		parts = append(parts, "comment")
	}
	return "[" + strings.Join(parts, "/") + "]"
}
