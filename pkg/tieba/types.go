package tieba

import (
	"bytes"
	"encoding/json"
	"path"
	"strconv"
	"strings"
)

// User is an account as it appears in page payloads. Level is the level in
// the forum the payload came from.
type User struct {
	ID       int64
	Name     string
	NickName string
	Portrait string
	Level    int
}

// UserDetail is the profile endpoint's view of an account.
type UserDetail struct {
	ID       int64
	Name     string
	NickName string
	Portrait string
	TiebaUID int64
	// IP is the region string the platform discloses, not an address.
	IP string
}

// SelfInfo identifies the logged-in account.
type SelfInfo struct {
	UserID   int64
	UserName string
	Portrait string
}

// Image is one picture attached to a thread or post.
type Image struct {
	Hash   string
	Width  int
	Height int
	Src    string
}

// Thread is one row of a forum's thread list.
type Thread struct {
	Fname      string
	Tid        int64
	Pid        int64
	Title      string
	Text       string
	Images     []Image
	CreateTime int64
	LastTime   int64
	ReplyNum   int64
	Author     User
}

// Post is one floor of a thread.
type Post struct {
	Fname      string
	Tid        int64
	Pid        int64
	Title      string
	Text       string
	Images     []Image
	CreateTime int64
	Floor      int64
	ReplyNum   int64
	Author     User
}

// Comment is one sub-reply under a post. Floor is the parent post's floor.
type Comment struct {
	Fname      string
	Tid        int64
	Pid        int64
	Title      string
	Text       string
	CreateTime int64
	Floor      int64
	Author     User
}

// ThreadPage is one page of a forum's thread list.
type ThreadPage struct {
	Fname     string
	Fid       int64
	TotalPage int64
	Threads   []Thread
}

// PostPage is one page of a thread, including the inline sub-reply previews.
type PostPage struct {
	Fname     string
	Fid       int64
	Tid       int64
	Title     string
	TotalPage int64
	Posts     []Post
	Comments  []Comment
	// ReplyNum maps pid to the post's sub-reply count as reported by this page.
	ReplyNum map[int64]int64
}

// CommentPage is one page of a post's sub-replies.
type CommentPage struct {
	Tid       int64
	Title     string
	Floor     int64
	TotalPage int64
	Comments  []Comment
}

// Wire shapes. Field coverage is limited to what the parsers consume.

type respUser struct {
	ID       flexInt64 `json:"id"`
	Name     string    `json:"name"`
	NameShow string    `json:"name_show"`
	Portrait string    `json:"portrait"`
	LevelID  flexInt64 `json:"level_id"`
}

type respForum struct {
	ID   flexInt64 `json:"id"`
	Name string    `json:"name"`
}

type respThreadMeta struct {
	ID    flexInt64 `json:"id"`
	Title string    `json:"title"`
}

type respPage struct {
	TotalPage   flexInt64 `json:"total_page"`
	HasMore     flexInt64 `json:"has_more"`
	CurrentPage flexInt64 `json:"current_page"`
}

// respFrag is one content fragment: type 0 is text, type 3 an image with
// bsize "width,height".
type respFrag struct {
	Type      flexInt64 `json:"type"`
	Text      string    `json:"text"`
	Bsize     string    `json:"bsize"`
	OriginSrc string    `json:"origin_src"`
	Src       string    `json:"src"`
}

type respSubPostItem struct {
	ID       flexInt64  `json:"id"`
	AuthorID flexInt64  `json:"author_id"`
	Time     flexInt64  `json:"time"`
	Content  []respFrag `json:"content"`
}

// respSubPosts tolerates the two shapes the upstream uses for an empty
// preview: the normal object and a bare empty array.
type respSubPosts struct {
	SubPostList []respSubPostItem `json:"sub_post_list"`
}

func (s *respSubPosts) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] == '[' || string(data) == "null" {
		return nil
	}
	type alias respSubPosts
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = respSubPosts(a)
	return nil
}

type respPost struct {
	ID            flexInt64    `json:"id"`
	AuthorID      flexInt64    `json:"author_id"`
	Time          flexInt64    `json:"time"`
	Floor         flexInt64    `json:"floor"`
	SubPostNumber flexInt64    `json:"sub_post_number"`
	Content       []respFrag   `json:"content"`
	SubPostList   respSubPosts `json:"sub_post_list"`
}

type postsResponse struct {
	ErrorCode flexInt64      `json:"error_code"`
	ErrorMsg  string         `json:"error_msg"`
	Forum     respForum      `json:"forum"`
	Thread    respThreadMeta `json:"thread"`
	Page      respPage       `json:"page"`
	UserList  []respUser     `json:"user_list"`
	PostList  []respPost     `json:"post_list"`
}

type respAbstract struct {
	Text string `json:"text"`
}

type respMedia struct {
	Type   flexInt64 `json:"type"`
	Width  flexInt64 `json:"width"`
	Height flexInt64 `json:"height"`
	BigPic string    `json:"big_pic"`
	Src    string    `json:"src"`
}

type respThread struct {
	ID          flexInt64      `json:"id"`
	FirstPostID flexInt64      `json:"first_post_id"`
	Title       string         `json:"title"`
	AuthorID    flexInt64      `json:"author_id"`
	ReplyNum    flexInt64      `json:"reply_num"`
	LastTimeInt flexInt64      `json:"last_time_int"`
	CreateTime  flexInt64      `json:"create_time"`
	Abstract    []respAbstract `json:"abstract"`
	Media       []respMedia    `json:"media"`
}

type threadsResponse struct {
	ErrorCode  flexInt64    `json:"error_code"`
	ErrorMsg   string       `json:"error_msg"`
	Forum      respForum    `json:"forum"`
	Page       respPage     `json:"page"`
	UserList   []respUser   `json:"user_list"`
	ThreadList []respThread `json:"thread_list"`
}

type commentsResponse struct {
	ErrorCode   flexInt64         `json:"error_code"`
	ErrorMsg    string            `json:"error_msg"`
	Forum       respForum         `json:"forum"`
	Thread      respThreadMeta    `json:"thread"`
	Post        respPost          `json:"post"`
	Page        respPage          `json:"page"`
	UserList    []respUser        `json:"user_list"`
	SubPostList []respSubPostItem `json:"subpost_list"`
}

func (u respUser) toUser() User {
	return User{
		ID:       int64(u.ID),
		Name:     u.Name,
		NickName: u.NameShow,
		Portrait: u.Portrait,
		Level:    int(u.LevelID),
	}
}

func userTable(list []respUser) map[int64]User {
	table := make(map[int64]User, len(list))
	for _, u := range list {
		table[int64(u.ID)] = u.toUser()
	}
	return table
}

// imageHash derives the platform's stable content hash from an image URL:
// the filename without its extension.
func imageHash(src string) string {
	base := path.Base(src)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		return base[:i]
	}
	return base
}

// fragContent flattens fragments into text plus images. Fragments with an
// unparseable bsize keep the image with zero dimensions.
func fragContent(frags []respFrag) (string, []Image) {
	var text strings.Builder
	var images []Image
	for _, f := range frags {
		switch f.Type {
		case 0:
			text.WriteString(f.Text)
		case 3:
			src := f.OriginSrc
			if src == "" {
				src = f.Src
			}
			img := Image{Hash: imageHash(src), Src: src}
			if w, h, ok := parseBsize(f.Bsize); ok {
				img.Width, img.Height = w, h
			}
			images = append(images, img)
		}
	}
	return text.String(), images
}

func parseBsize(bsize string) (int, int, bool) {
	w, h, found := strings.Cut(bsize, ",")
	if !found {
		return 0, 0, false
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0, false
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, false
	}
	return width, height, true
}

func parseThreadsResponse(resp *threadsResponse) *ThreadPage {
	users := userTable(resp.UserList)
	page := &ThreadPage{
		Fname:     resp.Forum.Name,
		Fid:       int64(resp.Forum.ID),
		TotalPage: int64(resp.Page.TotalPage),
		Threads:   make([]Thread, 0, len(resp.ThreadList)),
	}

	for _, t := range resp.ThreadList {
		var text strings.Builder
		for _, a := range t.Abstract {
			text.WriteString(a.Text)
		}
		var images []Image
		for _, m := range t.Media {
			if m.Type != 3 {
				continue
			}
			src := m.BigPic
			if src == "" {
				src = m.Src
			}
			images = append(images, Image{
				Hash:   imageHash(src),
				Width:  int(m.Width),
				Height: int(m.Height),
				Src:    src,
			})
		}
		page.Threads = append(page.Threads, Thread{
			Fname:      resp.Forum.Name,
			Tid:        int64(t.ID),
			Pid:        int64(t.FirstPostID),
			Title:      t.Title,
			Text:       text.String(),
			Images:     images,
			CreateTime: int64(t.CreateTime),
			LastTime:   int64(t.LastTimeInt),
			ReplyNum:   int64(t.ReplyNum),
			Author:     users[int64(t.AuthorID)],
		})
	}
	return page
}

func parsePostsResponse(resp *postsResponse) *PostPage {
	users := userTable(resp.UserList)
	page := &PostPage{
		Fname:     resp.Forum.Name,
		Fid:       int64(resp.Forum.ID),
		Tid:       int64(resp.Thread.ID),
		Title:     resp.Thread.Title,
		TotalPage: int64(resp.Page.TotalPage),
		ReplyNum:  make(map[int64]int64, len(resp.PostList)),
	}

	for _, p := range resp.PostList {
		text, images := fragContent(p.Content)
		page.Posts = append(page.Posts, Post{
			Fname:      page.Fname,
			Tid:        page.Tid,
			Pid:        int64(p.ID),
			Title:      page.Title,
			Text:       text,
			Images:     images,
			CreateTime: int64(p.Time),
			Floor:      int64(p.Floor),
			ReplyNum:   int64(p.SubPostNumber),
			Author:     users[int64(p.AuthorID)],
		})
		page.ReplyNum[int64(p.ID)] = int64(p.SubPostNumber)

		for _, sub := range p.SubPostList.SubPostList {
			text, _ := fragContent(sub.Content)
			page.Comments = append(page.Comments, Comment{
				Fname:      page.Fname,
				Tid:        page.Tid,
				Pid:        int64(sub.ID),
				Title:      page.Title,
				Text:       text,
				CreateTime: int64(sub.Time),
				Floor:      int64(p.Floor),
				Author:     users[int64(sub.AuthorID)],
			})
		}
	}
	return page
}

func parseCommentsResponse(resp *commentsResponse) *CommentPage {
	users := userTable(resp.UserList)
	page := &CommentPage{
		Tid:       int64(resp.Thread.ID),
		Title:     resp.Thread.Title,
		Floor:     int64(resp.Post.Floor),
		TotalPage: int64(resp.Page.TotalPage),
		Comments:  make([]Comment, 0, len(resp.SubPostList)),
	}

	for _, sub := range resp.SubPostList {
		text, _ := fragContent(sub.Content)
		page.Comments = append(page.Comments, Comment{
			Fname:      resp.Forum.Name,
			Tid:        page.Tid,
			Pid:        int64(sub.ID),
			Title:      page.Title,
			Text:       text,
			CreateTime: int64(sub.Time),
			Floor:      page.Floor,
			Author:     users[int64(sub.AuthorID)],
		})
	}
	return page
}
