// Package discussion models threaded comments whose authors live in the
// user directory of another service. Entities carry the author's ID and an
// Author value that starts as a placeholder and is filled in by enrichment.
package discussion

import (
	"strings"
	"time"

	"github.com/erp/servicebus/internal/domain/identity"
	"github.com/erp/servicebus/internal/domain/shared"
	"github.com/google/uuid"
)

// MaxContentLength bounds the content of a comment or reply
const MaxContentLength = 2000

// ErrEmptyContent is returned when content is blank
var ErrEmptyContent = shared.NewDomainError("EMPTY_CONTENT", "content cannot be empty")

// ErrContentTooLong is returned when content exceeds MaxContentLength
var ErrContentTooLong = shared.NewDomainError("CONTENT_TOO_LONG", "content is too long")

// ErrMissingAuthor is returned when no author ID is given
var ErrMissingAuthor = shared.NewDomainError("MISSING_AUTHOR", "author id is required")

// Comment is a top-level comment on a subject (an article, a video, ...)
type Comment struct {
	ID        string
	SubjectID string
	AuthorID  string
	Author    identity.UserInfo
	Content   string
	CreatedAt time.Time
	Replies   []*Reply
}

// Reply answers a comment
type Reply struct {
	ID         string
	CommentID  string
	AuthorID   string
	Author     identity.UserInfo
	Content    string
	CreatedAt  time.Time
	SubReplies []*SubReply
}

// SubReply answers a reply or another sub-reply. ReplyToUserID names the
// user being answered.
type SubReply struct {
	ID            string
	ReplyID       string
	AuthorID      string
	Author        identity.UserInfo
	ReplyToUserID string
	ReplyToUser   identity.UserInfo
	Content       string
	CreatedAt     time.Time
}

// NewComment creates a comment with a placeholder author
func NewComment(subjectID, authorID, content string) (*Comment, error) {
	content, err := validate(authorID, content)
	if err != nil {
		return nil, err
	}
	return &Comment{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		AuthorID:  authorID,
		Author:    identity.PlaceholderUserInfo(authorID),
		Content:   content,
		CreatedAt: time.Now(),
	}, nil
}

// AddReply appends a reply by authorID
func (c *Comment) AddReply(authorID, content string) (*Reply, error) {
	content, err := validate(authorID, content)
	if err != nil {
		return nil, err
	}
	r := &Reply{
		ID:        uuid.NewString(),
		CommentID: c.ID,
		AuthorID:  authorID,
		Author:    identity.PlaceholderUserInfo(authorID),
		Content:   content,
		CreatedAt: time.Now(),
	}
	c.Replies = append(c.Replies, r)
	return r, nil
}

// AddSubReply appends a sub-reply by authorID answering replyToUserID. An
// empty replyToUserID answers the reply's author.
func (r *Reply) AddSubReply(authorID, replyToUserID, content string) (*SubReply, error) {
	content, err := validate(authorID, content)
	if err != nil {
		return nil, err
	}
	if replyToUserID == "" {
		replyToUserID = r.AuthorID
	}
	s := &SubReply{
		ID:            uuid.NewString(),
		ReplyID:       r.ID,
		AuthorID:      authorID,
		Author:        identity.PlaceholderUserInfo(authorID),
		ReplyToUserID: replyToUserID,
		ReplyToUser:   identity.PlaceholderUserInfo(replyToUserID),
		Content:       content,
		CreatedAt:     time.Now(),
	}
	r.SubReplies = append(r.SubReplies, s)
	return s, nil
}

// ReplyCount returns the number of replies and sub-replies under c
func (c *Comment) ReplyCount() int {
	n := len(c.Replies)
	for _, r := range c.Replies {
		n += len(r.SubReplies)
	}
	return n
}

func validate(authorID, content string) (string, error) {
	if strings.TrimSpace(authorID) == "" {
		return "", ErrMissingAuthor
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyContent
	}
	if len([]rune(content)) > MaxContentLength {
		return "", ErrContentTooLong
	}
	return content, nil
}
