package discussion

import "github.com/erp/servicebus/internal/domain/identity"

// AuthorReferences visits every user reference in a comment thread: the
// comment's author, each reply's author, and each sub-reply's author and
// addressee. apply overwrites the referenced UserInfo in place.
func AuthorReferences(c *Comment, visit func(userID string, apply func(identity.UserInfo))) {
	if c == nil {
		return
	}
	visit(c.AuthorID, func(u identity.UserInfo) { c.Author = u })
	for _, r := range c.Replies {
		r := r
		visit(r.AuthorID, func(u identity.UserInfo) { r.Author = u })
		for _, s := range r.SubReplies {
			s := s
			visit(s.AuthorID, func(u identity.UserInfo) { s.Author = u })
			visit(s.ReplyToUserID, func(u identity.UserInfo) { s.ReplyToUser = u })
		}
	}
}

// UserIDs returns the distinct user IDs referenced by comments, in first-seen order
func UserIDs(comments []*Comment) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, c := range comments {
		AuthorReferences(c, func(id string, _ func(identity.UserInfo)) {
			if id == "" {
				return
			}
			if _, ok := seen[id]; ok {
				return
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		})
	}
	return ids
}
