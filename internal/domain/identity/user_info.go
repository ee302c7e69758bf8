package identity

import "context"

// UserInfo is the public projection of a user that other services embed in
// their own entities. It is what the user directory resolves a user ID to.
type UserInfo struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	Email       string `json:"email,omitempty"`
}

// PlaceholderUserInfo returns the partial value an owner carries before its
// user reference has been resolved: only the ID is known.
func PlaceholderUserInfo(id string) UserInfo {
	return UserInfo{ID: id}
}

// IsResolved reports whether the value carries more than the bare ID
func (u UserInfo) IsResolved() bool {
	return u.Username != ""
}

// Key returns the user ID, which is the lookup key for enrichment
func (u UserInfo) Key() string {
	return u.ID
}

// UserDirectory is the store the user-info resolver answers from
type UserDirectory interface {
	// FindByIDs returns the users whose IDs are in ids. Unknown IDs are
	// omitted; the result order is unspecified.
	FindByIDs(ctx context.Context, ids []string) ([]UserInfo, error)
	// Save inserts or updates a user
	Save(ctx context.Context, user UserInfo) error
}
