// Package domain defines the core business entities for the Splitly BFA.
// These models are independent of the document store and the mail provider
// and represent the canonical data structures used throughout the service.
package domain

// ============================================================
// Users
// ============================================================

// User is the read-only profile stored under users/{id}.
type User struct {
	ID          string `json:"id,omitempty"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

// ============================================================
// Friend requests
// ============================================================

// Friend request statuses. The only allowed transition is pending → accepted.
const (
	FriendStatusPending  = "pending"
	FriendStatusAccepted = "accepted"
)

// FriendRequest is the relationship document stored under
// users/{owner}/friends/{id}. Each side of the relationship keeps its own copy.
type FriendRequest struct {
	Status       string `json:"status"`
	RequestedBy  string `json:"requestedBy"`
	FriendUserID string `json:"friendUserId"`
	FriendName   string `json:"friendName,omitempty"`
	FriendEmail  string `json:"friendEmail"`
}

// IsPending reports whether the request still awaits an answer.
func (f *FriendRequest) IsPending() bool {
	return f != nil && f.Status == FriendStatusPending
}

// IsAccepted reports whether the request has been accepted.
func (f *FriendRequest) IsAccepted() bool {
	return f != nil && f.Status == FriendStatusAccepted
}
