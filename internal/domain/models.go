package domain

import (
	"sort"
	"time"
)

// Role values for User.Role.
const (
	RoleAdmin    = "admin"
	RoleStandard = "standard"
)

// DeletedPlaceholder replaces the body of a message the viewer may no longer see.
const DeletedPlaceholder = "This message was deleted"

// User is a portal account. The messaging layer only reads it.
type User struct {
	ID             string    `db:"id" json:"_id"`
	FullName       string    `db:"full_name" json:"fullName"`
	Email          string    `db:"email" json:"email"`
	Role           string    `db:"role" json:"role"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	IsActive       bool      `db:"is_active" json:"isActive"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// ViewerSet is the set of participant ids that deleted a message for
// themselves. Members are never removed.
type ViewerSet map[string]struct{}

func NewViewerSet(ids ...string) ViewerSet {
	s := make(ViewerSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id and reports whether it was newly added.
func (s ViewerSet) Add(id string) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

func (s ViewerSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in a stable order.
func (s ViewerSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Message is a direct message between two principals.
type Message struct {
	ID                 int64     `db:"id"`
	SenderID           string    `db:"sender_id"`
	RecipientID        string    `db:"recipient_id"`
	ConversationKey    string    `db:"conversation_key"`
	Body               string    `db:"body"` // encrypted at rest
	CreatedAt          time.Time `db:"created_at"`
	IsRead             bool      `db:"is_read"`
	IsEdited           bool      `db:"is_edited"`
	DeletedFor         ViewerSet `db:"-"`
	DeletedForEveryone bool      `db:"deleted_for_everyone"`
}

// IsParticipant reports whether userID is the sender or the recipient.
func (m *Message) IsParticipant(userID string) bool {
	return m.SenderID == userID || m.RecipientID == userID
}

// HiddenFor reports whether viewerID must see the placeholder instead of the body.
func (m *Message) HiddenFor(viewerID string) bool {
	return m.DeletedForEveryone || m.DeletedFor.Contains(viewerID)
}
