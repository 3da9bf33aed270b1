package models

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Profile is the backend-owned record for an application user. ID is the
// identity provider's user id.
type Profile struct {
	ID                string                 `bson:"_id" json:"id"`
	Email             string                 `bson:"email" json:"email"`
	FirstName         string                 `bson:"firstName,omitempty" json:"firstName,omitempty"`
	LastName          string                 `bson:"lastName,omitempty" json:"lastName,omitempty"`
	DisplayName       string                 `bson:"displayName,omitempty" json:"displayName,omitempty"`
	Role              string                 `bson:"role" json:"role"`
	TokenBalance      int64                  `bson:"tokenBalance" json:"tokenBalance"`
	IsFirstTimeUser   bool                   `bson:"isFirstTimeUser" json:"isFirstTimeUser"`
	ProfilePictureURL string                 `bson:"profilePictureUrl,omitempty" json:"profilePictureUrl,omitempty"`
	Settings          map[string]interface{} `bson:"settings,omitempty" json:"settings,omitempty"`
	Shortcuts         []string               `bson:"shortcuts,omitempty" json:"shortcuts,omitempty"`
	LoginRedirectURL  string                 `bson:"loginRedirectUrl,omitempty" json:"loginRedirectUrl,omitempty"`
	CreatedAt         time.Time              `bson:"createdAt" json:"createdAt"`
	UpdatedAt         time.Time              `bson:"updatedAt" json:"updatedAt"`
}

// ProfilePatch carries a partial profile. Nil fields are left untouched.
// It is the body of create and update requests.
type ProfilePatch struct {
	ID                *string                `json:"id,omitempty"`
	Email             *string                `json:"email,omitempty"`
	FirstName         *string                `json:"firstName,omitempty"`
	LastName          *string                `json:"lastName,omitempty"`
	DisplayName       *string                `json:"displayName,omitempty"`
	Role              *string                `json:"role,omitempty"`
	TokenBalance      *int64                 `json:"tokenBalance,omitempty"`
	IsFirstTimeUser   *bool                  `json:"isFirstTimeUser,omitempty"`
	ProfilePictureURL *string                `json:"profilePictureUrl,omitempty"`
	Settings          map[string]interface{} `json:"settings,omitempty"`
	Shortcuts         []string               `json:"shortcuts,omitempty"`
	LoginRedirectURL  *string                `json:"loginRedirectUrl,omitempty"`
}

// Apply copies the set fields of p onto dst. ID is never overwritten.
func (p ProfilePatch) Apply(dst *Profile) {
	if p.Email != nil {
		dst.Email = *p.Email
	}
	if p.FirstName != nil {
		dst.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		dst.LastName = *p.LastName
	}
	if p.DisplayName != nil {
		dst.DisplayName = *p.DisplayName
	}
	if p.Role != nil {
		dst.Role = *p.Role
	}
	if p.TokenBalance != nil {
		dst.TokenBalance = *p.TokenBalance
	}
	if p.IsFirstTimeUser != nil {
		dst.IsFirstTimeUser = *p.IsFirstTimeUser
	}
	if p.ProfilePictureURL != nil {
		dst.ProfilePictureURL = *p.ProfilePictureURL
	}
	if p.Settings != nil {
		dst.Settings = p.Settings
	}
	if p.Shortcuts != nil {
		dst.Shortcuts = p.Shortcuts
	}
	if p.LoginRedirectURL != nil {
		dst.LoginRedirectURL = *p.LoginRedirectURL
	}
}

// Str returns a pointer to s; handy for building patches.
func Str(s string) *string { return &s }

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }
