package models

import "time"

type User struct {
	ID           string     `bson:"_id" json:"id"`
	Username     string     `bson:"username" json:"username"`
	Email        string     `bson:"email" json:"email"`
	PasswordHash string     `bson:"password_hash" json:"-"`
	Avatar       string     `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Bio          string     `bson:"bio,omitempty" json:"bio,omitempty"`
	LastSeen     *time.Time `bson:"last_seen,omitempty" json:"last_seen,omitempty"`
	CreatedAt    time.Time  `bson:"created_at" json:"created_at"`
}

// PublicUser is the profile shown to other users.
type PublicUser struct {
	ID       string     `json:"id"`
	Username string     `json:"username"`
	Email    string     `json:"email"`
	Avatar   string     `json:"avatar,omitempty"`
	Bio      string     `json:"bio,omitempty"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Avatar:   u.Avatar,
		Bio:      u.Bio,
		LastSeen: u.LastSeen,
	}
}

// ProfilePatch holds optional profile fields; nil means unchanged.
type ProfilePatch struct {
	Username *string `json:"username,omitempty"`
	Avatar   *string `json:"avatar,omitempty"`
	Bio      *string `json:"bio,omitempty"`
}
