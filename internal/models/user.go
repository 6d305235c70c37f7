package models

import "time"

// MaxNicknameLength matches the users.nickname column, in characters.
const MaxNicknameLength = 100

type User struct {
	ID           int64
	Username     string
	PasswordHash []byte
	Nickname     *string
	CreatedAt    time.Time
	Deleted      bool
}

// DisplayName falls back to the username when no nickname is set.
func (u User) DisplayName() string {
	if u.Nickname != nil && *u.Nickname != "" {
		return *u.Nickname
	}
	return u.Username
}

type Session struct {
	ID        string
	UserID    int64
	Expiry    time.Time
	IPAudit   []string
	CreatedAt time.Time
}

// Active reports whether the session is still usable at now.
func (s Session) Active(now time.Time) bool {
	return s.Expiry.After(now)
}
