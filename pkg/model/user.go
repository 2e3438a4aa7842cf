package model

import "time"

// UserInfo is the cached record of a platform participant.
type UserInfo struct {
	UserID      string
	DisplayName string
	Username    string
	IsBot       bool
	LastSeen    time.Time
}

// Touch refreshes LastSeen and, when non-empty, the display name —
// platforms may report a fresher nickname on every message.
func (u *UserInfo) Touch(displayName string, now time.Time) {
	if displayName != "" {
		u.DisplayName = displayName
	}
	u.LastSeen = now
}
