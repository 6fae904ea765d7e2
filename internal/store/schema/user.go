package schema

import (
	"time"

	"gorm.io/datatypes"
)

// User is a wallet-keyed profile. Usernames are globally unique.
type User struct {
	WalletAddress string         `gorm:"primaryKey;type:text" json:"wallet_address"`
	Username      string         `gorm:"type:text;not null;uniqueIndex:idx_users_username" json:"username"`
	Email         string         `gorm:"type:text" json:"email,omitempty"`
	Bio           string         `gorm:"type:text" json:"bio,omitempty"`
	ProfileImage  string         `gorm:"type:text" json:"profile_image,omitempty"`
	IsAdmin       bool           `gorm:"not null;default:false" json:"is_admin"`
	Settings      datatypes.JSON `gorm:"type:jsonb" json:"settings,omitempty"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	LastLogin     time.Time      `gorm:"type:timestamptz" json:"last_login"`
}

func (User) TableName() string {
	return "users"
}
