package models

import (
	"time"

	"github.com/erp/servicebus/internal/domain/identity"
)

// UserDirectoryModel is the persistence model for identity.UserInfo
type UserDirectoryModel struct {
	ID          string    `gorm:"type:varchar(64);primaryKey"`
	Username    string    `gorm:"type:varchar(100);not null;uniqueIndex"`
	DisplayName string    `gorm:"type:varchar(200)"`
	Avatar      string    `gorm:"type:varchar(500)"`
	Email       string    `gorm:"type:varchar(200);index"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (UserDirectoryModel) TableName() string {
	return "user_directory"
}

// ToDomain converts the persistence model to a domain UserInfo
func (m *UserDirectoryModel) ToDomain() identity.UserInfo {
	return identity.UserInfo{
		ID:          m.ID,
		Username:    m.Username,
		DisplayName: m.DisplayName,
		Avatar:      m.Avatar,
		Email:       m.Email,
	}
}

// UserDirectoryModelFromDomain creates a persistence model from a domain UserInfo
func UserDirectoryModelFromDomain(u identity.UserInfo) *UserDirectoryModel {
	return &UserDirectoryModel{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Avatar:      u.Avatar,
		Email:       u.Email,
	}
}
