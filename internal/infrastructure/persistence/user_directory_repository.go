package persistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/erp/servicebus/internal/domain/identity"
	"github.com/erp/servicebus/internal/domain/shared"
	"github.com/erp/servicebus/internal/infrastructure/persistence/models"
)

// GormUserDirectoryRepository implements identity.UserDirectory using GORM
type GormUserDirectoryRepository struct {
	db *gorm.DB
}

// NewGormUserDirectoryRepository creates a new GormUserDirectoryRepository
func NewGormUserDirectoryRepository(db *gorm.DB) *GormUserDirectoryRepository {
	return &GormUserDirectoryRepository{db: db}
}

var _ identity.UserDirectory = (*GormUserDirectoryRepository)(nil)

// FindByIDs returns the users whose IDs are in ids. Unknown IDs are omitted.
func (r *GormUserDirectoryRepository) FindByIDs(ctx context.Context, ids []string) ([]identity.UserInfo, error) {
	if len(ids) == 0 {
		return []identity.UserInfo{}, nil
	}

	var rows []models.UserDirectoryModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}

	users := make([]identity.UserInfo, len(rows))
	for i := range rows {
		users[i] = rows[i].ToDomain()
	}
	return users, nil
}

// Save inserts the user or updates every column of an existing row
func (r *GormUserDirectoryRepository) Save(ctx context.Context, user identity.UserInfo) error {
	if user.ID == "" {
		return shared.ErrInvalidInput.Wrap(fmt.Errorf("user id is required"))
	}

	model := models.UserDirectoryModelFromDomain(user)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "display_name", "avatar", "email", "updated_at"}),
	}).Create(model).Error
}
