package repository

import (
	"context"
	"errors"

	"blogger/internal/models"
	"blogger/internal/observability"

	"gorm.io/gorm"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	ListAdmins(ctx context.Context) ([]models.User, error)
	SetAdmin(ctx context.Context, username string, admin bool) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	defer observability.TrackQuery("create", "users")()
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.NewConflictError("username already taken")
		}
		return mapUserError(err, user.Username)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	defer observability.TrackQuery("get_by_id", "users")()
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, mapUserError(err, id)
	}
	return &user, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	defer observability.TrackQuery("get_by_username", "users")()
	var user models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, mapUserError(err, username)
	}
	return &user, nil
}

func (r *userRepository) ListAdmins(ctx context.Context) ([]models.User, error) {
	defer observability.TrackQuery("list_admins", "users")()
	var users []models.User
	if err := r.db.WithContext(ctx).Where("is_admin = ?", true).Order("username ASC").Find(&users).Error; err != nil {
		return nil, mapUserError(err, "admins")
	}
	return users, nil
}

func (r *userRepository) SetAdmin(ctx context.Context, username string, admin bool) error {
	defer observability.TrackQuery("set_admin", "users")()
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Update("is_admin", admin)
	if res.Error != nil {
		return mapUserError(res.Error, username)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("User", username)
	}
	return nil
}

func mapUserError(err error, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError("User", id)
	}
	observability.StorageErrors.WithLabelValues("users").Inc()
	return models.NewStorageUnavailableError(err)
}
