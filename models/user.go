package models

import (
	"context"
	"time"

	"bitbucket.org/tablefocus/restoops_backend/config"
	"bitbucket.org/tablefocus/restoops_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type UserRole string

const (
	UserRoleAdmin   UserRole = "admin"
	UserRoleManager UserRole = "manager"
	UserRoleStaff   UserRole = "staff"
)

type User struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;size:191;not null" json:"business_id"`
	Username   string    `gorm:"unique;size:100;not null" json:"username" binding:"required"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email      *string   `gorm:"unique;size:255" json:"email"`
	Password   string    `gorm:"size:255;not null" json:"-"`
	Role       UserRole  `gorm:"size:20;not null;default:'staff'" json:"role"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username string   `json:"username" binding:"required"`
	Name     string   `json:"name" binding:"required"`
	Email    *string  `json:"email"`
	Password string   `json:"password" binding:"required,min=7"`
	Role     UserRole `json:"role"`
}

func CreateUser(ctx context.Context, businessId string, input *NewUser) (*User, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	if err := utils.ValidateUnique[User](ctx, businessId, "username", input.Username, 0); err != nil {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "username is already taken")
	}
	if input.Email != nil {
		if !utils.IsValidEmail(*input.Email) {
			return nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "invalid email")
		}
		if err := utils.ValidateUnique[User](ctx, businessId, "email", *input.Email, 0); err != nil {
			return nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "email is already taken")
		}
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	role := input.Role
	if role == "" {
		role = UserRoleStaff
	}

	user := User{
		BusinessId: businessId,
		Username:   input.Username,
		Name:       input.Name,
		Email:      input.Email,
		Password:   hashed,
		Role:       role,
		IsActive:   utils.NewTrue(),
	}

	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		logger.WithFields(logrus.Fields{
			"module":     "User",
			"func":       "CreateUser",
			"businessId": businessId,
			"username":   input.Username,
		}).Error(err)
		return nil, err
	}

	return &user, nil
}

type AuthPayload struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

func Login(ctx context.Context, username string, password string) (*AuthPayload, error) {
	db := config.GetDB()

	var user User
	err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "invalid username or password")
		}
		return nil, err
	}

	if !utils.CheckPasswordHash(password, user.Password) {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "invalid username or password")
	}
	if user.IsActive != nil && !*user.IsActive {
		return nil, utils.NewAppError(utils.ErrorCodeInvalidState, "user account is disabled")
	}

	token, err := utils.JwtGenerate(user.ID, user.BusinessId, string(user.Role))
	if err != nil {
		return nil, err
	}

	return &AuthPayload{Token: token, User: &user}, nil
}

func GetUserById(ctx context.Context, businessId string, id int) (*User, error) {
	return utils.FetchModel[User](ctx, businessId, id)
}
