package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/rodrigoptu12/supportwhatsapp-sub000/models"
)

var ErrUserNotFound = errors.New("user not found")

// DirectoryService 部门与用户目录的只读接口
type DirectoryService struct {
	db *gorm.DB
}

func NewDirectoryService(db *gorm.DB) *DirectoryService {
	return &DirectoryService{db: db}
}

// ActiveDepartments 按展示顺序返回启用的部门
func (s *DirectoryService) ActiveDepartments() ([]models.Department, error) {
	var departments []models.Department
	err := s.db.Where("is_active = ?", true).Order("sort_order ASC").Find(&departments).Error
	if err != nil {
		return nil, err
	}
	return departments, nil
}

func (s *DirectoryService) GetUser(userID uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UserDepartmentIDs 查询用户所属的部门，供 presence 登记使用
func (s *DirectoryService) UserDepartmentIDs(ctx context.Context, userID uint) ([]uint, error) {
	var user models.User
	err := s.db.WithContext(ctx).Preload("Departments").First(&user, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	ids := make([]uint, 0, len(user.Departments))
	for _, dept := range user.Departments {
		ids = append(ids, dept.ID)
	}
	return ids, nil
}
