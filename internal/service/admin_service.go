package service

import (
	"errors"
	"fmt"
	"strings"

	"syntax-ai-go/internal/model"
	"syntax-ai-go/internal/repository"
	"syntax-ai-go/pkg/hash"
	"syntax-ai-go/pkg/log"
	"syntax-ai-go/pkg/token"

	"gorm.io/gorm"
)

// maxKeysPerRequest 限制单次签发的访问令牌数量。
const maxKeysPerRequest = 100

// UserListResponse 定义了用户列表 API 的响应结构。
type UserListResponse struct {
	Content       []UserDetailResponse `json:"content"`
	TotalElements int64                `json:"totalElements"`
	TotalPages    int                  `json:"totalPages"`
	Size          int                  `json:"size"`
	Number        int                  `json:"number"`
}

// UserDetailResponse 定义了用户列表项的详细结构。
type UserDetailResponse struct {
	UserID    uint            `json:"userId"`
	Email     string          `json:"email"`
	Role      string          `json:"role"`
	CreatedAt model.LocalTime `json:"createdAt"`
}

// AccessKeyResponse 定义了访问令牌列表项的结构。
type AccessKeyResponse struct {
	KeyCode   string           `json:"keyCode"`
	IsUsed    bool             `json:"isUsed"`
	CreatedBy uint             `json:"createdBy"`
	CreatedAt model.LocalTime  `json:"createdAt"`
	UsedAt    *model.LocalTime `json:"usedAt,omitempty"`
}

// AdminService 接口定义了所有管理员相关的业务操作。
type AdminService interface {
	IssueAccessKeys(creator *model.User, count int) ([]AccessKeyResponse, error)
	ListAccessKeys() ([]AccessKeyResponse, error)
	ListUsers(page, size int) (*UserListResponse, error)
	// EnsureAdmin 在管理员账号不存在时创建它，连同一枚已消费的访问令牌。
	EnsureAdmin(email, password string) error
}

// adminService 是 AdminService 接口的实现。
type adminService struct {
	keyRepo  repository.AccessKeyRepository
	userRepo repository.UserRepository
}

// NewAdminService 创建一个新的 AdminService 实例。
func NewAdminService(keyRepo repository.AccessKeyRepository, userRepo repository.UserRepository) AdminService {
	return &adminService{keyRepo: keyRepo, userRepo: userRepo}
}

// IssueAccessKeys 签发 count 枚新的一次性访问令牌。
func (s *adminService) IssueAccessKeys(creator *model.User, count int) ([]AccessKeyResponse, error) {
	if count <= 0 || count > maxKeysPerRequest {
		return nil, fmt.Errorf("count 必须在 1 到 %d 之间", maxKeysPerRequest)
	}
	issued := make([]AccessKeyResponse, 0, count)
	for i := 0; i < count; i++ {
		key := &model.AccessKey{
			KeyCode:   newKeyCode(),
			CreatedBy: creator.ID,
		}
		if err := s.keyRepo.Create(key); err != nil {
			log.Errorf("[AdminService] 签发访问令牌失败: %v", err)
			return nil, fmt.Errorf("签发访问令牌失败: %w", err)
		}
		issued = append(issued, toAccessKeyResponse(*key))
	}
	log.Infof("[AdminService] 管理员 '%s' 签发了 %d 枚访问令牌", creator.Email, count)
	return issued, nil
}

func (s *adminService) ListAccessKeys() ([]AccessKeyResponse, error) {
	keys, err := s.keyRepo.FindAll()
	if err != nil {
		return nil, err
	}
	out := make([]AccessKeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, toAccessKeyResponse(k))
	}
	return out, nil
}

// ListUsers 分页列出用户，page 从 1 开始。
func (s *adminService) ListUsers(page, size int) (*UserListResponse, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}
	users, total, err := s.userRepo.FindWithPagination((page-1)*size, size)
	if err != nil {
		return nil, err
	}
	content := make([]UserDetailResponse, 0, len(users))
	for _, u := range users {
		content = append(content, UserDetailResponse{
			UserID:    u.ID,
			Email:     u.Email,
			Role:      u.Role,
			CreatedAt: model.LocalTime(u.CreatedAt),
		})
	}
	return &UserListResponse{
		Content:       content,
		TotalElements: total,
		TotalPages:    int((total + int64(size) - 1) / int64(size)),
		Size:          size,
		Number:        page,
	}, nil
}

func (s *adminService) EnsureAdmin(email, password string) error {
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}
	_, err := s.userRepo.FindByEmail(email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if password == "" {
		return errors.New("管理员密码不能为空")
	}

	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return err
	}
	key := &model.AccessKey{KeyCode: newKeyCode()}
	if err := s.keyRepo.Create(key); err != nil {
		return err
	}
	admin := &model.User{Email: email, Password: hashedPassword, Role: model.UserRoleAdmin}
	if err := s.keyRepo.ConsumeAndCreateUser(key.KeyCode, admin); err != nil {
		return err
	}
	log.Infof("[AdminService] 已创建管理员账号 '%s'", email)
	return nil
}

func newKeyCode() string {
	return strings.ToUpper(token.GenerateRandomString(8))
}

func toAccessKeyResponse(k model.AccessKey) AccessKeyResponse {
	r := AccessKeyResponse{
		KeyCode:   k.KeyCode,
		IsUsed:    k.IsUsed,
		CreatedBy: k.CreatedBy,
		CreatedAt: model.LocalTime(k.CreatedAt),
	}
	if k.UsedAt != nil {
		used := model.LocalTime(*k.UsedAt)
		r.UsedAt = &used
	}
	return r
}
