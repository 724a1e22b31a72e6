package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"syntax-ai-go/internal/model"
	"syntax-ai-go/internal/repository"
	"syntax-ai-go/pkg/hash"
	"syntax-ai-go/pkg/log"
	"syntax-ai-go/pkg/token"

	"gorm.io/gorm"
)

// 认证失败的原因，文本直接展示给用户。
var (
	ErrMissingCredential  = errors.New("Please fill in all fields.")
	ErrInvalidAccessKey   = errors.New("Verification failed. Invalid token.")
	ErrAccessKeyConsumed  = errors.New("Access token already consumed.")
	ErrEmailTaken         = errors.New("Email already registered.")
	ErrNoProfile          = errors.New("No profile found in registry.")
	ErrInvalidCredentials = errors.New("Invalid email or password.")
	ErrSessionKeyExpired  = errors.New("Session key expired.")
	ErrSessionInactive    = errors.New("Session is not active.")
	ErrInvalidRefresh     = errors.New("Invalid refresh token.")
	ErrInvalidToken       = errors.New("Invalid or expired token.")
)

var authRejections = []error{
	ErrInvalidAccessKey, ErrAccessKeyConsumed, ErrEmailTaken, ErrNoProfile,
	ErrInvalidCredentials, ErrSessionKeyExpired, ErrSessionInactive, ErrInvalidRefresh,
	ErrInvalidToken,
}

// IsAuthRejected 判断 err 是否为凭证被拒绝（而非基础设施故障）。
func IsAuthRejected(err error) bool {
	for _, r := range authRejections {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}

// Credential 是一次认证请求携带的凭证。AccessToken 仅在注册时需要。
type Credential struct {
	Email       string
	Password    string
	AccessToken string
}

// Session 是一次成功登录后签发的会话。
type Session struct {
	User         *model.User `json:"user"`
	AccessToken  string      `json:"token"`
	RefreshToken string      `json:"refreshToken"`
	ExpiresAt    time.Time   `json:"expiresAt"`
}

// AuthService 接口定义了注册、登录与会话生命周期。
type AuthService interface {
	SignUp(ctx context.Context, cred Credential) (*model.User, error)
	Verify(ctx context.Context, cred Credential) (*model.User, error)
	StartSession(ctx context.Context, user *model.User) (*Session, error)
	CurrentSession(ctx context.Context, userID uint) (*model.User, error)
	EndSession(ctx context.Context, userID uint, accessToken string) error
	RefreshToken(ctx context.Context, refreshToken string) (*Session, error)
	// Authenticate 校验 access token（签名、类型、黑名单与会话标志）并返回对应用户。
	Authenticate(ctx context.Context, accessToken string) (*model.User, *token.CustomClaims, error)
}

type authService struct {
	userRepo   repository.UserRepository
	keyRepo    repository.AccessKeyRepository
	sessions   repository.SessionRepository
	workspaces WorkspaceService
	jwtManager *token.JWTManager
	sessionTTL time.Duration
}

// NewAuthService 创建一个新的 AuthService 实例。
func NewAuthService(
	userRepo repository.UserRepository,
	keyRepo repository.AccessKeyRepository,
	sessions repository.SessionRepository,
	workspaces WorkspaceService,
	jwtManager *token.JWTManager,
	sessionTTL time.Duration,
) AuthService {
	if sessionTTL <= 0 {
		sessionTTL = 7 * 24 * time.Hour
	}
	return &authService{
		userRepo:   userRepo,
		keyRepo:    keyRepo,
		sessions:   sessions,
		workspaces: workspaces,
		jwtManager: jwtManager,
		sessionTTL: sessionTTL,
	}
}

// SignUp 消费一次性访问令牌并创建用户档案。令牌消费与建档在同一事务中完成。
func (s *authService) SignUp(ctx context.Context, cred Credential) (*model.User, error) {
	email := normalizeEmail(cred.Email)
	accessToken := strings.TrimSpace(cred.AccessToken)
	if email == "" || cred.Password == "" || accessToken == "" {
		return nil, ErrMissingCredential
	}

	if _, err := s.userRepo.FindByEmail(email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashedPassword, err := hash.HashPassword(cred.Password)
	if err != nil {
		return nil, err
	}
	user := &model.User{
		Email:    email,
		Password: hashedPassword,
		Role:     model.UserRoleUser,
	}
	switch err := s.keyRepo.ConsumeAndCreateUser(accessToken, user); {
	case errors.Is(err, repository.ErrAccessKeyNotFound):
		return nil, ErrInvalidAccessKey
	case errors.Is(err, repository.ErrAccessKeyConsumed):
		return nil, ErrAccessKeyConsumed
	case err != nil:
		log.Errorf("[AuthService] 注册失败, email: %s, error: %v", email, err)
		return nil, err
	}

	log.Infof("[AuthService] 用户 '%s' 注册成功", email)
	return user, nil
}

// Verify 校验邮箱与密码，并确认注册时使用的访问令牌仍在登记簿中。
func (s *authService) Verify(ctx context.Context, cred Credential) (*model.User, error) {
	email := normalizeEmail(cred.Email)
	if email == "" || cred.Password == "" {
		return nil, ErrMissingCredential
	}

	user, err := s.userRepo.FindByEmail(email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoProfile
	}
	if err != nil {
		return nil, err
	}
	if !hash.CheckPasswordHash(cred.Password, user.Password) {
		return nil, ErrInvalidCredentials
	}

	if _, err := s.keyRepo.FindByCode(user.AccessKey); errors.Is(err, repository.ErrAccessKeyNotFound) {
		return nil, ErrSessionKeyExpired
	} else if err != nil {
		return nil, err
	}
	return user, nil
}

// StartSession 签发 token、标记会话活跃并初始化工作区。
func (s *authService) StartSession(ctx context.Context, user *model.User) (*Session, error) {
	session, tokens, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	// 每个用户只保留一个会话，之前签发的 token 随之失效
	if err := s.sessions.Activate(ctx, user.ID, tokens, s.sessionTTL); err != nil {
		return nil, err
	}
	s.workspaces.Open(user.ID)
	log.Infof("[AuthService] 用户 '%s' 会话开始", user.Email)
	return session, nil
}

// CurrentSession 返回会话活跃的用户档案。
func (s *authService) CurrentSession(ctx context.Context, userID uint) (*model.User, error) {
	active, err := s.sessions.IsActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrSessionInactive
	}
	user, err := s.userRepo.FindByID(userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoProfile
	}
	return user, err
}

// EndSession 把 access token 加入黑名单、清除会话标志并销毁工作区。
func (s *authService) EndSession(ctx context.Context, userID uint, accessToken string) error {
	if claims, err := s.jwtManager.VerifyToken(accessToken); err == nil {
		if err := s.sessions.Blacklist(ctx, accessToken, time.Until(claims.ExpiresAt.Time)); err != nil {
			return err
		}
	}
	if err := s.sessions.Deactivate(ctx, userID); err != nil {
		return err
	}
	s.workspaces.Close(userID)
	log.Infof("[AuthService] 用户 %d 会话结束", userID)
	return nil
}

// RefreshToken 验证 refresh token 并签发新的 access token 和 refresh token。
func (s *authService) RefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	claims, err := s.jwtManager.VerifyToken(refreshToken)
	if err != nil || claims.TokenType != token.TokenTypeRefresh {
		return nil, ErrInvalidRefresh
	}
	if black, err := s.sessions.IsBlacklisted(ctx, refreshToken); err != nil {
		return nil, err
	} else if black {
		return nil, ErrInvalidRefresh
	}
	user, err := s.CurrentSession(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if current, err := s.sessions.CurrentTokens(ctx, claims.UserID); err != nil {
		return nil, err
	} else if current.RefreshID != claims.ID {
		return nil, ErrInvalidRefresh
	}
	// 旧的 refresh token 只能使用一次
	if err := s.sessions.Blacklist(ctx, refreshToken, time.Until(claims.ExpiresAt.Time)); err != nil {
		return nil, err
	}
	return s.StartSession(ctx, user)
}

func (s *authService) Authenticate(ctx context.Context, accessToken string) (*model.User, *token.CustomClaims, error) {
	claims, err := s.jwtManager.VerifyToken(accessToken)
	if err != nil || claims.TokenType != token.TokenTypeAccess {
		return nil, nil, ErrInvalidToken
	}
	black, err := s.sessions.IsBlacklisted(ctx, accessToken)
	if err != nil {
		return nil, nil, err
	}
	if black {
		return nil, nil, ErrInvalidToken
	}
	user, err := s.CurrentSession(ctx, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	current, err := s.sessions.CurrentTokens(ctx, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	if current.AccessID != claims.ID {
		return nil, nil, ErrInvalidToken
	}
	return user, claims, nil
}

// issue 签发一对 token，并返回两者的 jti。
func (s *authService) issue(user *model.User) (*Session, repository.SessionTokens, error) {
	var tokens repository.SessionTokens
	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, tokens, err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, tokens, err
	}
	claims, err := s.jwtManager.VerifyToken(accessToken)
	if err != nil {
		return nil, tokens, err
	}
	refreshClaims, err := s.jwtManager.VerifyToken(refreshToken)
	if err != nil {
		return nil, tokens, err
	}
	tokens = repository.SessionTokens{AccessID: claims.ID, RefreshID: refreshClaims.ID}
	return &Session{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, tokens, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
