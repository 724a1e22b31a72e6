package service

import (
	"context"
	"testing"

	"syntax-ai-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_SignUpConsumesAccessKeyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.keys.Create(&model.AccessKey{KeyCode: "KEY-1"}))

	user, err := env.auth.SignUp(ctx, Credential{Email: " Dev@Example.com ", Password: "pw", AccessToken: "KEY-1"})
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", user.Email)
	assert.Equal(t, model.UserRoleUser, user.Role)
	assert.NotEqual(t, "pw", user.Password)

	_, err = env.auth.SignUp(ctx, Credential{Email: "other@example.com", Password: "pw", AccessToken: "KEY-1"})
	assert.ErrorIs(t, err, ErrAccessKeyConsumed)

	_, err = env.auth.SignUp(ctx, Credential{Email: "other@example.com", Password: "pw", AccessToken: "NOPE"})
	assert.ErrorIs(t, err, ErrInvalidAccessKey)
	assert.True(t, IsAuthRejected(err))

	require.NoError(t, env.keys.Create(&model.AccessKey{KeyCode: "KEY-2"}))
	_, err = env.auth.SignUp(ctx, Credential{Email: "dev@example.com", Password: "pw", AccessToken: "KEY-2"})
	assert.ErrorIs(t, err, ErrEmailTaken)
	key, err := env.keys.FindByCode("KEY-2")
	require.NoError(t, err)
	assert.False(t, key.IsUsed)
}

func TestAuthService_MissingCredential(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.auth.SignUp(ctx, Credential{Email: "a@b.c", Password: "pw"})
	assert.ErrorIs(t, err, ErrMissingCredential)
	_, err = env.auth.Verify(ctx, Credential{Email: "a@b.c"})
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.False(t, IsAuthRejected(err))
}

func TestAuthService_Verify(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.keys.Create(&model.AccessKey{KeyCode: "KEY-1"}))
	_, err := env.auth.SignUp(ctx, Credential{Email: "a@b.c", Password: "pw", AccessToken: "KEY-1"})
	require.NoError(t, err)

	user, err := env.auth.Verify(ctx, Credential{Email: "A@B.C", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", user.Email)

	_, err = env.auth.Verify(ctx, Credential{Email: "a@b.c", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = env.auth.Verify(ctx, Credential{Email: "x@y.z", Password: "pw"})
	assert.ErrorIs(t, err, ErrNoProfile)

	// 登记簿中的令牌被移除后，旧档案不能再登录
	require.NoError(t, env.db.Where("key_code = ?", "KEY-1").Delete(&model.AccessKey{}).Error)
	_, err = env.auth.Verify(ctx, Credential{Email: "a@b.c", Password: "pw"})
	assert.ErrorIs(t, err, ErrSessionKeyExpired)
}

func TestAuthService_SessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.keys.Create(&model.AccessKey{KeyCode: "KEY-1"}))
	user, err := env.auth.SignUp(ctx, Credential{Email: "a@b.c", Password: "pw", AccessToken: "KEY-1"})
	require.NoError(t, err)

	_, err = env.auth.CurrentSession(ctx, user.ID)
	assert.ErrorIs(t, err, ErrSessionInactive)

	session, err := env.auth.StartSession(ctx, user)
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)

	current, err := env.auth.CurrentSession(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, current.ID)

	authed, claims, err := env.auth.Authenticate(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, authed.ID)
	assert.Equal(t, "a@b.c", claims.Email)
	_, _, err = env.auth.Authenticate(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	refreshed, err := env.auth.RefreshToken(ctx, session.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, session.AccessToken, refreshed.AccessToken)
	// 刷新后旧的 access token 不再属于活跃会话
	_, _, err = env.auth.Authenticate(ctx, session.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = env.auth.RefreshToken(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefresh)
	_, err = env.auth.RefreshToken(ctx, refreshed.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidRefresh)

	require.NoError(t, env.auth.EndSession(ctx, user.ID, refreshed.AccessToken))
	black, err := env.sessions.IsBlacklisted(ctx, refreshed.AccessToken)
	require.NoError(t, err)
	assert.True(t, black)
	_, _, err = env.auth.Authenticate(ctx, refreshed.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = env.auth.CurrentSession(ctx, user.ID)
	assert.ErrorIs(t, err, ErrSessionInactive)
	_, err = env.auth.RefreshToken(ctx, refreshed.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionInactive)

	// 重新登录不能让之前会话里未过期的 token 复活
	again, err := env.auth.StartSession(ctx, user)
	require.NoError(t, err)
	_, _, err = env.auth.Authenticate(ctx, session.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, _, err = env.auth.Authenticate(ctx, refreshed.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = env.auth.RefreshToken(ctx, refreshed.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefresh)
	_, _, err = env.auth.Authenticate(ctx, again.AccessToken)
	require.NoError(t, err)
}

func TestAuthService_NewLoginSupersedesPreviousSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.keys.Create(&model.AccessKey{KeyCode: "KEY-1"}))
	user, err := env.auth.SignUp(ctx, Credential{Email: "a@b.c", Password: "pw", AccessToken: "KEY-1"})
	require.NoError(t, err)

	first, err := env.auth.StartSession(ctx, user)
	require.NoError(t, err)
	second, err := env.auth.StartSession(ctx, user)
	require.NoError(t, err)

	_, _, err = env.auth.Authenticate(ctx, first.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = env.auth.RefreshToken(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefresh)
	_, _, err = env.auth.Authenticate(ctx, second.AccessToken)
	require.NoError(t, err)
}

func TestAdminService(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.admin.EnsureAdmin("root@example.com", "secret"))
	require.NoError(t, env.admin.EnsureAdmin("root@example.com", "ignored"))
	require.NoError(t, env.admin.EnsureAdmin("", ""))

	root, err := env.auth.Verify(ctx, Credential{Email: "root@example.com", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, model.UserRoleAdmin, root.Role)

	_, err = env.admin.IssueAccessKeys(root, 0)
	assert.Error(t, err)
	issued, err := env.admin.IssueAccessKeys(root, 2)
	require.NoError(t, err)
	require.Len(t, issued, 2)
	assert.Len(t, issued[0].KeyCode, 16)
	assert.NotEqual(t, issued[0].KeyCode, issued[1].KeyCode)

	_, err = env.auth.SignUp(ctx, Credential{Email: "new@example.com", Password: "pw", AccessToken: issued[0].KeyCode})
	require.NoError(t, err)

	keys, err := env.admin.ListAccessKeys()
	require.NoError(t, err)
	assert.Len(t, keys, 3)
	used := 0
	for _, k := range keys {
		if k.IsUsed {
			used++
			assert.NotNil(t, k.UsedAt)
		}
	}
	assert.Equal(t, 2, used)

	list, err := env.admin.ListUsers(1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), list.TotalElements)
	assert.Equal(t, 2, list.TotalPages)
	require.Len(t, list.Content, 1)
	assert.Equal(t, "root@example.com", list.Content[0].Email)
}
