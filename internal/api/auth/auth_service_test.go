package auth

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/voyaiage/go-tourism-chatbot/internal/types"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateUser(ctx context.Context, username, email, passwordHash string) (*types.UserAuth, error) {
	args := m.Called(ctx, username, email, passwordHash)
	if v := args.Get(0); v != nil {
		return v.(*types.UserAuth), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) GetUserByEmail(ctx context.Context, email string) (*types.UserAuth, error) {
	args := m.Called(ctx, email)
	if v := args.Get(0); v != nil {
		return v.(*types.UserAuth), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) GetUserByID(ctx context.Context, userID string) (*types.UserAuth, error) {
	args := m.Called(ctx, userID)
	if v := args.Get(0); v != nil {
		return v.(*types.UserAuth), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) StoreRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	return m.Called(ctx, userID, token, expiresAt).Error(0)
}

func (m *MockRepository) GetRefreshToken(ctx context.Context, token string) (string, time.Time, *time.Time, error) {
	args := m.Called(ctx, token)
	var invalidatedAt *time.Time
	if v := args.Get(2); v != nil {
		invalidatedAt = v.(*time.Time)
	}
	return args.String(0), args.Get(1).(time.Time), invalidatedAt, args.Error(3)
}

func (m *MockRepository) InvalidateRefreshToken(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func (m *MockRepository) InvalidateAllUserRefreshTokens(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func newTestService(repo Repository) *ServiceImpl {
	return NewService(repo, []byte("test-secret"), 15*time.Minute, 7*24*time.Hour, slog.New(slog.DiscardHandler))
}

func TestRegisterHashesPassword(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)

	repo.On("CreateUser", mock.Anything, "linh", "linh@example.com", mock.MatchedBy(func(hash string) bool {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cretpass")) == nil
	})).Return(&types.UserAuth{ID: "u1", Username: "linh", Email: "linh@example.com"}, nil)

	user, err := svc.Register(context.Background(), "linh", "Linh@Example.com", "s3cretpass")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	repo.AssertExpectations(t)
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)

	_, err := svc.Register(context.Background(), "linh", "linh@example.com", "short")
	assert.Error(t, err)
	repo.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLoginIssuesTokenPair(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cretpass"), bcrypt.MinCost)
	require.NoError(t, err)
	repo.On("GetUserByEmail", mock.Anything, "linh@example.com").Return(&types.UserAuth{
		ID:           "u1",
		Username:     "linh",
		Email:        "linh@example.com",
		PasswordHash: string(hash),
	}, nil)
	repo.On("StoreRefreshToken", mock.Anything, "u1", mock.Anything, mock.Anything).Return(nil)

	pair, err := svc.Login(context.Background(), "linh@example.com", "s3cretpass")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
}

func TestLoginWrongPassword(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cretpass"), bcrypt.MinCost)
	require.NoError(t, err)
	repo.On("GetUserByEmail", mock.Anything, "linh@example.com").Return(&types.UserAuth{
		ID:           "u1",
		PasswordHash: string(hash),
	}, nil)

	_, err = svc.Login(context.Background(), "linh@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginUnknownUser(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)

	repo.On("GetUserByEmail", mock.Anything, "nobody@example.com").Return(nil, ErrUserNotFound)

	_, err := svc.Login(context.Background(), "nobody@example.com", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefreshRotatesToken(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)

	repo.On("GetRefreshToken", mock.Anything, "old-token").
		Return("u1", time.Now().Add(time.Hour), nil, nil)
	repo.On("GetUserByID", mock.Anything, "u1").Return(&types.UserAuth{ID: "u1", Username: "linh"}, nil)
	repo.On("StoreRefreshToken", mock.Anything, "u1", mock.Anything, mock.Anything).Return(nil)
	repo.On("InvalidateRefreshToken", mock.Anything, "old-token").Return(nil)

	pair, err := svc.Refresh(context.Background(), "old-token")
	require.NoError(t, err)
	assert.NotEqual(t, "old-token", pair.RefreshToken)
	repo.AssertExpectations(t)
}

func TestRefreshRejectsExpiredToken(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)

	repo.On("GetRefreshToken", mock.Anything, "stale").
		Return("u1", time.Now().Add(-time.Hour), nil, nil)

	_, err := svc.Refresh(context.Background(), "stale")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestLogoutAllRevokesEveryToken(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)

	repo.On("InvalidateAllUserRefreshTokens", mock.Anything, "u1").Return(nil)

	require.NoError(t, svc.LogoutAll(context.Background(), "u1"))
	repo.AssertExpectations(t)
}

func TestRefreshRejectsRevokedToken(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo)

	revoked := time.Now().Add(-time.Minute)
	repo.On("GetRefreshToken", mock.Anything, "revoked").
		Return("u1", time.Now().Add(time.Hour), &revoked, nil)

	_, err := svc.Refresh(context.Background(), "revoked")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
