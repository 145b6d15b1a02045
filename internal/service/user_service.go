package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fathima-sithara/chat-app/internal/apperrors"
	"github.com/fathima-sithara/chat-app/internal/auth"
	"github.com/fathima-sithara/chat-app/internal/models"
	"github.com/fathima-sithara/chat-app/internal/repository"
	"github.com/fathima-sithara/chat-app/internal/utils"
	"go.uber.org/zap"
)

const defaultSearchLimit = 50

type RegisterInput struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthResult struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expires_at"`
	User      models.PublicUser `json:"user"`
}

type UserService struct {
	store repository.UserRepository
	jwt   *auth.JWTManager
	log   *zap.Logger
}

func NewUserService(store repository.UserRepository, jwt *auth.JWTManager, log *zap.Logger) *UserService {
	return &UserService{store: store, jwt: jwt, log: log}
}

func (s *UserService) issue(u *models.User) (*AuthResult, error) {
	token, exp, err := s.jwt.GenerateToken(u.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "token generation failed", err)
	}
	return &AuthResult{Token: token, ExpiresAt: exp, User: u.Public()}, nil
}

func (s *UserService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := utils.Validate(in); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "hash password", err)
	}
	u := &models.User{
		ID:           utils.NewID(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		CreatedAt:    utils.NowUTC().Truncate(time.Millisecond),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.ErrEmailTaken
		}
		return nil, apperrors.Transient(err)
	}
	s.log.Info("user registered", zap.String("user_id", u.ID))
	return s.issue(u)
}

func (s *UserService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := utils.Validate(in); err != nil {
		return nil, err
	}
	u, err := s.store.GetUserByEmail(ctx, in.Email)
	if err != nil {
		return nil, storeErr(err, apperrors.ErrInvalidCredentials)
	}
	if err := auth.CheckPassword(u.PasswordHash, in.Password); err != nil {
		return nil, apperrors.ErrInvalidCredentials
	}
	return s.issue(u)
}

func (s *UserService) Me(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err, apperrors.ErrUserNotFound)
	}
	return u, nil
}

func (s *UserService) GetPublic(ctx context.Context, userID string) (models.PublicUser, error) {
	u, err := s.Me(ctx, userID)
	if err != nil {
		return models.PublicUser{}, err
	}
	return u.Public(), nil
}

// UpdateProfile applies the non-nil fields of patch. A blank username is ignored.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, patch models.ProfilePatch) (*models.User, error) {
	if patch.Username != nil {
		name := strings.TrimSpace(*patch.Username)
		switch {
		case name == "":
			patch.Username = nil
		case len(name) < 3 || len(name) > 32:
			return nil, apperrors.Validation("username must be between 3 and 32 characters long")
		default:
			patch.Username = &name
		}
	}
	u, err := s.store.UpdateProfile(ctx, userID, patch)
	if err != nil {
		return nil, storeErr(err, apperrors.ErrUserNotFound)
	}
	return u, nil
}

// Search lists other users whose username or email contains query.
func (s *UserService) Search(ctx context.Context, requesterID, query string, limit int) ([]models.PublicUser, error) {
	if limit <= 0 || limit > defaultSearchLimit {
		limit = defaultSearchLimit
	}
	users, err := s.store.SearchUsers(ctx, requesterID, strings.TrimSpace(query), limit)
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	out := make([]models.PublicUser, len(users))
	for i := range users {
		out[i] = users[i].Public()
	}
	return out, nil
}

func (s *UserService) ListOthers(ctx context.Context, requesterID string) ([]models.PublicUser, error) {
	return s.Search(ctx, requesterID, "", 0)
}

// TouchLastSeen records when a user's last connection closed.
func (s *UserService) TouchLastSeen(ctx context.Context, userID string) {
	if err := s.store.SetLastSeen(ctx, userID, utils.NowUTC()); err != nil {
		s.log.Warn("set last seen failed", zap.String("user_id", userID), zap.Error(err))
	}
}
