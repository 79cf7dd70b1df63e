// Package auth はパスワード認証とセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/teamman/internal/activity"
	"github.com/hitoshi/teamman/internal/model"
	"github.com/hitoshi/teamman/internal/repository"
	"github.com/hitoshi/teamman/internal/security"
	"github.com/hitoshi/teamman/internal/team"
)

// minPasswordLength はパスワードの最小文字数。
const minPasswordLength = 8

// PasswordHasher はパスワードのハッシュ化と照合のインターフェース。
type PasswordHasher interface {
	// Hash は平文パスワードのハッシュを生成する。
	Hash(password string) (string, error)
	// Compare はハッシュと平文パスワードを照合する。一致しない場合はエラーを返す。
	Compare(hash, password string) error
}

// bcryptHasher はPasswordHasherのbcrypt実装。
type bcryptHasher struct {
	cost int
}

// NewBcryptHasher はbcryptによるPasswordHasherを生成する。
func NewBcryptHasher() PasswordHasher {
	return &bcryptHasher{cost: bcrypt.DefaultCost}
}

func (h *bcryptHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}
	return string(b), nil
}

func (h *bcryptHasher) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// dummyBcryptHash はユーザー不在時のタイミング均一化に使用するダミーハッシュ。
var dummyBcryptHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// TeamCreator は新規ユーザーの個人チーム作成インターフェース。
type TeamCreator interface {
	Create(ctx context.Context, actor team.Actor, name, ip string) (*model.Team, error)
}

// InvitationAcceptor はサインアップ時の招待受諾インターフェース。
type InvitationAcceptor interface {
	Accept(ctx context.Context, userID, invitationID, ip string) (*model.Invitation, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// SignUpParams はサインアップの入力を表す。
// InvitationID が指定された場合は登録後にその招待を受諾し、
// 指定されない場合は本人用の個人チームを作成する。
type SignUpParams struct {
	Name         string
	Email        string
	Password     string
	InvitationID *string
	IPAddress    string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	hasher      PasswordHasher
	sanitizer   security.NameSanitizerService
	teams       TeamCreator
	invitations InvitationAcceptor
	recorder    *activity.Recorder
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	hasher PasswordHasher,
	sanitizer security.NameSanitizerService,
	teams TeamCreator,
	invitations InvitationAcceptor,
	recorder *activity.Recorder,
	config ServiceConfig,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		hasher:      hasher,
		sanitizer:   sanitizer,
		teams:       teams,
		invitations: invitations,
		recorder:    recorder,
		config:      config,
	}
}

// SignUp は新規ユーザーを登録し、セッションを発行する。
// 招待経由の場合は招待チームへ参加し、そうでない場合は個人チームを作成する。
// 参加・チーム作成の失敗は登録自体を失敗させない（後から再試行できる）。
func (s *Service) SignUp(ctx context.Context, params SignUpParams) (*model.User, *model.Session, error) {
	name := s.sanitizer.SanitizeName(params.Name)
	if name == "" {
		return nil, nil, model.NewInvalidRequestError("表示名が空です")
	}
	email, err := normalizeEmail(params.Email)
	if err != nil {
		return nil, nil, err
	}
	if len(params.Password) < minPasswordLength {
		return nil, nil, model.NewInvalidRequestError(
			fmt.Sprintf("パスワードは%d文字以上にしてください", minPasswordLength))
	}

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         model.RoleMember,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, nil, err
	}

	s.recorder.Record(ctx, activity.Entry{
		UserID:    &user.ID,
		Action:    model.ActivitySignUp,
		IPAddress: params.IPAddress,
		UserName:  user.Name,
		UserEmail: user.Email,
	})

	if params.InvitationID != nil {
		if _, err := s.invitations.Accept(ctx, user.ID, *params.InvitationID, params.IPAddress); err != nil {
			slog.Warn("サインアップ時の招待受諾に失敗しました",
				slog.String("user_id", user.ID),
				slog.String("invitation_id", *params.InvitationID),
				slog.String("error", err.Error()),
			)
		}
	} else {
		teamName := fmt.Sprintf("%s のチーム", name)
		if _, err := s.teams.Create(ctx, team.Actor{ID: user.ID, Role: user.Role}, teamName, params.IPAddress); err != nil {
			slog.Warn("個人チームの作成に失敗しました",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("セッションの作成に失敗しました: %w", err)
	}

	slog.Info("新規ユーザーが登録されました", slog.String("user_id", user.ID))

	user.PasswordHash = ""
	return user, session, nil
}

// SignIn はメールアドレスとパスワードで認証し、セッションを発行する。
// ユーザーの存在有無を応答時間から区別させないため、
// 不在時もダミーハッシュとの照合を行う。
func (s *Service) SignIn(ctx context.Context, email, password, ip string) (*model.User, *model.Session, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	user, err := s.userRepo.FindByEmail(ctx, normalized, true)
	if err != nil {
		return nil, nil, fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
	}
	if user == nil {
		_ = s.hasher.Compare(dummyBcryptHash, password)
		return nil, nil, model.NewInvalidCredentialsError()
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("セッションの作成に失敗しました: %w", err)
	}

	s.recorder.Record(ctx, activity.Entry{
		UserID:    &user.ID,
		Action:    model.ActivitySignIn,
		IPAddress: ip,
		UserName:  user.Name,
		UserEmail: user.Email,
	})

	slog.Info("ユーザーがログインしました", slog.String("user_id", user.ID))

	user.PasswordHash = ""
	return user, session, nil
}

// SignOut はセッションを破棄する。
// セッションが存在しない場合も成功する（冪等）。
func (s *Service) SignOut(ctx context.Context, sessionID, ip string) error {
	if sessionID == "" {
		return nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	if session != nil {
		s.recorder.Record(ctx, activity.Entry{
			UserID:    &session.UserID,
			Action:    model.ActivitySignOut,
			IPAddress: ip,
		})
		slog.Info("ユーザーがログアウトしました", slog.String("user_id", session.UserID))
	}

	return nil
}

// CurrentUser はセッションから現在のユーザーを取得する。
// セッションが無効・期限切れ、またはユーザーが論理削除済みの場合は未認証エラーを返す。
func (s *Service) CurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	if session == nil {
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}

	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("セッションIDの生成に失敗しました: %w", err)
	}

	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: time.Now(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("セッションの保存に失敗しました: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// normalizeEmail はメールアドレスを検証して小文字化する。
func normalizeEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return "", model.NewInvalidRequestError("メールアドレスが空です")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", model.NewInvalidRequestError(fmt.Sprintf("メールアドレスの形式が不正です: %s", trimmed))
	}
	return strings.ToLower(trimmed), nil
}
