// Package auth はOAuth認証フロー、セッション管理、トークン管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/meallog/internal/model"
	"github.com/hitoshi/meallog/internal/repository"
)

// IdentityUserInfo はIDプロバイダーから取得したユーザー情報を表す。
type IdentityUserInfo struct {
	Email         string
	EmailVerified bool
	Name          string
}

// IdentityProvider はログイン用IDプロバイダーのインターフェース。
// 将来的に複数IdP（Google, GitHub等）に対応するための抽象化。
type IdentityProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*IdentityUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int      // セッション有効期間（秒）
	AllowedEmails []string // 許可メールアドレス（小文字）。空の場合は全拒否。
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	idp         IdentityProvider
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	idp IdentityProvider,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		idp:         idp,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		config:      config,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.idp.GetLoginURL(state)
}

// HandleCallback はIDプロバイダーのOAuthコールバックを処理し、セッションを発行する。
// stateの検証は呼び出し側（ハンドラー）がトークン交換より前に行うこと。
// メールアドレスは小文字に正規化し、許可リスト外の場合はEMAIL_NOT_ALLOWEDで拒否する。
// ユーザーはメールアドレスをキーにUPSERTされる（既存の場合は表示名のみ更新）。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	userInfo, err := s.idp.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. 検証済みメールアドレスのみ受け付ける
	if !userInfo.EmailVerified {
		slog.Warn("login rejected: email not verified")
		return nil, model.NewEmailNotAllowedError()
	}

	email := strings.ToLower(userInfo.Email)
	if !s.emailAllowed(email) {
		slog.Warn("login rejected: email not in allow-list")
		return nil, model.NewEmailNotAllowedError()
	}

	// 3. ユーザーをUPSERT
	user, err := s.userRepo.UpsertByEmail(ctx, email, userInfo.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	// 4. セッションを発行
	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
	)

	return session, nil
}

// TestLogin はIDプロバイダーを経由せずにユーザーとセッションを作成する。
// ローカル開発専用。設定でENABLE_TEST_LOGINが有効な場合のみ
// ハンドラーから呼ばれる。許可リストの検証は通常ログインと同一。
func (s *Service) TestLogin(ctx context.Context, email, name string) (*model.Session, error) {
	email = strings.ToLower(email)
	if !s.emailAllowed(email) {
		return nil, model.NewEmailNotAllowedError()
	}

	user, err := s.userRepo.UpsertByEmail(ctx, email, name)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("test login",
		slog.String("user_id", user.ID),
	)

	return session, nil
}

// Logout はセッションを破棄する。
// 参照先セッションが既に存在しない場合もエラーにしない（冪等）。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, *model.Session, error) {
	if sessionID == "" {
		return nil, nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil, fmt.Errorf("session not found or expired")
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil, fmt.Errorf("user not found")
	}

	return user, session, nil
}

// emailAllowed はメールアドレスが許可リストに含まれるかを判定する。
// emailは小文字正規化済みであること。
func (s *Service) emailAllowed(email string) bool {
	for _, allowed := range s.config.AllowedEmails {
		if allowed == email {
			return true
		}
	}
	return false
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: time.Now(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
// 32バイト（256ビット）の乱数をhexエンコードする。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateState はCSRF対策用のランダムなOAuth state値を生成する。
// IDプロバイダー・データプロバイダー両フローで共通に使用する。
func GenerateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
