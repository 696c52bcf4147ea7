package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultFitbitAuthURL  = "https://www.fitbit.com/oauth2/authorize"
	defaultFitbitTokenURL = "https://api.fitbit.com/oauth2/token"
)

// ProviderToken はデータプロバイダーから取得したトークン一式を表す。
// 平文トークンはメモリ上でのみ扱い、永続化前に必ず暗号化すること。
type ProviderToken struct {
	AccessToken    string
	RefreshToken   string
	ProviderUserID string
	ExpiresAt      time.Time
	Scopes         []string
}

// DataProvider はデータプロバイダーOAuthのインターフェース。
// 認証URL生成・コード交換・リフレッシュの3操作に絞った
// プロバイダー能力の抽象化で、IDプロバイダーとは独立している。
type DataProvider interface {
	// GetConnectURL はデータプロバイダーの認可URLを生成する。
	GetConnectURL(state string) string
	// ExchangeCode は認可コードをトークン一式に交換する。
	ExchangeCode(ctx context.Context, code string) (*ProviderToken, error)
	// Refresh はリフレッシュトークンで新しいトークン一式を取得する。
	Refresh(ctx context.Context, refreshToken string) (*ProviderToken, error)
}

// FitbitProviderConfig はFitbitデータプロバイダーの設定。
type FitbitProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string

	// Timeout はトークンエンドポイントへの通信タイムアウト。
	// ゼロの場合は10秒。
	Timeout time.Duration
}

// FitbitProvider はFitbit OAuth 2.0によるトークン取得・更新を提供する。
// golang.org/x/oauth2のauthorization codeフローを使用する。
type FitbitProvider struct {
	config *oauth2.Config
	client *http.Client
}

// NewFitbitProvider はFitbitProviderを生成する。
func NewFitbitProvider(cfg FitbitProviderConfig) *FitbitProvider {
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = defaultFitbitAuthURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultFitbitTokenURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &FitbitProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
			},
		},
		client: &http.Client{Timeout: timeout},
	}
}

// GetConnectURL はFitbitの認可URLを生成する。
func (p *FitbitProvider) GetConnectURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// ExchangeCode は認可コードをトークン一式に交換する。
func (p *FitbitProvider) ExchangeCode(ctx context.Context, code string) (*ProviderToken, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	return p.toProviderToken(token)
}

// Refresh はリフレッシュトークンで新しいトークン一式を取得する。
// Fitbitはリフレッシュのたびに新しいリフレッシュトークンを発行するため、
// 戻り値のトークン一式で保存行を丸ごと置き換えること。
func (p *FitbitProvider) Refresh(ctx context.Context, refreshToken string) (*ProviderToken, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	src := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		// 分類はTokenServiceが行うため、リフレッシュ失敗はラップせずそのまま返す
		return nil, err
	}

	return p.toProviderToken(token)
}

// toProviderToken はoauth2.TokenをProviderTokenに変換する。
// Fitbitのトークンレスポンスはuser_idとscopeを追加フィールドで返す。
func (p *FitbitProvider) toProviderToken(token *oauth2.Token) (*ProviderToken, error) {
	if token.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("empty refresh token in response")
	}

	userID, _ := token.Extra("user_id").(string)

	var scopes []string
	if scope, ok := token.Extra("scope").(string); ok {
		scopes = strings.Fields(scope)
	}
	if len(scopes) == 0 {
		scopes = p.config.Scopes
	}

	return &ProviderToken{
		AccessToken:    token.AccessToken,
		RefreshToken:   token.RefreshToken,
		ProviderUserID: userID,
		ExpiresAt:      token.Expiry,
		Scopes:         scopes,
	}, nil
}

// compile-time interface check
var _ DataProvider = (*FitbitProvider)(nil)
