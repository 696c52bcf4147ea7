// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, credential, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthMissingSession = "AUTH_MISSING_SESSION"
	ErrCodeStateMismatch      = "STATE_MISMATCH"
	ErrCodeEmailNotAllowed    = "EMAIL_NOT_ALLOWED"
	ErrCodeCredentialsMissing = "CREDENTIALS_MISSING"
	ErrCodeTokenInvalid       = "TOKEN_INVALID"
	ErrCodeScopeMissing       = "SCOPE_MISSING"
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrCodeTampered           = "TAMPERED"
	ErrCodeInvalidFormat      = "INVALID_FORMAT"
	ErrCodeUpstreamFailure    = "UPSTREAM_FAILURE"
	ErrCodeLogNotFound        = "LOG_NOT_FOUND"
	ErrCodeInvalidMealType    = "INVALID_MEAL_TYPE"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
)

// NewAuthMissingSessionError は未認証エラーを生成する。
// Cookieセッション・APIキーのいずれの認証失敗でも同一のエラーを返し、
// 失敗理由の違いを呼び出し側に漏らさない。
func NewAuthMissingSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthMissingSession,
		Message:  "認証されていません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewStateMismatchError はOAuth stateの不一致エラーを生成する。
// CSRF防御のため、このエラーは決して救済されない。
func NewStateMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeStateMismatch,
		Message:  "OAuth stateパラメータが一致しません。",
		Category: "auth",
		Action:   "最初からログインをやり直してください。",
	}
}

// NewEmailNotAllowedError は許可リスト外メールアドレスのエラーを生成する。
// ポリシーによる拒否でありバグではない。
func NewEmailNotAllowedError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailNotAllowed,
		Message:  "このメールアドレスでは利用できません。",
		Category: "auth",
		Action:   "許可されたGoogleアカウントでログインしてください。",
	}
}

// NewCredentialsMissingError はFitbit連携未設定のエラーを生成する。
func NewCredentialsMissingError() *APIError {
	return &APIError{
		Code:     ErrCodeCredentialsMissing,
		Message:  "Fitbit連携が設定されていません。",
		Category: "credential",
		Action:   "設定画面からFitbitアカウントを接続してください。",
	}
}

// NewTokenInvalidError はリフレッシュトークン失効のエラーを生成する。
func NewTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenInvalid,
		Message:  "Fitbitの認可が失効しています。",
		Category: "credential",
		Action:   "Fitbitアカウントを再接続してください。",
	}
}

// NewScopeMissingError はスコープ不足のエラーを生成する。
func NewScopeMissingError() *APIError {
	return &APIError{
		Code:     ErrCodeScopeMissing,
		Message:  "Fitbit連携に必要な権限が不足しています。",
		Category: "credential",
		Action:   "Fitbitアカウントを再認可し、要求された権限をすべて許可してください。",
	}
}

// NewRateLimitExceededError はレート制限超過のエラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエスト数が制限を超えました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUpstreamFailureError はプロバイダー側の一時的障害のエラーを生成する。
func NewUpstreamFailureError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFailure,
		Message:  "外部サービスとの通信に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewLogNotFoundError は食事記録未検出のエラーを生成する。
func NewLogNotFoundError(logID string) *APIError {
	return &APIError{
		Code:     ErrCodeLogNotFound,
		Message:  fmt.Sprintf("指定された食事記録が見つかりません: %s", logID),
		Category: "validation",
		Action:   "記録IDを確認してください。",
	}
}

// NewInvalidMealTypeError は無効な食事区分のエラーを生成する。
func NewInvalidMealTypeError(mealType string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMealType,
		Message:  fmt.Sprintf("無効な食事区分です: %s", mealType),
		Category: "validation",
		Action:   "食事区分には breakfast、lunch、dinner、snack のいずれかを指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
