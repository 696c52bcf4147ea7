// Package session は暗号化Cookieによるセッション封筒（envelope）を提供する。
//
// Cookieは永続セッションへの参照（セッションID）とOAuthのCSRF state、
// およびログイン後の戻り先パスのみを保持する。メールアドレスや
// プロバイダートークンなどの秘密情報は決してCookieに載せない。
// 永続セッションの有効性は必ずセッションストア側で検証すること。
package session

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hitoshi/meallog/internal/security"
)

// CookieName はセッション封筒を保持するCookieの名前。
// 信頼情報を運ぶCookieはこの1つだけ。
const CookieName = "meallog_session"

// Payload はCookieに格納する平文ペイロード。
// 暗号化された封筒としてのみクライアントに渡る。
type Payload struct {
	// SessionID は永続セッションへの参照。未ログイン時は空。
	SessionID string `json:"sid,omitempty"`
	// OAuthState はOAuthフロー進行中のみ保持される使い捨てstate値。
	OAuthState string `json:"state,omitempty"`
	// ReturnTo はログイン完了後の戻り先パス。
	ReturnTo string `json:"return_to,omitempty"`
	// IssuedAt は封筒の発行時刻（Unix秒）。封筒自体の期限判定に使う。
	IssuedAt int64 `json:"iat"`
}

// CodecConfig はCodecの設定。
type CodecConfig struct {
	// Secret は封筒の暗号鍵導出に使うプロセス全体の秘密値。
	// 未設定は起動時の致命的エラーとする。
	Secret string
	// MaxAge は封筒自体の有効期間。
	MaxAge time.Duration
	// CookieSecure / CookieDomain はCookie属性。
	CookieSecure bool
	CookieDomain string
}

// Codec はセッション封筒の読み書きを行う。
// 封筒はAES-256-GCMで暗号化されるため、クライアントによる
// 読み取り・偽造はできない。復号失敗は常に「Cookieなし」として扱う。
type Codec struct {
	cipher *security.TokenCipher
	config CodecConfig

	// now はテストで時刻を固定するためのフック。
	now func() time.Time
}

// NewCodec はCodecを生成する。
// Secretが空の場合はエラーを返す（リクエスト時エラーにしない）。
// 鍵はSecretからSHA-256で1回導出し、プロセス生存中キャッシュする。
func NewCodec(config CodecConfig) (*Codec, error) {
	if config.Secret == "" {
		return nil, fmt.Errorf("session secret is required")
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 24 * time.Hour
	}

	key := sha256.Sum256([]byte(config.Secret))
	cipher, err := security.NewTokenCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create session cipher: %w", err)
	}

	return &Codec{
		cipher: cipher,
		config: config,
		now:    time.Now,
	}, nil
}

// Read はリクエストのCookieからペイロードを復号して返す。
// Cookieなし・改ざん・形式不正・封筒期限切れのいずれもnilを返す
// （fail closed）。呼び出し側にエラー分岐を強いない。
func (c *Codec) Read(r *http.Request) *Payload {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	// Cookie値はbase64urlで運び、復号層のbase64(std)と衝突しないようにする
	raw, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil
	}

	plaintext, err := c.cipher.Decrypt(string(raw))
	if err != nil {
		return nil
	}

	var payload Payload
	if err := json.Unmarshal([]byte(plaintext), &payload); err != nil {
		return nil
	}

	// 封筒自体の期限判定
	issuedAt := time.Unix(payload.IssuedAt, 0)
	if c.now().After(issuedAt.Add(c.config.MaxAge)) {
		return nil
	}

	return &payload
}

// Write はペイロードを暗号化してレスポンスのCookieに書き込む。
// IssuedAtは常にここで上書きされる。
func (c *Codec) Write(w http.ResponseWriter, payload *Payload) error {
	payload.IssuedAt = c.now().Unix()

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal session payload: %w", err)
	}

	blob, err := c.cipher.Encrypt(string(plaintext))
	if err != nil {
		return fmt.Errorf("failed to encrypt session payload: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    base64.RawURLEncoding.EncodeToString([]byte(blob)),
		Path:     "/",
		Domain:   c.config.CookieDomain,
		MaxAge:   int(c.config.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// Destroy はセッションCookieをクリアする。
func (c *Codec) Destroy(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   c.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
