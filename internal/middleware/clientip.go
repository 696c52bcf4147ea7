package middleware

import (
	"net"
	"net/http"
)

// ClientIP はリクエスト元のIPアドレスを返す。
// リバースプロキシ背後での運用は想定せず、X-Forwarded-Forは信用しない
// （詐称によるレート制限回避を防ぐ）。
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
