// Package ratelimit は固定ウィンドウ方式のレート制限ストアを提供する。
//
// OAuth開始エンドポイント（IPキー）とマシンAPI（APIキーごと）の
// 濫用防止に使用する。グローバル変数ではなく明示的に所有・注入する
// 設計とし、テストでのリセットや将来の共有バックエンドへの差し替えを
// 呼び出し側の変更なしに行えるようにする。
//
// ウィンドウ境界は「硬い崖」であり、境界直後のバーストは許容される。
// これは簡潔さを優先した既知のトレードオフであって正しさのバグではない。
// マルチプロセス構成では各プロセスが独立した制限枠を持つ。
package ratelimit

import (
	"sync"
	"time"
)

// sweepThreshold を超えるエントリ数になった時点で、
// 期限切れエントリの日和見的な掃き出しを行う。
// 多数の異なるIPアドレスによるメモリの無制限な増加を防ぐ。
const defaultSweepThreshold = 10000

// entry は1キー分のカウンタとウィンドウのリセット時刻を保持する。
type entry struct {
	count   int
	resetAt time.Time
}

// Result はレート制限判定の結果。
type Result struct {
	// Allowed はこのリクエストを通してよいかどうか。
	Allowed bool
	// Remaining は現在のウィンドウ内の残りリクエスト数。
	Remaining int
	// RetryAfter は拒否時に次のウィンドウまでの待ち時間。許可時はゼロ。
	RetryAfter time.Duration
}

// Store は固定ウィンドウカウンタのインプロセスストア。
// すべてのメソッドはスレッドセーフ。
type Store struct {
	mu             sync.Mutex
	entries        map[string]*entry
	sweepThreshold int

	// now はテストで時刻を固定するためのフック。
	now func() time.Time
}

// NewStore はStoreを生成する。
func NewStore() *Store {
	return &Store{
		entries:        make(map[string]*entry),
		sweepThreshold: defaultSweepThreshold,
		now:            time.Now,
	}
}

// Check はkeyに対するリクエストを固定ウィンドウ方式で判定する。
// ウィンドウ内の最初のリクエストは常に許可され、maxRequestsを超えた
// リクエストはウィンドウが切り替わるまで拒否される。
func (s *Store) Check(key string, maxRequests int, window time.Duration) Result {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !now.Before(e.resetAt) {
		// 新規キー、またはウィンドウ切り替わり: カウンタをリセット
		if len(s.entries) >= s.sweepThreshold {
			s.sweepLocked(now)
		}
		s.entries[key] = &entry{count: 1, resetAt: now.Add(window)}
		return Result{Allowed: true, Remaining: maxRequests - 1}
	}

	if e.count >= maxRequests {
		return Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: e.resetAt.Sub(now),
		}
	}

	e.count++
	return Result{Allowed: true, Remaining: maxRequests - e.count}
}

// Reset は全カウンタを破棄する。テスト用。
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
}

// Len は現在保持しているエントリ数を返す。テストおよびメトリクス用。
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// sweepLocked は期限切れエントリを削除する。mu保持中に呼ぶこと。
func (s *Store) sweepLocked(now time.Time) {
	for key, e := range s.entries {
		if !now.Before(e.resetAt) {
			delete(s.entries, key)
		}
	}
}
