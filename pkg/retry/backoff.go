package retry

import "time"

// バックオフのデフォルト設定なのだ。
const (
	DefaultBase = 1 * time.Second
	DefaultCap  = 16 * time.Second
)

// BackoffPolicy は上限付き指数バックオフの計算方式を保持します。
// 状態を持たない純粋な計算であり、同じ入力には常に同じ待機時間を返すのだ。
type BackoffPolicy struct {
	Base time.Duration // 1単位の待機時間。テストでは短縮して注入する
	Cap  time.Duration // 待機時間の上限
}

// DefaultBackoff は本番想定のポリシー（1秒基準・16秒上限）を返します。
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{Base: DefaultBase, Cap: DefaultCap}
}

// Delay は attempt 回目（1始まり）の失敗後に待つべき時間を返します。
//   - 過負荷: Base * 2^(attempt+1)、上限 Cap。attempt 1→4s, 2→8s, 3→16s（以降は上限張り付き）
//   - その他: 標準的な Base * 2^attempt、同じ上限 Cap
//
// 過負荷だけ1段深い指数にするのは、サーバ容量の回復には通常より長い猶予が要るためなのだ。
func (p BackoffPolicy) Delay(attempt int, cat Category) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	exp := uint(attempt)
	if cat == CategoryOverload {
		exp = uint(attempt + 1)
	}
	// シフト幅が大きすぎる場合は計算せず上限を返す
	if exp > 16 {
		return p.Cap
	}

	d := p.Base << exp
	if d > p.Cap || d <= 0 {
		return p.Cap
	}
	return d
}
