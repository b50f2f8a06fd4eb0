// Package ratelimit は、リモート生成APIへの呼び出し間隔をプロセス全体で強制する
// ペーサーを提供します。すべてのバッチ・全ゴルーチンが同じ Pacer を共有することで、
// 「連続する2つの呼び出しは最低 minInterval 空ける」という保証が成立するのだ。
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMinInterval はリモートAPI呼び出し間の最小間隔のデフォルト値です。
const DefaultMinInterval = 500 * time.Millisecond

// Pacer は最小呼び出し間隔を守るための待機装置です。
// burst を 1 に固定することで、開始直後の同時突入も許さない厳格な間隔制御になるのだ。
type Pacer struct {
	limiter *rate.Limiter
}

// New は指定間隔の Pacer を生成します。
// interval が 0 以下の場合は制限なしとして動くのだ。
func New(interval time.Duration) *Pacer {
	if interval <= 0 {
		return &Pacer{}
	}
	return &Pacer{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Acquire は自分の番が来るまで呼び出し元のゴルーチンだけをブロックします。
// 他の並行タスクは妨げません。エラーは ctx のキャンセル・期限切れ時のみ返るのだ。
func (p *Pacer) Acquire(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}
