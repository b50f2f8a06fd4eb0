package retry

import (
	"errors"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	t.Run("過負荷シグナルはリトライ可能と判定されること", func(t *testing.T) {
		for _, msg := range []string{
			"error 500 from upstream",
			"INTERNAL error occurred",
			"model is overloaded",
			"service unavailable",
		} {
			d := Classify(errors.New(msg))
			if !d.Retryable {
				t.Errorf("'%s' がリトライ不可と判定されました", msg)
			}
			if d.Category != CategoryOverload {
				t.Errorf("'%s' の分類が %s になりました。期待値 %s", msg, d.Category, CategoryOverload)
			}
		}
	})

	t.Run("クォータ・課金シグナルはリトライ不可と判定されること", func(t *testing.T) {
		for _, msg := range []string{
			"quota exceeded for project",
			"billing account is disabled",
			"RESOURCE_EXHAUSTED: try again later",
		} {
			d := Classify(errors.New(msg))
			if d.Retryable {
				t.Errorf("'%s' がリトライ可能と判定されました。予算の無駄なのだ", msg)
			}
			if d.Category != CategoryQuota {
				t.Errorf("'%s' の分類が %s になりました。期待値 %s", msg, d.Category, CategoryQuota)
			}
		}
	})

	t.Run("両方のシグナルを含む場合はクォータ判定が優先されること", func(t *testing.T) {
		d := Classify(errors.New("internal: quota exceeded"))
		if d.Retryable || d.Category != CategoryQuota {
			t.Errorf("クォータ優先になっていません: %+v", d)
		}
	})

	t.Run("未知のエラーはその他としてリトライ可能なこと", func(t *testing.T) {
		d := Classify(errors.New("connection reset by peer"))
		if !d.Retryable || d.Category != CategoryOther {
			t.Errorf("予期しない分類です: %+v", d)
		}
	})
}

func TestBackoffDelay(t *testing.T) {
	p := DefaultBackoff()

	t.Run("過負荷は1段深い指数で待つこと", func(t *testing.T) {
		cases := []struct {
			attempt int
			want    time.Duration
		}{
			{1, 4 * time.Second},
			{2, 8 * time.Second},
			{3, 16 * time.Second},
			{4, 16 * time.Second}, // 上限張り付き
		}
		for _, c := range cases {
			if got := p.Delay(c.attempt, CategoryOverload); got != c.want {
				t.Errorf("attempt=%d: 期待値 %v, 実際の値 %v", c.attempt, c.want, got)
			}
		}
	})

	t.Run("その他は標準的な指数で待つこと", func(t *testing.T) {
		cases := []struct {
			attempt int
			want    time.Duration
		}{
			{1, 2 * time.Second},
			{2, 4 * time.Second},
			{3, 8 * time.Second},
			{4, 16 * time.Second},
			{5, 16 * time.Second}, // 上限張り付き
		}
		for _, c := range cases {
			if got := p.Delay(c.attempt, CategoryOther); got != c.want {
				t.Errorf("attempt=%d: 期待値 %v, 実際の値 %v", c.attempt, c.want, got)
			}
		}
	})

	t.Run("不正な試行回数でも安全な値を返すこと", func(t *testing.T) {
		if got := p.Delay(0, CategoryOther); got != 2*time.Second {
			t.Errorf("attempt=0 は 1 に丸められるべきです。実際の値 %v", got)
		}
		if got := p.Delay(100, CategoryOverload); got != DefaultCap {
			t.Errorf("巨大な attempt では上限を返すべきです。実際の値 %v", got)
		}
	})
}
