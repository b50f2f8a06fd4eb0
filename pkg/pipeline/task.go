package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shouni/go-panel-kit/pkg/domain"
	"github.com/shouni/go-panel-kit/pkg/metrics"
	"github.com/shouni/go-panel-kit/pkg/ratelimit"
	"github.com/shouni/go-panel-kit/pkg/retry"
)

// panelTask は1パネル分の生成試行ループを担います。
// Run は決してエラーを返しません。どんな失敗でも PanelResult（最悪フォールバック）に
// 畳み込むことで、「全 Index に必ず1つの結果」というバッチ不変条件を守るのだ。
type panelTask struct {
	spec      domain.PanelSpec
	character *domain.ConsistencyContext

	gen     Generator
	pacer   *ratelimit.Pacer
	backoff retry.BackoffPolicy
	stats   *metrics.Service
	logger  *slog.Logger

	maxAttempts     int
	preAttemptDelay time.Duration
}

// Run は試行予算の範囲内でリモート生成を繰り返します。
//
// 流れ: 初回だけの固定待機 → 各試行でペーサーの順番待ち → 呼び出し → 検証。
// 失敗は分類に応じて、致命的なら即フォールバック、リトライ可能なら
// 指数バックオフ後に次の試行へ進むのだ。
func (t *panelTask) Run(ctx context.Context) domain.PanelResult {
	var attempts []domain.AttemptRecord
	var lastReason string

	// 初回呼び出し前の固定ディレイ。起動直後のジッタを吸収するためのもので、
	// リトライの待機はバックオフ側が受け持つのだ
	if err := sleepCtx(ctx, t.preAttemptDelay); err != nil {
		return newFallbackResult(t.spec, "コンテキストがキャンセルされたのだ: "+err.Error(), attempts)
	}

	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if err := t.pacer.Acquire(ctx); err != nil {
			return newFallbackResult(t.spec, "コンテキストがキャンセルされたのだ: "+err.Error(), attempts)
		}

		start := time.Now()
		resp, err := t.gen.Generate(ctx, t.buildRequest())
		elapsed := time.Since(start).Milliseconds()

		if err == nil && (resp == nil || len(resp.Data) == 0) {
			// エラーなしでも応答なし・データ空は成功と認めない
			err = ErrEmptyArtifact
		}

		if err == nil {
			attempts = append(attempts, domain.AttemptRecord{
				Attempt:   attempt,
				StartedAt: start,
				ElapsedMs: elapsed,
				Outcome:   domain.OutcomeSuccess,
			})
			t.stats.RecordSuccess(elapsed)

			narration := resp.Narration
			if narration == "" {
				narration = t.spec.Dialogue
			}
			return domain.PanelResult{
				Index:         t.spec.Index,
				Status:        domain.StatusGenerated,
				Data:          resp.Data,
				MimeType:      resp.MimeType,
				URI:           resp.URI,
				NarrationText: narration,
				Attempts:      attempts,
			}
		}

		decision := retry.Classify(err)
		lastReason = err.Error()

		outcome := domain.OutcomeRetryableError
		if !decision.Retryable {
			outcome = domain.OutcomeFatalError
		}
		attempts = append(attempts, domain.AttemptRecord{
			Attempt:   attempt,
			StartedAt: start,
			ElapsedMs: elapsed,
			Outcome:   outcome,
			Category:  string(decision.Category),
			Reason:    lastReason,
		})
		t.stats.RecordError(string(decision.Category), elapsed)

		if !decision.Retryable {
			t.logger.Warn("致命的エラーのためリトライを中断するのだ",
				"panel", t.spec.Index, "category", decision.Category, "error", lastReason)
			return newFallbackResult(t.spec, lastReason, attempts)
		}

		if attempt < t.maxAttempts {
			wait := t.backoff.Delay(attempt, decision.Category)
			t.logger.Warn("リトライ可能なエラーなのだ。バックオフして再試行するのだ",
				"panel", t.spec.Index, "attempt", attempt, "category", decision.Category,
				"wait", wait, "error", lastReason)
			if err := sleepCtx(ctx, wait); err != nil {
				return newFallbackResult(t.spec, "コンテキストがキャンセルされたのだ: "+err.Error(), attempts)
			}
		}
	}

	t.logger.Warn("試行予算を使い切ったのだ。フォールバック成果物で埋めるのだ",
		"panel", t.spec.Index, "attempts", t.maxAttempts, "last_error", lastReason)
	return newFallbackResult(t.spec, lastReason, attempts)
}

// buildRequest はキャラクターの一貫性情報を織り込んだリクエストを組み立てます。
// 外見トークン、固定シード、参照画像ハンドルの3点が全パネルで共有されることで、
// 独立に生成されるパネル間の見た目が揃うのだ。
func (t *panelTask) buildRequest() Request {
	req := Request{Prompt: t.spec.Prompt}
	if t.character != nil {
		if len(t.character.AppearanceTokens) > 0 {
			req.Prompt = strings.Join(t.character.AppearanceTokens, ", ") + ", " + t.spec.Prompt
		}
		seed := t.character.Seed
		req.Seed = &seed
		req.ReferenceID = t.character.ReferenceArtifactID
	}
	return req
}

// sleepCtx はキャンセルに即応できる待機です。d が 0 以下ならすぐ戻るのだ。
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
