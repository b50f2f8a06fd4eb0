package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/shouni/go-panel-kit/pkg/domain"
	"github.com/shouni/go-panel-kit/pkg/metrics"
	"github.com/shouni/go-panel-kit/pkg/narrate"
	"github.com/shouni/go-panel-kit/pkg/ratelimit"
	"github.com/shouni/go-panel-kit/pkg/retry"
)

// ディスパッチャのデフォルト設定なのだ。
const (
	DefaultStagger         = 500 * time.Millisecond
	DefaultMaxAttempts     = 4
	DefaultPreAttemptDelay = 200 * time.Millisecond
	DefaultSettleDelay     = 2 * time.Second
)

// Config はディスパッチャの構成です。ゼロ値のフィールドにはデフォルトが補われます。
type Config struct {
	Generator  Generator
	References ReferencePreparer // nil なら参照画像の事前生成をスキップする
	Pacer      *ratelimit.Pacer
	Stats      *metrics.Service
	Logger     *slog.Logger

	Stagger         time.Duration // パネル起動の階段状ずらし幅
	MaxAttempts     int           // パネルあたりの呼び出し試行予算
	PreAttemptDelay time.Duration // 初回試行前の固定ディレイ
	SettleDelay     time.Duration // 参照画像生成後にサービス側の整合を待つ時間
	Backoff         retry.BackoffPolicy
}

// Dispatcher はバッチ単位のパネル生成オーケストレータです。
// 複数バッチから並行に呼ばれても安全であり、呼び出し間隔の保証は
// 共有された Pacer がプロセス全体で守るのだ。
type Dispatcher struct {
	cfg        Config
	normalizer *narrate.Normalizer
	refGroup   singleflight.Group
}

// New はディスパッチャを生成します。Generator は必須です。
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("Generator が設定されていないのだ")
	}
	if cfg.Pacer == nil {
		cfg.Pacer = ratelimit.New(ratelimit.DefaultMinInterval)
	}
	if cfg.Stats == nil {
		cfg.Stats = metrics.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Stagger <= 0 {
		cfg.Stagger = DefaultStagger
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.PreAttemptDelay <= 0 {
		cfg.PreAttemptDelay = DefaultPreAttemptDelay
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Backoff == (retry.BackoffPolicy{}) {
		cfg.Backoff = retry.DefaultBackoff()
	}
	return &Dispatcher{cfg: cfg, normalizer: narrate.NewNormalizer()}, nil
}

// Dispatch はバッチの全パネルを並行生成します。
//
// 各パネルは Index * Stagger だけ起動を遅らせた上で独立に走り、個々の失敗は
// PanelResult に畳み込まれるためバッチ全体を失敗させません。返り値のエラーは
// 事前条件違反（キャラクター未設定）の場合のみなのだ。
func (d *Dispatcher) Dispatch(ctx context.Context, batch domain.Batch) ([]domain.PanelResult, error) {
	if len(batch.Panels) == 0 {
		d.cfg.Logger.Info("パネルが無いので何もしないのだ", "title", batch.Title)
		return []domain.PanelResult{}, nil
	}
	if batch.Character == nil {
		return nil, ErrMissingCharacter
	}

	results := make([]domain.PanelResult, len(batch.Panels))
	eg, egCtx := errgroup.WithContext(ctx)

	d.cfg.Logger.Info("並列パネル生成を開始するのだ",
		"title", batch.Title, "count", len(batch.Panels),
		"stagger", d.cfg.Stagger, "max_attempts", d.cfg.MaxAttempts)

	for i, spec := range batch.Panels {
		i, spec := i, spec // ゴルーチンのクロージャ対策なのだ

		eg.Go(func() error {
			// 1. 起動を階段状にずらして、開始直後のリクエスト殺到を避けるのだ
			if err := sleepCtx(egCtx, time.Duration(i)*d.cfg.Stagger); err != nil {
				results[i] = newFallbackResult(spec, "コンテキストがキャンセルされたのだ: "+err.Error(), nil)
				return nil
			}

			// 2. 試行ループはタスクに任せる。失敗してもフォールバックに畳まれるのだ
			task := &panelTask{
				spec:            spec,
				character:       batch.Character,
				gen:             d.cfg.Generator,
				pacer:           d.cfg.Pacer,
				backoff:         d.cfg.Backoff,
				stats:           d.cfg.Stats,
				logger:          d.cfg.Logger,
				maxAttempts:     d.cfg.MaxAttempts,
				preAttemptDelay: d.cfg.PreAttemptDelay,
			}
			results[i] = task.Run(egCtx)

			if results[i].IsFallback() {
				d.cfg.Stats.RecordFallback()
			}
			// タスクの失敗は errgroup に伝播させない。1枚の失敗で他を巻き込まないためなのだ
			return nil
		})
	}

	// すべての並列処理が完了するのを待つのだ
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// 3. ナレーションをまとめて正規化するのだ
	for i := range results {
		res := d.normalizer.Normalize(results[i].NarrationText)
		results[i].NarrationText = res.Text
		results[i].NarrationUnderLength = res.UnderLength
		if res.Text != "" {
			d.cfg.Stats.RecordNarration(narrate.EstimateDurationSeconds(res.Text))
		}
	}

	fallbacks := 0
	for i := range results {
		if results[i].IsFallback() {
			fallbacks++
		}
	}
	d.cfg.Logger.Info("バッチの生成が完了したのだ",
		"title", batch.Title, "total", len(results), "fallbacks", fallbacks)
	return results, nil
}

// DispatchWithReference は、先にキャラクターの参照画像を1枚生成してから
// バッチ全体をディスパッチします。
//
// 参照生成はキャラクター名をキーに singleflight で重複排除されるため、
// 同じキャラクターの並行バッチでも呼び出しは1回だけです。参照の失敗は
// 警告にとどめ、参照なしで続行するのだ。
func (d *Dispatcher) DispatchWithReference(ctx context.Context, batch domain.Batch) ([]domain.PanelResult, error) {
	if len(batch.Panels) == 0 {
		return []domain.PanelResult{}, nil
	}
	if batch.Character == nil {
		return nil, ErrMissingCharacter
	}
	if d.cfg.References == nil {
		return d.Dispatch(ctx, batch)
	}

	refID, err, _ := d.refGroup.Do(batch.Character.Name, func() (interface{}, error) {
		return d.prepareReference(ctx, batch.Character)
	})
	if err != nil {
		d.cfg.Logger.Warn("参照画像の準備に失敗したのだ。参照なしで続行するのだ",
			"character", batch.Character.Name, "error", err)
	} else if id, ok := refID.(string); ok && id != "" {
		batch.Character = batch.Character.WithReference(id)
	}

	return d.Dispatch(ctx, batch)
}

// prepareReference は参照画像を1枚用意し、そのハンドルを返します。
// リモート呼び出しを伴うためペーサーの順番待ちを挟み、成功後は
// サービス側で参照が引けるようになるまで少し待つのだ。
func (d *Dispatcher) prepareReference(ctx context.Context, c *domain.ConsistencyContext) (string, error) {
	if err := d.cfg.Pacer.Acquire(ctx); err != nil {
		return "", err
	}

	refID, err := d.cfg.References.PrepareReference(ctx, c)
	if err != nil {
		return "", fmt.Errorf("参照画像の準備に失敗したのだ: %w", err)
	}

	d.cfg.Logger.Info("参照画像を用意したのだ。整合待ちに入るのだ",
		"character", c.Name, "settle", d.cfg.SettleDelay)
	if err := sleepCtx(ctx, d.cfg.SettleDelay); err != nil {
		return "", err
	}
	return refID, nil
}
