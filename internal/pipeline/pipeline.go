// Package pipeline は、CLIコマンドから呼ばれるバッチ実行の入口なのだ。
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/shouni/go-panel-kit/internal/builder"
	"github.com/shouni/go-panel-kit/internal/config"
	"github.com/shouni/go-panel-kit/pkg/domain"
	"github.com/shouni/go-panel-kit/pkg/narrate"
)

// ExecuteBatch は、バッチ定義JSONを読み込んでパネル生成を実行し、
// 成果物とナレーションマニフェストを保存するのだ。
func ExecuteBatch(ctx context.Context, cfg *config.Config) error {
	appCtx, err := builder.NewAppContext(ctx, cfg)
	if err != nil {
		return err
	}

	// バッチ定義JSONの読み込み
	rc, err := appCtx.Reader.Open(ctx, cfg.Options.BatchFile)
	if err != nil {
		return fmt.Errorf("バッチ定義 '%s' の読み込みに失敗しました: %w", cfg.Options.BatchFile, err)
	}
	defer rc.Close()

	var batch domain.Batch
	if err := json.NewDecoder(rc).Decode(&batch); err != nil {
		return fmt.Errorf("バッチ定義 '%s' のデコードに失敗しました: %w", cfg.Options.BatchFile, err)
	}

	// 指定があれば、生成するパネル数を制限するのだ（テスト用などに便利！）
	if limit := cfg.Options.PanelLimit; limit > 0 && len(batch.Panels) > limit {
		slog.Info("パネル数に制限を適用したのだ", "limit", limit, "total", len(batch.Panels))
		batch.Panels = batch.Panels[:limit]
	}

	// メトリクスHTTPはバッチ実行と並走させるのだ
	if addr := cfg.Options.MetricsAddr; addr != "" {
		stopMetrics := startMetricsServer(appCtx, addr)
		defer stopMetrics()
	}

	results, err := appCtx.Dispatcher.DispatchWithReference(ctx, batch)
	if err != nil {
		return fmt.Errorf("バッチのディスパッチに失敗したのだ: %w", err)
	}

	if err := saveResults(ctx, appCtx, batch, results); err != nil {
		return err
	}

	snap := appCtx.Stats.Stats()
	slog.Info("バッチ実行が完了したのだ",
		"total_calls", snap.TotalCalls,
		"success_rate", fmt.Sprintf("%.1f%%", snap.SuccessRate),
		"avg_latency_ms", fmt.Sprintf("%.0f", snap.AverageLatencyMs),
		"errors", snap.ErrorsByCategory)
	return nil
}

// startMetricsServer は Prometheus メトリクスと統計JSONの配信を開始し、
// 停止用のクロージャを返します。
func startMetricsServer(appCtx *builder.AppContext, addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", appCtx.Stats.Handler())
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(appCtx.Stats.Stats()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		slog.Info("メトリクスHTTPを起動するのだ", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("メトリクスHTTPが異常終了したのだ", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("メトリクスHTTPの停止に失敗したのだ", "error", err)
		}
	}
}

// saveResults は各パネル画像とナレーションマニフェストを出力先へ書き出すのだ。
func saveResults(ctx context.Context, appCtx *builder.AppContext, batch domain.Batch, results []domain.PanelResult) error {
	outDir := appCtx.Options.OutputImageDir
	if outDir == "" {
		outDir = config.DefaultOutputImageDir
	}

	manifest := buildManifest(batch, results)
	for i := range results {
		res := &results[i]
		if len(res.Data) == 0 {
			continue
		}
		panelPath := path.Join(outDir, fmt.Sprintf("panel_%02d.%s", res.Index, mimeExtension(res.MimeType)))
		if err := appCtx.Writer.Write(ctx, panelPath, bytes.NewReader(res.Data), res.MimeType); err != nil {
			return fmt.Errorf("パネル %d の保存に失敗したのだ: %w", res.Index, err)
		}
		manifest.Panels[i].File = panelPath
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("マニフェストのエンコードに失敗したのだ: %w", err)
	}
	manifestPath := path.Join(outDir, "manifest.json")
	if err := appCtx.Writer.Write(ctx, manifestPath, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("マニフェストの保存に失敗したのだ: %w", err)
	}

	slog.Info("成果物を保存したのだ", "dir", outDir, "panels", len(results))
	return nil
}

// Manifest は1バッチ分の成果物の目録です。音声合成など下流工程への引き継ぎ資料なのだ。
type Manifest struct {
	Title  string          `json:"title"`
	Voice  string          `json:"voice,omitempty"`
	Panels []ManifestEntry `json:"panels"`
}

// ManifestEntry はマニフェスト上の1パネル分の記録です。
type ManifestEntry struct {
	Index            int     `json:"index"`
	Status           string  `json:"status"`
	File             string  `json:"file,omitempty"`
	NarrationText    string  `json:"narration_text,omitempty"`
	UnderLength      bool    `json:"narration_under_length,omitempty"`
	EstimatedSeconds float64 `json:"estimated_seconds,omitempty"`
	FallbackReason   string  `json:"fallback_reason,omitempty"`
	Attempts         int     `json:"attempts"`
}

// buildManifest は生成結果からマニフェストを組み立てます。
func buildManifest(batch domain.Batch, results []domain.PanelResult) *Manifest {
	m := &Manifest{
		Title:  batch.Title,
		Panels: make([]ManifestEntry, len(results)),
	}
	if batch.Character != nil {
		m.Voice = narrate.VoiceFor(batch.Character.Gender, batch.Character.AgeBand)
	}
	for i := range results {
		res := &results[i]
		m.Panels[i] = ManifestEntry{
			Index:            res.Index,
			Status:           string(res.Status),
			NarrationText:    res.NarrationText,
			UnderLength:      res.NarrationUnderLength,
			EstimatedSeconds: narrate.EstimateDurationSeconds(res.NarrationText),
			FallbackReason:   res.FallbackReason,
			Attempts:         len(res.Attempts),
		}
	}
	return m
}

// mimeExtension は MIME タイプから保存用の拡張子を決めます。未知の型は png 扱いなのだ。
func mimeExtension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}
