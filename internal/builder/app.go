package builder

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/shouni/go-remote-io/pkg/gcsfactory"
	"github.com/shouni/go-remote-io/pkg/remoteio"

	"github.com/shouni/go-panel-kit/internal/config"
	"github.com/shouni/go-panel-kit/pkg/adapters"
	"github.com/shouni/go-panel-kit/pkg/metrics"
	"github.com/shouni/go-panel-kit/pkg/pipeline"
	"github.com/shouni/go-panel-kit/pkg/ratelimit"
)

// AppContext は、アプリケーション実行に必要な共通コンテキストを保持する。
// これを各コマンドに渡すことで、依存関係の注入を簡素化します。
type AppContext struct {
	Config     *config.Config          // 環境変数から読み込まれたグローバルな設定（APIキー、モデル名など）
	Options    config.GenerateOptions  // コマンドラインから渡された実行時の設定
	Reader     remoteio.InputReader    // バッチ定義ファイルの読み込みに使用する入力元
	Writer     remoteio.OutputWriter   // 生成された成果物を保存するための出力先
	Dispatcher *pipeline.Dispatcher    // パネル生成オーケストレータ
	Stats      *metrics.Service        // 呼び出し統計の集計器
}

// NewAppContext は依存関係一式を組み立てて AppContext を返すのだ。
func NewAppContext(ctx context.Context, cfg *config.Config) (*AppContext, error) {
	timeout := cfg.Options.HTTPTimeout
	if timeout <= 0 {
		timeout = config.DefaultHTTPTimeout
	}
	httpClient := httpkit.New(timeout)

	aiClient, err := InitializeAIClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create ai client: %w", err)
	}

	gcsFactory, err := gcsfactory.NewGCSClientFactory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client factory: %w", err)
	}
	reader, err := gcsFactory.NewInputReader()
	if err != nil {
		return nil, err
	}
	writer, err := gcsFactory.NewOutputWriter()
	if err != nil {
		return nil, err
	}

	core, err := initializeCore(aiClient, reader, httpClient)
	if err != nil {
		return nil, err
	}

	model := cfg.Options.ImageModel
	if model == "" {
		model = cfg.GeminiImageModel
	}
	imgGen, err := initializeImageGenerator(model, core)
	if err != nil {
		return nil, err
	}

	outputDir := cfg.Options.OutputImageDir
	if outputDir == "" {
		outputDir = config.DefaultOutputImageDir
	}
	adapter := adapters.NewGeminiPanelAdapter(imgGen, core, writer, cfg.StyleSuffix, path.Join(outputDir, "reference"))

	stats := metrics.New()

	minInterval := cfg.Options.MinInterval
	if minInterval <= 0 {
		minInterval = config.DefaultMinInterval
	}

	var refs pipeline.ReferencePreparer = adapter
	if cfg.Options.SkipRef {
		slog.Info("参照画像の事前生成はスキップするのだ")
		refs = nil
	}

	dispatcher, err := pipeline.New(pipeline.Config{
		Generator:   adapter,
		References:  refs,
		Pacer:       ratelimit.New(minInterval),
		Stats:       stats,
		Stagger:     cfg.Options.Stagger,
		MaxAttempts: cfg.Options.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("ディスパッチャの構築に失敗したのだ: %w", err)
	}

	return &AppContext{
		Config:     cfg,
		Options:    cfg.Options,
		Reader:     reader,
		Writer:     writer,
		Dispatcher: dispatcher,
		Stats:      stats,
	}, nil
}
