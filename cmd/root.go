package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shouni/go-panel-kit/internal/config"
	"github.com/shouni/go-panel-kit/internal/telemetry"

	"github.com/spf13/cobra"
)

// opts は各コマンドで共有される実行時パラメータなのだ。
var opts config.GenerateOptions

// rootCmd は、アプリケーションのコマンド体系の根っこなのだ。
var rootCmd = &cobra.Command{
	Use:               "panel-kit",
	Short:             "キャラクターの一貫性を保ちながら漫画パネルを並列生成するツールなのだ。",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: preRunAppE,
}

// addAppFlags は、アプリケーション全般に適用されるグローバルフラグを定義するのだ。
func addAppFlags(cmd *cobra.Command) {
	// --- ソース入力関連 ---
	cmd.PersistentFlags().StringVarP(&opts.BatchFile, "batch-file", "f", "examples/batch.json", "バッチ定義JSONのパス（ローカル or gs://...）なのだ。")

	// --- 生成結果の出力設定 ---
	cmd.PersistentFlags().StringVarP(&opts.OutputImageDir, "output-image-dir", "i", config.DefaultOutputImageDir, "生成された画像を保存するディレクトリ（ローカル or gs://...）なのだ。")

	// --- AIモデル・挙動設定 ---
	cmd.PersistentFlags().StringVar(&opts.ImageModel, "image-model", config.DefaultImageModel, "使用する Gemini 画像モデル名なのだ。")
	cmd.PersistentFlags().DurationVar(&opts.HTTPTimeout, "http-timeout", config.DefaultHTTPTimeout, "Webリクエストのタイムアウトなのだ。")

	// --- ディスパッチ制御 ---
	cmd.PersistentFlags().IntVarP(&opts.PanelLimit, "panel-limit", "p", config.DefaultPanelLimit, "生成するパネルの最大数を指定するのだ。")
	cmd.PersistentFlags().IntVar(&opts.MaxAttempts, "max-attempts", config.DefaultMaxAttempts, "パネルあたりの呼び出し試行予算なのだ。")
	cmd.PersistentFlags().DurationVar(&opts.MinInterval, "min-interval", config.DefaultMinInterval, "リモート呼び出しの最小間隔なのだ。")
	cmd.PersistentFlags().DurationVar(&opts.Stagger, "stagger", config.DefaultStagger, "パネル起動の階段状ずらし幅なのだ。")
	cmd.PersistentFlags().BoolVar(&opts.SkipRef, "skip-reference", false, "参照画像の事前生成を省略するのだ。")

	// --- 観測 ---
	cmd.PersistentFlags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "指定するとメトリクスHTTP（/metrics, /stats）を起動するのだ。")
}

// preRunAppE は、コマンド実行前に環境変数などの必須チェックを行うのだ。
func preRunAppE(cmd *cobra.Command, args []string) error {
	// Gemini APIを利用するため、APIキーの存在チェックは欠かせないのだ！
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("エラー: 環境変数 GEMINI_API_KEY が設定されていません。Gemini APIの利用には必須なのだ")
	}
	return nil
}

// Execute は、アプリケーションのメインエントリポイントなのだ。
// main.go から呼び出されて、cobra のコマンドライン解析を開始するのだよ。
func Execute() {
	logger := telemetry.SetupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addAppFlags(rootCmd)
	rootCmd.AddCommand(generateCmd)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error("コマンドの実行に失敗したのだ", "error", err)
		os.Exit(1)
	}
}
