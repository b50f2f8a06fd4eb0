package cmd

import (
	"fmt"
	"log/slog"

	"github.com/shouni/go-panel-kit/internal/config"
	"github.com/shouni/go-panel-kit/internal/pipeline"

	"github.com/spf13/cobra"
)

// generateCmd は、バッチ定義JSONを読み込んでパネル画像の並列生成を実行するのだ。
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "バッチ定義からパネル画像を並列生成して保存するのだ。",
	Long: `台本（パネルごとのプロンプトとセリフ）とキャラクター定義を含むバッチJSONを読み込み、
キャラクターの一貫性を保ちながら全パネルの画像を並列生成するのだ。
失敗したパネルはプレースホルダーで埋められるため、出力に欠番は生じないのだよ。`,
	RunE: generateCommand,
}

func generateCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// 1. 必須チェック
	if opts.BatchFile == "" {
		return fmt.Errorf("読み込むバッチ定義JSON（--batch-file）を指定してほしいのだ")
	}

	// 2. 環境変数等から基本設定をロードするのだ
	cfg := config.LoadConfig()
	cfg.GeminiImageModel = opts.ImageModel
	cfg.Options = opts

	slog.Info("パネル生成パイプラインを起動するのだ！",
		"batch_file", opts.BatchFile,
		"image_model", cfg.GeminiImageModel,
		"output_dir", opts.OutputImageDir,
		"max_attempts", opts.MaxAttempts)

	// 3. 更新した config を考慮しつつパイプラインを実行するのだ
	if err := pipeline.ExecuteBatch(ctx, cfg); err != nil {
		return fmt.Errorf("パイプライン実行中にエラーが発生したのだ: %w", err)
	}

	slog.Info("すべての生成工程が完了したのだ！")
	return nil
}
