// Package telemetry はロギングの初期化を提供します。
package telemetry

import (
	"log/slog"
	"os"

	"github.com/shouni/go-utils/envutil"
)

// LogLevel は環境変数 LOG_LEVEL からログレベルを決定します。
// DEBUG / INFO / WARN / ERROR を受け付け、デフォルトは INFO なのだ。
func LogLevel() slog.Level {
	switch envutil.GetEnv("LOG_LEVEL", "INFO") {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger はグローバルロガーを初期化します。
//
// 出力形式は LOG_FORMAT で切り替えます:
//   - "json"（デフォルト）— 本番向けのJSON形式
//   - "text" — 開発向けの可読形式
func SetupLogger() *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     LogLevel(),
		AddSource: LogLevel() == slog.LevelDebug,
	}

	if envutil.GetEnv("LOG_FORMAT", "json") == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}
