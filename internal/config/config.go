package config

import (
	"time"

	"github.com/shouni/go-utils/envutil"
)

// デフォルト値の定義なのだ
const (
	DefaultImageModel  = "gemini-3-pro-image-preview"
	DefaultHTTPTimeout = 30 * time.Second
	DefaultPanelLimit  = 10

	DefaultMinInterval     = 500 * time.Millisecond // リモート呼び出しの最小間隔（プロセス全体）
	DefaultStagger         = 500 * time.Millisecond // パネル起動の階段状ずらし幅
	DefaultMaxAttempts     = 4                      // パネルあたりの呼び出し試行予算
	DefaultPreAttemptDelay = 200 * time.Millisecond // 初回試行前の固定ディレイ
	DefaultSettleDelay     = 2 * time.Second        // 参照画像生成後の整合待ち

	DefaultOutputImageDir = "output/panels" // 成果物のデフォルト保存先なのだ
	DefaultStyleSuffix    = "Japanese anime style, official art, cel-shaded, clean line art, high-quality manga coloring, expressive eyes, vibrant colors, cinematic lighting, masterpiece, ultra-detailed, flat shading, clear character features, no 3D effect, high resolution"
)

// Config はアプリケーション全体の環境設定（APIキーや生成モデル）を保持する構造体なのだ。
type Config struct {
	GeminiAPIKey     string
	GeminiImageModel string
	StyleSuffix      string

	Options GenerateOptions
}

// LoadConfig は環境変数から設定を読み込み、構造体を返すのだ！
func LoadConfig() *Config {
	cfg := &Config{
		GeminiAPIKey:     envutil.GetEnv("GEMINI_API_KEY", ""),
		GeminiImageModel: envutil.GetEnv("IMAGE_GEMINI_MODEL", DefaultImageModel),
		StyleSuffix:      envutil.GetEnv("IMAGE_PROMPT_SUFFIX", DefaultStyleSuffix),
	}
	return cfg
}

// GenerateOptions は CLI フラグから渡される実行時のパラメータなのだ。
type GenerateOptions struct {
	// ソース入力関連
	BatchFile      string // --batch-file: バッチ定義JSONのパス
	OutputImageDir string // --output-image-dir
	PanelLimit     int    // --panel-limit

	// 生成挙動設定
	ImageModel   string // --image-model: 画像生成用のGeminiモデル
	SkipRef      bool   // --skip-reference: 参照画像の事前生成を省略する
	MaxAttempts  int    // --max-attempts
	MinInterval  time.Duration
	Stagger      time.Duration
	MetricsAddr  string // --metrics-addr: 空でなければメトリクスHTTPを起動する

	// 実行制御
	HTTPTimeout time.Duration // --http-timeout
}
