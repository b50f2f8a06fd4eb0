// Package metrics は、リモート生成呼び出しの成否・レイテンシ・ナレーション推定時間を
// 集計します。ベストエフォートの計測であり、生成処理の成否には一切影響しないのだ。
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service は呼び出し統計を保持するスレッドセーフな集計器です。
// 全ディスパッチャ・全ゴルーチンから共有されるため、内部は mutex で守るのだ。
type Service struct {
	mu sync.Mutex

	totalCalls       int64
	successes        int64
	errorsByCategory map[string]int64

	totalLatencyMs int64

	narrationCount         int64
	narrationTotalDuration float64

	callsTotal      *prometheus.CounterVec
	callLatency     prometheus.Histogram
	fallbacksTotal  prometheus.Counter
	registry        *prometheus.Registry
}

// New はメトリクスサービスを生成し、Prometheus コレクタを専用レジストリへ登録します。
// プロセスのデフォルトレジストリを汚さないよう、独立したレジストリを持つのだ。
func New() *Service {
	registry := prometheus.NewRegistry()
	s := &Service{
		errorsByCategory: make(map[string]int64),
		registry:         registry,
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panel_generation_calls_total",
			Help: "リモート生成呼び出しの総数（結果ラベル付き）",
		}, []string{"result"}),
		callLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "panel_generation_latency_seconds",
			Help:    "リモート生成呼び出しのレイテンシ分布",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		fallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "panel_generation_fallbacks_total",
			Help: "フォールバック成果物で埋めたパネルの総数",
		}),
	}
	registry.MustRegister(s.callsTotal, s.callLatency, s.fallbacksTotal)
	return s
}

// RecordSuccess は成功した呼び出しを記録します。
func (s *Service) RecordSuccess(latencyMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalCalls++
	s.successes++
	s.totalLatencyMs += latencyMs

	s.callsTotal.WithLabelValues("success").Inc()
	s.callLatency.Observe(float64(latencyMs) / 1000.0)
}

// RecordError は失敗した呼び出しを分類タグ付きで記録します。
func (s *Service) RecordError(category string, latencyMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalCalls++
	s.errorsByCategory[category]++
	s.totalLatencyMs += latencyMs

	s.callsTotal.WithLabelValues(category).Inc()
	s.callLatency.Observe(float64(latencyMs) / 1000.0)
}

// RecordFallback はフォールバック成果物の発行を記録します。
func (s *Service) RecordFallback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallbacksTotal.Inc()
}

// RecordNarration は正規化済みナレーションの推定読み上げ時間（秒）を記録します。
func (s *Service) RecordNarration(estimatedSeconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.narrationCount++
	s.narrationTotalDuration += estimatedSeconds
}

// Snapshot は集計値の単調増加するビューです。
// カウンタはリセットされないため、同じ Service からの連続取得で減ることはないのだ。
type Snapshot struct {
	TotalCalls       int64            `json:"total_calls"`
	Successes        int64            `json:"successes"`
	ErrorsByCategory map[string]int64 `json:"errors_by_category"`
	SuccessRate      float64          `json:"success_rate"`       // 0〜100 のパーセント表示
	AverageLatencyMs float64          `json:"average_latency_ms"` // 全呼び出し平均

	NarrationCount              int64   `json:"narration_count"`
	AverageNarrationDurationSec float64 `json:"average_narration_duration_sec"`
}

// Stats は現在の集計値のコピーを返します。呼び出し中の更新はブロックされるのだ。
func (s *Service) Stats() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		TotalCalls:       s.totalCalls,
		Successes:        s.successes,
		ErrorsByCategory: make(map[string]int64, len(s.errorsByCategory)),
		NarrationCount:   s.narrationCount,
	}
	for k, v := range s.errorsByCategory {
		snap.ErrorsByCategory[k] = v
	}
	if s.totalCalls > 0 {
		snap.SuccessRate = float64(s.successes) / float64(s.totalCalls) * 100.0
		snap.AverageLatencyMs = float64(s.totalLatencyMs) / float64(s.totalCalls)
	}
	if s.narrationCount > 0 {
		snap.AverageNarrationDurationSec = s.narrationTotalDuration / float64(s.narrationCount)
	}
	return snap
}

// Handler は Prometheus 形式のメトリクスを返す HTTP ハンドラです。
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
