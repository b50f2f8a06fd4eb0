package domain

import "time"

// PanelSpec は1パネル分の生成依頼です。ディスパッチ後は不変として扱います。
// Index が出力順とスタガー遅延の両方を決定するのだ。
type PanelSpec struct {
	Index    int    `json:"index"`
	Prompt   string `json:"prompt"`             // 描画指示。オーケストレータからは不透明な文字列
	Dialogue string `json:"dialogue,omitempty"` // ナレーション原文。リモート応答にテキストが無い場合に使う
}

// PanelStatus はパネル生成の終端状態です。
type PanelStatus string

const (
	StatusGenerated PanelStatus = "generated"
	StatusFallback  PanelStatus = "fallback"
)

// AttemptOutcome は1回の呼び出し試行の結果区分です。
type AttemptOutcome string

const (
	OutcomeSuccess        AttemptOutcome = "success"
	OutcomeRetryableError AttemptOutcome = "retryable_error"
	OutcomeFatalError     AttemptOutcome = "fatal_error"
)

// AttemptRecord は1回のリモート呼び出し試行の記録です。生成後は変更しません。
type AttemptRecord struct {
	Attempt   int            `json:"attempt"` // 1..maxAttempts
	StartedAt time.Time      `json:"started_at"`
	ElapsedMs int64          `json:"elapsed_ms"`
	Outcome   AttemptOutcome `json:"outcome"`
	Category  string         `json:"category,omitempty"` // 失敗時のみ: エラー分類タグ
	Reason    string         `json:"reason,omitempty"`   // 失敗時のみ: 人間可読なエラー内容
}

// PanelResult は1つの PanelSpec に対する唯一の生成結果です。
// バッチ不変条件: すべての Index に対して必ず1つの PanelResult が存在する。
// 欠番は許さず、リトライ予算を使い切った場合でもフォールバック成果物を返すのだ。
type PanelResult struct {
	Index                int             `json:"index"`
	Status               PanelStatus     `json:"status"`
	Data                 []byte          `json:"-"`
	MimeType             string          `json:"mime_type,omitempty"`
	URI                  string          `json:"uri,omitempty"`
	NarrationText        string          `json:"narration_text,omitempty"`
	NarrationUnderLength bool            `json:"narration_under_length,omitempty"` // 正規化後のテキストが目標語数帯に満たない
	FallbackReason       string          `json:"fallback_reason,omitempty"`
	Attempts             []AttemptRecord `json:"attempts"`
}

// IsFallback はこの結果がプレースホルダーであるかを返します。
func (r *PanelResult) IsFallback() bool {
	return r.Status == StatusFallback
}

// Batch は生成依頼全体（台本＋キャラクター）を表します。
// CLI が読み込む入力ファイルの構造でもあるのだ。
type Batch struct {
	Title     string              `json:"title"`
	Character *ConsistencyContext `json:"character"`
	Panels    []PanelSpec         `json:"panels"`
}
