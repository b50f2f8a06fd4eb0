package pipeline

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/shouni/go-panel-kit/pkg/domain"
)

// フォールバック画像の寸法。通常パネルと同じ比率を保つのだ。
const (
	fallbackWidth  = 512
	fallbackHeight = 512
)

// fallbackArtifact はグレー一色のプレースホルダーPNGを生成します。
// リモート生成が完全に失敗したパネルの欠番を防ぐためのものであり、
// エンコードは固定サイズの単色画像に対してのみ行うため失敗しないのだ。
func fallbackArtifact() ([]byte, string) {
	img := image.NewRGBA(image.Rect(0, 0, fallbackWidth, fallbackHeight))
	gray := color.RGBA{R: 0x99, G: 0x99, B: 0x99, A: 0xFF}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: gray}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		// 到達しない想定だが、万一の場合でも欠番は作らない
		return nil, "image/png"
	}
	return buf.Bytes(), "image/png"
}

// newFallbackResult はフォールバック状態の PanelResult を組み立てます。
func newFallbackResult(spec domain.PanelSpec, reason string, attempts []domain.AttemptRecord) domain.PanelResult {
	data, mime := fallbackArtifact()
	return domain.PanelResult{
		Index:          spec.Index,
		Status:         domain.StatusFallback,
		Data:           data,
		MimeType:       mime,
		NarrationText:  spec.Dialogue,
		FallbackReason: reason,
		Attempts:       attempts,
	}
}
