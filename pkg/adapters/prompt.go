package adapters

import (
	"strings"

	"github.com/shouni/go-panel-kit/pkg/domain"
)

// NegativePanelPrompt は、パネル用のネガティブプロンプトです。
// 吹き出し、文字、低品質な描写を徹底的に排除するのだ。
const NegativePanelPrompt = "speech bubble, dialogue balloon, text, alphabet, letters, words, signatures, watermark, username, low quality, distorted, bad anatomy"

// BuildReferencePrompt は、キャラクター単体の立ち絵（参照シート）用のプロンプトを返します。
func BuildReferencePrompt(c *domain.ConsistencyContext) string {
	parts := []string{
		"character reference sheet",
		"full body",
		"neutral standing pose",
		"plain white background",
		c.Name,
	}
	parts = append(parts, c.AppearanceTokens...)
	return strings.Join(parts, ", ")
}
