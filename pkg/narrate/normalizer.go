// Package narrate は、生成されたナレーション原文を音声合成に渡せる形へ整えます。
// 記号や構造ラベルの混入したテキストをそのまま読み上げさせると「アンダースコア」等を
// 発声してしまうため、合成前の正規化がどうしても必要なのだ。
package narrate

import (
	"regexp"
	"strings"
)

// 語数の目標帯なのだ。標準的な話速（毎分150語前後）で約8〜10秒に収まる設定。
const (
	DefaultMinWords    = 25
	DefaultMaxWords    = 40
	DefaultTargetWords = 30
)

// labelPrefixPatterns は、応答の先頭に混入する構造ラベルの宣言的ルール表です。
// 各ラベルは単語区切りをスペース・アンダースコアのどちらで書かれていても一致し、
// 大文字小文字を区別せず、直後の引用符も一緒に取り除くのだ。
var labelPrefixPatterns = buildLabelPatterns([]string{
	"dialogue text",
	"tts text",
	"narration text",
	"narration",
	"caption",
})

// panelLabelPattern は "Panel 3:" のような番号付きラベルを取り除きます。
var panelLabelPattern = regexp.MustCompile(`(?i)^panel[\s_]*\d+[\s_]*:\s*["']?`)

func buildLabelPatterns(labels []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(labels))
	for _, label := range labels {
		expr := `(?i)^` + strings.ReplaceAll(label, " ", `[\s_]+`) + `[\s_]*:\s*["']?`
		patterns = append(patterns, regexp.MustCompile(expr))
	}
	return patterns
}

// spokenSymbols は記号から読み上げ語への置換表です。ここに無い記号は発声できないため捨てるのだ。
var spokenSymbols = []struct {
	from, to string
}{
	{"&", " and "},
	{"%", " percent "},
	{"#", " number "},
	{"@", " at "},
	{"+", " plus "},
	{"=", " equals "},
	{"/", " or "},
	{"*", " "},
	{"\\", " "},
	{"|", " "},
	{"^", " "},
	{"~", " "},
	{"`", ""},
}

var (
	bracketPattern  = regexp.MustCompile(`\[[^\]]*\]`)
	parenPattern    = regexp.MustCompile(`\([^)]*\)`)
	ellipsisPattern = regexp.MustCompile(`\.{2,}`)
	unspokenPattern = regexp.MustCompile(`[^\w\s.,!?;:'"-]`)
	spacesPattern   = regexp.MustCompile(`\s+`)
	sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]?`)
)

// Result は正規化結果です。
// UnderLength は目標語数帯に届かなかったことを示す警告フラグであり、
// テキストの水増しは行いません。扱いは下流のナレーション側の判断に委ねるのだ。
type Result struct {
	Text        string
	UnderLength bool
}

// Normalizer はナレーションテキストの正規化器です。冪等な純関数として振る舞います。
type Normalizer struct {
	MinWords    int
	MaxWords    int
	TargetWords int
}

// NewNormalizer はデフォルトの語数帯（25〜40語）で正規化器を生成します。
func NewNormalizer() *Normalizer {
	return &Normalizer{
		MinWords:    DefaultMinWords,
		MaxWords:    DefaultMaxWords,
		TargetWords: DefaultTargetWords,
	}
}

// Normalize は原文を読み上げ可能なテキストに整えます。決して失敗しません。
// パターンに一致しない入力に対しては各パスが安全に素通しになるのだ。
func (n *Normalizer) Normalize(raw string) Result {
	text := strings.TrimSpace(raw)

	// 1. 構造ラベルの除去（"dialogue text:" / "dialogue_text:" 等）。
	// ラベルが多重に重なっていることがあるため、変化しなくなるまで剥がすのだ
	for {
		before := text
		for _, p := range labelPrefixPatterns {
			text = p.ReplaceAllString(text, "")
		}
		text = panelLabelPattern.ReplaceAllString(text, "")
		if text == before {
			break
		}
	}
	text = strings.Trim(text, `"'`)

	// 2. ト書き（[pause] や (sighs)）の除去
	text = bracketPattern.ReplaceAllString(text, "")
	text = parenPattern.ReplaceAllString(text, "")

	// 3. アンダースコアをスペースへ
	text = strings.ReplaceAll(text, "_", " ")

	// 4. 記号を読み上げ語へ置換
	for _, s := range spokenSymbols {
		text = strings.ReplaceAll(text, s.from, s.to)
	}

	// 5. ダッシュ・省略記号を自然なポーズへ。
	// 連続ピリオドは長さに関係なく1つの句点にまとめるのだ
	text = strings.ReplaceAll(text, "—", ", ")
	text = strings.ReplaceAll(text, "–", ", ")
	text = ellipsisPattern.ReplaceAllString(text, ". ")

	// 6. 発声できない残り記号を落とし、空白と句読点を整える
	text = unspokenPattern.ReplaceAllString(text, " ")
	text = spacesPattern.ReplaceAllString(text, " ")
	text = tidyPunctuation(text)
	text = strings.TrimSpace(text)

	// 7. 文末の句点を保証する
	if text != "" && !strings.HasSuffix(text, ".") && !strings.HasSuffix(text, "!") && !strings.HasSuffix(text, "?") {
		text += "."
	}

	// 8. 語数帯への調整。超過は文境界で切り詰め、不足は加工せずフラグだけ立てるのだ
	if wordCount(text) > n.MaxWords {
		text = n.truncateAtSentence(text)
	}

	return Result{
		Text:        text,
		UnderLength: wordCount(text) < n.MinWords,
	}
}

// tidyPunctuation は空白と句読点の間の隙間を詰めます。
func tidyPunctuation(text string) string {
	for _, p := range []string{",", ".", "!", "?", ";", ":"} {
		text = strings.ReplaceAll(text, " "+p, p)
	}
	return text
}

// truncateAtSentence は文境界を優先して MaxWords 以内へ切り詰めます。
// 最初の1文すら収まらない場合は TargetWords 語で強制的に切るのだ。
func (n *Normalizer) truncateAtSentence(text string) string {
	var kept []string
	total := 0
	for _, sentence := range sentencePattern.FindAllString(text, -1) {
		s := strings.TrimSpace(sentence)
		if s == "" {
			continue
		}
		w := wordCount(s)
		if total+w > n.MaxWords {
			break
		}
		kept = append(kept, s)
		total += w
	}

	if len(kept) == 0 {
		words := strings.Fields(text)
		text = strings.Join(words[:n.TargetWords], " ")
		if !strings.HasSuffix(text, ".") {
			text += "."
		}
		return text
	}
	return strings.Join(kept, " ")
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

// EstimateDurationSeconds は読み上げ時間の概算（秒）を返します。毎分150語換算なのだ。
func EstimateDurationSeconds(text string) float64 {
	return float64(wordCount(text)) / 150.0 * 60.0
}
