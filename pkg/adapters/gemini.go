// Package adapters は、オーケストレータのインターフェースと
// Gemini 画像生成スタックの橋渡しを担うのだ。
package adapters

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	imagekit "github.com/shouni/gemini-image-kit/pkg/generator"

	imagedom "github.com/shouni/gemini-image-kit/pkg/domain"
	"github.com/shouni/go-remote-io/pkg/remoteio"

	"github.com/shouni/go-panel-kit/pkg/domain"
	"github.com/shouni/go-panel-kit/pkg/pipeline"
)

const (
	// PanelAspectRatio は単体パネルの標準的な縦横比です。
	PanelAspectRatio = "16:9"

	// ReferenceAspectRatio は参照立ち絵用の縦横比です。全身が入るよう正方形にするのだ。
	ReferenceAspectRatio = "1:1"
)

// GeminiPanelAdapter は pipeline.Generator / pipeline.ReferencePreparer の Gemini 実装です。
// プロンプトへの画風サフィックス付与と、参照画像の File API アップロードを担います。
type GeminiPanelAdapter struct {
	imgGen      imagekit.ImageGenerator
	assets      imagekit.AssetManager
	writer      remoteio.OutputWriter
	styleSuffix string
	refDir      string // 参照画像の保存先ディレクトリ
}

// NewGeminiPanelAdapter はアダプターを生成します。
func NewGeminiPanelAdapter(imgGen imagekit.ImageGenerator, assets imagekit.AssetManager, writer remoteio.OutputWriter, styleSuffix, refDir string) *GeminiPanelAdapter {
	return &GeminiPanelAdapter{
		imgGen:      imgGen,
		assets:      assets,
		writer:      writer,
		styleSuffix: styleSuffix,
		refDir:      refDir,
	}
}

// Generate は1パネル分の画像生成をリモートサービスに依頼します。
func (a *GeminiPanelAdapter) Generate(ctx context.Context, req pipeline.Request) (*pipeline.Response, error) {
	negative := req.NegativePrompt
	if negative == "" {
		negative = NegativePanelPrompt
	}
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = PanelAspectRatio
	}

	resp, err := a.imgGen.GenerateMangaPanel(ctx, imagedom.ImageGenerationRequest{
		Prompt:         a.withStyle(req.Prompt),
		NegativePrompt: negative,
		Seed:           req.Seed,
		FileAPIURI:     req.ReferenceID,
		AspectRatio:    aspect,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("画像生成の応答が空なのだ")
	}

	return &pipeline.Response{
		Data:     resp.Data,
		MimeType: resp.MimeType,
	}, nil
}

// PrepareReference はキャラクターの立ち絵を1枚生成し、File API へアップロードして
// 以後のパネル生成で参照できる URI を返します。
func (a *GeminiPanelAdapter) PrepareReference(ctx context.Context, c *domain.ConsistencyContext) (string, error) {
	seed := c.Seed
	resp, err := a.imgGen.GenerateMangaPanel(ctx, imagedom.ImageGenerationRequest{
		Prompt:         a.withStyle(BuildReferencePrompt(c)),
		NegativePrompt: NegativePanelPrompt,
		Seed:           &seed,
		AspectRatio:    ReferenceAspectRatio,
	})
	if err != nil {
		return "", fmt.Errorf("参照立ち絵の生成に失敗したのだ: %w", err)
	}
	if resp == nil || len(resp.Data) == 0 {
		return "", fmt.Errorf("参照立ち絵の応答データが空なのだ")
	}

	// File API はURL/パス経由のアップロードなので、一度保存してから渡すのだ
	refPath := path.Join(a.refDir, sanitizeName(c.Name)+".png")
	if err := a.writer.Write(ctx, refPath, bytes.NewReader(resp.Data), resp.MimeType); err != nil {
		return "", fmt.Errorf("参照立ち絵の保存に失敗したのだ: %w", err)
	}

	uri, err := a.assets.UploadFile(ctx, refPath)
	if err != nil {
		return "", fmt.Errorf("参照立ち絵のアップロードに失敗したのだ: %w", err)
	}
	return uri, nil
}

// withStyle はプロンプトに全パネル共通の画風サフィックスを付与します。
func (a *GeminiPanelAdapter) withStyle(prompt string) string {
	if a.styleSuffix == "" {
		return prompt
	}
	return prompt + ", " + a.styleSuffix
}

// sanitizeName はキャラクター名をファイル名に使える形へ丸めます。
func sanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "/", "_")
	if name == "" {
		name = "character"
	}
	return name
}
