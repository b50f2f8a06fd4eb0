// Package pipeline は、パネル生成バッチのオーケストレーションを担います。
// スタガー付き並行ディスパッチ、プロセス全体のレート制御、分類ベースのリトライ、
// フォールバック合成までを1つの流れとして束ねるのだ。
package pipeline

import (
	"context"
	"errors"

	"github.com/shouni/go-panel-kit/pkg/domain"
)

// Generator はリモート画像生成サービスへの1回の呼び出しを抽象化します。
// オーケストレータはこのインターフェースにだけ依存し、実際のAPIクライアントは
// ビルダー側で注入されるのだ。
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Request はリモート生成呼び出しのパラメータです。
type Request struct {
	Prompt         string
	NegativePrompt string
	Seed           *int64
	ReferenceID    string // キャラクター参照画像のハンドル。空なら参照なし生成
	AspectRatio    string
}

// Response はリモート生成呼び出しの成果物です。
// Data が空の応答は成功とみなさず、呼び出し側で失敗として扱うのだ。
type Response struct {
	Data      []byte
	MimeType  string
	URI       string
	Narration string // サービスが同時に返すナレーションテキスト（無いこともある）
}

// ReferencePreparer はキャラクターの参照画像を用意し、以後の生成呼び出しで
// 使えるハンドル（File API URI 等）を返します。生成とアップロードの手順は
// 実装側の責務であり、オーケストレータは返ってきたハンドルを配るだけなのだ。
type ReferencePreparer interface {
	PrepareReference(ctx context.Context, character *domain.ConsistencyContext) (string, error)
}

var (
	// ErrMissingCharacter は、パネルがあるのにキャラクターコンテキストが無い場合の
	// 事前条件違反です。ディスパッチ前に検出して即座に返すのだ。
	ErrMissingCharacter = errors.New("パネルが存在するのにキャラクターコンテキストが設定されていないのだ")

	// ErrEmptyArtifact は、エラーなしで返ってきたのに成果物データが空だった応答を表します。
	ErrEmptyArtifact = errors.New("リモート応答の成果物データが空なのだ")
)
