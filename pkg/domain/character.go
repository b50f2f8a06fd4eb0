package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
)

// Gender はキャラクターの性別区分です。ナレーション音声の選択キーにも使われます。
type Gender string

const (
	GenderFemale Gender = "female"
	GenderMale   Gender = "male"
	GenderOther  Gender = "other"
)

// AgeBand はキャラクターの年齢帯です。音声選択とプロンプト構築の両方で参照されます。
type AgeBand string

const (
	AgeBandTeen       AgeBand = "teen"
	AgeBandYoungAdult AgeBand = "young-adult"
	AgeBandAdult      AgeBand = "adult"
	AgeBandMature     AgeBand = "mature"
	AgeBandSenior     AgeBand = "senior"
)

// ConsistencyContext は、1バッチ内の全パネルで共有されるキャラクターの一貫性情報なのだ。
// バッチ開始後は読み取り専用として扱うこと。途中で書き換えると独立生成されるパネル間の
// 視覚的一貫性が壊れてしまうのだ。
type ConsistencyContext struct {
	Name                string   `json:"name"`
	Gender              Gender   `json:"gender"`
	AgeBand             AgeBand  `json:"age_band"`
	AppearanceTokens    []string `json:"appearance_tokens"`     // 生成プロンプトに注入する外見上の特徴
	ReferenceArtifactID string   `json:"reference_artifact_id"` // 一貫性保持のための参照画像ハンドル
	Seed                int64    `json:"seed"`                  // DB保存等のために広い型を維持
}

// NewConsistencyContext は名前と特徴からコンテキストを生成します。
// Seed は名前から決定論的に導出するのだ。
func NewConsistencyContext(name string, gender Gender, ageBand AgeBand, tokens []string) *ConsistencyContext {
	return &ConsistencyContext{
		Name:             name,
		Gender:           gender,
		AgeBand:          ageBand,
		AppearanceTokens: tokens,
		Seed:             int64(SeedFromName(name)),
	}
}

// LoadConsistencyContext は指定されたファイルパスからJSONを読み込み、コンテキストを返すのだ。
func LoadConsistencyContext(path string) (*ConsistencyContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("キャラクターファイルの読み込みに失敗したのだ: %w", err)
	}
	return ParseConsistencyContext(data)
}

// ParseConsistencyContext はJSONバイト列からコンテキストをパースして返します。
// この関数はステートレスであり、キャッシュを行いません。
func ParseConsistencyContext(data []byte) (*ConsistencyContext, error) {
	var cctx ConsistencyContext
	if err := json.Unmarshal(data, &cctx); err != nil {
		return nil, fmt.Errorf("キャラクター設定のデコードに失敗したのだ: %w", err)
	}
	if cctx.Seed == 0 && cctx.Name != "" {
		cctx.Seed = int64(SeedFromName(cctx.Name))
	}
	return &cctx, nil
}

// WithReference は参照画像ハンドルだけを差し替えたコピーを返します。
// 元のコンテキストを不変に保つため、AppearanceTokens も新しく割り当ててコピーするのだ。
func (c *ConsistencyContext) WithReference(referenceID string) *ConsistencyContext {
	copied := *c
	if c.AppearanceTokens != nil {
		copied.AppearanceTokens = make([]string, len(c.AppearanceTokens))
		copy(copied.AppearanceTokens, c.AppearanceTokens)
	}
	copied.ReferenceArtifactID = referenceID
	return &copied
}

// String はキャラクターの情報を文字列で返すのだ。
func (c *ConsistencyContext) String() string {
	return fmt.Sprintf("%s (%s/%s)", c.Name, c.Gender, c.AgeBand)
}

// SeedFromName は名前から決定論的なシード値を生成します。
func SeedFromName(name string) int32 {
	hash := sha256.Sum256([]byte(name))
	// ハッシュの最初の4バイトを int32 に変換
	seed := int32(binary.BigEndian.Uint32(hash[:4]))
	// Geminiのシード値は正の数が望ましいため、最上位ビットを落とすのが安全なのだ
	return seed & 0x7FFFFFFF
}
