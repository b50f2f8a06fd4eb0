package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shouni/go-panel-kit/pkg/domain"
	"github.com/shouni/go-panel-kit/pkg/ratelimit"
	"github.com/shouni/go-panel-kit/pkg/retry"
)

// fakeGenerator はテスト用の Generator 実装なのだ。
// fn には通算呼び出し回数（1始まり）とリクエストが渡される。
type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, req Request) (*Response, error)
}

func (f *fakeGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call, req)
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakePreparer はテスト用の ReferencePreparer 実装なのだ。
type fakePreparer struct {
	mu    sync.Mutex
	calls int
	refID string
	err   error
	delay time.Duration
}

func (f *fakePreparer) PrepareReference(ctx context.Context, c *domain.ConsistencyContext) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.refID, f.err
}

func (f *fakePreparer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// testConfig はテストが高速に回るよう、待ち時間を極小にした構成を返すのだ。
func testConfig(gen Generator) Config {
	return Config{
		Generator:       gen,
		Pacer:           ratelimit.New(0),
		Stagger:         time.Millisecond,
		MaxAttempts:     3,
		PreAttemptDelay: time.Millisecond,
		SettleDelay:     time.Millisecond,
		Backoff:         retry.BackoffPolicy{Base: time.Millisecond, Cap: 4 * time.Millisecond},
	}
}

func testBatch(panelCount int) domain.Batch {
	panels := make([]domain.PanelSpec, panelCount)
	for i := range panels {
		panels[i] = domain.PanelSpec{
			Index:    i,
			Prompt:   fmt.Sprintf("scene %d", i),
			Dialogue: "The library was quiet that afternoon, and Mio had finally found the book she had been searching for all week, tucked away on the highest shelf.",
		}
	}
	return domain.Batch{
		Title:     "test batch",
		Character: domain.NewConsistencyContext("Mio", domain.GenderFemale, domain.AgeBandTeen, []string{"glasses"}),
		Panels:    panels,
	}
}

func TestDispatchAllPanelsSucceed(t *testing.T) {
	gen := &fakeGenerator{fn: func(call int, req Request) (*Response, error) {
		return &Response{Data: []byte{0x1}, MimeType: "image/png"}, nil
	}}
	d, err := New(testConfig(gen))
	if err != nil {
		t.Fatalf("ディスパッチャの生成に失敗しました: %v", err)
	}

	results, err := d.Dispatch(context.Background(), testBatch(3))
	if err != nil {
		t.Fatalf("Dispatch でエラー: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("結果数: 期待値 3, 実際の値 %d", len(results))
	}
	for i, res := range results {
		if res.Index != i {
			t.Errorf("結果 %d の Index が %d になっています", i, res.Index)
		}
		if res.Status != domain.StatusGenerated {
			t.Errorf("パネル %d が %s になっています", i, res.Status)
		}
		if len(res.Attempts) != 1 {
			t.Errorf("パネル %d の試行回数: 期待値 1, 実際の値 %d", i, len(res.Attempts))
		}
		if res.NarrationText == "" {
			t.Errorf("パネル %d のナレーションが空です。Dialogue から補われるべきです", i)
		}
	}
}

func TestDispatchEmptyBatch(t *testing.T) {
	gen := &fakeGenerator{fn: func(call int, req Request) (*Response, error) {
		t.Error("空バッチでリモート呼び出しが発生しました")
		return nil, nil
	}}
	d, _ := New(testConfig(gen))

	results, err := d.Dispatch(context.Background(), domain.Batch{Title: "empty"})
	if err != nil {
		t.Fatalf("空バッチでエラー: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("空バッチには空スライスが返るべきです: %v", results)
	}
}

func TestDispatchMissingCharacter(t *testing.T) {
	gen := &fakeGenerator{fn: func(call int, req Request) (*Response, error) {
		return &Response{Data: []byte{0x1}}, nil
	}}
	d, _ := New(testConfig(gen))

	batch := testBatch(2)
	batch.Character = nil

	_, err := d.Dispatch(context.Background(), batch)
	if !errors.Is(err, ErrMissingCharacter) {
		t.Errorf("期待値 ErrMissingCharacter, 実際の値 %v", err)
	}
}

func TestRetryExhaustionProducesFallback(t *testing.T) {
	// パネル0（scene 0）だけ常に失敗させるのだ
	gen := &fakeGenerator{fn: func(call int, req Request) (*Response, error) {
		if strings.Contains(req.Prompt, "scene 0") {
			return nil, errors.New("service unavailable")
		}
		return &Response{Data: []byte{0x1}, MimeType: "image/png"}, nil
	}}
	d, _ := New(testConfig(gen))

	results, err := d.Dispatch(context.Background(), testBatch(2))
	if err != nil {
		t.Fatalf("Dispatch でエラー: %v", err)
	}

	failed := results[0]
	if !failed.IsFallback() {
		t.Fatal("試行予算を使い切ったのにフォールバックになっていません")
	}
	if len(failed.Attempts) != 3 {
		t.Errorf("試行回数: 期待値 3, 実際の値 %d", len(failed.Attempts))
	}
	if failed.FallbackReason == "" {
		t.Error("FallbackReason が空です")
	}
	if len(failed.Data) == 0 {
		t.Error("フォールバックでも成果物データは空であってはなりません")
	}

	// 1枚の失敗が他のパネルを巻き込まないこと
	if results[1].Status != domain.StatusGenerated {
		t.Errorf("無関係なパネルまで %s になっています", results[1].Status)
	}
}

func TestFatalErrorSkipsRetries(t *testing.T) {
	gen := &fakeGenerator{fn: func(call int, req Request) (*Response, error) {
		return nil, errors.New("quota exceeded for project")
	}}
	d, _ := New(testConfig(gen))

	results, err := d.Dispatch(context.Background(), testBatch(1))
	if err != nil {
		t.Fatalf("Dispatch でエラー: %v", err)
	}

	res := results[0]
	if !res.IsFallback() {
		t.Fatal("致命的エラーなのにフォールバックになっていません")
	}
	if len(res.Attempts) != 1 {
		t.Errorf("致命的エラーは即時中断すべきです。試行回数 %d", len(res.Attempts))
	}
	if res.Attempts[0].Outcome != domain.OutcomeFatalError {
		t.Errorf("試行記録の区分: 期待値 %s, 実際の値 %s", domain.OutcomeFatalError, res.Attempts[0].Outcome)
	}
}

func TestEmptyPayloadCountsAsFailure(t *testing.T) {
	gen := &fakeGenerator{fn: func(call int, req Request) (*Response, error) {
		return &Response{Data: nil}, nil
	}}
	d, _ := New(testConfig(gen))

	results, err := d.Dispatch(context.Background(), testBatch(1))
	if err != nil {
		t.Fatalf("Dispatch でエラー: %v", err)
	}
	if !results[0].IsFallback() {
		t.Error("データ空の応答が成功扱いになっています")
	}
	if len(results[0].Attempts) != 3 {
		t.Errorf("データ空はリトライ対象です。試行回数 %d", len(results[0].Attempts))
	}
}

func TestNilResponseCountsAsFailure(t *testing.T) {
	// エラーも応答も nil という行儀の悪い Generator でも、パニックせず
	// フォールバックへ畳まれること
	gen := &fakeGenerator{fn: func(call int, req Request) (*Response, error) {
		return nil, nil
	}}
	d, _ := New(testConfig(gen))

	results, err := d.Dispatch(context.Background(), testBatch(1))
	if err != nil {
		t.Fatalf("Dispatch でエラー: %v", err)
	}
	if !results[0].IsFallback() {
		t.Error("応答 nil が成功扱いになっています")
	}
	if len(results[0].Attempts) != 3 {
		t.Errorf("応答 nil はリトライ対象です。試行回数 %d", len(results[0].Attempts))
	}
}

func TestPreAttemptDelayAppliedOnce(t *testing.T) {
	// 固定ディレイは初回の前に1回だけ。リトライごとに挟まれると
	// 試行回数分だけ所要時間が膨らんでしまうのだ
	gen := &fakeGenerator{fn: func(call int, req Request) (*Response, error) {
		return nil, errors.New("service unavailable")
	}}

	cfg := testConfig(gen)
	cfg.PreAttemptDelay = 70 * time.Millisecond
	d, _ := New(cfg)

	start := time.Now()
	results, err := d.Dispatch(context.Background(), testBatch(1))
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Dispatch でエラー: %v", err)
	}
	if len(results[0].Attempts) != 3 {
		t.Fatalf("試行回数: 期待値 3, 実際の値 %d", len(results[0].Attempts))
	}

	if elapsed < 70*time.Millisecond {
		t.Errorf("初回前の固定ディレイが効いていません: %v", elapsed)
	}
	// 3回の試行すべてでディレイが入ると 210ms を超えるはず
	if elapsed >= 3*70*time.Millisecond {
		t.Errorf("固定ディレイが試行ごとに入っています: %v", elapsed)
	}
}

func TestReferenceSharedAcrossConcurrentBatches(t *testing.T) {
	var mu sync.Mutex
	seenRefs := make(map[string]bool)

	gen := &fakeGenerator{fn: func(call int, req Request) (*Response, error) {
		mu.Lock()
		seenRefs[req.ReferenceID] = true
		mu.Unlock()
		return &Response{Data: []byte{0x1}, MimeType: "image/png"}, nil
	}}
	prep := &fakePreparer{refID: "files/ref-1", delay: 20 * time.Millisecond}

	cfg := testConfig(gen)
	cfg.References = prep
	d, _ := New(cfg)

	// 同じキャラクターのバッチを並行で流すのだ
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.DispatchWithReference(context.Background(), testBatch(1)); err != nil {
				t.Errorf("DispatchWithReference でエラー: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := prep.callCount(); got != 1 {
		t.Errorf("参照準備の呼び出し回数: 期待値 1, 実際の値 %d（singleflight で重複排除されるべき）", got)
	}
	if !seenRefs["files/ref-1"] {
		t.Errorf("パネル生成に参照ハンドルが渡っていません: %v", seenRefs)
	}
}

func TestReferenceFailureIsNotFatal(t *testing.T) {
	gen := &fakeGenerator{fn: func(call int, req Request) (*Response, error) {
		if req.ReferenceID != "" {
			t.Errorf("失敗した参照のハンドルが渡っています: '%s'", req.ReferenceID)
		}
		return &Response{Data: []byte{0x1}, MimeType: "image/png"}, nil
	}}
	prep := &fakePreparer{err: errors.New("upload failed")}

	cfg := testConfig(gen)
	cfg.References = prep
	d, _ := New(cfg)

	results, err := d.DispatchWithReference(context.Background(), testBatch(2))
	if err != nil {
		t.Fatalf("参照の失敗がバッチ全体を失敗させました: %v", err)
	}
	for i, res := range results {
		if res.Status != domain.StatusGenerated {
			t.Errorf("パネル %d が %s になっています。参照なしで続行されるべきです", i, res.Status)
		}
	}
}

func TestNarrationNormalizationApplied(t *testing.T) {
	gen := &fakeGenerator{fn: func(call int, req Request) (*Response, error) {
		return &Response{
			Data:      []byte{0x1},
			MimeType:  "image/png",
			Narration: `Dialogue Text: "The rain kept falling on the empty street."`,
		}, nil
	}}
	d, _ := New(testConfig(gen))

	results, err := d.Dispatch(context.Background(), testBatch(1))
	if err != nil {
		t.Fatalf("Dispatch でエラー: %v", err)
	}

	got := results[0].NarrationText
	if strings.Contains(strings.ToLower(got), "dialogue") {
		t.Errorf("構造ラベルが除去されていません: '%s'", got)
	}
	if !results[0].NarrationUnderLength {
		t.Error("短いナレーションに UnderLength フラグが立っていません")
	}
}

func TestFallbackArtifactIsValidPNG(t *testing.T) {
	data, mime := fallbackArtifact()
	if mime != "image/png" {
		t.Errorf("MIME タイプ: 期待値 'image/png', 実際の値 '%s'", mime)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("フォールバック画像がPNGとしてデコードできません: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != fallbackWidth || bounds.Dy() != fallbackHeight {
		t.Errorf("画像サイズが不正です: %dx%d", bounds.Dx(), bounds.Dy())
	}
}
