// Package retry は、リモート生成呼び出しの失敗を「リトライすべきか、即座に諦めるべきか」に
// 分類し、リトライ時の待機時間を計算します。quota 系のエラーに対してリトライを重ねるのは
// 予算と時間の無駄であり、一方で一時的な過負荷はリトライが正しい回復手段なのだ。
package retry

import "strings"

// Category は失敗の分類タグです。メトリクスのエラー集計キーにもなります。
type Category string

const (
	CategoryOverload Category = "server_overload" // サーバ側の一時的な容量不足（リトライ可）
	CategoryQuota    Category = "quota"           // クォータ・課金上限（リトライ不可）
	CategoryOther    Category = "other"           // 不明な一時障害（リトライ可）
)

// Decision は分類結果です。
type Decision struct {
	Retryable bool
	Category  Category
}

// 分類に使うエラーメッセージ上のシグナル。判定は大文字小文字を区別しないのだ。
var (
	overloadSignals = []string{"500", "internal", "overloaded", "unavailable"}
	quotaSignals    = []string{"quota", "billing", "resource_exhausted"}
)

// Classify はリモート呼び出しの失敗を検査し、リトライ方針を決定します。
//   - 過負荷シグナル（"500", "internal" など） → リトライ（CategoryOverload）
//   - クォータ・課金シグナル（"quota", "billing" など） → 即時中断（CategoryQuota）
//   - それ以外 → 試行予算の範囲内でリトライ（CategoryOther）
//
// quota より先に overload を判定しない。quota 系メッセージが "internal" を含むことが
// あるため、リトライ不可の判定を優先するのだ。
func Classify(err error) Decision {
	if err == nil {
		return Decision{Retryable: false, Category: CategoryOther}
	}
	msg := strings.ToLower(err.Error())

	for _, sig := range quotaSignals {
		if strings.Contains(msg, sig) {
			return Decision{Retryable: false, Category: CategoryQuota}
		}
	}
	for _, sig := range overloadSignals {
		if strings.Contains(msg, sig) {
			return Decision{Retryable: true, Category: CategoryOverload}
		}
	}
	return Decision{Retryable: true, Category: CategoryOther}
}
