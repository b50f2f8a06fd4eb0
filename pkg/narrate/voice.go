package narrate

import "github.com/shouni/go-panel-kit/pkg/domain"

// Chirp 3 HD 系ボイスの選択表です。年齢帯と性別の組で声質を切り替えるのだ。
// 未知の組み合わせには落ち着いた女性声をデフォルトとして返します。
const voicePrefix = "en-IN-Chirp3-HD-"

var voiceTable = map[domain.AgeBand]map[domain.Gender]string{
	domain.AgeBandTeen: {
		domain.GenderFemale: "Kore",
		domain.GenderMale:   "Puck",
	},
	domain.AgeBandYoungAdult: {
		domain.GenderFemale: "Erinome",
		domain.GenderMale:   "Achird",
	},
	domain.AgeBandAdult: {
		domain.GenderFemale: "Callirrhoe",
		domain.GenderMale:   "Alnilam",
	},
	domain.AgeBandMature: {
		domain.GenderFemale: "Callirrhoe",
		domain.GenderMale:   "Alnilam",
	},
	domain.AgeBandSenior: {
		domain.GenderFemale: "Callirrhoe",
		domain.GenderMale:   "Alnilam",
	},
}

const defaultVoice = "Callirrhoe"

// VoiceFor はキャラクターの属性に合う音声合成ボイス名を返します。
func VoiceFor(gender domain.Gender, age domain.AgeBand) string {
	if byGender, ok := voiceTable[age]; ok {
		if name, ok := byGender[gender]; ok {
			return voicePrefix + name
		}
		// その他の性別は各年齢帯の女性声に寄せる
		if name, ok := byGender[domain.GenderFemale]; ok {
			return voicePrefix + name
		}
	}
	return voicePrefix + defaultVoice
}
