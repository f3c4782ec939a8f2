package polish

import (
	"strings"

	"github.com/astronerd/ghostype/pkg/errorsx"
)

// Language selects a translation direction.
type Language string

const (
	ChineseEnglish  Language = "zh-en"
	ChineseJapanese Language = "zh-ja"
	Auto            Language = "auto"
)

// Older settings files store the direction under these names.
var languageAliases = map[string]Language{
	"chineseenglish":  ChineseEnglish,
	"chinesejapanese": ChineseJapanese,
	"中英互译":            ChineseEnglish,
	"中日互译":            ChineseJapanese,
	"自动检测":            Auto,
}

// ParseLanguage accepts the canonical codes and legacy names. Empty means
// ChineseEnglish.
func ParseLanguage(s string) (Language, error) {
	v := strings.TrimSpace(s)
	switch Language(strings.ToLower(v)) {
	case "":
		return ChineseEnglish, nil
	case ChineseEnglish, ChineseJapanese, Auto:
		return Language(strings.ToLower(v)), nil
	}
	if l, ok := languageAliases[strings.ToLower(v)]; ok {
		return l, nil
	}
	return "", errorsx.Newf(errorsx.ReasonConfigInvalid, "polish: unknown translate language %q", s)
}

func (l Language) prompt() string {
	switch l {
	case ChineseJapanese:
		return "Translate the user's text. Chinese becomes Japanese and Japanese becomes Chinese. Output only the translation."
	case Auto:
		return "Detect the language of the user's text and translate it into Chinese, or into English if it is already Chinese. Output only the translation."
	default:
		return "Translate the user's text. Chinese becomes English and English becomes Chinese. Output only the translation."
	}
}
