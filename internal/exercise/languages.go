package exercise

import "strings"

// Language pairs a human label with the locale tag the scoring service expects.
type Language struct {
	Label string `json:"label" yaml:"label"`
	Code  string `json:"code" yaml:"code"`
}

// Languages is the list of practice locales offered to learners.
var Languages = []Language{
	{Label: "Arabic (Egypt)", Code: "ar-EG"},
	{Label: "Arabic (Saudi Arabia)", Code: "ar-SA"},
	{Label: "Chinese (Simplified)", Code: "zh-CN"},
	{Label: "Chinese (Taiwan)", Code: "zh-TW"},
	{Label: "Chinese (Hong Kong)", Code: "zh-HK"},
	{Label: "Danish (Denmark)", Code: "da-DK"},
	{Label: "Dutch (Netherlands)", Code: "nl-NL"},
	{Label: "English (US)", Code: "en-US"},
	{Label: "Finnish (Finland)", Code: "fi-FI"},
	{Label: "French (France)", Code: "fr-FR"},
	{Label: "French (Canada)", Code: "fr-CA"},
	{Label: "German (Germany)", Code: "de-DE"},
	{Label: "Hindi (India)", Code: "hi-IN"},
	{Label: "Italian (Italy)", Code: "it-IT"},
	{Label: "Japanese (Japan)", Code: "ja-JP"},
	{Label: "Korean (Korea)", Code: "ko-KR"},
	{Label: "Norwegian (Bokmål, Norway)", Code: "nb-NO"},
	{Label: "Polish (Poland)", Code: "pl-PL"},
	{Label: "Portuguese (Brazil)", Code: "pt-BR"},
	{Label: "Portuguese (Portugal)", Code: "pt-PT"},
	{Label: "Russian (Russia)", Code: "ru-RU"},
	{Label: "Spanish (Mexico)", Code: "es-MX"},
	{Label: "Spanish (Spain)", Code: "es-ES"},
	{Label: "Swedish (Sweden)", Code: "sv-SE"},
	{Label: "Turkish (Turkey)", Code: "tr-TR"},
	{Label: "Vietnamese (Vietnam)", Code: "vi-VN"},
}

// LookupLanguage resolves either a label or a locale code, case-insensitively.
func LookupLanguage(labelOrCode string) (Language, bool) {
	needle := strings.TrimSpace(labelOrCode)
	for _, lang := range Languages {
		if strings.EqualFold(lang.Label, needle) || strings.EqualFold(lang.Code, needle) {
			return lang, true
		}
	}
	return Language{}, false
}
