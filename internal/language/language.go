// Package language guesses the language of a transcript or title. Detection
// is trigram based (whatlanggo), restricted to the languages the prompts and
// the transcriber know how to name.
package language

import (
	"unicode"

	"github.com/RadhiFadlillah/whatlanggo"
)

// Result is a detected language.
type Result struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Default is returned when nothing matches well enough.
var Default = Result{Code: "en", Name: "English", Confidence: 0.2}

// sampleRunes bounds how much text is inspected.
const sampleRunes = 4000

// maxConfidence caps single-script verdicts, which whatlanggo reports as 1.
const maxConfidence = 0.95

type supported struct {
	code string
	name string
}

var languages = map[whatlanggo.Lang]supported{
	whatlanggo.Eng: {"en", "English"},
	whatlanggo.Spa: {"es", "Spanish"},
	whatlanggo.Fra: {"fr", "French"},
	whatlanggo.Deu: {"de", "German"},
	whatlanggo.Ita: {"it", "Italian"},
	whatlanggo.Por: {"pt", "Portuguese"},
	whatlanggo.Nld: {"nl", "Dutch"},
	whatlanggo.Pol: {"pl", "Polish"},
	whatlanggo.Tur: {"tr", "Turkish"},
	whatlanggo.Rus: {"ru", "Russian"},
	whatlanggo.Ukr: {"uk", "Ukrainian"},
	whatlanggo.Ell: {"el", "Greek"},
	whatlanggo.Arb: {"ar", "Arabic"},
	whatlanggo.Heb: {"he", "Hebrew"},
	whatlanggo.Hin: {"hi", "Hindi"},
	whatlanggo.Tha: {"th", "Thai"},
	whatlanggo.Kor: {"ko", "Korean"},
	whatlanggo.Jpn: {"ja", "Japanese"},
	whatlanggo.Cmn: {"zh", "Chinese"},
}

var options = func() whatlanggo.Options {
	whitelist := make(map[whatlanggo.Lang]bool, len(languages))
	for lang := range languages {
		whitelist[lang] = true
	}
	return whatlanggo.Options{Whitelist: whitelist}
}()

// Detect returns the most likely language of text.
func Detect(text string) Result {
	sample := []rune(text)
	if len(sample) > sampleRunes {
		sample = sample[:sampleRunes]
	}
	if !hasLetters(sample) {
		return Default
	}

	info := whatlanggo.DetectWithOptions(string(sample), options)
	lang, ok := languages[info.Lang]
	if !ok {
		return Default
	}

	confidence := info.Confidence
	if confidence > maxConfidence {
		confidence = maxConfidence
	}
	if confidence < Default.Confidence {
		confidence = Default.Confidence
	}
	return Result{Code: lang.code, Name: lang.name, Confidence: confidence}
}

func hasLetters(rs []rune) bool {
	for _, r := range rs {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// Name returns the English name for a language code, or "" when the code is
// not supported.
func Name(code string) string {
	for _, l := range languages {
		if l.code == code {
			return l.name
		}
	}
	return ""
}
