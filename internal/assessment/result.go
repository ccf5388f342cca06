package assessment

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// OverallScores are the sentence-level percentages returned by the scoring
// service.
type OverallScores struct {
	Accuracy      float64 `json:"accuracy" yaml:"accuracy"`
	Completeness  float64 `json:"completeness" yaml:"completeness"`
	Fluency       float64 `json:"fluency" yaml:"fluency"`
	Pronunciation float64 `json:"pronunciation" yaml:"pronunciation"`
	Prosody       float64 `json:"prosody" yaml:"prosody"`
}

// PhonemeTip is a coaching hint for one weak phoneme.
type PhonemeTip struct {
	Phoneme string `json:"phoneme" yaml:"phoneme"`
	Tip     string `json:"tip" yaml:"tip"`
}

// PhonemeScore is the raw accuracy of one phoneme.
type PhonemeScore struct {
	Phoneme string  `json:"phoneme" yaml:"phoneme"`
	Score   float64 `json:"score" yaml:"score"`
}

// WordFeedback is the structured coaching attached to a weak word.
type WordFeedback struct {
	WordTip  string       `json:"word_tip,omitempty" yaml:"word_tip,omitempty"`
	Phonemes []PhonemeTip `json:"phonemes" yaml:"phonemes"`
}

// WordAssessment is the score for one word of the reference text. Feedback is
// nil when the word needed none or when the service could not produce any.
type WordAssessment struct {
	Word          string         `json:"word" yaml:"word"`
	WordAccuracy  float64        `json:"word_accuracy" yaml:"word_accuracy"`
	PhonemeScores []PhonemeScore `json:"phoneme_scores,omitempty" yaml:"phoneme_scores,omitempty"`
	Feedback      *WordFeedback  `json:"feedback,omitempty" yaml:"feedback,omitempty"`
}

// Result is one complete assessment. It is treated as immutable once returned.
type Result struct {
	Overall OverallScores    `json:"overall" yaml:"overall"`
	Words   []WordAssessment `json:"words" yaml:"words"`
}

// wireResult mirrors the response body with pointers so that missing fields
// can be told apart from zero scores.
type wireResult struct {
	Overall *wireOverall `json:"overall" validate:"required"`
	Words   *[]wireWord  `json:"words" validate:"required,dive"`
}

type wireOverall struct {
	Accuracy      *float64 `json:"accuracy" validate:"required,gte=0,lte=100"`
	Completeness  *float64 `json:"completeness" validate:"required,gte=0,lte=100"`
	Fluency       *float64 `json:"fluency" validate:"required,gte=0,lte=100"`
	Pronunciation *float64 `json:"pronunciation" validate:"required,gte=0,lte=100"`
	Prosody       *float64 `json:"prosody" validate:"required,gte=0,lte=100"`
}

type wireWord struct {
	Word          string             `json:"word"`
	WordAccuracy  *float64           `json:"word_accuracy" validate:"required,gte=0,lte=100"`
	PhonemeScores []wirePhonemeScore `json:"phoneme_scores" validate:"dive"`
	Feedback      wireFeedback       `json:"feedback"`
}

type wirePhonemeScore struct {
	Phoneme string  `json:"phoneme"`
	Score   float64 `json:"score" validate:"gte=0,lte=100"`
}

// wireFeedback accepts null, a structured tip object, or an error indicator
// such as {"error": "Feedback unavailable"} or a bare string. Only the
// structured form yields a value.
type wireFeedback struct {
	value *WordFeedback
}

func (f *wireFeedback) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) || data[0] != '{' {
		f.value = nil
		return nil
	}

	var raw struct {
		Error    json.RawMessage `json:"error"`
		WordTip  string          `json:"word_tip"`
		Phonemes []PhonemeTip    `json:"phonemes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode feedback: %w", err)
	}
	if len(raw.Error) > 0 && !bytes.Equal(raw.Error, []byte("null")) {
		f.value = nil
		return nil
	}

	phonemes := raw.Phonemes
	if phonemes == nil {
		phonemes = []PhonemeTip{}
	}
	f.value = &WordFeedback{WordTip: raw.WordTip, Phonemes: phonemes}
	return nil
}

func (w *wireResult) toResult() *Result {
	result := &Result{
		Overall: OverallScores{
			Accuracy:      *w.Overall.Accuracy,
			Completeness:  *w.Overall.Completeness,
			Fluency:       *w.Overall.Fluency,
			Pronunciation: *w.Overall.Pronunciation,
			Prosody:       *w.Overall.Prosody,
		},
		Words: make([]WordAssessment, 0, len(*w.Words)),
	}

	for _, ww := range *w.Words {
		word := WordAssessment{
			Word:         ww.Word,
			WordAccuracy: *ww.WordAccuracy,
			Feedback:     ww.Feedback.value,
		}
		for _, ps := range ww.PhonemeScores {
			word.PhonemeScores = append(word.PhonemeScores, PhonemeScore{Phoneme: ps.Phoneme, Score: ps.Score})
		}
		result.Words = append(result.Words, word)
	}

	return result
}

// Clone returns a deep copy of the result.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := &Result{Overall: r.Overall, Words: make([]WordAssessment, len(r.Words))}
	for i, w := range r.Words {
		cw := w
		if w.PhonemeScores != nil {
			cw.PhonemeScores = append([]PhonemeScore(nil), w.PhonemeScores...)
		}
		if w.Feedback != nil {
			fb := *w.Feedback
			fb.Phonemes = append([]PhonemeTip{}, w.Feedback.Phonemes...)
			cw.Feedback = &fb
		}
		out.Words[i] = cw
	}
	return out
}
