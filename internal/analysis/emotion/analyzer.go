package emotion

import (
	"strings"
	"unicode"
)

// Canonical emotion labels shared by the classifier and the risk scorer.
const (
	Joy      = "alegría"
	Sadness  = "tristeza"
	Anger    = "ira"
	Fear     = "miedo"
	Love     = "amor"
	Surprise = "sorpresa"
	Neutral  = "neutral"
)

// Result is a label plus a per-label score map. Scores need not sum to 1.
type Result struct {
	Label  string             `json:"label"`
	Scores map[string]float64 `json:"scores"`
}

// NeutralResult returns {neutral: score}.
func NeutralResult(score float64) Result {
	return Result{Label: Neutral, Scores: map[string]float64{Neutral: score}}
}

// Valid reports whether r carries a label and at least one score.
func (r Result) Valid() bool {
	return r.Label != "" && len(r.Scores) > 0
}

// Clone returns a copy that does not share the score map.
func (r Result) Clone() Result {
	scores := make(map[string]float64, len(r.Scores))
	for k, v := range r.Scores {
		scores[k] = v
	}
	return Result{Label: r.Label, Scores: scores}
}

type bucket struct {
	label   string
	markers [][]string
}

// buckets are evaluated in this order; the first bucket wins a tie.
var buckets = []bucket{
	{label: Joy, markers: compileMarkers(
		"feliz", "felices", "alegre", "alegría", "contento", "contenta", "genial", "maravilloso",
		"emocionado", "emocionada", "me siento bien", "happy", "glad", "joy", "great",
	)},
	{label: Sadness, markers: compileMarkers(
		"triste", "tristeza", "deprimido", "deprimida", "sola", "llorar", "lloro", "llorando",
		"lamento", "vacío", "desanimado", "desanimada", "sad", "depressed", "lonely", "cry",
	)},
	{label: Anger, markers: compileMarkers(
		"enojado", "enojada", "furioso", "furiosa", "rabia", "ira", "odio", "molesto", "molesta",
		"harto", "harta", "angry", "mad", "furious", "hate",
	)},
	{label: Fear, markers: compileMarkers(
		"miedo", "asustado", "asustada", "ansiedad", "ansioso", "ansiosa", "nervioso", "nerviosa",
		"pánico", "preocupado", "preocupada", "afraid", "scared", "anxious", "fear", "worried",
	)},
	{label: Love, markers: compileMarkers(
		"amor", "amo", "te quiero", "cariño", "enamorado", "enamorada", "adoro", "love",
	)},
	{label: Surprise, markers: compileMarkers(
		"sorpresa", "sorprendido", "sorprendida", "increíble", "inesperado", "asombrado",
		"asombrada", "wow", "surprised", "unexpected",
	)},
}

// Heuristic scores text by counting whole-word marker hits per bucket.
// The highest raw count wins; scores are counts renormalised by their sum.
func Heuristic(text string) Result {
	words := tokenize(text)
	if len(words) == 0 {
		return NeutralResult(0.7)
	}

	counts := make([]int, len(buckets))
	total := 0
	best := -1
	for i, b := range buckets {
		for _, marker := range b.markers {
			counts[i] += countPhrase(words, marker)
		}
		total += counts[i]
		if counts[i] > 0 && (best == -1 || counts[i] > counts[best]) {
			best = i
		}
	}

	if best == -1 {
		return NeutralResult(0.7)
	}

	scores := make(map[string]float64)
	for i, c := range counts {
		if c > 0 {
			scores[buckets[i].label] = float64(c) / float64(total)
		}
	}
	return Result{Label: buckets[best].label, Scores: scores}
}

func compileMarkers(markers ...string) [][]string {
	out := make([][]string, 0, len(markers))
	for _, m := range markers {
		if words := tokenize(m); len(words) > 0 {
			out = append(out, words)
		}
	}
	return out
}

// tokenize lowercases text and splits it on anything that is not a letter or digit,
// so "¡Triste!" and "triste," both yield "triste".
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func countPhrase(words, phrase []string) int {
	count := 0
	for i := 0; i+len(phrase) <= len(words); i++ {
		match := true
		for j, w := range phrase {
			if words[i+j] != w {
				match = false
				break
			}
		}
		if match {
			count++
		}
	}
	return count
}
