package emotion

import "strings"

// synonyms maps lowercase model output to a canonical label.
var synonyms = map[string]string{
	"alegría":    Joy,
	"alegria":    Joy,
	"felicidad":  Joy,
	"feliz":      Joy,
	"joy":        Joy,
	"happiness":  Joy,
	"tristeza":   Sadness,
	"triste":     Sadness,
	"sadness":    Sadness,
	"ira":        Anger,
	"enojo":      Anger,
	"rabia":      Anger,
	"enfado":     Anger,
	"anger":      Anger,
	"miedo":      Fear,
	"temor":      Fear,
	"ansiedad":   Fear,
	"fear":       Fear,
	"amor":       Love,
	"cariño":     Love,
	"love":       Love,
	"sorpresa":   Surprise,
	"asombro":    Surprise,
	"surprise":   Surprise,
	"neutral":    Neutral,
	"neutro":     Neutral,
	"calma":      Neutral,
	"others":     Neutral,
	"otros":      Neutral,
	"no emotion": Neutral,
}

// Normalize lowercases raw and maps known synonyms to their canonical label.
// Unknown labels pass through lowercased.
func Normalize(raw string) string {
	label := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := synonyms[label]; ok {
		return canonical
	}
	return label
}
