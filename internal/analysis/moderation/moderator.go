// Package moderation flags crisis messages before any model sees them.
package moderation

import "strings"

// SafeResponse replaces the generated reply whenever a message is flagged.
const SafeResponse = "Siento mucho que estés pasando por esto. No estás solo/a. " +
	"Si estás en peligro o piensas en hacerte daño, llama ahora a tu número local de emergencias " +
	"o a una línea de prevención del suicidio. Hablar con alguien de confianza también puede ayudar. " +
	"Estoy aquí para escucharte."

// crisisKeywords are matched as lowercase substrings.
var crisisKeywords = []string{
	"suicid",
	"matarme",
	"quitarme la vida",
	"no quiero vivir",
	"quiero morir",
	"hacerme daño",
	"autolesion",
	"autolesión",
	"cortarme",
	"kill myself",
	"end my life",
	"want to die",
	"self-harm",
}

// Verdict is the moderation outcome for one message.
type Verdict struct {
	Flagged bool
	Keyword string
}

// Evaluate reports whether text contains a crisis keyword.
func Evaluate(text string) Verdict {
	lowered := strings.ToLower(text)
	for _, keyword := range crisisKeywords {
		if strings.Contains(lowered, keyword) {
			return Verdict{Flagged: true, Keyword: keyword}
		}
	}
	return Verdict{}
}
