package scoring

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultNegativeWords is the built-in lexicon used when no classifier
// service is configured.
var DefaultNegativeWords = []string{
	"плохо", "ужасно", "отстой", "мусор", "говно", "дерьмо",
	"хрень", "фигня", "дрянь", "отвратительно", "ненавижу",
	"тупой", "идиот", "дебил", "урод", "мразь", "тварь",
	"отморозок", "скотина", "сволочь", "придурок",
	"awful", "terrible", "garbage", "trash", "hate",
	"stupid", "idiot", "moron", "disgusting", "scum",
}

// leetReplacer maps common character substitutions back to letters.
var leetReplacer = strings.NewReplacer(
	"0", "o",
	"1", "i",
	"3", "e",
	"4", "a",
	"@", "a",
	"$", "s",
	"!", "i",
)

// Lexicon is a local Provider that counts negative-lexicon hits. It cannot
// fail, so it is a safe fallback when no classifier is reachable.
type Lexicon struct {
	words  map[string]struct{}
	policy Policy
}

// NewLexicon builds a lexicon scorer. Words are normalised the same way as
// scored text.
func NewLexicon(words []string, policy Policy) *Lexicon {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = fold(strings.TrimSpace(w))
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return &Lexicon{words: set, policy: policy}
}

// Score implements Provider.
func (l *Lexicon) Score(ctx context.Context, text string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	hits := l.hits(text)
	res := Result{SentimentLabel: "NEUTRAL", EmotionLabel: "neutral"}
	if hits > 0 {
		res.SentimentLabel = "NEGATIVE"
		res.SentimentScore = -math.Min(1, 0.4+0.2*float64(hits-1))
		res.Toxicity = math.Min(1, 0.35*float64(hits))
		if hits >= 2 {
			res.EmotionLabel = "anger"
		}
	}
	res.IsNegative = l.policy.IsNegative(res)
	return res, nil
}

// hits counts tokens found in the lexicon, trying both the plain and the
// leetspeak reading of each whitespace-separated field.
func (l *Lexicon) hits(text string) int {
	n := 0
	for _, field := range strings.Fields(text) {
		plain := fold(trimNonWord(field))
		leet := fold(trimNonWord(leetReplacer.Replace(strings.ToLower(field))))
		if _, ok := l.words[plain]; ok {
			n++
			continue
		}
		if _, ok := l.words[leet]; ok {
			n++
		}
	}
	return n
}

func trimNonWord(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// fold lower-cases s and strips combining marks.
func fold(s string) string {
	// the transformer is stateful and must not be shared between goroutines
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		return strings.ToLower(s)
	}
	return out
}
