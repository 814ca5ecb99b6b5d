package moderation

import (
	"regexp"
	"strings"
)

// wordStart anchors a pattern at the start of the text or after a non-word
// character. RE2's \b only understands ASCII, which breaks on Cyrillic.
const wordStart = `(?:^|[^\p{L}\p{N}_])`

// Compiled once at package init; safe for concurrent use.
var (
	// telegramLinkPattern matches invite and channel links to Telegram.
	telegramLinkPattern = regexp.MustCompile(`(?:https?://)?(?:t\.me|telegram\.me)/[a-z0-9_]+`)

	// phonePattern matches international numbers written as +<10 or more digits>.
	phonePattern = regexp.MustCompile(`(?:^|\s)\+\d{10,}(?:\D|$)`)

	// emailPattern matches plain email addresses.
	emailPattern = regexp.MustCompile(`[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`)

	// linkPattern extracts the scheme and host portion of http(s) URLs.
	linkPattern = regexp.MustCompile(`(?i)https?://(?:[-\w.]|%[\da-fA-F]{2})+`)
)

// Rule is one named spam check.
type Rule struct {
	Name   string
	Reason string
	re     *regexp.Regexp
}

// Match describes the first rule that fired.
type Match struct {
	Rule   string
	Reason string
}

// coOccurrence builds a rule that fires when a word from first is followed by
// a word from second within 30 characters.
func coOccurrence(name, reason string, first, second []string) Rule {
	expr := wordStart + `(?:` + strings.Join(first, "|") + `).{0,30}(?:` + strings.Join(second, "|") + `)`
	return Rule{Name: name, Reason: reason, re: regexp.MustCompile(expr)}
}

func keywords(name, reason string, words []string) Rule {
	expr := wordStart + `(?:` + strings.Join(words, "|") + `)`
	return Rule{Name: name, Reason: reason, re: regexp.MustCompile(expr)}
}

// DefaultRules is the fixed rule set. Order matters: the first match wins.
var DefaultRules = []Rule{
	{Name: "telegram_link", Reason: "links to Telegram channels are not allowed", re: telegramLinkPattern},
	{Name: "phone", Reason: "phone numbers are not allowed", re: phonePattern},
	{Name: "email", Reason: "email addresses are not allowed", re: emailPattern},
	coOccurrence("easy_money", "easy money offer",
		[]string{"крипто", "заработок", "инвестиции", "доход", "прибыль", "crypto", "earn", "invest", "income", "profit"},
		[]string{"гарантированный", "быстрый", "легкий", "guaranteed", "fast", "easy", "quick"}),
	keywords("gambling", "gambling promotion",
		[]string{"казино", "ставки", "букмекер", "прогнозы", "casino", "betting", "bookmaker"}),
	coOccurrence("crypto_pump", "crypto pump promotion",
		[]string{"бинанс", "биткоин", "эфир", "крипта", "токен", "binance", "bitcoin", "btc", "token"},
		[]string{"рост", "памп", "профит", "pump", "moon", "profit"}),
	coOccurrence("remote_job", "work from home offer",
		[]string{"работа", "подработка", "доход", "work", "job", "income"},
		[]string{"дома", "удаленно", "онлайн", "from home", "remote", "online"}),
}

// DefaultSuspiciousDomains are host substrings that mark a link as suspicious:
// link shorteners and finance or gambling keywords.
var DefaultSuspiciousDomains = []string{
	"bit.ly", "tinyurl.com", "goo.gl",
	"crypto", "wallet", "investment",
	"profit", "earning", "casino",
	"binance", "trading", "forex",
}

// Matcher checks text against spam rules and a link denylist. It holds no
// mutable state.
type Matcher struct {
	rules   []Rule
	domains []string
}

// NewMatcher returns a Matcher with the default rules and domain denylist.
func NewMatcher() *Matcher {
	return NewMatcherWith(DefaultRules, DefaultSuspiciousDomains)
}

// NewMatcherWith returns a Matcher over the given rules and domains. Domains
// are compared case-insensitively.
func NewMatcherWith(rules []Rule, domains []string) *Matcher {
	lowered := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			lowered = append(lowered, d)
		}
	}
	return &Matcher{rules: rules, domains: lowered}
}

// MatchSpam returns the first spam rule matching text.
func (m *Matcher) MatchSpam(text string) (Match, bool) {
	lower := strings.ToLower(text)
	for _, r := range m.rules {
		if r.re.MatchString(lower) {
			return Match{Rule: r.Name, Reason: r.Reason}, true
		}
	}
	return Match{}, false
}

// SuspiciousLink returns the first URL in text whose host contains a
// denylisted substring.
func (m *Matcher) SuspiciousLink(text string) (string, bool) {
	for _, link := range linkPattern.FindAllString(text, -1) {
		host := strings.ToLower(link)
		host = strings.TrimPrefix(host, "https://")
		host = strings.TrimPrefix(host, "http://")
		for _, d := range m.domains {
			if strings.Contains(host, d) {
				return link, true
			}
		}
	}
	return "", false
}
