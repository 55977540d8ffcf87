package emotion

import (
	"regexp"
	"strings"
)

// RuleContext is threaded through every rule of one analysis. Flags
// set by an earlier rule are visible to later rules (e.g. the
// punctuation rule reads the sentiment rule's "negative_hint").
type RuleContext struct {
	Text      string
	CleanText string
	Flags     map[string]bool
}

// RuleResult is one rule's contribution: additive per-emotion scores,
// the keywords that fired, and flags for later rules.
type RuleResult struct {
	Scores   map[Type]float64
	Keywords []string
	Flags    map[string]bool
}

// Rule scores one aspect of the text. Rules must be pure with respect
// to their inputs so analysis stays deterministic.
type Rule interface {
	Name() string
	Apply(ctx *RuleContext) RuleResult
}

// Default rule priorities. Lower runs first.
const (
	PrioritySentimentHint = 10
	PriorityKeyword       = 20
	PriorityPunctuation   = 30
	PriorityEmoticon      = 40
	PriorityCustomDefault = 50
)

// negationMap redirects a negated keyword's score to the emotion the
// negation actually expresses ("not happy" reads as sad, not happy).
var negationMap = map[Type]Type{
	Happy:     Sad,
	Excited:   Sad,
	Curious:   Confused,
	Surprised: Neutral,
	Angry:     Neutral,
	Sad:       Neutral,
	Fearful:   Confused,
	Disgusted: Angry,
	Shy:       Neutral,
	Sleepy:    Neutral,
}

var wordKeywordRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z' -]*$`)

// compileKeyword builds the match pattern for one lexicon entry:
// plain ASCII words get word boundaries, everything else (emoticons,
// CJK) matches as a literal substring.
func compileKeyword(keyword string) *regexp.Regexp {
	if wordKeywordRe.MatchString(keyword) {
		return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(keyword) + `\b`)
	}
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(keyword))
}

// compilePhrases builds one alternation over a phrase list, or a
// never-matching pattern when the list is empty.
func compilePhrases(phrases []string) *regexp.Regexp {
	escaped := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p != "" {
			escaped = append(escaped, regexp.QuoteMeta(p))
		}
	}
	if len(escaped) == 0 {
		return regexp.MustCompile(`a^`)
	}
	return regexp.MustCompile(`(?i)` + strings.Join(escaped, "|"))
}

type compiledKeyword struct {
	pattern *regexp.Regexp
	weight  float64
}

// KeywordRule scores emotions from weighted lexicon keywords, with a
// short look-behind window for intensifiers/diminishers/negations and
// an all-caps emphasis bump.
type KeywordRule struct {
	intensifiers *regexp.Regexp
	diminishers  *regexp.Regexp
	negations    *regexp.Regexp
	keywords     map[Type][]compiledKeyword
}

// NewKeywordRule compiles lex's keyword tables once.
func NewKeywordRule(lex Lexicon) *KeywordRule {
	r := &KeywordRule{
		intensifiers: compilePhrases(lex.Intensifiers),
		diminishers:  compilePhrases(lex.Diminishers),
		negations:    compilePhrases(lex.Negations),
		keywords:     make(map[Type][]compiledKeyword, len(lex.Keywords)),
	}
	for emotion, entries := range lex.Keywords {
		compiled := make([]compiledKeyword, 0, len(entries))
		for _, kw := range entries {
			if kw.Text == "" {
				continue
			}
			compiled = append(compiled, compiledKeyword{pattern: compileKeyword(kw.Text), weight: kw.Weight})
		}
		r.keywords[emotion] = compiled
	}
	return r
}

func (r *KeywordRule) Name() string { return "keyword" }

func (r *KeywordRule) Apply(ctx *RuleContext) RuleResult {
	if ctx.CleanText == "" {
		return RuleResult{}
	}

	scores := make(map[Type]float64)
	var keywords []string
	for emotion, compiled := range r.keywords {
		for _, kw := range compiled {
			for _, loc := range kw.pattern.FindAllStringIndex(ctx.CleanText, -1) {
				matched := ctx.CleanText[loc[0]:loc[1]]
				score := kw.weight * r.multiplier(ctx.CleanText, loc[0], matched)
				if r.isNegated(ctx.CleanText, loc[0]) {
					if target, ok := negationMap[emotion]; ok {
						scores[target] += score * 0.7
					}
					continue
				}
				scores[emotion] += score
				keywords = append(keywords, matched)
			}
		}
	}
	return RuleResult{Scores: scores, Keywords: keywords}
}

func (r *KeywordRule) multiplier(text string, start int, matched string) float64 {
	window := strings.ToLower(lookBehind(text, start, 10))
	m := 1.0
	if r.intensifiers.MatchString(window) {
		m *= 1.4
	}
	if r.diminishers.MatchString(window) {
		m *= 0.7
	}
	if len(matched) >= 3 && matched == strings.ToUpper(matched) && matched != strings.ToLower(matched) {
		m *= 1.2
	}
	return m
}

func (r *KeywordRule) isNegated(text string, start int) bool {
	return r.negations.MatchString(strings.ToLower(lookBehind(text, start, 8)))
}

// lookBehind returns up to n runes of text immediately before byte
// offset start.
func lookBehind(text string, start, n int) string {
	window := []rune(text[:start])
	if len(window) > n {
		window = window[len(window)-n:]
	}
	return string(window)
}

// SentimentHintRule detects coarse positive/negative hints, setting
// flags that bias later rules and contributing a small score of its
// own.
type SentimentHintRule struct {
	positive *regexp.Regexp
	negative *regexp.Regexp
}

// NewSentimentHintRule compiles lex's hint lists.
func NewSentimentHintRule(lex Lexicon) *SentimentHintRule {
	return &SentimentHintRule{
		positive: compilePhrases(lex.PositiveHints),
		negative: compilePhrases(lex.NegativeHints),
	}
}

func (r *SentimentHintRule) Name() string { return "sentiment_hint" }

func (r *SentimentHintRule) Apply(ctx *RuleContext) RuleResult {
	scores := make(map[Type]float64)
	flags := make(map[string]bool)

	if r.positive.MatchString(ctx.CleanText) {
		flags["positive_hint"] = true
		scores[Happy] += 0.2
	}
	if r.negative.MatchString(ctx.CleanText) {
		flags["negative_hint"] = true
		scores[Sad] += 0.2
		scores[Angry] += 0.1
	}
	return RuleResult{Scores: scores, Flags: flags}
}

// PunctuationRule scores punctuation cues: exclamation runs, question
// marks, surprise punctuation, and ellipses.
type PunctuationRule struct {
	exclamation *regexp.Regexp
	question    *regexp.Regexp
	surprise    *regexp.Regexp
	ellipsis    *regexp.Regexp
}

// NewPunctuationRule builds the rule. It takes no lexicon; the cues
// are structural.
func NewPunctuationRule() *PunctuationRule {
	return &PunctuationRule{
		exclamation: regexp.MustCompile(`[!！]`),
		question:    regexp.MustCompile(`[?？]`),
		surprise:    regexp.MustCompile(`[!?？！]{2,}`),
		ellipsis:    regexp.MustCompile(`(\.\.\.|…+)`),
	}
}

func (r *PunctuationRule) Name() string { return "punctuation" }

func (r *PunctuationRule) Apply(ctx *RuleContext) RuleResult {
	text := ctx.CleanText
	if text == "" {
		return RuleResult{}
	}
	scores := make(map[Type]float64)

	if n := len(r.exclamation.FindAllString(text, -1)); n > 0 {
		bump := 0.2 + 0.1*float64(min(4, n))
		if ctx.Flags["negative_hint"] {
			scores[Angry] += bump
		} else {
			scores[Excited] += bump
		}
	}

	if n := len(r.question.FindAllString(text, -1)); n > 0 {
		bump := 0.15 + 0.1*float64(min(3, n))
		scores[Curious] += bump
		if n >= 2 {
			scores[Confused] += bump * 0.7
		}
	}

	if r.surprise.MatchString(text) {
		scores[Surprised] += 0.6
	}
	if r.ellipsis.MatchString(text) {
		scores[Sad] += 0.2
		scores[Confused] += 0.2
	}
	return RuleResult{Scores: scores}
}

// EmoticonRule scores emoticons and stylized tokens (haha, T_T, orz,
// zzz and their CJK counterparts).
type EmoticonRule struct {
	laugh  *regexp.Regexp
	cry    *regexp.Regexp
	sigh   *regexp.Regexp
	orz    *regexp.Regexp
	sleepy *regexp.Regexp
}

// NewEmoticonRule builds the rule.
func NewEmoticonRule() *EmoticonRule {
	return &EmoticonRule{
		laugh:  regexp.MustCompile(`(?i)(ha){2,}|(haha)+|[哈]{2,}|w{2,}|lol+`),
		cry:    regexp.MustCompile(`(?i)(T_T|Q_Q|QAQ|;_;|:'\(|:'-\()|[呜哭]{2,}`),
		sigh:   regexp.MustCompile(`[唉哎唔哼]`),
		orz:    regexp.MustCompile(`(?i)\b(?:orz|otz)\b`),
		sleepy: regexp.MustCompile(`(?i)\bzz+\b`),
	}
}

func (r *EmoticonRule) Name() string { return "emoticon" }

func (r *EmoticonRule) Apply(ctx *RuleContext) RuleResult {
	text := ctx.CleanText
	if text == "" {
		return RuleResult{}
	}
	scores := make(map[Type]float64)

	if r.laugh.MatchString(text) {
		scores[Happy] += 0.8
		scores[Excited] += 0.4
	}
	if r.cry.MatchString(text) {
		scores[Sad] += 0.8
	}
	if r.sigh.MatchString(text) {
		scores[Sad] += 0.4
		scores[Sleepy] += 0.2
	}
	if r.orz.MatchString(text) {
		scores[Sad] += 0.5
	}
	if r.sleepy.MatchString(text) {
		scores[Sleepy] += 0.6
	}
	return RuleResult{Scores: scores}
}

// PatternKind selects how a PatternRule matches its patterns.
type PatternKind string

const (
	PatternRegex    PatternKind = "regex"
	PatternContains PatternKind = "contains"
)

// PatternRule is a custom rule injected from configuration: a set of
// regex or substring patterns contributing a fixed weight to one
// emotion per match.
type PatternRule struct {
	name     string
	emotion  Type
	weight   float64
	kind     PatternKind
	regexes  []*regexp.Regexp
	literals []string
}

// NewPatternRule compiles a configured custom rule. Invalid regex
// patterns are skipped; a rule whose patterns all fail to compile
// simply never fires.
func NewPatternRule(name string, emotion Type, patterns []string, weight float64, kind PatternKind) *PatternRule {
	if weight == 0 {
		weight = 0.6
	}
	r := &PatternRule{name: name, emotion: emotion, weight: weight, kind: kind}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if kind == PatternContains {
			r.literals = append(r.literals, strings.ToLower(p))
			continue
		}
		if re, err := regexp.Compile(`(?i)` + p); err == nil {
			r.regexes = append(r.regexes, re)
		}
	}
	return r
}

func (r *PatternRule) Name() string { return r.name }

func (r *PatternRule) Apply(ctx *RuleContext) RuleResult {
	text := ctx.CleanText
	if text == "" {
		return RuleResult{}
	}
	scores := make(map[Type]float64)
	var keywords []string

	if r.kind == PatternContains {
		lowered := strings.ToLower(text)
		for _, lit := range r.literals {
			if strings.Contains(lowered, lit) {
				scores[r.emotion] += r.weight
				keywords = append(keywords, lit)
			}
		}
		return RuleResult{Scores: scores, Keywords: keywords}
	}

	for _, re := range r.regexes {
		matches := re.FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}
		scores[r.emotion] += r.weight * float64(len(matches))
		keywords = append(keywords, matches...)
	}
	return RuleResult{Scores: scores, Keywords: keywords}
}
