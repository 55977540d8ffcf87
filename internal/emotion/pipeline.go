package emotion

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/haasonsaas/companion-kernel/internal/eventbus"
)

// DefaultOutputMap re-targets raw primaries whose downstream animation
// states don't exist, without distorting the raw scores: fearful is
// shown as confused, disgusted as angry.
func DefaultOutputMap() map[Type]Type {
	return map[Type]Type{
		Fearful:   Confused,
		Disgusted: Angry,
	}
}

// secondaryThreshold is the minimum normalized share for an emotion to
// be reported as secondary.
const secondaryThreshold = 0.18

var thinkingRe = regexp.MustCompile(`(?is)<think(?:ing)?>.*?</think(?:ing)?>`)

// PrioritizedRule pairs a rule with its dispatch priority.
type PrioritizedRule struct {
	Priority int
	Rule     Rule
}

// Pipeline runs an ordered rule list over a text and folds the
// per-rule scores into a Result. Analyze is a pure function of
// (text, rules): the same pipeline always yields the same Result for
// the same text. The optional bus receives synchronous
// emotion.analysis.* events so subscribers never race the analysis.
type Pipeline struct {
	rules     []PrioritizedRule
	bus       *eventbus.Bus
	outputMap map[Type]Type
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithBus wires synchronous analysis event publishing.
func WithBus(bus *eventbus.Bus) PipelineOption {
	return func(p *Pipeline) { p.bus = bus }
}

// WithOutputMap overrides DefaultOutputMap. Pass an empty map to
// disable re-targeting entirely.
func WithOutputMap(m map[Type]Type) PipelineOption {
	return func(p *Pipeline) { p.outputMap = m }
}

// NewPipeline builds a pipeline from rules sorted by ascending
// priority. Registration order breaks priority ties.
func NewPipeline(rules []PrioritizedRule, opts ...PipelineOption) *Pipeline {
	sorted := make([]PrioritizedRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	p := &Pipeline{rules: sorted, outputMap: DefaultOutputMap()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DefaultRules returns the built-in rule set at its default
// priorities for lex.
func DefaultRules(lex Lexicon) []PrioritizedRule {
	return []PrioritizedRule{
		{PrioritySentimentHint, NewSentimentHintRule(lex)},
		{PriorityKeyword, NewKeywordRule(lex)},
		{PriorityPunctuation, NewPunctuationRule()},
		{PriorityEmoticon, NewEmoticonRule()},
	}
}

// NewDefaultPipeline is a convenience for the default lexicon and
// rule set.
func NewDefaultPipeline(opts ...PipelineOption) *Pipeline {
	return NewPipeline(DefaultRules(DefaultLexicon()), opts...)
}

// Analyze scores text and returns the aggregate Result. Model
// thinking blocks are stripped first; an empty remainder is neutral.
func (p *Pipeline) Analyze(ctx context.Context, text string) Result {
	clean := strings.TrimSpace(thinkingRe.ReplaceAllString(text, ""))
	if clean == "" {
		return neutralResult()
	}

	rctx := &RuleContext{Text: text, CleanText: clean, Flags: make(map[string]bool)}
	scores := make(map[Type]float64)
	var keywords []string

	p.publishSync(ctx, "emotion.analysis.started", map[string]any{
		"text_length": len(clean),
	})

	for _, pr := range p.rules {
		result := p.applyRule(pr.Rule, rctx)
		for emotion, score := range result.Scores {
			scores[emotion] += score
		}
		keywords = append(keywords, result.Keywords...)
		for flag, set := range result.Flags {
			rctx.Flags[flag] = set
		}
		p.publishSync(ctx, "emotion.analysis.rule.scored", map[string]any{
			"rule":   pr.Rule.Name(),
			"scores": scoresToMap(result.Scores),
		})
	}

	result := p.buildResult(scores, keywords)

	p.publishSync(ctx, "emotion.analysis.completed", map[string]any{
		"primary":    string(result.Primary),
		"confidence": result.Confidence,
	})
	return result
}

// applyRule recovers a panicking rule so it contributes zero instead
// of failing the analysis.
func (p *Pipeline) applyRule(rule Rule, rctx *RuleContext) (result RuleResult) {
	defer func() {
		if recover() != nil {
			result = RuleResult{}
		}
	}()
	return rule.Apply(rctx)
}

func (p *Pipeline) buildResult(scores map[Type]float64, keywords []string) Result {
	positive := make(map[Type]float64, len(scores))
	total := 0.0
	for emotion, score := range scores {
		if score > 0 {
			positive[emotion] = score
			total += score
		}
	}
	if len(positive) == 0 {
		return neutralResult()
	}

	normalized := make(map[Type]float64, len(positive))
	for emotion, score := range positive {
		normalized[emotion] = score / total
	}

	rawPrimary := argmax(normalized)
	primaryShare := normalized[rawPrimary]
	strength := min(1.0, total/3.0)
	confidence := max(0.3, min(0.95, 0.35+0.65*primaryShare*strength))

	primary := rawPrimary
	if mapped, ok := p.outputMap[rawPrimary]; ok {
		primary = mapped
	}

	var vad VAD
	for emotion, share := range normalized {
		v := vadTable[emotion]
		vad.Valence += v.Valence * share
		vad.Arousal += v.Arousal * share
		vad.Dominance += v.Dominance * share
	}

	secondary := make(map[Type]float64)
	for emotion, share := range normalized {
		if emotion != rawPrimary && share >= secondaryThreshold {
			secondary[emotion] = share
		}
	}
	if len(secondary) == 0 {
		secondary = nil
	}

	return Result{
		Primary:    primary,
		Confidence: confidence,
		Valence:    vad.Valence,
		Arousal:    vad.Arousal,
		Dominance:  vad.Dominance,
		Secondary:  secondary,
		Keywords:   dedupSorted(keywords),
	}
}

// argmax picks the highest-scoring emotion, breaking exact ties by
// name so analysis stays deterministic across map iteration orders.
func argmax(scores map[Type]float64) Type {
	var best Type
	bestScore := -1.0
	for emotion, score := range scores {
		if score > bestScore || (score == bestScore && emotion < best) {
			best = emotion
			bestScore = score
		}
	}
	return best
}

func dedupSorted(keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

func scoresToMap(scores map[Type]float64) map[string]float64 {
	out := make(map[string]float64, len(scores))
	for emotion, score := range scores {
		out[string(emotion)] = score
	}
	return out
}

func neutralResult() Result {
	v := vadTable[Neutral]
	return Result{
		Primary:    Neutral,
		Confidence: 1.0,
		Valence:    v.Valence,
		Arousal:    v.Arousal,
		Dominance:  v.Dominance,
	}
}

func (p *Pipeline) publishSync(ctx context.Context, eventType string, payload map[string]any) {
	if p.bus == nil {
		return
	}
	_ = p.bus.PublishSync(ctx, eventbus.Event{
		Type:    eventType,
		Source:  "emotion_pipeline",
		Payload: payload,
	})
}
