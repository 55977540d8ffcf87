package emotion

// Keyword is one weighted lexicon entry.
type Keyword struct {
	Text   string
	Weight float64
}

// Lexicon holds the keyword tables and modifier phrase lists the
// keyword and sentiment rules match against. Lexicons are value-like:
// the manager builds a fresh one per composed config and never
// mutates a built lexicon.
type Lexicon struct {
	Keywords      map[Type][]Keyword
	Intensifiers  []string
	Diminishers   []string
	Negations     []string
	PositiveHints []string
	NegativeHints []string
}

// DefaultLexicon returns the built-in lexicon used when no config
// chain supplies one. Entries cover both English and Chinese, since
// companion deployments routinely mix the two in one conversation.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Keywords: map[Type][]Keyword{
			Happy: {
				{"happy", 1.0}, {"glad", 0.9}, {"joy", 0.9}, {"delighted", 1.0},
				{"wonderful", 0.8}, {"great", 0.6}, {"nice", 0.5}, {"smile", 0.7},
				{"开心", 1.0}, {"高兴", 1.0}, {"快乐", 1.0}, {"幸福", 0.9}, {"笑", 0.6},
			},
			Sad: {
				{"sad", 1.0}, {"unhappy", 0.9}, {"depressed", 1.0}, {"miserable", 1.0},
				{"cry", 0.8}, {"crying", 0.9}, {"heartbroken", 1.0}, {"lonely", 0.8},
				{"难过", 1.0}, {"伤心", 1.0}, {"悲伤", 1.0}, {"哭", 0.8}, {"孤独", 0.8},
			},
			Angry: {
				{"angry", 1.0}, {"furious", 1.0}, {"mad", 0.8}, {"annoyed", 0.8},
				{"irritated", 0.8}, {"rage", 1.0}, {"hate", 0.9},
				{"生气", 1.0}, {"愤怒", 1.0}, {"气死", 1.0}, {"讨厌", 0.8}, {"烦", 0.6},
			},
			Surprised: {
				{"surprised", 1.0}, {"shocked", 1.0}, {"unbelievable", 0.9},
				{"unexpected", 0.8}, {"wow", 0.8}, {"whoa", 0.8}, {"omg", 0.9},
				{"惊讶", 1.0}, {"震惊", 1.0}, {"没想到", 0.9}, {"居然", 0.7}, {"竟然", 0.7},
			},
			Excited: {
				{"excited", 1.0}, {"thrilled", 1.0}, {"can't wait", 1.0},
				{"amazing", 0.8}, {"awesome", 0.8}, {"incredible", 0.8},
				{"兴奋", 1.0}, {"激动", 1.0}, {"期待", 0.8}, {"太棒了", 0.9},
			},
			Curious: {
				{"curious", 1.0}, {"wonder", 0.8}, {"interesting", 0.7},
				{"why", 0.4}, {"how come", 0.7}, {"what if", 0.6},
				{"好奇", 1.0}, {"想知道", 0.9}, {"为什么", 0.5}, {"有意思", 0.7},
			},
			Confused: {
				{"confused", 1.0}, {"puzzled", 0.9}, {"perplexed", 0.9},
				{"lost", 0.8}, {"not sure", 0.8}, {"don't understand", 1.0}, {":/", 0.8},
				{"不明白", 1.0}, {"搞不懂", 1.0}, {"迷茫", 0.9}, {"困惑", 1.0},
				{"懵", 0.7}, {"糊涂", 0.8}, {"奇怪", 0.6}, {"看不懂", 0.9},
			},
			Fearful: {
				{"afraid", 1.0}, {"scared", 1.0}, {"frightened", 1.0},
				{"terrified", 1.0}, {"anxious", 0.9}, {"nervous", 0.8}, {"panic", 1.0},
				{"害怕", 1.0}, {"恐惧", 1.0}, {"担心", 0.8}, {"紧张", 0.8},
				{"怕", 0.7}, {"不安", 0.8}, {"慌", 0.8},
			},
			Disgusted: {
				{"disgusting", 1.0}, {"gross", 0.9}, {"revolting", 1.0}, {"ew", 0.8},
				{"恶心", 1.0}, {"呕", 0.8}, {"反胃", 0.9},
			},
			Shy: {
				{"shy", 1.0}, {"embarrassed", 0.9}, {"blush", 0.9}, {"awkward", 0.7},
				{"害羞", 1.0}, {"不好意思", 0.9}, {"脸红", 0.9}, {"尴尬", 0.7},
			},
			Sleepy: {
				{"sleepy", 1.0}, {"tired", 0.9}, {"exhausted", 1.0}, {"drowsy", 0.9},
				{"疲惫", 1.0}, {"困", 0.8}, {"犯困", 0.9}, {"想睡", 1.0},
				{"打瞌睡", 0.9}, {"哈欠", 0.7}, {"累", 0.7}, {"zzz", 0.8},
			},
		},
		Intensifiers: []string{
			"very", "really", "super", "extremely", "so", "too",
			"太", "很", "非常", "超级", "特别", "真", "真的", "巨", "爆", "贼",
		},
		Diminishers: []string{
			"a bit", "a little", "kind of", "kinda", "sort of", "maybe",
			"稍微", "有点", "一点", "有些", "可能",
		},
		Negations: []string{
			"not", "no", "never", "n't", "without",
			"不", "没", "没有", "无", "别", "难以", "不太",
		},
		PositiveHints: []string{
			"great", "awesome", "love", "yay",
			"开心", "快乐", "幸福", "喜欢", "爱", "棒", "太好了",
		},
		NegativeHints: []string{
			"bad", "terrible", "hate",
			"难过", "伤心", "糟糕", "讨厌", "烦", "生气", "痛苦", "崩溃",
		},
	}
}
