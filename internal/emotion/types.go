// Package emotion implements the rule-driven emotion analysis
// pipeline: a priority-ordered rule registry over a configurable
// lexicon, VAD scoring, and a hot-reloadable per-character config
// chain (base -> plugin overlays -> character overlay) cached by
// source-file mtime.
package emotion

// Type is a primary emotion category.
type Type string

const (
	Neutral   Type = "neutral"
	Happy     Type = "happy"
	Sad       Type = "sad"
	Angry     Type = "angry"
	Surprised Type = "surprised"
	Fearful   Type = "fearful"
	Disgusted Type = "disgusted"
	Excited   Type = "excited"
	Curious   Type = "curious"
	Confused  Type = "confused"
	Shy       Type = "shy"
	Sleepy    Type = "sleepy"
)

// TypeFromString maps a config/plugin-supplied emotion key to a Type.
// Unknown keys return ("", false) so callers can skip bad entries
// instead of mis-scoring them.
func TypeFromString(s string) (Type, bool) {
	switch Type(s) {
	case Neutral, Happy, Sad, Angry, Surprised, Fearful, Disgusted,
		Excited, Curious, Confused, Shy, Sleepy:
		return Type(s), true
	}
	return "", false
}

// VAD is a valence/arousal/dominance triple: valence in [-1,1],
// arousal and dominance in [0,1].
type VAD struct {
	Valence   float64
	Arousal   float64
	Dominance float64
}

// vadTable is the fixed emotion -> VAD lookup used to derive the
// score-weighted VAD of an analysis result.
var vadTable = map[Type]VAD{
	Neutral:   {0.0, 0.3, 0.5},
	Happy:     {0.8, 0.6, 0.7},
	Sad:       {-0.7, 0.3, 0.3},
	Angry:     {-0.6, 0.8, 0.8},
	Surprised: {0.3, 0.8, 0.4},
	Fearful:   {-0.8, 0.7, 0.2},
	Disgusted: {-0.7, 0.5, 0.6},
	Excited:   {0.7, 0.9, 0.7},
	Curious:   {0.4, 0.5, 0.5},
	Confused:  {-0.2, 0.5, 0.3},
	Shy:       {0.1, 0.4, 0.2},
	Sleepy:    {-0.1, 0.1, 0.3},
}

// Result is the outcome of analyzing one text.
type Result struct {
	Primary    Type             `json:"primary_emotion"`
	Confidence float64          `json:"confidence"`
	Valence    float64          `json:"valence"`
	Arousal    float64          `json:"arousal"`
	Dominance  float64          `json:"dominance"`
	Secondary  map[Type]float64 `json:"secondary_emotions,omitempty"`
	Keywords   []string         `json:"keywords,omitempty"`
}
