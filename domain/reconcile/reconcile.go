// Package reconcile turns semi-structured model output into typed results.
// It is the single source of truth for tolerating unreliable upstream
// formatting: a strict fenced-block parse, a loose balanced-brace parse,
// and a line-oriented heuristic fallback, followed by field normalization.
// Reconcile is total - it never fails for any input string.
//
// All functions are pure; the package holds no shared state and
// invocations may run fully in parallel.
package reconcile

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Operation identifies the kind of AI operation whose output is being
// reconciled.
type Operation string

const (
	// OpOptimize rewrites note text (grammar, expression, structure).
	OpOptimize Operation = "optimize"
	// OpClassify suggests categories, topics and key phrases for a note.
	OpClassify Operation = "classify"
)

// Stage records which parse path produced a result.
type Stage string

const (
	StageStrict    Stage = "strict"
	StageLoose     Stage = "loose"
	StageHeuristic Stage = "heuristic"
	StageFailed    Stage = "failed" // upstream call never produced output
)

// Edit is one concrete rewrite suggestion inside an optimization result.
type Edit struct {
	Kind       string  `json:"type"`
	Original   string  `json:"original"`
	Revised    string  `json:"optimized"`
	Reason     string  `json:"explanation"`
	Confidence float64 `json:"confidence"`
}

// Suggestion is one category proposal inside a classification result.
type Suggestion struct {
	Category   string  `json:"category_name"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Existing   bool    `json:"is_existing"`
}

// Result is the normalized output of an AI operation.
//
// Invariant: the primary payload (Text for optimize, the top category for
// classify) is never empty after normalization - a fallback value is
// substituted and Err set instead, so downstream consumers never branch
// on "missing" vs "empty".
type Result struct {
	Operation Operation `json:"operation"`

	// Optimize payload.
	Text  string `json:"optimized_text,omitempty"`
	Edits []Edit `json:"edits,omitempty"`

	// Classify payload.
	Suggestions []Suggestion `json:"suggestions,omitempty"`
	Topics      []string     `json:"detected_topics,omitempty"`
	KeyPhrases  []string     `json:"key_phrases,omitempty"`
	ContentType string       `json:"content_type,omitempty"`

	Summary    string  `json:"summary,omitempty"`
	Confidence float64 `json:"confidence"`
	Degraded   bool    `json:"degraded"`
	Stage      Stage   `json:"stage"`
	Err        string  `json:"error,omitempty"`
}

// Payload returns the operation-specific primary payload.
func (r Result) Payload() string {
	if r.Operation == OpClassify {
		if len(r.Suggestions) > 0 {
			return r.Suggestions[0].Category
		}
		return ""
	}
	return r.Text
}

// Config tunes the reconciler. Zero values take defaults.
type Config struct {
	// HeuristicConfidence is the fixed confidence assigned to results
	// assembled by line-oriented extraction. Clamped to [0, 0.5].
	HeuristicConfidence float64

	// LengthRatioMin and LengthRatioMax bound the plausible output/input
	// length ratio for rewrites. Results outside the band keep their
	// content but have confidence capped at SuspicionCap.
	LengthRatioMin float64
	LengthRatioMax float64
	SuspicionCap   float64

	// MaxNameRunes truncates category and topic names.
	MaxNameRunes int
}

const (
	defaultHeuristicConfidence = 0.4
	defaultLengthRatioMin      = 0.3
	defaultLengthRatioMax      = 3.0
	defaultSuspicionCap        = 0.7
	defaultMaxNameRunes        = 64

	// fallbackCategory is substituted when classification yields nothing.
	fallbackCategory = "uncategorized"
)

// Reconciler applies the three-stage parse and normalization. The zero
// value is not usable; construct with New.
type Reconciler struct {
	cfg Config
}

// New creates a Reconciler, applying defaults and clamping the heuristic
// confidence so degraded results never claim more than 0.5.
func New(cfg Config) Reconciler {
	if cfg.HeuristicConfidence == 0 {
		cfg.HeuristicConfidence = defaultHeuristicConfidence
	}
	cfg.HeuristicConfidence = clamp(cfg.HeuristicConfidence, 0, 0.5)
	if cfg.LengthRatioMin == 0 {
		cfg.LengthRatioMin = defaultLengthRatioMin
	}
	if cfg.LengthRatioMax == 0 {
		cfg.LengthRatioMax = defaultLengthRatioMax
	}
	if cfg.SuspicionCap == 0 {
		cfg.SuspicionCap = defaultSuspicionCap
	}
	if cfg.MaxNameRunes == 0 {
		cfg.MaxNameRunes = defaultMaxNameRunes
	}
	return Reconciler{cfg: cfg}
}

// Reconcile extracts a typed result from raw model output. It never
// fails: malformed input degrades through the loose parse and the
// heuristic fallback, and normalization guarantees a usable payload.
// The original input text is needed for fallback substitution and the
// length plausibility guard.
func (rc Reconciler) Reconcile(raw, original string, op Operation) Result {
	res, ok := decodePayload(extractFenced(raw), op)
	if ok {
		res.Stage = StageStrict
	}

	if !ok {
		res, ok = rc.looseParse(raw, op)
	}

	if !ok {
		res = heuristicExtract(raw, op)
		res.Degraded = true
		res.Confidence = rc.cfg.HeuristicConfidence
		res.Stage = StageHeuristic
	}

	res.Operation = op
	return rc.Normalize(res, original)
}

// Failed builds the result for an upstream call that produced no output
// (transport failure or timeout). The payload is the original input, so
// downstream code needs no separate error path for this stage.
func (rc Reconciler) Failed(original string, op Operation, cause error) Result {
	res := Result{
		Operation: op,
		Degraded:  true,
		Stage:     StageFailed,
		Err:       fmt.Sprintf("upstream unavailable: %v", cause),
	}
	if op == OpOptimize {
		res.Text = original
	}
	return rc.Normalize(res, original)
}

// looseParse searches the whole text for balanced object spans, ignoring
// fence markers, and tries to decode each until one satisfies the
// operation's required fields.
func (rc Reconciler) looseParse(raw string, op Operation) (Result, bool) {
	pos := 0
	for i := 0; i < maxLooseCandidates; i++ {
		span, resume := balancedObject(raw, pos)
		if resume < 0 {
			break
		}
		if span != "" {
			if res, ok := decodePayload(cleanStructured(span), op); ok {
				res.Stage = StageLoose
				return res, true
			}
		}
		pos = resume
	}
	return Result{}, false
}

// -----------------------------------------------------------------------------
// Structured decoding
// -----------------------------------------------------------------------------

type optimizePayload struct {
	OptimizedText string  `json:"optimized_text"`
	Suggestions   []Edit  `json:"suggestions"`
	Confidence    float64 `json:"confidence"`
	Summary       string  `json:"summary"`
}

type classifyPayload struct {
	Suggestions    []Suggestion `json:"suggestions"`
	DetectedTopics []string     `json:"detected_topics"`
	KeyPhrases     []string     `json:"key_phrases"`
	ContentType    string       `json:"content_type"`
	Summary        string       `json:"summary"`
}

// requiredFields lists the keys a decoded block must carry to count as a
// complete structured result for each operation.
var requiredFields = map[Operation][]string{
	OpOptimize: {"optimized_text", "confidence"},
	OpClassify: {"suggestions", "detected_topics", "key_phrases", "content_type"},
}

// decodePayload decodes a candidate JSON string into a Result, reporting
// false when the block is not valid JSON or misses required fields.
func decodePayload(candidate string, op Operation) (Result, bool) {
	if candidate == "" {
		return Result{}, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &fields); err != nil {
		return Result{}, false
	}
	for _, f := range requiredFields[op] {
		if _, present := fields[f]; !present {
			return Result{}, false
		}
	}

	switch op {
	case OpClassify:
		var p classifyPayload
		if err := json.Unmarshal([]byte(candidate), &p); err != nil {
			return Result{}, false
		}
		conf := 0.0
		if len(p.Suggestions) > 0 {
			conf = p.Suggestions[0].Confidence
		}
		return Result{
			Suggestions: p.Suggestions,
			Topics:      p.DetectedTopics,
			KeyPhrases:  p.KeyPhrases,
			ContentType: p.ContentType,
			Summary:     p.Summary,
			Confidence:  conf,
		}, true
	default:
		var p optimizePayload
		if err := json.Unmarshal([]byte(candidate), &p); err != nil {
			return Result{}, false
		}
		return Result{
			Text:       p.OptimizedText,
			Edits:      p.Suggestions,
			Confidence: p.Confidence,
			Summary:    p.Summary,
		}, true
	}
}

// -----------------------------------------------------------------------------
// Heuristic fallback
// -----------------------------------------------------------------------------

// Line-oriented cue patterns for degraded extraction.
var (
	optimizedCuePattern = regexp.MustCompile(`(?i)^\s*\**\s*(optimized|revised|improved|rewritten)[^:：]*[:：]\s*(.*)$`)
	categoryCuePattern  = regexp.MustCompile(`(?i)^\s*\**\s*(category|classification)[^:：]*[:：]\s*(.*)$`)
	topicCuePattern     = regexp.MustCompile(`(?i)^\s*\**\s*topics?[^:：]*[:：]\s*(.*)$`)
	keyPhraseCuePattern = regexp.MustCompile(`(?i)^\s*\**\s*key\s*(words?|phrases?)[^:：]*[:：]\s*(.*)$`)
)

// heuristicExtract assembles a best-effort result from marker keywords
// when both structured parses failed. Missing pieces are left empty;
// normalization substitutes fallback values afterwards.
func heuristicExtract(raw string, op Operation) Result {
	lines := strings.Split(raw, "\n")
	var res Result

	switch op {
	case OpClassify:
		for _, line := range lines {
			if m := categoryCuePattern.FindStringSubmatch(line); m != nil {
				if name := firstFragment(m[2]); name != "" {
					res.Suggestions = append(res.Suggestions, Suggestion{
						Category:  name,
						Reasoning: "extracted from unstructured model output",
					})
				}
				continue
			}
			if m := topicCuePattern.FindStringSubmatch(line); m != nil {
				res.Topics = append(res.Topics, splitFragments(m[1])...)
				continue
			}
			if m := keyPhraseCuePattern.FindStringSubmatch(line); m != nil {
				res.KeyPhrases = append(res.KeyPhrases, splitFragments(m[2])...)
			}
		}
	default:
		for i, line := range lines {
			m := optimizedCuePattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			if text := strings.TrimSpace(m[2]); text != "" {
				res.Text = text
				break
			}
			// Cue line ends with the colon; take the next non-empty line.
			for j := i + 1; j < len(lines); j++ {
				if text := strings.TrimSpace(lines[j]); text != "" {
					res.Text = text
					break
				}
			}
			if res.Text != "" {
				break
			}
		}
	}

	return res
}

// firstFragment returns the text before the first comma-like separator.
func firstFragment(s string) string {
	fragments := splitFragments(s)
	if len(fragments) == 0 {
		return ""
	}
	return fragments[0]
}

// splitFragments splits a cue payload on common separators and trims
// list punctuation.
func splitFragments(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '，' || r == ';' || r == '、'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, " \t*\"'.")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Normalization
// -----------------------------------------------------------------------------

// Limits applied during normalization, matching what the prompt asks the
// model for.
const (
	maxSuggestions = 3
	maxTopics      = 5
	maxKeyPhrases  = 5
)

// Normalize applies field normalization and the plausibility guard.
// It is idempotent: normalizing an already-normalized result yields an
// identical result.
func (rc Reconciler) Normalize(r Result, original string) Result {
	r.Confidence = clamp(r.Confidence, 0, 1)

	// Element-wise rewrites happen on cloned slices; the caller's
	// result is never mutated.
	r.Edits = append([]Edit(nil), r.Edits...)
	for i := range r.Edits {
		r.Edits[i].Confidence = clamp(r.Edits[i].Confidence, 0, 1)
	}
	r.Suggestions = append([]Suggestion(nil), r.Suggestions...)
	for i := range r.Suggestions {
		r.Suggestions[i].Confidence = clamp(r.Suggestions[i].Confidence, 0, 1)
		r.Suggestions[i].Category = cleanName(r.Suggestions[i].Category, rc.cfg.MaxNameRunes)
	}
	r.Suggestions = dropEmptySuggestions(r.Suggestions)
	r.Topics = cleanNames(r.Topics, rc.cfg.MaxNameRunes)
	r.KeyPhrases = cleanNames(r.KeyPhrases, rc.cfg.MaxNameRunes)
	r.ContentType = strings.TrimSpace(r.ContentType)

	if len(r.Suggestions) > maxSuggestions {
		r.Suggestions = r.Suggestions[:maxSuggestions]
	}
	if len(r.Topics) > maxTopics {
		r.Topics = r.Topics[:maxTopics]
	}
	if len(r.KeyPhrases) > maxKeyPhrases {
		r.KeyPhrases = r.KeyPhrases[:maxKeyPhrases]
	}
	if r.Edits == nil {
		r.Edits = []Edit{}
	}

	// Degraded results never claim more than heuristic-level trust.
	if r.Degraded {
		r.Confidence = clamp(r.Confidence, 0, 0.5)
	}

	// Payload substitution: never leave the primary payload empty.
	switch r.Operation {
	case OpClassify:
		if len(r.Suggestions) == 0 {
			r.Suggestions = []Suggestion{{
				Category:   fallbackCategory,
				Confidence: clamp(r.Confidence, 0, 0.3),
				Reasoning:  "no usable classification in model output",
			}}
			if r.Err == "" {
				r.Err = "classification missing; substituted fallback category"
			}
		}
	default:
		if strings.TrimSpace(r.Text) == "" {
			r.Text = original
			r.Confidence = clamp(r.Confidence, 0, 0.1)
			if r.Err == "" {
				r.Err = "optimized text missing; returned original input"
			}
		}
		r = rc.guardLength(r, original)
	}

	return r
}

// guardLength caps confidence when the rewrite's length falls outside
// the plausible band relative to the input. The content is kept: a
// legitimately short or long valid rewrite is possible, so the result
// is marked suspicious rather than discarded.
func (rc Reconciler) guardLength(r Result, original string) Result {
	origLen := utf8.RuneCountInString(original)
	if origLen == 0 {
		return r
	}
	ratio := float64(utf8.RuneCountInString(r.Text)) / float64(origLen)
	if ratio < rc.cfg.LengthRatioMin || ratio > rc.cfg.LengthRatioMax {
		r.Confidence = clamp(r.Confidence, 0, rc.cfg.SuspicionCap)
	}
	return r
}

// cleanName trims after truncating. The other order is not idempotent:
// a truncation boundary landing on a space leaves trailing whitespace
// that a second pass would trim again.
func cleanName(s string, maxRunes int) string {
	return strings.TrimSpace(truncateRunes(strings.TrimSpace(s), maxRunes))
}

func cleanNames(in []string, maxRunes int) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = cleanName(s, maxRunes)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func dropEmptySuggestions(in []Suggestion) []Suggestion {
	out := make([]Suggestion, 0, len(in))
	for _, s := range in {
		if s.Category != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
