// Package guardrail provides stateless content checks applied around
// generation: PII redaction, toxicity detection, and unsupported-claim
// estimation. Checks always run in that fixed order.
package guardrail

import (
	"regexp"
	"strings"
)

// Check names, used in verdicts and logs.
const (
	CheckPII          = "pii"
	CheckToxicity     = "toxicity"
	CheckClaimSupport = "claim_support"
)

// CheckResult is the outcome of a single check.
type CheckResult struct {
	Name  string
	Pass  bool
	Score float64
}

// Verdict is the combined outcome of the output checks. Text carries the
// redacted copy of the input; callers must use it instead of the original.
type Verdict struct {
	PII          CheckResult
	Toxicity     CheckResult
	ClaimSupport CheckResult
	Text         string
}

// SupportEstimator estimates how well an answer is supported by the evidence
// actually supplied to generation, in [0,1]. The default is lexical overlap;
// a semantic model can satisfy the same interface.
type SupportEstimator interface {
	Estimate(answer string, evidence []string) float64
}

// Config tunes the pipeline thresholds.
type Config struct {
	// ToxicityThreshold is the score at and above which output is unsafe.
	ToxicityThreshold float64
	// ClaimSupportThreshold is the score below which the answer is flagged
	// hallucination-suspected.
	ClaimSupportThreshold float64
	// ExtraToxicTerms extends the built-in lexicons, keyed by language tag.
	ExtraToxicTerms map[string][]string
}

// Pipeline applies the configured checks. It holds no mutable state and is
// safe for concurrent use.
type Pipeline struct {
	cfg       Config
	estimator SupportEstimator
	lexicons  map[string]map[string]bool
}

// NewPipeline creates a Pipeline. A nil estimator gets the lexical default.
func NewPipeline(cfg Config, estimator SupportEstimator) *Pipeline {
	if cfg.ToxicityThreshold <= 0 {
		cfg.ToxicityThreshold = 0.5
	}
	if cfg.ClaimSupportThreshold <= 0 {
		cfg.ClaimSupportThreshold = 0.5
	}
	if estimator == nil {
		estimator = OverlapEstimator{}
	}

	lexicons := make(map[string]map[string]bool, len(baseToxicTerms))
	for lang, terms := range baseToxicTerms {
		lexicons[lang] = wordSet(terms)
	}
	for lang, terms := range cfg.ExtraToxicTerms {
		if lexicons[lang] == nil {
			lexicons[lang] = make(map[string]bool)
		}
		for _, t := range terms {
			lexicons[lang][strings.ToLower(t)] = true
		}
	}

	return &Pipeline{cfg: cfg, estimator: estimator, lexicons: lexicons}
}

// CheckInput redacts PII from caller input before prompt assembly.
// Returns the redacted text and the PII check result.
func (p *Pipeline) CheckInput(text, language string) (string, CheckResult) {
	redacted, found := p.RedactPII(text, language)
	return redacted, CheckResult{Name: CheckPII, Pass: !found}
}

// CheckOutput runs the full output battery in fixed order: PII redaction,
// toxicity, unsupported-claim estimation against the supplied evidence.
func (p *Pipeline) CheckOutput(text, language string, evidence []string) Verdict {
	redacted, found := p.RedactPII(text, language)
	toxicity := p.CheckToxicity(redacted, language)
	support := p.EstimateClaimSupport(redacted, evidence)

	return Verdict{
		PII:          CheckResult{Name: CheckPII, Pass: !found},
		Toxicity:     toxicity,
		ClaimSupport: support,
		Text:         redacted,
	}
}

// RedactPII replaces personally identifiable patterns with [REDACTED].
// Universal patterns (email, phone) always apply; language-specific national
// identifier patterns apply on top.
func (p *Pipeline) RedactPII(text, language string) (string, bool) {
	found := false
	for _, re := range universalPII {
		if re.MatchString(text) {
			found = true
			text = re.ReplaceAllString(text, "[REDACTED]")
		}
	}
	for _, re := range languagePII[language] {
		if re.MatchString(text) {
			found = true
			text = re.ReplaceAllString(text, "[REDACTED]")
		}
	}
	return text, found
}

// CheckToxicity scores the text with a per-language lexicon plus a crude
// classifier signal (shouting and exclamation density). Fails at or above
// the configured threshold.
func (p *Pipeline) CheckToxicity(text, language string) CheckResult {
	lexicon := p.lexicons[language]
	if lexicon == nil {
		lexicon = p.lexicons["en"]
	}

	words := tokens(text)
	hits := 0
	for _, w := range words {
		if lexicon[w] {
			hits++
		}
	}

	score := 0.0
	if len(words) > 0 {
		// A single slur in a short answer should already dominate.
		score = float64(hits) * 3.0 / float64(len(words))
	}
	score += classifierSignal(text)
	if score > 1 {
		score = 1
	}

	return CheckResult{
		Name:  CheckToxicity,
		Pass:  score < p.cfg.ToxicityThreshold,
		Score: score,
	}
}

// EstimateClaimSupport estimates whether the answer's claims are grounded in
// the evidence. Fails below the configured threshold, which the generation
// service maps to hallucination_suspected.
func (p *Pipeline) EstimateClaimSupport(answer string, evidence []string) CheckResult {
	score := p.estimator.Estimate(answer, evidence)
	return CheckResult{
		Name:  CheckClaimSupport,
		Pass:  score >= p.cfg.ClaimSupportThreshold,
		Score: score,
	}
}

// classifierSignal approximates a toxicity classifier with surface signals:
// sustained shouting and stacked exclamation marks.
func classifierSignal(text string) float64 {
	letters, upper := 0, 0
	for _, r := range text {
		switch {
		case r >= 'A' && r <= 'Z':
			letters++
			upper++
		case r >= 'a' && r <= 'z':
			letters++
		}
	}
	signal := 0.0
	if letters >= 12 && float64(upper)/float64(letters) > 0.7 {
		signal += 0.25
	}
	if strings.Contains(text, "!!") {
		signal += 0.15
	}
	return signal
}

// OverlapEstimator is the default SupportEstimator: per-sentence token
// overlap against the evidence, averaged. Sentences too short to carry a
// claim are skipped.
type OverlapEstimator struct{}

// Estimate implements SupportEstimator.
func (OverlapEstimator) Estimate(answer string, evidence []string) float64 {
	if len(evidence) == 0 {
		return 0
	}
	evidenceTokens := make([]map[string]bool, len(evidence))
	for i, ev := range evidence {
		evidenceTokens[i] = tokenSet(ev)
	}

	sentences := splitSentences(answer)
	total, counted := 0.0, 0
	for _, sentence := range sentences {
		toks := tokenSet(sentence)
		if len(toks) < 3 {
			continue
		}
		best := 0.0
		for _, ev := range evidenceTokens {
			hits := 0
			for tok := range toks {
				if ev[tok] {
					hits++
				}
			}
			if score := float64(hits) / float64(len(toks)); score > best {
				best = score
			}
		}
		total += best
		counted++
	}
	if counted == 0 {
		return 1 // nothing claim-like to verify
	}
	return total / float64(counted)
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
}

func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r == '\'' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || r > 127)
	})
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range tokens(text) {
		if len(t) < 2 {
			continue
		}
		set[t] = true
	}
	return set
}

func wordSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = true
	}
	return set
}

// Universal PII patterns: email addresses and international phone numbers.
var universalPII = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	regexp.MustCompile(`\+\d[\d\s\-()]{7,}\d`),
}

// Language-specific national identifier patterns.
var languagePII = map[string][]*regexp.Regexp{
	"en": {
		regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), // US SSN
	},
	"de": {
		regexp.MustCompile(`\bDE\d{2}[0-9 ]{18,22}\b`), // German IBAN
	},
	"fr": {
		regexp.MustCompile(`\b[12]\d{2}(?:0[1-9]|1[0-2])\d{2}\d{3}\d{3}\d{2}\b`), // INSEE number
	},
}

// baseToxicTerms is deliberately small; deployments extend it per language
// through Config.ExtraToxicTerms.
var baseToxicTerms = map[string][]string{
	"en": {"idiot", "moron", "stupid", "scum", "trash", "worthless", "shut up", "hate you"},
	"de": {"idiot", "trottel", "dumm", "abschaum", "wertlos"},
	"fr": {"idiot", "imbécile", "stupide", "ordure", "nul"},
}
