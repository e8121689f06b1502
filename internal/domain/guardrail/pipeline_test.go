package guardrail

import (
	"strings"
	"testing"
)

func newTestPipeline() *Pipeline {
	return NewPipeline(Config{ToxicityThreshold: 0.5, ClaimSupportThreshold: 0.5}, nil)
}

func TestRedactPII_Universal(t *testing.T) {
	p := newTestPipeline()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "email",
			in:   "Contact the archivist at anna.keller@stadtarchiv.example.de for copies.",
			want: "Contact the archivist at [REDACTED] for copies.",
		},
		{
			name: "international phone",
			in:   "Call +49 30 1234 5678 to book a reading room.",
			want: "Call [REDACTED] to book a reading room.",
		},
		{
			name: "plain year untouched",
			in:   "The archive was established in 1923.",
			want: "The archive was established in 1923.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := p.RedactPII(tt.in, "en")
			if got != tt.want {
				t.Errorf("RedactPII = %q, want %q", got, tt.want)
			}
			if found != (tt.in != tt.want) {
				t.Errorf("found = %v inconsistent with redaction", found)
			}
		})
	}
}

func TestRedactPII_LanguageSpecific(t *testing.T) {
	p := newTestPipeline()

	got, found := p.RedactPII("The applicant's SSN 123-45-6789 appears in the file.", "en")
	if !found || strings.Contains(got, "123-45-6789") {
		t.Errorf("SSN not redacted: %q", got)
	}

	got, found = p.RedactPII("Überweisung an DE89 3704 0044 0532 0130 00 erbeten.", "de")
	if !found || strings.Contains(got, "0532") {
		t.Errorf("IBAN not redacted: %q", got)
	}

	// German IBAN pattern must not fire for English requests.
	_, found = p.RedactPII("Record DE89 3704 0044 0532 0130 00 was archived.", "en")
	if found {
		t.Error("language-specific pattern applied outside its language")
	}
}

func TestCheckToxicity(t *testing.T) {
	p := newTestPipeline()

	clean := p.CheckToxicity("The reading room opens at nine in the morning.", "en")
	if !clean.Pass {
		t.Errorf("clean text failed toxicity: score %f", clean.Score)
	}

	toxic := p.CheckToxicity("You are a worthless idiot and your question is trash.", "en")
	if toxic.Pass {
		t.Errorf("toxic text passed: score %f", toxic.Score)
	}

	german := p.CheckToxicity("Du bist ein wertloser Trottel.", "de")
	if german.Pass {
		t.Errorf("german toxic text passed: score %f", german.Score)
	}
}

func TestCheckToxicity_ExtraTerms(t *testing.T) {
	p := NewPipeline(Config{
		ToxicityThreshold: 0.5,
		ExtraToxicTerms:   map[string][]string{"en": {"quxling"}},
	}, nil)

	res := p.CheckToxicity("What a quxling answer.", "en")
	if res.Pass {
		t.Errorf("configured term not detected: score %f", res.Score)
	}
}

func TestOverlapEstimator(t *testing.T) {
	evidence := []string{
		"The archive was established in 1923 by the city council.",
		"Council minutes concerning the archive reading room.",
	}

	supported := OverlapEstimator{}.Estimate("The archive was established in 1923.", evidence)
	if supported < 0.5 {
		t.Errorf("supported claim scored %f, want >= 0.5", supported)
	}

	fabricated := OverlapEstimator{}.Estimate("The director embezzled municipal pension funds during the war.", evidence)
	if fabricated >= supported {
		t.Errorf("fabricated claim scored %f, not below supported %f", fabricated, supported)
	}

	if got := (OverlapEstimator{}).Estimate("Anything at all.", nil); got != 0 {
		t.Errorf("no evidence scored %f, want 0", got)
	}
}

func TestCheckOutput_Order(t *testing.T) {
	p := newTestPipeline()
	evidence := []string{"The archive holds municipal records since 1923 and answers written requests by email."}

	// PII must be redacted before the downstream checks see the text.
	v := p.CheckOutput("The archive holds municipal records since 1923, requests go to records@archive.example.", "en", evidence)
	if v.PII.Pass {
		t.Error("PII check should fail on the email address")
	}
	if !strings.Contains(v.Text, "[REDACTED]") {
		t.Errorf("verdict text not redacted: %q", v.Text)
	}
	if !v.Toxicity.Pass {
		t.Errorf("toxicity failed on benign text: score %f", v.Toxicity.Score)
	}
	if !v.ClaimSupport.Pass {
		t.Errorf("claim support failed: score %f", v.ClaimSupport.Score)
	}
}

type fixedEstimator struct{ score float64 }

func (f fixedEstimator) Estimate(string, []string) float64 { return f.score }

func TestEstimateClaimSupport_PluggableEstimator(t *testing.T) {
	p := NewPipeline(Config{ClaimSupportThreshold: 0.5}, fixedEstimator{score: 0.2})

	res := p.EstimateClaimSupport("whatever", []string{"evidence"})
	if res.Pass {
		t.Error("estimator score 0.2 must fail threshold 0.5")
	}
	if res.Score != 0.2 {
		t.Errorf("score = %f, want estimator passthrough 0.2", res.Score)
	}
}
