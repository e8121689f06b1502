package generation

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/archiva-labs/archiva/internal/domain/retrieval"
	"github.com/archiva-labs/archiva/internal/infra/runtime"
)

// systemPrompts carries the grounding instructions per language tag.
// Unknown languages fall back to English.
var systemPrompts = map[string]string{
	"en": "You are an assistant answering questions about an archive. " +
		"Answer only from the numbered evidence passages below. " +
		"Cite every claim with its passage number in square brackets, like [1]. " +
		"If the evidence does not contain the answer, say so plainly.",
	"de": "Du bist ein Assistent für Fragen zu einem Archiv. " +
		"Antworte ausschließlich anhand der nummerierten Belegstellen unten. " +
		"Belege jede Aussage mit der Nummer der Stelle in eckigen Klammern, etwa [1]. " +
		"Wenn die Belege keine Antwort enthalten, sage das offen.",
	"fr": "Tu es un assistant répondant à des questions sur des archives. " +
		"Réponds uniquement à partir des extraits numérotés ci-dessous. " +
		"Cite chaque affirmation avec le numéro de l'extrait entre crochets, par exemple [1]. " +
		"Si les extraits ne contiennent pas la réponse, dis-le clairement.",
}

// buildMessages assembles the chat transcript: system prompt with the tagged
// evidence block, conversation history trimmed oldest-first into the token
// budget, then the current query.
func buildMessages(req Request, historyBudget int) []runtime.Message {
	system, ok := systemPrompts[req.Language]
	if !ok {
		system = systemPrompts["en"]
	}

	var b strings.Builder
	b.WriteString(system)
	b.WriteString("\n\nEvidence:\n")
	for i, c := range req.Evidence {
		fmt.Fprintf(&b, "[%d] (%s", i+1, c.Source)
		if c.PublishedAt != "" {
			fmt.Fprintf(&b, ", %s", c.PublishedAt)
		}
		fmt.Fprintf(&b, ") %s\n", c.Text)
	}

	messages := []runtime.Message{{Role: "system", Content: b.String()}}
	for _, m := range trimHistory(req.History, historyBudget) {
		messages = append(messages, runtime.Message{Role: m.Role, Content: m.Content})
	}
	return append(messages, runtime.Message{Role: "user", Content: req.Query})
}

// trimHistory drops the oldest turns until the remainder fits the budget.
// The newest turns carry the context that matters for follow-ups.
func trimHistory(history []Message, budget int) []Message {
	total := 0
	for _, m := range history {
		total += estimateTokens(m.Content)
	}
	start := 0
	for start < len(history) && total > budget {
		total -= estimateTokens(history[start].Content)
		start++
	}
	return history[start:]
}

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// extractCitations maps the [n] markers in the answer back onto the evidence
// chunks. An answer without markers cites the whole evidence window, since
// everything in it was offered to the model.
func extractCitations(answer string, evidence []retrieval.Chunk) []Citation {
	if len(evidence) == 0 {
		return nil
	}

	seen := make(map[int]bool)
	for _, m := range citationMarker.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(evidence) {
			continue
		}
		seen[n] = true
	}

	var indices []int
	if len(seen) > 0 {
		for n := range seen {
			indices = append(indices, n)
		}
		sort.Ints(indices)
	} else {
		for n := 1; n <= len(evidence); n++ {
			indices = append(indices, n)
		}
	}

	citations := make([]Citation, 0, len(indices))
	for _, n := range indices {
		c := evidence[n-1]
		citations = append(citations, Citation{
			Index:      n,
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Source:     c.Source,
			SourceURL:  c.SourceURL,
		})
	}
	return citations
}
