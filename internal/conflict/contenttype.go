package conflict

import (
	"strings"

	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/kolabdoc/collabedit/internal/ot"
)

// ContentClass is the coarse content classification used by the
// content_aware strategy (spec §4.3: "detect structural code vs prose and
// pick a narrower sub-strategy accordingly").
type ContentClass string

const (
	ContentPlainText ContentClass = "plain_text"
	ContentMarkdown  ContentClass = "markdown"
	ContentCode      ContentClass = "code"
	ContentRichText  ContentClass = "rich_text"
)

// structuralTokens are the code constructs spec §4.3 calls out for
// structural-change detection: touching one of these inside a colliding
// Insert/Delete raises the conflict out of a plain-text-style merge.
var structuralTokens = []string{
	"function", "class", "interface", "import", "export",
	"{", "}", "(", ")",
}

// hasStructuralTokens scans the content an operation actually adds or
// removes (not the surrounding document) for structural code constructs.
func hasStructuralTokens(op ot.Operation) bool {
	content := op.Content
	if op.Kind == ot.KindDelete {
		content = op.DeletedContent
	}
	if content == "" {
		return false
	}
	for _, tok := range structuralTokens {
		if strings.Contains(content, tok) {
			return true
		}
	}
	return false
}

// isRichText reports whether an operation is itself a formatting edit
// (Format kind, or carrying Attributes) rather than plain character data —
// independent of what ClassifyContent guesses about the surrounding
// document.
func isRichText(op ot.Operation) bool {
	return op.Kind == ot.KindFormat || op.Attributes != nil
}

// ClassifyContent uses chroma's lexer analysis heuristics to guess whether
// a document's content is source code, markdown, or plain prose.
func ClassifyContent(content string) ContentClass {
	if content == "" {
		return ContentPlainText
	}
	lexer := lexers.Analyse(content)
	if lexer == nil {
		return classifyByHeuristic(content)
	}
	config := lexer.Config()
	if config == nil {
		return classifyByHeuristic(content)
	}
	if config.Name == "markdown" || config.Name == "Markdown" {
		return ContentMarkdown
	}
	if config.Name != "" && config.Name != "plaintext" && config.Name != "Text only" {
		return ContentCode
	}
	return classifyByHeuristic(content)
}

func classifyByHeuristic(content string) ContentClass {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "#") || strings.Contains(trimmed, "```") {
		return ContentMarkdown
	}
	codeSignals := []string{"{", "}", "func ", "class ", "def ", "import ", ";"}
	hits := 0
	for _, s := range codeSignals {
		if strings.Contains(content, s) {
			hits++
		}
	}
	if hits >= 2 {
		return ContentCode
	}
	return ContentPlainText
}

// contentAware picks a narrower strategy based on the document content the
// two operations are contending over, then delegates to it. Rich-text edits
// (Format ops) merge the attribute sets and fall back to timestamp priority
// when the merge itself can't converge unambiguously; structural code
// favors the more conservative merge, escalating to interactive review when
// either side actually touches a structural construct (misplacing a brace
// is costly); plain prose favors the looser merge since word-level
// collisions read fine either way.
func contentAware(incoming, historical ot.Operation, class ...ContentClass) Resolution {
	if isRichText(incoming) || isRichText(historical) {
		return mergeThenTimestamp(incoming, historical)
	}

	cls := ContentPlainText
	if len(class) > 0 {
		cls = class[0]
	}
	res := merge(incoming, historical)
	res.Strategy = StrategyContentAware
	switch cls {
	case ContentCode:
		structural := hasStructuralTokens(incoming) || hasStructuralTokens(historical)
		res.RequiresReview = structural || res.Confidence < 0.95
		if structural {
			res.Annotation = "content_aware: structural construct touched, routed for review"
		} else {
			res.Annotation = "content_aware: structural code, conservative merge"
		}
	case ContentMarkdown:
		res.Annotation = "content_aware: markdown, structural merge"
	default:
		res.Annotation = "content_aware: prose, permissive merge"
	}
	return res
}

// mergeThenTimestamp is the rich-text sub-strategy: attempt the ordinary
// merge (format+format unions attributes; anything else rebases), and fall
// back to timestamp_priority only when merge itself flagged the result for
// review (e.g. mixed operation types it couldn't reconcile).
func mergeThenTimestamp(incoming, historical ot.Operation) Resolution {
	res := merge(incoming, historical)
	if res.RequiresReview {
		res = timestampPriority(incoming, historical)
	}
	res.Strategy = StrategyContentAware
	res.Annotation = "content_aware: rich text, merge then timestamp fallback"
	return res
}
