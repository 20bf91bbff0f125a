package knowledge

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

const sourcesMarker = "\n## Sources\n"

// SanitizeTopic normalizes a topic string into a safe filename stem.
func SanitizeTopic(topic string) string {
	var b strings.Builder
	for _, c := range topic {
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == ' ' || c == '_' || c == '-' {
			b.WriteRune(c)
		}
	}
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(b.String())), " ", "_")
}

// ClassifySource tags a provenance string with a quality hint.
//
//	https://extension.colostate.edu/garlic -> "... (extension)"
//	https://www.nrcs.usda.gov/soils        -> "... (government)"
//	seed_catalog.pdf                       -> "... (PDF)"
func ClassifySource(source string) string {
	s := strings.TrimSpace(source)
	lower := strings.ToLower(s)

	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		switch {
		case strings.Contains(lower, ".edu"):
			return s + " (extension)"
		case strings.Contains(lower, ".gov"):
			return s + " (government)"
		case strings.Contains(lower, ".org"):
			return s + " (organization)"
		default:
			return s + " (web)"
		}
	}
	if strings.HasSuffix(lower, ".pdf") {
		return s + " (PDF)"
	}
	if lower == "chat message" || lower == "discord message" {
		return s + " (chat)"
	}
	if lower == "image" {
		return s + " (image)"
	}
	return s
}

// splitSourcesSection splits content at the "## Sources" header.
// Source lines have their leading "- " stripped.
func splitSourcesSection(content string) (body string, sources []string) {
	idx := strings.Index(content, sourcesMarker)
	if idx == -1 {
		return content, nil
	}
	body = content[:idx]
	for _, line := range strings.Split(content[idx+len(sourcesMarker):], "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}
		sources = append(sources, strings.TrimPrefix(stripped, "- "))
	}
	return body, sources
}

// AppendTopicUpdate adds a dated update block to a topic document,
// creating it with a title header if needed, and records the source
// (deduplicated) in the document's Sources section.
func (l *Library) AppendTopicUpdate(topic, content, source string, now time.Time) (string, error) {
	safeTopic := SanitizeTopic(topic)
	if safeTopic == "" {
		return "", fmt.Errorf("topic name is required")
	}
	filename := safeTopic + ".md"
	newBlock := fmt.Sprintf("\n\n### Update %s\n%s", now.Format("2006-01-02"), content)

	err := l.Update(filename, func(current string) (string, error) {
		var body string
		var sources []string
		if current != "" {
			body, sources = splitSourcesSection(current)
		} else {
			body = "# " + titleCase(strings.ReplaceAll(safeTopic, "_", " ")) + "\n"
		}

		body += newBlock

		if s := strings.TrimSpace(source); s != "" {
			classified := ClassifySource(s)
			exists := false
			for _, have := range sources {
				if have == classified {
					exists = true
					break
				}
			}
			if !exists {
				sources = append(sources, classified)
			}
		}

		if len(sources) == 0 {
			return body, nil
		}
		var sb strings.Builder
		sb.WriteString(body)
		sb.WriteString(sourcesMarker)
		for _, s := range sources {
			sb.WriteString("- " + s + "\n")
		}
		return sb.String(), nil
	})
	if err != nil {
		return "", err
	}
	return filename, nil
}

// AnnotateConflict records that a new source contradicts an existing
// entry. The annotation is appended directly below the first line
// containing the previous claim; the previous text is never changed.
// Resolution stays a human decision.
func (l *Library) AnnotateConflict(document, previous, incoming string) error {
	annotation := fmt.Sprintf("> **Conflict:** Previous entry says %s, but this source says %s.", previous, incoming)
	return l.Update(document, func(current string) (string, error) {
		if current == "" {
			return "", fmt.Errorf("%w: %s", ErrDocumentNotFound, document)
		}
		lines := strings.Split(current, "\n")
		needle := strings.ToLower(previous)
		for i, line := range lines {
			if strings.Contains(strings.ToLower(line), needle) {
				rest := append([]string{annotation}, lines[i+1:]...)
				return strings.Join(append(lines[:i+1:i+1], rest...), "\n"), nil
			}
		}
		if !strings.HasSuffix(current, "\n") {
			current += "\n"
		}
		return current + annotation + "\n", nil
	})
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
