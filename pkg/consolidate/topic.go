package consolidate

import (
	"fmt"
	"strings"
)

// TopicPlan is the input for a single-topic merge: the documents that
// touch the topic and the instructions handed to the assistant, which
// performs the merge itself through its file tools.
type TopicPlan struct {
	Topic  string
	Files  []string
	Prompt string
}

// PlanTopicMerge discovers every document related to the topic, by
// filename and by content, and builds the merge instructions. Returns
// a nil plan when nothing matches.
func (e *Engine) PlanTopicMerge(topic string) (*TopicPlan, error) {
	topic = strings.TrimSpace(strings.ToLower(topic))
	if topic == "" {
		return nil, fmt.Errorf("consolidate: topic is required")
	}

	byName, err := e.library.RelatedByName(topic)
	if err != nil {
		return nil, err
	}
	hits, err := e.library.Search(topic)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var files []string
	for _, name := range byName {
		if !seen[name] {
			seen[name] = true
			files = append(files, name)
		}
	}
	for _, hit := range hits {
		if !seen[hit.Document] {
			seen[hit.Document] = true
			files = append(files, hit.Document)
		}
	}
	if len(files) == 0 {
		return nil, nil
	}

	target := strings.ReplaceAll(topic, " ", "_") + ".md"
	prompt := fmt.Sprintf(`[CONTEXT: KNOWLEDGE CONSOLIDATION for topic '%s'.]

The following files are related to '%s': %s

Your job:
1. Read ALL of these files using read_file.
2. Back up EVERY file using backup_file (one call per file).
3. Analyze the content. Identify which files are primarily ABOUT '%s' vs files that merely mention it.
4. For files primarily about '%s': merge all unique facts into a single clean '%s' using write_file.
   - Organize by category (Overview, Planting, Care, Pests, Harvesting, Companion Plants, Notes, etc.)
   - Remove duplicate information and '### Update YYYY-MM-DD' section headers
   - Preserve ALL unique facts, removing only true duplicates
   - Preserve any '> **Conflict:**' notes; they flag contradictions for manual review
   - Collect all '## Sources' entries from merged files, deduplicate them, and include a single '## Sources' section at the bottom of the consolidated file
   - Use clean markdown formatting
5. Delete sub-files that were fully merged into '%s' using delete_file. Do NOT delete '%s' itself.
6. Leave files that merely MENTION '%s' alone. Do not modify or delete them.
7. Reply with a summary of what was consolidated, merged, and deleted.`,
		topic, topic, strings.Join(files, ", "), topic, topic, target, target, target, topic)

	return &TopicPlan{Topic: topic, Files: files, Prompt: prompt}, nil
}
