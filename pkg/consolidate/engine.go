// Package consolidate keeps the knowledge library tidy: it categorizes
// documents with the model, derives merge candidates deterministically,
// and deduplicates the task list under explicit per-group decisions.
package consolidate

import (
	"context"
	"fmt"
	"strings"

	"github.com/gardenista/beanbot/pkg/knowledge"
	"github.com/gardenista/beanbot/pkg/providers"
)

const (
	defaultBatchSize   = 200
	categorizeTokens   = 16384
	taskAnalysisTokens = 4096
)

// Engine runs consolidation passes over a knowledge library.
type Engine struct {
	provider  providers.LLMProvider
	library   *knowledge.Library
	model     string
	batchSize int
}

func NewEngine(provider providers.LLMProvider, library *knowledge.Library, model string) *Engine {
	if model == "" && provider != nil {
		model = provider.GetDefaultModel()
	}
	return &Engine{
		provider:  provider,
		library:   library,
		model:     model,
		batchSize: defaultBatchSize,
	}
}

// FileEntry is one categorizable document in the library.
type FileEntry struct {
	Filename  string
	Title     string
	SizeBytes int64
}

// LibraryFiles lists the categorizable documents: everything except the
// structural system files and the daily briefing notes. The title is
// the first line of the document with any heading marker stripped.
func (e *Engine) LibraryFiles() ([]FileEntry, error) {
	names, err := e.library.List()
	if err != nil {
		return nil, err
	}
	var entries []FileEntry
	for _, name := range names {
		if knowledge.SystemFiles[name] || strings.HasPrefix(name, "daily_") {
			continue
		}
		title := name
		if content, rErr := e.library.Read(name); rErr == nil {
			first, _, _ := strings.Cut(content, "\n")
			if t := strings.TrimSpace(strings.TrimLeft(first, "# ")); t != "" {
				title = t
			}
		}
		entries = append(entries, FileEntry{
			Filename:  name,
			Title:     title,
			SizeBytes: e.library.Size(name),
		})
	}
	return entries, nil
}

// complete issues a single-prompt model call with deterministic settings.
func (e *Engine) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	opts := map[string]interface{}{
		"temperature": 0.0,
	}
	if maxTokens > 0 {
		opts["max_tokens"] = maxTokens
	}
	resp, err := e.provider.Chat(ctx, []providers.Message{providers.TextMessage("user", prompt)}, nil, e.model, opts)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", fmt.Errorf("consolidate: empty model response")
	}
	return resp.Content, nil
}
