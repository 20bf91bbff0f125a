package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/gardenista/beanbot/pkg/knowledge"
)

// ReadFileTool returns the full content of a knowledge document.
type ReadFileTool struct {
	library *knowledge.Library
}

func NewReadFileTool(library *knowledge.Library) *ReadFileTool {
	return &ReadFileTool{library: library}
}

func (t *ReadFileTool) Name() string {
	return "read_file"
}

func (t *ReadFileTool) Description() string {
	return "Read the full content of a markdown file from the knowledge library. Use list_files first if unsure of the filename."
}

func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filename": map[string]interface{}{
				"type":        "string",
				"description": "Name of the file to read, e.g. tasks.md or tomatoes.md",
			},
		},
		"required": []string{"filename"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	filename, ok := args["filename"].(string)
	if !ok || filename == "" {
		return ErrorResult("filename is required")
	}

	content, err := t.library.Read(filename)
	if err != nil {
		return ErrorResult(fmt.Sprintf("read %s: %v", filename, err))
	}
	if content == "" {
		return SilentResult(fmt.Sprintf("%s is empty", filename))
	}
	return SilentResult(content)
}

// WriteFileTool replaces the content of a non-system document. The
// system files backing tasks, harvests, the journal, and the calendar
// have dedicated tools with safer append semantics, so whole-file
// writes to them are refused.
type WriteFileTool struct {
	library *knowledge.Library
}

func NewWriteFileTool(library *knowledge.Library) *WriteFileTool {
	return &WriteFileTool{library: library}
}

func (t *WriteFileTool) Name() string {
	return "write_file"
}

func (t *WriteFileTool) Description() string {
	return "Write or overwrite a markdown file in the knowledge library. System files (tasks.md, harvests.md, garden_log.md, planting_calendar.md) cannot be overwritten; use their dedicated tools instead."
}

func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filename": map[string]interface{}{
				"type":        "string",
				"description": "Name of the file to write, e.g. tomatoes.md",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Full markdown content of the file",
			},
		},
		"required": []string{"filename", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	filename, ok := args["filename"].(string)
	if !ok || filename == "" {
		return ErrorResult("filename is required")
	}
	content, ok := args["content"].(string)
	if !ok {
		return ErrorResult("content is required")
	}

	base := strings.ToLower(strings.TrimSpace(filename))
	if knowledge.SystemFiles[base] {
		return ErrorResult(fmt.Sprintf("%s is a system file; use the dedicated append tools instead of overwriting it", filename))
	}

	if err := t.library.Write(filename, content); err != nil {
		return ErrorResult(fmt.Sprintf("write %s: %v", filename, err))
	}
	return UserResult(fmt.Sprintf("Saved %s (%d bytes).", filename, len(content)))
}

// SearchFilesTool greps the library for a phrase.
type SearchFilesTool struct {
	library *knowledge.Library
}

func NewSearchFilesTool(library *knowledge.Library) *SearchFilesTool {
	return &SearchFilesTool{library: library}
}

func (t *SearchFilesTool) Name() string {
	return "search_files"
}

func (t *SearchFilesTool) Description() string {
	return "Search all knowledge library files for a phrase. Returns matching filenames with a snippet of surrounding text."
}

func (t *SearchFilesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Text to search for, case-insensitive",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchFilesTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return ErrorResult("query is required")
	}

	hits, err := t.library.Search(query)
	if err != nil {
		return ErrorResult(fmt.Sprintf("search failed: %v", err))
	}
	if len(hits) == 0 {
		return SilentResult(fmt.Sprintf("No matches for %q.", query))
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("Matches for %q:", query))
	for _, hit := range hits {
		lines = append(lines, fmt.Sprintf("- %s: ...%s...", hit.Document, hit.Snippet))
	}
	return SilentResult(strings.Join(lines, "\n"))
}

// ListFilesTool lists the documents in the library.
type ListFilesTool struct {
	library *knowledge.Library
}

func NewListFilesTool(library *knowledge.Library) *ListFilesTool {
	return &ListFilesTool{library: library}
}

func (t *ListFilesTool) Name() string {
	return "list_files"
}

func (t *ListFilesTool) Description() string {
	return "List all markdown files in the knowledge library."
}

func (t *ListFilesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	names, err := t.library.List()
	if err != nil {
		return ErrorResult(fmt.Sprintf("list files: %v", err))
	}
	if len(names) == 0 {
		return SilentResult("The knowledge library is empty.")
	}
	return SilentResult("Files:\n- " + strings.Join(names, "\n- "))
}

// DeleteFileTool removes a non-system document, snapshotting it to the
// backups directory first so a bad merge is recoverable.
type DeleteFileTool struct {
	library *knowledge.Library
}

func NewDeleteFileTool(library *knowledge.Library) *DeleteFileTool {
	return &DeleteFileTool{library: library}
}

func (t *DeleteFileTool) Name() string {
	return "delete_file"
}

func (t *DeleteFileTool) Description() string {
	return "Delete a markdown file from the knowledge library. The file is automatically backed up first. System files cannot be deleted."
}

func (t *DeleteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filename": map[string]interface{}{
				"type":        "string",
				"description": "Name of the file to delete, e.g. garlic_care.md",
			},
		},
		"required": []string{"filename"},
	}
}

func (t *DeleteFileTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	filename, ok := args["filename"].(string)
	if !ok || filename == "" {
		return ErrorResult("filename is required")
	}

	base := strings.ToLower(strings.TrimSpace(filename))
	if knowledge.SystemFiles[base] {
		return ErrorResult(fmt.Sprintf("%s is a system file and cannot be deleted", filename))
	}

	path, err := t.library.Backup(filename)
	if err != nil {
		return ErrorResult(fmt.Sprintf("refusing to delete %s without backup: %v", filename, err))
	}
	if err := t.library.Delete(filename); err != nil {
		return ErrorResult(fmt.Sprintf("delete %s: %v", filename, err))
	}
	return UserResult(fmt.Sprintf("Backed up %s to %s and deleted it.", filename, path))
}

// BackupFileTool snapshots a document into the backups directory.
type BackupFileTool struct {
	library *knowledge.Library
}

func NewBackupFileTool(library *knowledge.Library) *BackupFileTool {
	return &BackupFileTool{library: library}
}

func (t *BackupFileTool) Name() string {
	return "backup_file"
}

func (t *BackupFileTool) Description() string {
	return "Create a timestamped backup copy of a knowledge library file before risky edits."
}

func (t *BackupFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filename": map[string]interface{}{
				"type":        "string",
				"description": "Name of the file to back up",
			},
		},
		"required": []string{"filename"},
	}
}

func (t *BackupFileTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	filename, ok := args["filename"].(string)
	if !ok || filename == "" {
		return ErrorResult("filename is required")
	}

	path, err := t.library.Backup(filename)
	if err != nil {
		return ErrorResult(fmt.Sprintf("backup %s: %v", filename, err))
	}
	return UserResult(fmt.Sprintf("Backed up %s to %s.", filename, path))
}
