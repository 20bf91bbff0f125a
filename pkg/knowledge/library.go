package knowledge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gardenista/beanbot/pkg/logger"
)

// ErrDocumentNotFound is returned by Read for a document that does not
// exist. Callers treat it as a valid empty state, not a failure.
var ErrDocumentNotFound = errors.New("document not found")

// SystemFiles are the documents the assistant depends on structurally.
// They are seeded at onboarding and protected from overwrite via the
// generic write tool.
var SystemFiles = map[string]bool{
	"tasks.md":             true,
	"harvests.md":          true,
	"garden_log.md":        true,
	"planting_calendar.md": true,
	"almanac.md":           true,
	"farm_layout.md":       true,
	"categories.md":        true,
}

const backupDirName = "backups"

// Library is a flat directory of markdown documents plus the member
// registry. All mutation goes through a read-modify-write cycle that is
// serialized per document name.
type Library struct {
	dir   string
	locks *lockTable
}

func NewLibrary(dir string) (*Library, error) {
	if dir == "" {
		return nil, fmt.Errorf("knowledge: data dir is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("knowledge: create data dir: %w", err)
	}
	return &Library{
		dir:   dir,
		locks: newLockTable(maxLockWaiters),
	}, nil
}

func (l *Library) Dir() string {
	return l.dir
}

// sanitizeName rejects path traversal and confines documents to the
// library directory.
func sanitizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("knowledge: empty document name")
	}
	cleaned := filepath.Base(filepath.Clean(name))
	if cleaned != name || strings.HasPrefix(cleaned, ".") {
		return "", fmt.Errorf("knowledge: invalid document name %q", name)
	}
	return cleaned, nil
}

func (l *Library) path(name string) string {
	return filepath.Join(l.dir, name)
}

// Read returns a document's content. A missing document yields
// ErrDocumentNotFound.
func (l *Library) Read(name string) (string, error) {
	name, err := sanitizeName(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(l.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrDocumentNotFound, name)
		}
		return "", fmt.Errorf("knowledge: read %s: %w", name, err)
	}
	return string(data), nil
}

// Write replaces a document's content atomically: the new content is
// staged to a temp file in the same directory and renamed over the
// original, so readers never see a partial write.
func (l *Library) Write(name, content string) error {
	name, err := sanitizeName(name)
	if err != nil {
		return err
	}
	release, err := l.locks.acquire(name)
	if err != nil {
		return err
	}
	defer release()
	return l.writeLocked(name, content)
}

func (l *Library) writeLocked(name, content string) error {
	tmp, err := os.CreateTemp(l.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("knowledge: stage %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("knowledge: stage %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("knowledge: stage %s: %w", name, err)
	}
	if err := os.Rename(tmpName, l.path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("knowledge: replace %s: %w", name, err)
	}
	return nil
}

// Update runs a read-modify-write cycle under the document's lock.
// The transform receives the current content ("" if the document does
// not exist yet) and returns the full replacement content.
func (l *Library) Update(name string, transform func(current string) (string, error)) error {
	name, err := sanitizeName(name)
	if err != nil {
		return err
	}
	release, err := l.locks.acquire(name)
	if err != nil {
		return err
	}
	defer release()

	current := ""
	data, err := os.ReadFile(l.path(name))
	if err == nil {
		current = string(data)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("knowledge: read %s: %w", name, err)
	}

	next, err := transform(current)
	if err != nil {
		return err
	}
	if next == current {
		return nil
	}
	return l.writeLocked(name, next)
}

// Append adds content to the end of a document, creating it if needed.
func (l *Library) Append(name, content string) error {
	return l.Update(name, func(current string) (string, error) {
		if current == "" {
			return content, nil
		}
		if !strings.HasSuffix(current, "\n") {
			current += "\n"
		}
		return current + content, nil
	})
}

// Backup copies a document into the backup directory with a timestamp
// suffix and returns the backup path. Destructive operations call this
// first and abort if it fails.
func (l *Library) Backup(name string) (string, error) {
	name, err := sanitizeName(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(l.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrDocumentNotFound, name)
		}
		return "", fmt.Errorf("knowledge: backup read %s: %w", name, err)
	}

	backupDir := filepath.Join(l.dir, backupDirName)
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return "", fmt.Errorf("knowledge: backup dir: %w", err)
	}
	stamp := time.Now().Format("20060102_150405")
	backupPath := filepath.Join(backupDir, fmt.Sprintf("%s.%s.bak", name, stamp))
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", fmt.Errorf("knowledge: backup write %s: %w", name, err)
	}
	logger.InfoCF("knowledge", "Backed up document", map[string]interface{}{
		"document": name,
		"backup":   backupPath,
	})
	return backupPath, nil
}

// Delete removes a document after taking a backup. The delete is
// rejected when the backup cannot be written.
func (l *Library) Delete(name string) error {
	name, err := sanitizeName(name)
	if err != nil {
		return err
	}
	release, err := l.locks.acquire(name)
	if err != nil {
		return err
	}
	defer release()

	if _, err := l.Backup(name); err != nil {
		return fmt.Errorf("knowledge: refusing delete without backup: %w", err)
	}
	if err := os.Remove(l.path(name)); err != nil {
		return fmt.Errorf("knowledge: delete %s: %w", name, err)
	}
	return nil
}

// List returns the markdown document names in the library, sorted.
func (l *Library) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("knowledge: list: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Search returns documents whose content contains the query,
// case-insensitive, with a short snippet around the first match.
func (l *Library) Search(query string) ([]SearchHit, error) {
	names, err := l.List()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	var hits []SearchHit
	for _, name := range names {
		content, err := l.Read(name)
		if err != nil {
			continue
		}
		idx := strings.Index(strings.ToLower(content), needle)
		if idx < 0 {
			continue
		}
		start := idx - 60
		if start < 0 {
			start = 0
		}
		for start > 0 && !utf8.RuneStart(content[start]) {
			start--
		}
		end := idx + len(query) + 60
		if end > len(content) {
			end = len(content)
		}
		for end < len(content) && !utf8.RuneStart(content[end]) {
			end++
		}
		snippet := strings.ReplaceAll(content[start:end], "\n", " ")
		hits = append(hits, SearchHit{Document: name, Snippet: snippet})
	}
	return hits, nil
}

// SearchHit is one document matching a content search.
type SearchHit struct {
	Document string
	Snippet  string
}

// RelatedByName returns documents whose filename contains the topic.
func (l *Library) RelatedByName(topic string) ([]string, error) {
	names, err := l.List()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.ReplaceAll(topic, " ", "_"))
	var related []string
	for _, name := range names {
		if strings.Contains(strings.ToLower(name), needle) {
			related = append(related, name)
		}
	}
	return related, nil
}

// Size returns the byte size of a document, 0 for a missing one.
func (l *Library) Size(name string) int64 {
	name, err := sanitizeName(name)
	if err != nil {
		return 0
	}
	info, err := os.Stat(l.path(name))
	if err != nil {
		return 0
	}
	return info.Size()
}
