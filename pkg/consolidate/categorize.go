package consolidate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gardenista/beanbot/pkg/logger"
)

// Categories maps category name to species name to sorted filenames.
type Categories map[string]map[string][]string

const categorizeRules = `You are a botanical and gardening expert. Categorize each file below into ONE category AND one species/topic.

CATEGORIES (use these, add others only if truly needed):
Trees, Shrubs, Vegetables, Herbs, Flowers, Fruits, Grasses/Grains, Vines, Groundcovers, Wildflowers/Native Plants, Wildlife, Farm/Infrastructure, Techniques/Methods, Uncategorized

RULES:
- Use botanical knowledge (e.g. smooth_sumac=Shrubs, cherry_tomato=Vegetables, lavender=Herbs)
- Every file gets exactly one category and one species/topic
- Species should be the common plant name that groups related files together
  e.g. garlic.md + garlic_care.md + garlic_pests.md all get Species=Garlic
- Use singular form, title case (Garlic not garlics, Tomato not tomatoes)
- For non-plant files, use a short descriptive topic (e.g. Composting, Irrigation, Raised Beds)
- Uncategorized is a last resort

INPUT (filename|title):
%s

OUTPUT: One line per file, same order as input, format: filename|Category|Species
No headers, no explanation, no blank lines. ONLY the filename|Category|Species lines.`

// CategorizeFiles assigns every entry a category and a species using
// the model's line protocol, batched so large libraries stay under the
// output token limit. Batches run concurrently and merge afterwards.
func (e *Engine) CategorizeFiles(ctx context.Context, entries []FileEntry) (Categories, error) {
	if len(entries) == 0 {
		return Categories{}, nil
	}
	size := e.batchSize
	if size < 1 {
		size = defaultBatchSize
	}
	var batches [][]FileEntry
	for start := 0; start < len(entries); start += size {
		end := start + size
		if end > len(entries) {
			end = len(entries)
		}
		batches = append(batches, entries[start:end])
	}
	logger.InfoCF("consolidate", "Categorizing library", map[string]interface{}{
		"files":   len(entries),
		"batches": len(batches),
	})

	results := make([]Categories, len(batches))
	errs := make([]error, len(batches))
	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		go func(i int, batch []FileEntry) {
			defer wg.Done()
			results[i], errs[i] = e.categorizeBatch(ctx, batch)
		}(i, batch)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	merged := Categories{}
	for _, batchCats := range results {
		for cat, speciesFiles := range batchCats {
			if merged[cat] == nil {
				merged[cat] = map[string][]string{}
			}
			for species, files := range speciesFiles {
				merged[cat][species] = append(merged[cat][species], files...)
			}
		}
	}
	for _, speciesFiles := range merged {
		for species := range speciesFiles {
			sort.Strings(speciesFiles[species])
		}
	}
	if merged.FileCount() == 0 {
		return nil, fmt.Errorf("consolidate: no files were categorized across any batch")
	}
	return merged, nil
}

func (e *Engine) categorizeBatch(ctx context.Context, batch []FileEntry) (Categories, error) {
	lines := make([]string, 0, len(batch))
	for _, entry := range batch {
		lines = append(lines, entry.Filename+"|"+entry.Title)
	}
	text, err := e.complete(ctx, fmt.Sprintf(categorizeRules, strings.Join(lines, "\n")), categorizeTokens)
	if err != nil {
		return nil, err
	}
	return parseCategoryLines(text), nil
}

// parseCategoryLines decodes the filename|Category|Species protocol.
// Lines missing a species fall back to a title-cased filename stem;
// anything else malformed is skipped.
func parseCategoryLines(text string) Categories {
	cats := Categories{}
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		parts := strings.Split(strings.TrimSpace(line), "|")
		if len(parts) < 2 {
			continue
		}
		filename := strings.TrimSpace(parts[0])
		category := strings.TrimSpace(parts[1])
		var species string
		if len(parts) >= 3 {
			species = strings.TrimSpace(parts[2])
		} else {
			stem := strings.TrimSuffix(filename, ".md")
			species = titleCase(strings.ReplaceAll(stem, "_", " "))
		}
		if filename == "" || category == "" || species == "" {
			continue
		}
		if cats[category] == nil {
			cats[category] = map[string][]string{}
		}
		cats[category][species] = append(cats[category][species], filename)
	}
	return cats
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// FileCount returns the number of categorized files.
func (c Categories) FileCount() int {
	n := 0
	for _, speciesFiles := range c {
		for _, files := range speciesFiles {
			n += len(files)
		}
	}
	return n
}

// SpeciesCount returns the number of distinct species/topics.
func (c Categories) SpeciesCount() int {
	n := 0
	for _, speciesFiles := range c {
		n += len(speciesFiles)
	}
	return n
}

// BuildCategoriesDoc renders the library index document. Output is
// byte-deterministic for a given input: categories sort alphabetically
// with Uncategorized last, species by file count descending then name,
// filenames ascending.
func BuildCategoriesDoc(cats Categories, sizes map[string]int64, today time.Time) string {
	var b strings.Builder
	b.WriteString("# Knowledge Library Categories\n\n")
	b.WriteString("*Last updated: " + today.Format("2006-01-02") + "*\n\n")
	fmt.Fprintf(&b, "**%d files** across **%d categories**, **%d species/topics**\n",
		cats.FileCount(), len(cats), cats.SpeciesCount())

	catNames := make([]string, 0, len(cats))
	for name := range cats {
		catNames = append(catNames, name)
	}
	sort.Slice(catNames, func(i, j int) bool {
		if (catNames[i] == "Uncategorized") != (catNames[j] == "Uncategorized") {
			return catNames[j] == "Uncategorized"
		}
		return catNames[i] < catNames[j]
	})

	for _, cat := range catNames {
		speciesFiles := cats[cat]
		fileCount := 0
		for _, files := range speciesFiles {
			fileCount += len(files)
		}
		fmt.Fprintf(&b, "\n## %s (%d files, %d species)\n\n", cat, fileCount, len(speciesFiles))

		speciesNames := make([]string, 0, len(speciesFiles))
		for name := range speciesFiles {
			speciesNames = append(speciesNames, name)
		}
		sort.Slice(speciesNames, func(i, j int) bool {
			a, b := speciesNames[i], speciesNames[j]
			if len(speciesFiles[a]) != len(speciesFiles[b]) {
				return len(speciesFiles[a]) > len(speciesFiles[b])
			}
			return a < b
		})

		for _, species := range speciesNames {
			files := append([]string(nil), speciesFiles[species]...)
			sort.Strings(files)
			label := "files"
			if len(files) == 1 {
				label = "file"
			}
			fmt.Fprintf(&b, "### %s (%d %s)\n", species, len(files), label)
			for _, f := range files {
				fmt.Fprintf(&b, "  - %s (%s)\n", f, formatSize(sizes[f]))
			}
			if len(files) >= 2 {
				fmt.Fprintf(&b, "  > `consolidate %s`\n", speciesSlug(species))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func formatSize(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%.1f KB", float64(n)/1024)
}

func speciesSlug(species string) string {
	return strings.ReplaceAll(strings.ToLower(species), " ", "_")
}

// Report summarizes one full categorization pass.
type Report struct {
	Categories       Categories
	MergeSuggestions []MergeSuggestion
	FileCount        int
}

// RebuildCategories categorizes every library document, writes the
// categories.md index, and returns the report with merge candidates.
// Running it twice over an unchanged library produces identical output.
func (e *Engine) RebuildCategories(ctx context.Context, now time.Time) (*Report, error) {
	entries, err := e.LibraryFiles()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("consolidate: no knowledge files found in the library")
	}
	cats, err := e.CategorizeFiles(ctx, entries)
	if err != nil {
		return nil, err
	}
	sizes := make(map[string]int64, len(entries))
	for _, entry := range entries {
		sizes[entry.Filename] = entry.SizeBytes
	}
	doc := BuildCategoriesDoc(cats, sizes, now)
	if err := e.library.Write("categories.md", doc); err != nil {
		return nil, err
	}
	suggestions := DeriveMergeSuggestions(cats)
	logger.InfoCF("consolidate", "Categorization complete", map[string]interface{}{
		"categories":       len(cats),
		"species":          cats.SpeciesCount(),
		"files":            cats.FileCount(),
		"merge_candidates": len(suggestions),
	})
	return &Report{
		Categories:       cats,
		MergeSuggestions: suggestions,
		FileCount:        cats.FileCount(),
	}, nil
}
