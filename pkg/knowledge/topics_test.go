package knowledge

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeTopic(t *testing.T) {
	assert.Equal(t, "cherry_tomato", SanitizeTopic("Cherry Tomato"))
	assert.Equal(t, "garlic", SanitizeTopic("  Garlic!? "))
	assert.Equal(t, "bed_3-notes", SanitizeTopic("Bed 3-Notes"))
	assert.Equal(t, "", SanitizeTopic("../../"))
}

func TestClassifySource(t *testing.T) {
	cases := map[string]string{
		"https://extension.colostate.edu/garlic": "https://extension.colostate.edu/garlic (extension)",
		"https://www.nrcs.usda.gov/soils":        "https://www.nrcs.usda.gov/soils (government)",
		"https://permaculture.org/guide":         "https://permaculture.org/guide (organization)",
		"https://example.com/blog":               "https://example.com/blog (web)",
		"seed_catalog.pdf":                       "seed_catalog.pdf (PDF)",
		"chat message":                           "chat message (chat)",
		"image":                                  "image (image)",
		"Uncle Ray":                              "Uncle Ray",
	}
	for source, want := range cases {
		assert.Equal(t, want, ClassifySource(source), source)
	}
}

func TestAppendTopicUpdateCreatesDocument(t *testing.T) {
	lib := newTestLibrary(t)
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	filename, err := lib.AppendTopicUpdate("Cherry Tomato", "Flowers setting fruit.", "https://example.edu/tomatoes", now)
	require.NoError(t, err)
	assert.Equal(t, "cherry_tomato.md", filename)

	content, err := lib.Read("cherry_tomato.md")
	require.NoError(t, err)
	assert.Contains(t, content, "# Cherry Tomato")
	assert.Contains(t, content, "### Update 2026-08-30")
	assert.Contains(t, content, "Flowers setting fruit.")
	assert.Contains(t, content, "## Sources")
	assert.Contains(t, content, "- https://example.edu/tomatoes (extension)")
}

func TestAppendTopicUpdateDeduplicatesSources(t *testing.T) {
	lib := newTestLibrary(t)
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	_, err := lib.AppendTopicUpdate("garlic", "First note.", "chat message", now)
	require.NoError(t, err)
	_, err = lib.AppendTopicUpdate("garlic", "Second note.", "chat message", now.Add(24*time.Hour))
	require.NoError(t, err)

	content, err := lib.Read("garlic.md")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(content, "- chat message (chat)"))
	assert.Contains(t, content, "First note.")
	assert.Contains(t, content, "Second note.")
}

func TestSplitSourcesSection(t *testing.T) {
	body, sources := splitSourcesSection("# Garlic\nNotes.\n\n## Sources\n- a (web)\n- b (PDF)\n")
	assert.Equal(t, "# Garlic\nNotes.\n", body)
	assert.Equal(t, []string{"a (web)", "b (PDF)"}, sources)

	body, sources = splitSourcesSection("# Garlic\nNo sources here.")
	assert.Equal(t, "# Garlic\nNo sources here.", body)
	assert.Nil(t, sources)
}

func TestAnnotateConflictBelowClaim(t *testing.T) {
	lib := newTestLibrary(t)
	require.NoError(t, lib.Write("garlic.md", "# Garlic\nPlant 2 inches deep.\nMulch heavily.\n"))

	err := lib.AnnotateConflict("garlic.md", "plant 2 inches deep", "plant 4 inches deep in cold climates")
	require.NoError(t, err)

	content, err := lib.Read("garlic.md")
	require.NoError(t, err)
	lines := strings.Split(content, "\n")
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Equal(t, "Plant 2 inches deep.", lines[1])
	assert.Contains(t, lines[2], "**Conflict:**")
	assert.Equal(t, "Mulch heavily.", lines[3])
}

func TestAnnotateConflictMissingClaimAppends(t *testing.T) {
	lib := newTestLibrary(t)
	require.NoError(t, lib.Write("garlic.md", "# Garlic\n"))

	err := lib.AnnotateConflict("garlic.md", "water daily", "water weekly")
	require.NoError(t, err)

	content, err := lib.Read("garlic.md")
	require.NoError(t, err)
	assert.Contains(t, content, "> **Conflict:** Previous entry says water daily, but this source says water weekly.")
}

func TestAnnotateConflictMissingDocument(t *testing.T) {
	lib := newTestLibrary(t)
	err := lib.AnnotateConflict("nothing.md", "a", "b")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}
