package consolidate

import "sort"

// MergeSuggestion marks a species whose documents could collapse into
// one file. The target is <species>.md when that file already exists,
// otherwise the alphabetically first member.
type MergeSuggestion struct {
	Target   string
	Files    []string
	Species  string
	Category string
}

// DeriveMergeSuggestions finds merge candidates deterministically: any
// species with two or more files qualifies. No model call involved.
// Results sort by file count descending, then category and species.
func DeriveMergeSuggestions(cats Categories) []MergeSuggestion {
	var suggestions []MergeSuggestion
	catNames := make([]string, 0, len(cats))
	for name := range cats {
		catNames = append(catNames, name)
	}
	sort.Strings(catNames)

	for _, cat := range catNames {
		speciesNames := make([]string, 0, len(cats[cat]))
		for name := range cats[cat] {
			speciesNames = append(speciesNames, name)
		}
		sort.Strings(speciesNames)
		for _, species := range speciesNames {
			files := append([]string(nil), cats[cat][species]...)
			if len(files) < 2 {
				continue
			}
			sort.Strings(files)
			target := speciesSlug(species) + ".md"
			if !containsString(files, target) {
				target = files[0]
			}
			suggestions = append(suggestions, MergeSuggestion{
				Target:   target,
				Files:    files,
				Species:  species,
				Category: cat,
			})
		}
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return len(suggestions[i].Files) > len(suggestions[j].Files)
	})
	return suggestions
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
