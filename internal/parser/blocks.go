package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/buildingbit-scraper/internal/lesson"
)

// blockCategories are the MakeCode toolbox drawers that appear in lessons.
var blockCategories = []string{
	"SuperBit", "Basic", "Input", "Loops", "Logic", "Variables",
	"Math", "Music", "Led", "Pins", "Advanced",
}

var blockSeparators = []string{",", "，", "、", ";"}

// extractBlocks reads "<Category>: block, block" style lines. A bare category line
// (typically a caption above a screenshot) still records the category.
func extractBlocks(lines []string) []lesson.BlockGroup {
	var groups []lesson.BlockGroup
	index := make(map[string]int)

	for _, line := range lines {
		category, rest, ok := matchCategory(line)
		if !ok {
			continue
		}
		i, seen := index[category]
		if !seen {
			i = len(groups)
			index[category] = i
			groups = append(groups, lesson.BlockGroup{Category: category, Blocks: []string{}})
		}
		for _, block := range splitBlocks(rest) {
			if !containsString(groups[i].Blocks, block) {
				groups[i].Blocks = append(groups[i].Blocks, block)
			}
		}
	}
	return groups
}

func matchCategory(line string) (string, string, bool) {
	lower := strings.ToLower(line)
	for _, category := range blockCategories {
		prefix := strings.ToLower(category)
		if !strings.HasPrefix(lower, prefix) {
			continue
		}
		rest := line[len(prefix):]
		if r, _ := utf8.DecodeRuneInString(rest); rest != "" && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			continue
		}
		rest = strings.TrimLeft(rest, " :：-–")
		return category, rest, true
	}
	return "", "", false
}

func splitBlocks(s string) []string {
	for _, sep := range blockSeparators[1:] {
		s = strings.ReplaceAll(s, sep, blockSeparators[0])
	}
	var out []string
	for _, part := range strings.Split(s, blockSeparators[0]) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
