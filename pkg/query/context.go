package query

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultContextTokens bounds the assembled context.
const DefaultContextTokens = 6000

// formatChunk renders one ranked item. The metadata line is left out when
// the item has no metadata.
func formatChunk(rank int, it Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chunk %d:\n", rank)
	if len(it.Metadata) > 0 {
		meta, err := json.Marshal(it.Metadata)
		if err != nil {
			meta = []byte(fmt.Sprint(it.Metadata))
		}
		b.WriteString("Metadata: ")
		b.Write(meta)
		b.WriteString("\n")
	}
	b.WriteString(it.Content)
	b.WriteString("\n")
	return b.String()
}

// BuildContext joins items in rank order until the next one would exceed
// budget tokens. The first item is always included, truncated when it alone
// is over budget. It returns an empty string when no item has content.
func BuildContext(items []Item, budget int, count func(string) int) string {
	hasContent := false
	for _, it := range items {
		if strings.TrimSpace(it.Content) != "" {
			hasContent = true
			break
		}
	}
	if !hasContent {
		return ""
	}

	sections := make([]string, 0, len(items))
	used := 0
	for i, it := range items {
		section := formatChunk(i+1, it)
		n := count(section)
		if budget > 0 && used+n > budget {
			if i == 0 {
				sections = append(sections, truncateTokens(section, budget, count))
			}
			break
		}
		sections = append(sections, section)
		used += n
	}
	return strings.Join(sections, "\n")
}

// truncateTokens cuts s on rune boundaries until it fits budget.
func truncateTokens(s string, budget int, count func(string) int) string {
	runes := []rune(s)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if count(string(runes[:mid])) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}
