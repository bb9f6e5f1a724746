package article

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontmatter returns the YAML properties between leading --- delimiters of
// content, flattened to strings. Content without front matter yields nil.
// Lists are joined with ", ".
func frontmatter(content string) (map[string]string, error) {
	const delim = "---"
	trimmed := strings.TrimLeft(content, "\n\r")
	if !strings.HasPrefix(trimmed, delim) {
		return nil, nil
	}

	rest := trimmed[len(delim):]
	idx := strings.Index(rest, "\n"+delim)
	if idx < 0 {
		// No closing delimiter; not front matter.
		return nil, nil
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal([]byte(rest[:idx]), &raw); err != nil {
		return nil, fmt.Errorf("front matter: %w", err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			out[k] = ""
		case []interface{}:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, strings.TrimSpace(fmt.Sprint(item)))
			}
			out[k] = strings.Join(parts, ", ")
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
