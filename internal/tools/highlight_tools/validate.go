package highlight_tools

import (
	"encoding/json"
	"fmt"

	"github.com/kevinhojae/savewise-mcp-server/internal/readwise"
)

// optionalStringFields lists the optional string properties of a highlight
// and where each one lands on readwise.Highlight.
var optionalStringFields = []struct {
	key string
	set func(*readwise.Highlight, string)
}{
	{"author", func(h *readwise.Highlight, v string) { h.Author = v }},
	{"source_url", func(h *readwise.Highlight, v string) { h.SourceURL = v }},
	{"source_type", func(h *readwise.Highlight, v string) { h.SourceType = v }},
	{"category", func(h *readwise.Highlight, v string) { h.Category = v }},
	{"note", func(h *readwise.Highlight, v string) { h.Note = v }},
	{"location_type", func(h *readwise.Highlight, v string) { h.LocationType = v }},
	{"highlighted_at", func(h *readwise.Highlight, v string) { h.HighlightedAt = v }},
}

// ParseHighlights validates raw tool arguments and returns typed highlights.
// On failure it returns a *readwise.Error of KindValidation listing every
// violation; no partially parsed highlights are ever returned.
func ParseHighlights(raw any) ([]readwise.Highlight, error) {
	var v violations

	args, ok := raw.(map[string]any)
	if !ok {
		if raw == nil {
			v.add("highlights", "Required")
		} else {
			v.add("", "Expected object, received %s", typeName(raw))
		}
		return nil, v.err()
	}

	value, present := args[ParamHighlights]
	if !present {
		v.add("highlights", "Required")
		return nil, v.err()
	}
	items, ok := value.([]any)
	if !ok {
		v.add("highlights", "Expected array, received %s", typeName(value))
		return nil, v.err()
	}
	if len(items) == 0 {
		v.add("highlights", "Array must contain at least 1 element(s)")
		return nil, v.err()
	}

	highlights := make([]readwise.Highlight, 0, len(items))
	for i, item := range items {
		if h, ok := parseHighlight(fmt.Sprintf("highlights.%d", i), item, &v); ok {
			highlights = append(highlights, h)
		}
	}
	if len(v) > 0 {
		return nil, v.err()
	}
	return highlights, nil
}

func parseHighlight(path string, item any, v *violations) (readwise.Highlight, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		v.add(path, "Expected object, received %s", typeName(item))
		return readwise.Highlight{}, false
	}

	before := len(*v)
	h := readwise.Highlight{Category: readwise.DefaultCategory}

	h.Text = requiredString(path, obj, "text", v)
	h.Title = requiredString(path, obj, "title", v)

	for _, f := range optionalStringFields {
		if s, ok := optionalString(path, obj, f.key, v); ok {
			f.set(&h, s)
		}
	}

	if raw, present := obj["location"]; present {
		if n, ok := toFloat(raw); ok {
			h.Location = &n
		} else {
			v.add(path+".location", "Expected number, received %s", typeName(raw))
		}
	}

	if raw, present := obj["tags"]; present {
		list, ok := raw.([]any)
		if !ok {
			v.add(path+".tags", "Expected array, received %s", typeName(raw))
		} else {
			for j, tag := range list {
				s, ok := tag.(string)
				if !ok {
					v.add(fmt.Sprintf("%s.tags.%d", path, j), "Expected string, received %s", typeName(tag))
					continue
				}
				h.Tags = append(h.Tags, s)
			}
		}
	}

	return h, len(*v) == before
}

func requiredString(path string, obj map[string]any, key string, v *violations) string {
	raw, present := obj[key]
	if !present {
		v.add(path+"."+key, "Required")
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		v.add(path+"."+key, "Expected string, received %s", typeName(raw))
		return ""
	}
	return s
}

func optionalString(path string, obj map[string]any, key string, v *violations) (string, bool) {
	raw, present := obj[key]
	if !present {
		return "", false
	}
	s, ok := raw.(string)
	if !ok {
		v.add(path+"."+key, "Expected string, received %s", typeName(raw))
		return "", false
	}
	return s, true
}

func toFloat(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func typeName(raw any) string {
	switch raw.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", raw)
}

type violations []string

func (v *violations) add(path, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if path != "" {
		msg = path + ": " + msg
	}
	*v = append(*v, msg)
}

func (v violations) err() error {
	return readwise.NewValidationError(v)
}
