package readwise

// DefaultCategory is applied when a highlight does not name a category.
const DefaultCategory = "articles"

// Highlight is a validated highlight ready to be sent to Readwise.
// Empty optional strings are treated as absent.
type Highlight struct {
	Text          string
	Title         string
	Author        string
	SourceURL     string
	SourceType    string
	Category      string
	Note          string
	Location      *float64
	LocationType  string
	HighlightedAt string
	Tags          []string
}

// Tag is a highlight tag in the Readwise wire format.
type Tag struct {
	Name string `json:"name"`
}

// highlightPayload is the per-highlight body of a create request.
type highlightPayload struct {
	Text          string   `json:"text"`
	Title         string   `json:"title"`
	Author        string   `json:"author,omitempty"`
	SourceURL     string   `json:"source_url,omitempty"`
	SourceType    string   `json:"source_type,omitempty"`
	Category      string   `json:"category,omitempty"`
	Note          string   `json:"note,omitempty"`
	Location      *float64 `json:"location,omitempty"`
	LocationType  string   `json:"location_type,omitempty"`
	HighlightedAt string   `json:"highlighted_at,omitempty"`
	HighlightTags []Tag    `json:"highlight_tags,omitempty"`
}

// createRequest is the body of POST /api/v2/highlights/.
type createRequest struct {
	Highlights []highlightPayload `json:"highlights"`
}

// CreateResponse is one per-book entry returned by the create endpoint.
type CreateResponse struct {
	ID            int64            `json:"id"`
	Title         string           `json:"title"`
	Author        *string          `json:"author"`
	Category      string           `json:"category"`
	NumHighlights int              `json:"num_highlights"`
	SourceURL     *string          `json:"source_url"`
	Highlights    []SavedHighlight `json:"highlights"`
}

// SavedHighlight identifies a highlight stored by Readwise.
type SavedHighlight struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// TotalSaved sums the highlight counts reported by Readwise.
// Readwise may merge or deduplicate, so this can differ from the number sent.
func TotalSaved(responses []CreateResponse) int {
	total := 0
	for _, r := range responses {
		total += r.NumHighlights
	}
	return total
}

func toPayload(h Highlight) highlightPayload {
	p := highlightPayload{
		Text:          h.Text,
		Title:         h.Title,
		Author:        h.Author,
		SourceURL:     h.SourceURL,
		SourceType:    h.SourceType,
		Category:      h.Category,
		Note:          h.Note,
		Location:      h.Location,
		LocationType:  h.LocationType,
		HighlightedAt: h.HighlightedAt,
	}
	if len(h.Tags) > 0 {
		p.HighlightTags = make([]Tag, 0, len(h.Tags))
		for _, name := range h.Tags {
			p.HighlightTags = append(p.HighlightTags, Tag{Name: name})
		}
	}
	return p
}
