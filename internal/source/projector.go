package source

import (
	"strings"

	"github.com/tripmesh/contextengine/pkg/models"
)

// Projection is the embeddable view of a source item: the text that goes to
// the embedding provider and the metadata carried into search results.
type Projection struct {
	Text     string
	Metadata map[string]string
}

// Project derives the embeddable text for a source item from its kind.
// The derivation is deliberately lossy: only fields that carry retrieval
// signal are included, in a stable order so the content hash is stable.
func Project(item *models.SourceItem) Projection {
	switch item.Ref.Kind {
	case models.KindChatMessage:
		return Projection{
			Text:     item.Field("text"),
			Metadata: pick(item, "author"),
		}
	case models.KindTask:
		return Projection{
			Text:     join(item.Field("title"), item.Field("notes")),
			Metadata: pick(item, "status", "assignee"),
		}
	case models.KindPoll:
		return Projection{
			Text:     join(item.Field("question"), item.Field("options")),
			Metadata: pick(item, "status"),
		}
	case models.KindCalendarEvent:
		return Projection{
			Text:     join(item.Field("title"), item.Field("location"), item.Field("time_phrase")),
			Metadata: pick(item, "starts_at", "location"),
		}
	case models.KindPlace:
		return Projection{
			Text:     join(item.Field("name"), item.Field("address"), item.Field("notes")),
			Metadata: pick(item, "category"),
		}
	case models.KindPayment:
		return Projection{
			Text:     item.Field("description"),
			Metadata: pick(item, "amount", "currency", "payer"),
		}
	case models.KindBroadcast:
		return Projection{
			Text:     item.Field("body"),
			Metadata: pick(item, "author"),
		}
	case models.KindLink:
		return Projection{
			Text:     join(item.Field("title"), item.Field("url"), item.Field("description")),
			Metadata: pick(item, "url"),
		}
	default:
		return Projection{}
	}
}

// join concatenates non-empty parts with a newline separator.
func join(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

// pick copies the named fields that are present on the item.
func pick(item *models.SourceItem, names ...string) map[string]string {
	meta := make(map[string]string, len(names))
	for _, name := range names {
		if v := item.Field(name); v != "" {
			meta[name] = v
		}
	}
	return meta
}
