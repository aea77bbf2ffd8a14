package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tripmesh/contextengine/pkg/models"
)

func item(kind models.SourceKind, fields map[string]string) *models.SourceItem {
	return &models.SourceItem{
		Ref:       models.SourceRef{TenantID: "trip-1", Kind: kind, SourceID: "s1"},
		Fields:    fields,
		UpdatedAt: time.Now(),
	}
}

func TestProject_PerKindText(t *testing.T) {
	tests := []struct {
		name     string
		item     *models.SourceItem
		wantText string
	}{
		{
			name:     "chat message uses the raw text",
			item:     item(models.KindChatMessage, map[string]string{"text": "let's rent jet skis", "author": "ana"}),
			wantText: "let's rent jet skis",
		},
		{
			name:     "task joins title and notes",
			item:     item(models.KindTask, map[string]string{"title": "Book marina slot", "notes": "before friday"}),
			wantText: "Book marina slot\nbefore friday",
		},
		{
			name:     "task without notes has no trailing separator",
			item:     item(models.KindTask, map[string]string{"title": "Book marina slot"}),
			wantText: "Book marina slot",
		},
		{
			name:     "poll joins question and options",
			item:     item(models.KindPoll, map[string]string{"question": "Dinner where?", "options": "tapas, ramen"}),
			wantText: "Dinner where?\ntapas, ramen",
		},
		{
			name: "calendar event joins title location and time phrase",
			item: item(models.KindCalendarEvent, map[string]string{
				"title": "Boat tour", "location": "old harbor", "time_phrase": "saturday morning",
			}),
			wantText: "Boat tour\nold harbor\nsaturday morning",
		},
		{
			name:     "link joins title url and description",
			item:     item(models.KindLink, map[string]string{"title": "Rental shop", "url": "https://example.com"}),
			wantText: "Rental shop\nhttps://example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantText, Project(tt.item).Text)
		})
	}
}

func TestProject_Metadata(t *testing.T) {
	p := Project(item(models.KindPayment, map[string]string{
		"description": "jet ski deposit",
		"amount":      "120",
		"currency":    "EUR",
	}))
	assert.Equal(t, "jet ski deposit", p.Text)
	assert.Equal(t, "120", p.Metadata["amount"])
	assert.Equal(t, "EUR", p.Metadata["currency"])
	assert.NotContains(t, p.Metadata, "payer")
}

func TestProject_UnknownKindIsEmpty(t *testing.T) {
	p := Project(item(models.SourceKind("sticker"), map[string]string{"text": "hi"}))
	assert.Empty(t, p.Text)
}
