package retrieval

import (
	"strings"

	"github.com/toneill57/muva-chat-sub006/internal/vectorstore"
)

// classifierKeywords routes query vocabulary to content types. A query can
// hit several types; a query hitting none searches every type.
var classifierKeywords = map[vectorstore.ContentType][]string{
	vectorstore.ContentAccommodation: {
		"room", "suite", "apartment", "studio", "bed", "accommodation",
		"upgrade", "balcony", "view", "habitacion", "apartamento",
	},
	vectorstore.ContentManual: {
		"wifi", "wi-fi", "password", "check-in", "check in", "checkout",
		"check-out", "breakfast", "parking", "towel", "pool", "key",
		"air conditioning", "laundry", "reception",
	},
	vectorstore.ContentTourism: {
		"beach", "restaurant", "tour", "diving", "snorkel", "rent",
		"visit", "museum", "bar", "taxi", "excursion", "playa",
	},
}

// Classify picks the content types a free-form guest query should search.
// Matching is case-insensitive substring matching over a small keyword
// vocabulary; anything unrecognized searches all types so a miss degrades
// to recall, not silence.
func Classify(query string) []vectorstore.ContentType {
	lowered := strings.ToLower(query)

	var matched []vectorstore.ContentType
	for _, contentType := range vectorstore.ContentTypes() {
		for _, keyword := range classifierKeywords[contentType] {
			if strings.Contains(lowered, keyword) {
				matched = append(matched, contentType)
				break
			}
		}
	}
	if len(matched) == 0 {
		return vectorstore.ContentTypes()
	}
	return matched
}
