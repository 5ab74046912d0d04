package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubdomainFromHost(t *testing.T) {
	tests := []struct {
		name   string
		host   string
		want   string
		wantOK bool
	}{
		{"plain", "oceanview.muva.chat", "oceanview", true},
		{"with port", "oceanview.muva.chat:443", "oceanview", true},
		{"uppercase host", "OceanView.MUVA.Chat", "oceanview", true},
		{"hyphenated", "casa-del-mar.muva.chat", "casa-del-mar", true},
		{"bare base domain", "muva.chat", "", false},
		{"nested subdomain", "a.b.muva.chat", "", false},
		{"wrong domain", "oceanview.example.com", "", false},
		{"empty subdomain", ".muva.chat", "", false},
		{"empty host", "", "", false},
		{"underscore", "ocean_view.muva.chat", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SubdomainFromHost(tt.host, "muva.chat")
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidSlug(t *testing.T) {
	assert.True(t, ValidSlug("oceanview"))
	assert.True(t, ValidSlug("casa-del-mar"))
	assert.True(t, ValidSlug("hotel9"))
	assert.False(t, ValidSlug(""))
	assert.False(t, ValidSlug("Ocean"))
	assert.False(t, ValidSlug("hotel.view"))
	assert.False(t, ValidSlug("hotel view"))
}
