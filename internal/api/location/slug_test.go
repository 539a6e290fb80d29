package location

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"diacritics stripped", "Chợ Bến Thành", "cho-ben-thanh"},
		{"dj maps to d", "Dinh Độc Lập", "dinh-doc-lap"},
		{"upper dj", "Đà Lạt", "da-lat"},
		{"punctuation collapses", "Bưu điện TP. Hồ Chí Minh", "buu-dien-tp-ho-chi-minh"},
		{"leading and trailing noise", "  Hồ Gươm!  ", "ho-guom"},
		{"already ascii", "Landmark 81", "landmark-81"},
		{"multiple separators", "Cầu Rồng - Đà Nẵng", "cau-rong-da-nang"},
		{"empty", "", ""},
		{"only punctuation", "!?!", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.input))
		})
	}
}

func TestSlugifyStable(t *testing.T) {
	// Accented and unaccented spellings of the same place must collide.
	assert.Equal(t, Slugify("Vịnh Hạ Long"), Slugify("Vinh Ha Long"))
}
