package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractTarget(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		want  string
		found bool
	}{
		{"bare link", "https://steamcommunity.com/id/gaben", "https://steamcommunity.com/id/gaben", true},
		{"link inside chatter", "вот моя ссылка https://steamcommunity.com/id/gaben спасибо", "https://steamcommunity.com/id/gaben", true},
		{"http scheme", "http://steamcommunity.com/profiles/76561198000000001", "http://steamcommunity.com/profiles/76561198000000001", true},
		{"first of several", "https://a.example https://b.example", "https://a.example", true},
		{"no scheme", "steamcommunity.com/id/gaben", "", false},
		{"no url", "привет, когда отправите?", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, found := extractTarget(tc.text)
			assert.Equal(t, tc.found, found)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestValidTarget(t *testing.T) {
	valid := []string{
		"https://steamcommunity.com/id/gaben",
		"https://steamcommunity.com/profiles/76561198000000001",
		"http://steamcommunity.com/id/some_user-name",
		"https://steamcommunity.com/id/gaben/",
	}
	for _, link := range valid {
		assert.True(t, validTarget(link), link)
	}

	invalid := []string{
		"https://example.com/id/gaben",
		"https://steamcommunity.com/groups/valve",
		"https://steamcommunity.com/id/",
		"ftp://steamcommunity.com/id/gaben",
		"https://fake-steamcommunity.com/id/gaben",
	}
	for _, link := range invalid {
		assert.False(t, validTarget(link), link)
	}
}
