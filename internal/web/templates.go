package web

import (
	"embed"
	"html/template"
	"io/fs"
	"time"
	"unicode/utf8"

	"github.com/nti-schack/leaderboard/internal/leaderboard"
)

//go:embed templates/*.html
var embeddedTemplates embed.FS

// maxNameRunes is how much of a username the page shows before truncating.
const maxNameRunes = 10

// LoadTemplates parses every .html file at the root of templatesFS.
func LoadTemplates(templatesFS fs.FS) (*template.Template, error) {
	tmpl := template.New("").Funcs(templateFuncs())

	matches, err := fs.Glob(templatesFS, "*.html")
	if err != nil {
		return nil, err
	}
	for _, match := range matches {
		content, err := fs.ReadFile(templatesFS, match)
		if err != nil {
			return nil, err
		}
		if _, err := tmpl.New(match).Parse(string(content)); err != nil {
			return nil, err
		}
	}
	return tmpl, nil
}

// DefaultTemplates returns the templates compiled into the binary.
func DefaultTemplates() (*template.Template, error) {
	sub, err := fs.Sub(embeddedTemplates, "templates")
	if err != nil {
		return nil, err
	}
	return LoadTemplates(sub)
}

// templateFuncs returns the common template functions.
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		// Leaderboard ranks start after the podium.
		"rank": leaderboard.Ranked{}.Rank,
		"place": func(i int) int {
			return i + 1
		},
		"shortenName": shortenName,
		"formatDate": func(t *time.Time) string {
			if t == nil {
				return ""
			}
			return t.Format("2006-01-02 15:04")
		},
		"iterate": func(n int) []int {
			result := make([]int, n)
			for i := range result {
				result[i] = i
			}
			return result
		},
		"slot": func(players []leaderboard.PlayerStats, i int) *leaderboard.PlayerStats {
			if i < 0 || i >= len(players) {
				return nil
			}
			return &players[i]
		},
		"percent": func(count, total int) int {
			if total == 0 {
				return 0
			}
			return (count * 100) / total
		},
	}
}

func shortenName(name string) string {
	if utf8.RuneCountInString(name) <= maxNameRunes {
		return name
	}
	return string([]rune(name)[:maxNameRunes]) + "…"
}
