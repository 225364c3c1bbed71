// Package prompts renders the essay grading prompts sent to the language
// model.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/proctor/internal/model"
)

//go:embed templates/*.txt
var defaultFS embed.FS

var essayTagRegex = regexp.MustCompile(`(?i)</?\s*essay\b[^>]*>`)

// maxAnswerRunes bounds the essay text placed in a prompt.
const maxAnswerRunes = 10000

// Variant selects how generous the grading prompt is.
type Variant string

const (
	Strict   Variant = "strict"
	Standard Variant = "standard"
	Lenient  Variant = "lenient"
)

var variants = []Variant{Strict, Standard, Lenient}

// IsValidVariant reports whether v names a known variant.
func IsValidVariant(v string) bool {
	for _, known := range variants {
		if Variant(v) == known {
			return true
		}
	}
	return false
}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[Variant]*template.Template
)

// GradeData is the template input.
type GradeData struct {
	Prompt string
	Points float64
	Answer string
}

// Load parses the templates once. A nil fsys uses the embedded defaults.
// Files are read from templates/grade_<variant>.txt.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		if fsys == nil {
			fsys = defaultFS
		}
		loaded := make(map[Variant]*template.Template, len(variants))
		for _, v := range variants {
			name := "templates/grade_" + string(v) + ".txt"
			content, err := fs.ReadFile(fsys, name)
			if err != nil {
				loadErr = fmt.Errorf("read prompt %s: %w", name, err)
				return
			}
			tmpl, err := template.New(string(v)).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt %s: %w", name, err)
				return
			}
			loaded[v] = tmpl
		}
		templates = loaded
	})
	return loadErr
}

// BuildGradePrompt renders the grading prompt for one essay answer.
func BuildGradePrompt(variant Variant, q model.Question, answer string) (string, error) {
	if templates == nil {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := templates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}
	var buf bytes.Buffer
	err := tmpl.Execute(&buf, GradeData{
		Prompt: q.Prompt,
		Points: q.Points,
		Answer: SanitizeAnswer(answer),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SanitizeAnswer strips tags that could close the essay block and bounds
// the length.
func SanitizeAnswer(answer string) string {
	answer = essayTagRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "[No answer provided]"
	}
	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}
	return answer
}
