package chunker

import (
	"regexp"
	"strings"
	"unicode"

	"ragstore/internal/types"
)

var (
	markdownHeaderRe = regexp.MustCompile(`^(#{1,6})\s+(\S.*)$`)
	numberedHeaderRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)[.)]?\s+(\S.*)$`)
	underlineEqRe    = regexp.MustCompile(`^={3,}$`)
	underlineDashRe  = regexp.MustCompile(`^-{3,}$`)
)

// DetectSections scans lines top to bottom and classifies header-like lines
// into sections. A section's body spans from the line after its header
// (skipping the underline line, if any) to the line before the next header.
func DetectSections(text string) []types.Section {
	lines := strings.Split(text, "\n")
	var sections []types.Section
	skipNext := false

	for i, raw := range lines {
		if skipNext {
			skipNext = false
			continue
		}
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if m := markdownHeaderRe.FindStringSubmatch(line); m != nil {
			sections = append(sections, types.Section{
				Type:      types.SectionMarkdown,
				Level:     len(m[1]),
				Title:     strings.TrimSpace(m[2]),
				StartLine: i,
			})
			continue
		}

		if m := numberedHeaderRe.FindStringSubmatch(line); m != nil {
			sections = append(sections, types.Section{
				Type:      types.SectionNumbered,
				Level:     strings.Count(m[1], ".") + 1,
				Title:     strings.TrimSpace(m[2]),
				StartLine: i,
			})
			continue
		}

		if i+1 < len(lines) {
			next := strings.TrimSpace(lines[i+1])
			if underlineEqRe.MatchString(next) || underlineDashRe.MatchString(next) {
				level := 1
				if underlineDashRe.MatchString(next) {
					level = 2
				}
				sections = append(sections, types.Section{
					Type:      types.SectionUnderlined,
					Level:     level,
					Title:     line,
					StartLine: i,
				})
				skipNext = true
				continue
			}
		}

		if isAllCapsHeader(line) {
			sections = append(sections, types.Section{
				Type:      types.SectionAllCaps,
				Level:     1,
				Title:     line,
				StartLine: i,
			})
		}
	}

	return sections
}

// isAllCapsHeader reports whether a line looks like an ALL CAPS heading:
// length in (3,100), entirely uppercase, and not purely numeric/punctuation.
func isAllCapsHeader(line string) bool {
	if len(line) <= 3 || len(line) >= 100 {
		return false
	}
	if line != strings.ToUpper(line) {
		return false
	}
	for _, r := range line {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
