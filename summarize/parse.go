package summarize

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Parse extracts a Summary from raw model output. Strategy, in order:
// strict JSON, a lenient first-'{'-to-last-'}' extraction (models often
// wrap JSON in prose or code fences), and finally a heuristic
// heading/bullet parse of the plain text. Parse never fails; at worst
// the whole output lands in one general section.
func Parse(raw string) Summary {
	if s, ok := parseJSON(raw); ok {
		s.Raw = raw
		return s
	}
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start != -1 && end > start {
		if s, ok := parseJSON(raw[start : end+1]); ok {
			s.Raw = raw
			return s
		}
	}
	return Summary{Sections: heuristicSections(raw), Raw: raw}
}

// parseJSON attempts a strict decode and normalizes the result. A
// decode only counts if it produced at least one section.
func parseJSON(s string) (Summary, bool) {
	var out Summary
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return Summary{}, false
	}
	if len(out.Sections) == 0 {
		return Summary{}, false
	}
	normalized := make([]Section, 0, len(out.Sections))
	for _, sec := range out.Sections {
		title := strings.TrimSpace(sec.Title)
		if title == "" {
			title = "Untitled"
		}
		bullets := make([]string, 0, len(sec.Bullets))
		for _, b := range sec.Bullets {
			if t := strings.TrimSpace(b); t != "" {
				bullets = append(bullets, t)
			}
		}
		normalized = append(normalized, Section{Title: title, Bullets: bullets})
	}
	out.Sections = normalized
	out.Participants = trimAll(out.Participants)
	out.Decisions = trimAll(out.Decisions)
	out.ActionItems = trimAll(out.ActionItems)
	out.Questions = trimAll(out.Questions)
	return out, true
}

func trimAll(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}

var (
	markdownHeadingRe = regexp.MustCompile(`^\s*#{1,6}\s*(.+)$`)
	titleColonRe      = regexp.MustCompile(`^\s*(\pL[\pL\pN\s\-]{2,60}):\s*$`)
	standaloneTitleRe = regexp.MustCompile(`^\s*(\pL[\pL\pN\s\-]{2,60})\s*$`)
	bulletRe          = regexp.MustCompile(`^\s*[-•*]\s+(.+)$`)
	numberedRe        = regexp.MustCompile(`^\s*\d+[.)]\s+(.+)$`)
)

// heuristicSections recovers headings and bullets from plain text.
func heuristicSections(s string) []Section {
	var (
		sections []Section
		title    string
		bullets  []string
	)
	flush := func() {
		if title == "" && len(bullets) == 0 {
			return
		}
		if title == "" {
			title = "General"
		}
		sections = append(sections, Section{Title: title, Bullets: bullets})
		title, bullets = "", nil
	}

	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			if title == "" {
				title = "General"
			}
			bullets = append(bullets, strings.TrimSpace(m[1]))
			continue
		}
		if m := numberedRe.FindStringSubmatch(line); m != nil {
			if title == "" {
				title = "General"
			}
			bullets = append(bullets, strings.TrimSpace(m[1]))
			continue
		}
		heading := ""
		for _, re := range []*regexp.Regexp{markdownHeadingRe, titleColonRe, standaloneTitleRe} {
			if m := re.FindStringSubmatch(line); m != nil {
				heading = strings.TrimSpace(m[1])
				break
			}
		}
		if heading != "" {
			flush()
			title = heading
			continue
		}
		if title == "" {
			title = "General"
		}
		bullets = append(bullets, strings.TrimSpace(line))
	}
	flush()
	return sections
}
