package consistency

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/azyu/storyloom/pkg/types"
)

// MaxMinorRegression is the largest backwards jump in story days that is
// reported as a warning rather than a critical issue.
const MaxMinorRegression = 7

var (
	latinDay = regexp.MustCompile(`(?i)\bday\s+(\d{1,4}|[a-z]+(?:-[a-z]+)?)\b`)
	hanDay   = regexp.MustCompile(`第\s*([0-9]{1,4}|[零一二两三四五六七八九十百]{1,6})\s*天`)
)

var englishNumbers = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7,
	"eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13,
	"fourteen": 14, "fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18,
	"nineteen": 19, "twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

var hanDigits = map[rune]int{
	'零': 0, '一': 1, '二': 2, '两': 2, '三': 3, '四': 4,
	'五': 5, '六': 6, '七': 7, '八': 8, '九': 9,
}

// DayMarkers returns the explicit story-day numbers mentioned in text, in
// order of appearance. "Day 12", "day twelve" and "第十二天" are recognized.
func DayMarkers(text string) []int {
	type marker struct {
		pos int
		day int
	}
	var found []marker

	for _, m := range latinDay.FindAllStringSubmatchIndex(text, -1) {
		if day, ok := parseEnglishNumber(text[m[2]:m[3]]); ok {
			found = append(found, marker{pos: m[0], day: day})
		}
	}
	for _, m := range hanDay.FindAllStringSubmatchIndex(text, -1) {
		if day, ok := ParseHanNumber(text[m[2]:m[3]]); ok {
			found = append(found, marker{pos: m[0], day: day})
		}
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].pos < found[j].pos })
	days := make([]int, 0, len(found))
	for _, f := range found {
		days = append(days, f.day)
	}
	return days
}

func parseEnglishNumber(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, n > 0
	}
	s = strings.ToLower(s)
	if n, ok := englishNumbers[s]; ok {
		return n, true
	}
	tens, ones, ok := strings.Cut(s, "-")
	if !ok {
		return 0, false
	}
	t, ok1 := englishNumbers[tens]
	o, ok2 := englishNumbers[ones]
	if !ok1 || !ok2 || t < 20 || o > 9 {
		return 0, false
	}
	return t + o, true
}

// ParseHanNumber parses Arabic digits or Han numerals up to the hundreds.
func ParseHanNumber(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, n > 0
	}

	total, cur := 0, 0
	for _, r := range s {
		switch r {
		case '百':
			if cur == 0 {
				cur = 1
			}
			total += cur * 100
			cur = 0
		case '十':
			if cur == 0 {
				cur = 1
			}
			total += cur * 10
			cur = 0
		default:
			d, ok := hanDigits[r]
			if !ok {
				return 0, false
			}
			cur = d
		}
	}
	total += cur
	return total, total > 0
}

func checkTimeline(in Input, _ []string) []types.ConsistencyIssue {
	days := DayMarkers(in.Draft)
	if len(days) == 0 {
		return nil
	}

	var issues []types.ConsistencyIssue
	if in.LastDay > 0 && days[0] < in.LastDay {
		gap := in.LastDay - days[0]
		severity := types.SeverityWarning
		if gap > MaxMinorRegression {
			severity = types.SeverityCritical
		}
		issues = append(issues, types.ConsistencyIssue{
			Category:    types.CategoryTimeline,
			Severity:    severity,
			Chapter:     in.Chapter,
			Description: fmt.Sprintf("chapter opens on day %d but the story already reached day %d", days[0], in.LastDay),
			Suggestion:  "mark the scene as a flashback or move the day marker forward",
		})
	}

	for i := 1; i < len(days); i++ {
		if days[i] < days[i-1] {
			issues = append(issues, types.ConsistencyIssue{
				Category:    types.CategoryTimeline,
				Severity:    types.SeverityWarning,
				Chapter:     in.Chapter,
				Description: fmt.Sprintf("day markers go backwards within the chapter (day %d after day %d)", days[i], days[i-1]),
				Suggestion:  "check the order of scenes or signal the time jump",
			})
			break
		}
	}
	return issues
}
