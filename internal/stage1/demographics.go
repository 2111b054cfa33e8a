package stage1

import (
	"regexp"
	"strconv"
	"strings"
)

// Demographics holds patient attributes recovered from the encounter text.
// Age carries a comparison operator so phrases like "unter 16 Jahre" keep
// their meaning during rule checks.
type Demographics struct {
	Age         *int
	AgeOperator string
	Gender      string
	Laterality  string
}

var (
	symbolicAgePattern = regexp.MustCompile(`(?i)(<=|>=|<|>|=)\s*(\d{1,3})\s*(?:jahre|jahren|ans|anni|years?)?`)
	// A leading \b would fail before "über": RE2 word boundaries are
	// ASCII-only. Anchor on start-of-text or a separator instead.
	wordAgePattern = regexp.MustCompile(`(?i)(?:^|[\s,;:(])(unter|bis|ab|über|ueber|moins de|plus de|meno di|più di|piu di)\s+(\d{1,3})\s*(?:jahre|jahren|ans|anni|years?)?`)
	plainAgePattern    = regexp.MustCompile(`(?i)\b(\d{1,3})\s*(?:-\s*)?(?:jährig|jaehrig|jährige[rn]?|jaehrige[rn]?|jahre|jahren|ans|anni|years?\s+old)\b`)
)

var ageOperators = map[string]string{
	"unter":    "<",
	"bis":      "<=",
	"ab":       ">=",
	"über":     ">",
	"ueber":    ">",
	"moins de": "<",
	"plus de":  ">",
	"meno di":  "<",
	"più di":   ">",
	"piu di":   ">",
}

// Gender keywords across the supported languages plus English, matched on
// word boundaries. Values are the canonical German forms used by the
// catalogue condition tables.
var genderKeywords = []struct {
	word   string
	gender string
}{
	{"weiblich", "weiblich"},
	{"frau", "weiblich"},
	{"mädchen", "weiblich"},
	{"maedchen", "weiblich"},
	{"patientin", "weiblich"},
	{"femme", "weiblich"},
	{"fille", "weiblich"},
	{"féminin", "weiblich"},
	{"feminin", "weiblich"},
	{"donna", "weiblich"},
	{"bambina", "weiblich"},
	{"ragazza", "weiblich"},
	{"femminile", "weiblich"},
	{"female", "weiblich"},
	{"woman", "weiblich"},
	{"girl", "weiblich"},
	{"männlich", "männlich"},
	{"maennlich", "männlich"},
	{"mann", "männlich"},
	{"knabe", "männlich"},
	{"junge", "männlich"},
	{"homme", "männlich"},
	{"garçon", "männlich"},
	{"garcon", "männlich"},
	{"masculin", "männlich"},
	{"uomo", "männlich"},
	{"bambino", "männlich"},
	{"ragazzo", "männlich"},
	{"maschile", "männlich"},
	{"boy", "männlich"},
}

var genderPatterns = buildGenderPatterns()

func buildGenderPatterns() []struct {
	re     *regexp.Regexp
	gender string
} {
	out := make([]struct {
		re     *regexp.Regexp
		gender string
	}, 0, len(genderKeywords))
	for _, kw := range genderKeywords {
		out = append(out, struct {
			re     *regexp.Regexp
			gender string
		}{regexp.MustCompile(`(?i)\b` + kw.word + `\b`), kw.gender})
	}
	return out
}

var lateralityKeywords = []struct {
	word string
	side string
}{
	{"beidseits", "beidseits"},
	{"beidseitig", "beidseits"},
	{"bilatéral", "beidseits"},
	{"bilateral", "beidseits"},
	{"bilaterale", "beidseits"},
	{"links", "links"},
	{"gauche", "links"},
	{"sinistra", "links"},
	{"rechts", "rechts"},
	{"droite", "rechts"},
	{"destra", "rechts"},
}

// ExtractDemographics scans the encounter text for age, gender and
// laterality hints. Missing attributes are left zero.
func ExtractDemographics(text string) Demographics {
	var d Demographics

	if m := wordAgePattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[2]); err == nil {
			d.Age = &v
			d.AgeOperator = ageOperators[strings.ToLower(m[1])]
		}
	} else if m := symbolicAgePattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[2]); err == nil {
			d.Age = &v
			d.AgeOperator = m[1]
		}
	} else if m := plainAgePattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			d.Age = &v
			d.AgeOperator = "="
		}
	}

	for _, gp := range genderPatterns {
		if gp.re.MatchString(text) {
			d.Gender = gp.gender
			break
		}
	}

	lower := strings.ToLower(text)
	for _, lk := range lateralityKeywords {
		if strings.Contains(lower, lk.word) {
			d.Laterality = lk.side
			break
		}
	}

	return d
}
