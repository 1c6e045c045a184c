// Package classify decides whether a scraped calendar entry is a prayer
// service and, if so, which kind.
//
// Rules are evaluated in table order and the first match wins:
//
//	rite marker before noon > sunrise minyan > combined mincha/maariv >
//	deny list > selichos > shacharis > mincha > maariv > megillah > reject
package classify

import (
	"regexp"
	"strings"
	"time"

	appLog "minyancal/internal/log"
	"minyancal/internal/model"
	"minyancal/internal/zmanim"
)

// ReasonNoMatch is the reason given for entries no rule recognized.
const ReasonNoMatch = "no pattern matched"

// Input is one raw calendar entry to classify.
type Input struct {
	Title       string
	Type        string
	Description string
	Date        time.Time
	// Start is the entry's start time, if known.
	Start *model.Clock
}

// Verdict is the classification outcome. Type is model.NonService for
// rejected entries.
type Verdict struct {
	Type   model.ServiceType
	Rule   string
	Reason string
	Note   string
}

// IsService reports whether the entry was accepted.
func (v Verdict) IsService() bool {
	return v.Type.IsService()
}

// subject carries the prepared haystacks through the rule table.
type subject struct {
	in       Input
	title    string
	haystack string
}

type rule struct {
	name    string
	verdict model.ServiceType
	// match returns the matched term and a reason.
	match func(s *subject) (term, reason string, ok bool)
	// note builds the display note; nil means no base note.
	note func(c *Classifier, s *subject, term string) string
}

// Classifier applies the rule table. Zmanim may be nil, in which case
// sunrise and sunset notes omit the time.
type Classifier struct {
	zmanim zmanim.Lookup
	rules  []rule
}

// New returns a Classifier using lookup for sunrise/sunset notes.
func New(lookup zmanim.Lookup) *Classifier {
	return &Classifier{zmanim: lookup, rules: defaultRules()}
}

// riteMarker matches an upper-case abbreviation exactly or a spelled-out
// rite name in any case.
func riteMarker(abbrev, spelled string) *regexp.Regexp {
	pattern := `(?i:\b(?:` + spelled + `)\b)`
	if abbrev != "" {
		pattern = `\b` + abbrev + `\b|` + pattern
	}
	return regexp.MustCompile(pattern)
}

// riteOnly reports whether title says nothing beyond the marker, qualifiers
// and filler, as in "NS Minyan" or "Nusach Sefard - Early 6:45".
func riteOnly(title string, marker *regexp.Regexp) bool {
	rest := marker.ReplaceAllString(title, " ")
	for _, q := range qualifiers {
		rest = q.re.ReplaceAllString(rest, " ")
	}
	return strings.TrimSpace(riteFiller.ReplaceAllString(rest, " ")) == ""
}

func words(pattern string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(?:` + pattern + `)\b`)
}

const (
	minchaWords = `min(?:cha|chah|ha)`
	maarivWords = `ma'?a?riv|marriv|arvit|arvis`
)

var (
	riteMarkers = []struct {
		re   *regexp.Regexp
		rite string
	}{
		{riteMarker(`NS`, `nusach\s+(?:sefard|sfard|sephard)`), "Sefard"},
		{riteMarker(`NA`, `nusach\s+ashkenaz`), "Ashkenaz"},
		{riteMarker(``, `nusach\s+(?:ha)?ari`), "Ari"},
		{riteMarker(`EM`, `(?:nusach\s+)?(?:edot|eidot)\s+ha-?mizrach`), "Edot HaMizrach"},
	}

	// riteFiller is what a rite-marked title may contain besides the marker
	// and qualifiers: generic minyan words, clock times and punctuation.
	riteFiller = regexp.MustCompile(`(?i)\b(?:minyan(?:im)?|davening|services?|tefill?ah?|tefilos|and|with)\b|\d{1,2}(?:[:.]\d{2})?\s*(?:[ap]\.?m\.?)?|[^\p{L}\d]+`)

	sunriseWords = words(`vasikin|vatikin|vasikin minyan|netz|hanetz|haneitz|neitz|sunrise minyan`)

	combinedPattern = regexp.MustCompile(`(?i)\b(?:` + minchaWords + `)(?:\s*(?:[/&+,\-–—]|\band\b)\s*|\s+)(?:` + maarivWords + `)\b`)

	denyWords = words(`shiur|shiurim|daf yomi|daf|class|classes|lecture|learning|kollel|chabura|chaburah|drasha|kiddush|seudah|seudas|dinner|lunch|breakfast|social|party|candle lighting|candles|havdalah|program|talk`)

	allowLists = []struct {
		name    string
		verdict model.ServiceType
		re      *regexp.Regexp
	}{
		{"selichos", model.Selichos, words(`s'?e?lich(?:os|ot|a|ah)`)},
		{"shacharis", model.Shacharis, words(`shacharis|shacharit|shacharith|shachris|shachrit|hashkama|hashkamah|morning minyan|morning services?`)},
		{"mincha", model.Mincha, words(minchaWords + `|afternoon services?`)},
		{"maariv", model.Maariv, words(maarivWords + `|kabbalat shabbat|kabbalas shabbos|kabolas shabbos|evening services?`)},
		{"megillah", model.Megillah, words(`megill?ah?|megila`)},
	}

	qualifiers = []struct {
		re    *regexp.Regexp
		label string
	}{
		{words(`women'?s minyan|womens minyan`), "Women's Minyan"},
		{words(`youth minyan`), "Youth Minyan"},
		{words(`main minyan`), "Main Minyan"},
		{words(`teens?`), "Teen"},
		{words(`early`), "Early"},
		{words(`late`), "Late"},
		{words(`youth`), "Youth"},
		{words(`hashkamah?`), "Hashkama"},
		{words(`outdoors?`), "Outdoor"},
		{words(`zoom`), "Zoom"},
		{words(`fast`), "Fast"},
	}
)

func defaultRules() []rule {
	rules := []rule{
		{
			name:    "rite-marker",
			verdict: model.Shacharis,
			match: func(s *subject) (string, string, bool) {
				if s.in.Start == nil || s.in.Start.Hour >= 12 {
					return "", "", false
				}
				for _, m := range riteMarkers {
					if m.re.MatchString(s.title) && riteOnly(s.title, m.re) {
						return m.rite, "rite marker " + m.rite + " before noon", true
					}
				}
				return "", "", false
			},
			note: func(_ *Classifier, _ *subject, rite string) string {
				return "Nusach " + rite
			},
		},
		{
			name:    "sunrise",
			verdict: model.Shacharis,
			match:   keyword(sunriseWords, "sunrise keyword"),
			note: func(c *Classifier, s *subject, _ string) string {
				return c.solarNote("Sunrise", model.Sunrise, s.in.Date)
			},
		},
		{
			name:    "combined",
			verdict: model.MinchaMaariv,
			match:   keyword(combinedPattern, "combined mincha/maariv pattern"),
			note: func(c *Classifier, s *subject, _ string) string {
				return c.solarNote("Sunset", model.Sunset, s.in.Date)
			},
		},
		{
			name:    "deny",
			verdict: model.NonService,
			match:   keyword(denyWords, "deny-listed:"),
		},
	}
	for _, al := range allowLists {
		rules = append(rules, rule{
			name:    al.name,
			verdict: al.verdict,
			match:   keyword(al.re, al.name+" keyword"),
		})
	}
	return rules
}

// keyword builds a matcher whose reason is prefix followed by the matched text.
func keyword(re *regexp.Regexp, prefix string) func(s *subject) (string, string, bool) {
	return func(s *subject) (string, string, bool) {
		m := re.FindString(s.haystack)
		if m == "" {
			return "", "", false
		}
		term := strings.ToLower(m)
		return term, prefix + " " + term, true
	}
}

// Classify runs the rule table over in.
func (c *Classifier) Classify(in Input) Verdict {
	s := &subject{in: in, title: strings.TrimSpace(in.Title)}
	joined := strings.Join(strings.Fields(in.Title+" "+in.Type+" "+in.Description), " ")

	// The title alone decides when it can; type and description only
	// break the tie for titles that match nothing.
	for _, haystack := range []string{s.title, joined} {
		if haystack == "" {
			continue
		}
		s.haystack = haystack
		for _, r := range c.rules {
			term, reason, ok := r.match(s)
			if !ok {
				continue
			}
			v := Verdict{Type: r.verdict, Rule: r.name, Reason: reason}
			if r.note != nil {
				v.Note = r.note(c, s, term)
			}
			v.Note = withQualifiers(v.Note, s.title)
			return v
		}
	}

	return Verdict{
		Type:   model.NonService,
		Rule:   "default",
		Reason: ReasonNoMatch,
		Note:   withQualifiers("", s.title),
	}
}

func (c *Classifier) solarNote(label string, z model.Zman, date time.Time) string {
	if c.zmanim == nil || date.IsZero() {
		return label
	}
	times, err := c.zmanim.Times(date)
	if err != nil {
		appLog.Debug("classify: solar lookup failed", "date", date.Format(model.DateLayout), "err", err)
		return label
	}
	at, ok := times.Get(z)
	if !ok {
		return label
	}
	return label + " " + at.Format("3:04 PM")
}

// Qualifiers extracts descriptive tokens such as "Early" or "Women's Minyan"
// from a title. Multi-word phrases consume their words.
func Qualifiers(title string) []string {
	rest := title
	var out []string
	for _, q := range qualifiers {
		if loc := q.re.FindStringIndex(rest); loc != nil {
			out = append(out, q.label)
			rest = rest[:loc[0]] + " " + rest[loc[1]:]
		}
	}
	return out
}

func withQualifiers(note, title string) string {
	q := Qualifiers(title)
	if len(q) == 0 {
		return note
	}
	joined := strings.Join(q, ", ")
	if note == "" {
		return joined
	}
	return note + "; " + joined
}
