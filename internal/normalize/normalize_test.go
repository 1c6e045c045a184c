package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minyancal/internal/model"
)

func TestTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Mincha   Gedola ", "mincha gedola"},
		{"Shacharis (Hashkama)!", "shacharis hashkama"},
		{"Mincha-Maariv", "mincha-maariv"},
		{"Women's Minyan", "womens minyan"},
		{"MAARIV\t\tLATE", "maariv late"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Title(tt.in), "Title(%q)", tt.in)
	}
}

func TestTitle_Idempotent(t *testing.T) {
	inputs := []string{
		"Mincha/Maariv  @ Main Shul",
		"Selichos — Early!!",
		"  Daf Yomi: Berachos 2a ",
		"Ｆｕｌｌｗｉｄｔｈ Maariv",
	}
	for _, in := range inputs {
		once := Title(in)
		assert.Equal(t, once, Title(once), "Title not idempotent for %q", in)
	}
}

func TestTime(t *testing.T) {
	tests := []struct {
		in   string
		want model.Clock
	}{
		{"7:00 PM", model.Clock{Hour: 19}},
		{"7:00PM", model.Clock{Hour: 19}},
		{"7:05 am", model.Clock{Hour: 7, Minute: 5}},
		{"12:15 AM", model.Clock{Hour: 0, Minute: 15}},
		{"12:15 PM", model.Clock{Hour: 12, Minute: 15}},
		{"19:30", model.Clock{Hour: 19, Minute: 30}},
		{"06:45:00", model.Clock{Hour: 6, Minute: 45}},
		{"7:30:00 PM", model.Clock{Hour: 19, Minute: 30}},
		{"8 PM", model.Clock{Hour: 20}},
		{"7.30pm", model.Clock{Hour: 19, Minute: 30}},
		{"7:30 p.m.", model.Clock{Hour: 19, Minute: 30}},
		{"Starts at 6:50", model.Clock{Hour: 6, Minute: 50}},
	}
	for _, tt := range tests {
		got, ok := Time(tt.in)
		require.True(t, ok, "Time(%q) should parse", tt.in)
		assert.Equal(t, tt.want, got, "Time(%q)", tt.in)
	}
}

func TestTime_Unparsable(t *testing.T) {
	for _, in := range []string{"", "   ", "TBD", "after mincha", "25:99", "13pm"} {
		_, ok := Time(in)
		assert.False(t, ok, "Time(%q) should not parse", in)
	}
}

func TestTimeKey(t *testing.T) {
	assert.Equal(t, "19:00", TimeKey("7:00 pm"))
	assert.Equal(t, "", TimeKey("sometime"))
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint("12", "2026-10-16", "Mincha", "7:00 PM")
	b := Fingerprint("12", "2026-10-16", "Mincha", "7:00 PM")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprint_AbsorbsCosmeticTitleDifferences(t *testing.T) {
	base := Fingerprint("12", "2026-10-16", "Mincha / Maariv", "7:00 PM")
	for _, title := range []string{
		"mincha / maariv",
		"  Mincha   /   Maariv ",
		"MINCHA / MAARIV!",
		"Mincha, Maariv",
	} {
		assert.Equal(t, base, Fingerprint("12", "2026-10-16", title, "7:00 PM"), "title %q", title)
	}
}

func TestFingerprint_DistinguishesInputs(t *testing.T) {
	base := Fingerprint("12", "2026-10-16", "Mincha", "7:00 PM")
	assert.NotEqual(t, base, Fingerprint("13", "2026-10-16", "Mincha", "7:00 PM"))
	assert.NotEqual(t, base, Fingerprint("12", "2026-10-17", "Mincha", "7:00 PM"))
	assert.NotEqual(t, base, Fingerprint("12", "2026-10-16", "Maariv", "7:00 PM"))
	assert.NotEqual(t, base, Fingerprint("12", "2026-10-16", "Mincha", "19:00"))
}
