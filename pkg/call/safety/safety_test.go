package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize_ReplacesForbiddenWords(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lower", "well damn that is good", "well darn that is good"},
		{"title case", "Damn, you called!", "Darn, you called!"},
		{"upper", "OH SHIT", "OH SHOOT"},
		{"punctuation kept", "(ass)", "(butt)"},
		{"every occurrence", "damn damn damn", "darn darn darn"},
		{"substring untouched", "classic assets bass", "classic assets bass"},
		{"whitespace preserved", "hi  there\tdamn\n", "hi  there\tdarn\n"},
		{"empty", "", ""},
		{"multiword replacement", "dammit Jared", "dang it Jared"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	inputs := []string{
		"Damn it, the damn remote is haunted",
		"Oh hell no, SHIT, that's crap",
		"Broham, what it be?!",
		"",
		"   ",
	}
	for _, in := range inputs {
		once := Sanitize(in)
		assert.Equal(t, once, Sanitize(once), "input %q", in)
	}
}

func TestSanitize_LeavesCleanTextUnchanged(t *testing.T) {
	in := "Oh honey! Glad you called. Are you eating ok?"
	assert.Equal(t, in, Sanitize(in))
}

func TestNew_RejectsNonIdempotentMap(t *testing.T) {
	_, err := New(map[string]string{"darn": "damn", "damn": "darn"})
	require.Error(t, err)
}

func TestNew_CustomMap(t *testing.T) {
	f, err := New(map[string]string{"Heck": "gosh"})
	require.NoError(t, err)
	assert.Equal(t, "Gosh, what the gosh", f.Sanitize("Heck, what the heck"))
}

func TestFilter_NilIsPassThrough(t *testing.T) {
	var f *Filter
	assert.Equal(t, "damn", f.Sanitize("damn"))
}
