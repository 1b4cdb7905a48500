package entry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	e := Entry{Text: "use connection pooling"}
	e.Normalize()

	assert.Equal(t, KindLesson, e.Kind)
	assert.Equal(t, PriorityMedium, e.Priority)
	assert.Nil(t, e.Tags)
}

func TestNormalizeDedupesAndSortsTags(t *testing.T) {
	e := Entry{
		Text: "x",
		Tags: []string{"db", "perf", "db", "", "api"},
	}
	e.Normalize()

	assert.Equal(t, []string{"api", "db", "perf"}, e.Tags)
}

func TestValidate(t *testing.T) {
	hint := func(v float64) *float64 { return &v }

	tests := []struct {
		name    string
		entry   Entry
		wantErr error
	}{
		{
			name:  "valid entry",
			entry: Entry{Text: "ok", Kind: KindFinding, Priority: PriorityHigh},
		},
		{
			name:    "empty text",
			entry:   Entry{Kind: KindLesson, Priority: PriorityLow},
			wantErr: ErrEmptyText,
		},
		{
			name:    "oversized text",
			entry:   Entry{Text: strings.Repeat("a", MaxTextLen+1), Kind: KindLesson, Priority: PriorityLow},
			wantErr: ErrTextTooLong,
		},
		{
			name:    "unknown kind",
			entry:   Entry{Text: "x", Kind: "rumor", Priority: PriorityLow},
			wantErr: ErrInvalidKind,
		},
		{
			name:    "unknown priority",
			entry:   Entry{Text: "x", Kind: KindLesson, Priority: "urgent"},
			wantErr: ErrInvalidPriority,
		},
		{
			name:    "score hint out of range",
			entry:   Entry{Text: "x", Kind: KindLesson, Priority: PriorityLow, ScoreHint: hint(1.5)},
			wantErr: ErrInvalidScore,
		},
		{
			name:  "score hint in range",
			entry: Entry{Text: "x", Kind: KindLesson, Priority: PriorityLow, ScoreHint: hint(0.7)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestKindValid(t *testing.T) {
	for _, k := range Kinds() {
		assert.True(t, k.Valid(), string(k))
	}
	assert.False(t, Kind("").Valid())
	assert.False(t, Kind("note").Valid())
}
