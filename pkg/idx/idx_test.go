package idx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/idx"
	"github.com/stretchr/testify/require"
)

func TestNewAndParse(t *testing.T) {
	id := idx.New()
	require.NotEmpty(t, id.String())

	// Parse a newly generated string
	parsed, err := idx.Parse(id.String())

	// Validate State
	require.NoError(t, err)
	require.Equal(t, id, parsed)
	require.False(t, id.IsZero())
}

func TestOrdering(t *testing.T) {
	a := idx.NewAt(time.Unix(1, 0).UTC())
	b := idx.NewAt(time.Unix(2, 0).UTC())

	// Pin all three outcomes so a sign flip can't sneak in.
	require.Equal(t, -1, idx.Compare(a, b))
	require.Equal(t, 1, idx.Compare(b, a))
	require.Equal(t, 0, idx.Compare(a, a))
}

func TestCreationOrderIsLexicalOrder(t *testing.T) {
	// Session eviction breaks created-at ties by id order, so ids minted
	// later must never sort before ids minted earlier.
	base := time.Unix(1700000000, 0).UTC()

	prev := idx.NewAt(base)
	for i := 1; i <= 50; i++ {
		next := idx.NewAt(base.Add(time.Duration(i) * time.Millisecond))
		require.Equal(t, -1, idx.Compare(prev, next))
		prev = next
	}
}

func TestTimeExtraction(t *testing.T) {
	tm := time.Unix(1700000000, 0).UTC()
	id := idx.NewAt(tm)

	// ULID timestamps are millisecond resolution, so 1ms is as tight as
	// this check can honestly be.
	require.WithinDuration(t, tm, id.Time(), time.Millisecond)
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "   ", "not-a-ulid", "01HQ7T3Z1M"} {
		_, err := idx.Parse(s)
		require.ErrorIs(t, err, idx.ErrInvalid, "input %q", s)
	}
}

func TestMustParse(t *testing.T) {
	// A panic here fails the run on its own, no recover harness required.
	id := idx.MustParse("01HQ7T3Z1MZ0JQ3M6MZQ1FQ3ZV") // any valid ULID
	_ = id
}
