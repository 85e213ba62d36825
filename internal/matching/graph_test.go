package matching

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	p1, p2, p3 = 1, 2, 3
	t1, t2, t3 = 11, 12, 13
)

type recorder struct {
	calls []map[int64]int64
}

func (r *recorder) onChange(m map[int64]int64) error {
	r.calls = append(r.calls, m)
	return nil
}

func TestClickScenario(t *testing.T) {
	rec := &recorder{}
	g := New([]int64{p1, p2}, []int64{t1, t2}, rec.onChange)

	click := func(side Side, id int64, want Outcome) {
		t.Helper()
		out, err := g.Click(side, id)
		require.NoError(t, err)
		assert.Equal(t, want, out)
	}

	click(SidePrompt, p1, OutcomeArmed)
	click(SideTarget, t1, OutcomeConnected)
	click(SidePrompt, p2, OutcomeArmed)
	click(SideTarget, t1, OutcomeIgnored)

	armed, ok := g.Armed()
	require.True(t, ok)
	assert.Equal(t, int64(p2), armed)

	click(SideTarget, t2, OutcomeConnected)

	assert.Equal(t, map[int64]int64{p1: t1, p2: t2}, g.Mapping())
	require.Len(t, rec.calls, 2)
	assert.Equal(t, map[int64]int64{p1: t1}, rec.calls[0])
	assert.Equal(t, map[int64]int64{p1: t1, p2: t2}, rec.calls[1])
}

func TestClickingConnectedNodeRemovesEdge(t *testing.T) {
	rec := &recorder{}
	g := New([]int64{p1, p2}, []int64{t1, t2}, rec.onChange)
	require.NoError(t, g.Seed(map[int64]int64{p1: t1, p2: t2}))

	out, err := g.ClickPrompt(p1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRemoved, out)

	out, err = g.ClickTarget(t2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRemoved, out)

	assert.Empty(t, g.Mapping())
	_, armed := g.Armed()
	assert.False(t, armed)
	assert.Len(t, rec.calls, 2)
}

func TestClickingConnectedPromptWhileArmedDisarms(t *testing.T) {
	g := New([]int64{p1, p2}, []int64{t1, t2}, nil)
	require.NoError(t, g.Seed(map[int64]int64{p1: t1}))

	_, _ = g.ClickPrompt(p2)
	out, err := g.ClickPrompt(p1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRemoved, out)

	_, armed := g.Armed()
	assert.False(t, armed)
}

func TestArmingSwitchesAndToggles(t *testing.T) {
	g := New([]int64{p1, p2}, []int64{t1}, nil)

	_, _ = g.ClickPrompt(p1)
	_, _ = g.ClickPrompt(p2)
	armed, _ := g.Armed()
	assert.Equal(t, int64(p2), armed)

	out, _ := g.ClickPrompt(p2)
	assert.Equal(t, OutcomeDisarmed, out)
	_, ok := g.Armed()
	assert.False(t, ok)
}

func TestTargetClickWithNothingArmedIsIgnored(t *testing.T) {
	rec := &recorder{}
	g := New([]int64{p1}, []int64{t1}, rec.onChange)

	out, err := g.ClickTarget(t1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)
	assert.Empty(t, rec.calls)
}

func TestArmingDoesNotNotify(t *testing.T) {
	rec := &recorder{}
	g := New([]int64{p1, p2}, []int64{t1}, rec.onChange)

	_, _ = g.ClickPrompt(p1)
	_, _ = g.ClickPrompt(p2)
	_, _ = g.ClickPrompt(p2)
	assert.Empty(t, rec.calls)
}

func TestUnknownNodes(t *testing.T) {
	g := New([]int64{p1}, []int64{t1}, nil)

	_, err := g.ClickPrompt(t1)
	assert.ErrorIs(t, err, ErrUnknownNode)
	_, err = g.ClickTarget(p1)
	assert.ErrorIs(t, err, ErrUnknownNode)
	assert.ErrorIs(t, g.Seed(map[int64]int64{p1: 99}), ErrUnknownNode)
}

func TestSeedRejectsSharedTarget(t *testing.T) {
	g := New([]int64{p1, p2}, []int64{t1}, nil)
	assert.Error(t, g.Seed(map[int64]int64{p1: t1, p2: t1}))
	assert.Empty(t, g.Mapping())
}

func TestPartnerOf(t *testing.T) {
	g := New([]int64{p1}, []int64{t1}, nil)
	require.NoError(t, g.Seed(map[int64]int64{p1: t1}))

	got, ok := g.PartnerOf(SideTarget, t1)
	require.True(t, ok)
	assert.Equal(t, int64(p1), got)
}

// Random click sequences never put a node in two edges, and the change
// callback always reports exactly the current edge set.
func TestInvariantHoldsAfterEveryClick(t *testing.T) {
	prompts := []int64{p1, p2, p3}
	targets := []int64{t1, t2, t3}
	rng := rand.New(rand.NewPCG(42, 7))

	for run := 0; run < 200; run++ {
		var last map[int64]int64
		g := New(prompts, targets, func(m map[int64]int64) error {
			last = m
			return nil
		})

		for step := 0; step < 40; step++ {
			if rng.IntN(2) == 0 {
				_, err := g.ClickPrompt(prompts[rng.IntN(len(prompts))])
				require.NoError(t, err)
			} else {
				_, err := g.ClickTarget(targets[rng.IntN(len(targets))])
				require.NoError(t, err)
			}

			m := g.Mapping()
			seen := map[int64]bool{}
			for p, tg := range m {
				require.False(t, seen[tg], "target %d used twice in %v", tg, m)
				seen[tg] = true
				if armed, ok := g.Armed(); ok {
					require.NotEqual(t, p, armed, "armed prompt %d is already connected", armed)
				}
			}
			if last != nil {
				require.Equal(t, m, last)
			}
		}
	}
}

func TestRejectedChangeUndoesClick(t *testing.T) {
	errRejected := errors.New("answers locked")
	reject := false
	var calls int
	g := New([]int64{p1, p2}, []int64{t1, t2}, func(map[int64]int64) error {
		calls++
		if reject {
			return errRejected
		}
		return nil
	})
	require.NoError(t, g.Seed(map[int64]int64{p1: t1}))

	reject = true
	_, err := g.ClickPrompt(p2)
	require.NoError(t, err)
	out, err := g.ClickTarget(t2)
	assert.ErrorIs(t, err, errRejected)
	assert.Equal(t, OutcomeIgnored, out)
	assert.Equal(t, map[int64]int64{p1: t1}, g.Mapping())
	_, ok := g.PartnerOf(SideTarget, t2)
	assert.False(t, ok)
	_, armed := g.Armed()
	assert.False(t, armed)

	// Once accepted, the same click reports the full edge set again.
	reject = false
	_, err = g.ClickPrompt(p2)
	require.NoError(t, err)
	out, err = g.ClickTarget(t2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConnected, out)
	assert.Equal(t, map[int64]int64{p1: t1, p2: t2}, g.Mapping())
	assert.Equal(t, 2, calls)
}
