package orchestrator

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obs(pairs ...any) []EmotionObservation {
	out := make([]EmotionObservation, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, EmotionObservation{Name: pairs[i].(string), Score: pairs[i+1].(float64)})
	}
	return out
}

func scoreOf(t *testing.T, est []EmotionEstimate, name string) float64 {
	t.Helper()
	for _, e := range est {
		if e.Name == name {
			return e.Score
		}
	}
	t.Fatalf("emotion %q not in estimate %v", name, est)
	return 0
}

func TestChunkWeight(t *testing.T) {
	tests := []struct {
		name           string
		chunk, elapsed float64
		want           float64
	}{
		{"clock not started", 9, 0, 1},
		{"clock behind chunk", 9, 4, 1},
		{"steady state", 9, 18, 0.5},
		{"long session", 9, 90, 0.1},
		{"zero chunk", 0, 10, 0},
		{"zero everything", 0, 0, 0},
		{"negative chunk", -3, 10, 0},
		{"nan chunk", math.NaN(), 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChunkWeight(tt.chunk, tt.elapsed)
			assert.False(t, math.IsNaN(got))
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestAggregator_FirstObservationAtZeroElapsed(t *testing.T) {
	a := NewAggregator()
	est := a.Update(obs("Calmness", 0.42), 9, 0)

	require.Len(t, est, 1)
	assert.Equal(t, "Calmness", est[0].Name)
	assert.InDelta(t, 0.42, est[0].Score, 1e-12)
}

func TestAggregator_WeightedMergeWorkedExample(t *testing.T) {
	a := NewAggregator()
	a.seed("happiness", 0.8, 0.6)

	// chunk weight 0.3: 3s of a 10s session
	est := a.Update(obs("happiness", 0.4), 3, 10)

	adjusted := 0.6 / 1.3
	wantWeight := adjusted + 0.3
	wantScore := 0.8*adjusted + 0.4*0.3
	assert.InDelta(t, 0.4615, adjusted, 1e-3)
	assert.InDelta(t, 0.7615, wantWeight, 1e-3)
	assert.InDelta(t, 0.4892, wantScore, 1e-3)
	assert.InDelta(t, 0.6425, scoreOf(t, est, "happiness"), 1e-3)

	st := a.states["happiness"]
	assert.InDelta(t, wantWeight, st.weight, 1e-12)
	assert.InDelta(t, wantScore, st.score, 1e-12)
}

func TestAggregator_ZeroDurationNeverDivides(t *testing.T) {
	a := NewAggregator()
	est := a.Update(obs("Joy", 0.7), 0, 0)

	require.Len(t, est, 1)
	assert.InDelta(t, 0, est[0].Score, 0)
	assert.False(t, math.IsNaN(est[0].Score))

	est = a.Update(obs("Joy", 0.5), 3, 3)
	assert.InDelta(t, 0.5, scoreOf(t, est, "Joy"), 1e-12)
}

func TestAggregator_SortedDescendingWithStableTies(t *testing.T) {
	a := NewAggregator()
	est := a.Update(obs("Tiredness", 0.3, "Calmness", 0.6, "Boredom", 0.3, "Interest", 0.9), 9, 9)

	names := make([]string, len(est))
	for i, e := range est {
		names[i] = e.Name
	}
	assert.Equal(t, []string{"Interest", "Calmness", "Tiredness", "Boredom"}, names)

	for i := 1; i < len(est); i++ {
		assert.GreaterOrEqual(t, est[i-1].Score, est[i].Score)
	}
}

func TestAggregator_LateEmotionJoins(t *testing.T) {
	a := NewAggregator()
	a.Update(obs("Joy", 0.6), 9, 9)
	est := a.Update(obs("Anger", 0.2), 9, 18)

	assert.InDelta(t, 0.6, scoreOf(t, est, "Joy"), 1e-12, "untouched emotions keep their value")
	assert.InDelta(t, 0.2, scoreOf(t, est, "Anger"), 1e-12)
	assert.Equal(t, 2, a.size())
}

func TestAggregator_OrderMatters(t *testing.T) {
	// The recombination scales the prior score by the prior weight, so two
	// updates do not commute. The pipeline applies results in submission
	// order for that reason.
	a1, a2 := NewAggregator(), NewAggregator()
	first := obs("Joy", 0.9)
	second := obs("Joy", 0.2)

	a1.Update(first, 9, 18)
	a1.Update(second, 9, 18)
	a2.Update(second, 9, 18)
	a2.Update(first, 9, 18)

	assert.InDelta(t, 0.3, scoreOf(t, a1.estimates(), "Joy"), 1e-9)
	assert.InDelta(t, 0.58, scoreOf(t, a2.estimates(), "Joy"), 1e-9)
}

func TestAggregator_ConcurrentUpdates(t *testing.T) {
	a := NewAggregator()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Update(obs("Joy", 0.5, "Calmness", 0.25), 9, 18)
		}()
	}
	wg.Wait()

	seq := NewAggregator()
	for i := 0; i < 50; i++ {
		seq.Update(obs("Joy", 0.5, "Calmness", 0.25), 9, 18)
	}

	want, got := seq.estimates(), a.estimates()
	require.Len(t, got, 2)
	for _, e := range want {
		assert.InDelta(t, e.Score, scoreOf(t, got, e.Name), 1e-9)
	}
	assert.False(t, math.IsNaN(got[0].Score))
}
