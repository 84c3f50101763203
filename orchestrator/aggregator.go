package orchestrator

import (
	"math"
	"sort"
	"sync"
)

type emotionState struct {
	score  float64 // cumulative, already weighted
	weight float64
	order  int // first-seen rank, breaks display ties
}

// Aggregator blends successive partial results into one running estimate,
// weighting each result by the share of session time it stands for.
//
// Weights are per emotion and independent; the result is not a probability
// distribution and only approximates the true cumulative mean. Only the
// current per-emotion state is kept, O(1) per emotion.
type Aggregator struct {
	mu     sync.Mutex
	states map[string]*emotionState
}

func NewAggregator() *Aggregator {
	return &Aggregator{states: map[string]*emotionState{}}
}

// ChunkWeight is the fraction of the session a result covers. The session
// clock may lag the chunk's nominal span, hence the clamp; zero or negative
// spans yield 0.
func ChunkWeight(chunkSeconds, elapsedSeconds float64) float64 {
	if !(chunkSeconds > 0) {
		return 0
	}
	total := math.Max(elapsedSeconds, chunkSeconds)
	return chunkSeconds / total
}

// Update merges one partial result and returns the refreshed live estimate.
func (a *Aggregator) Update(obs []EmotionObservation, chunkSeconds, elapsedSeconds float64) []EmotionEstimate {
	w := ChunkWeight(chunkSeconds, elapsedSeconds)

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, o := range obs {
		st, ok := a.states[o.Name]
		if !ok {
			a.states[o.Name] = &emotionState{score: o.Score * w, weight: w, order: len(a.states)}
			continue
		}
		adjusted := st.weight / (1 + w)
		st.weight = adjusted + w
		st.score = st.score*adjusted + o.Score*w
	}
	return a.estimatesLocked()
}

// estimates returns the current live view without mutating state.
func (a *Aggregator) estimates() []EmotionEstimate {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.estimatesLocked()
}

// size is the number of emotions seen so far.
func (a *Aggregator) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.states)
}

func (a *Aggregator) estimatesLocked() []EmotionEstimate {
	type row struct {
		est   EmotionEstimate
		order int
	}
	rows := make([]row, 0, len(a.states))
	for name, st := range a.states {
		display := 0.0
		if st.weight > 0 {
			display = st.score / st.weight
		}
		rows = append(rows, row{est: EmotionEstimate{Name: name, Score: display}, order: st.order})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].est.Score != rows[j].est.Score {
			return rows[i].est.Score > rows[j].est.Score
		}
		return rows[i].order < rows[j].order
	})
	out := make([]EmotionEstimate, len(rows))
	for i, r := range rows {
		out[i] = r.est
	}
	return out
}

// seed installs raw state; tests use it to start from a known point.
func (a *Aggregator) seed(name string, score, weight float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.states[name]; ok {
		st.score, st.weight = score, weight
		return
	}
	a.states[name] = &emotionState{score: score, weight: weight, order: len(a.states)}
}
