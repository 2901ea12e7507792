// Package trust implements the reference trust model: Beta-distributed
// trust state per target, pseudo-measurement updates from cross-agent
// track consistency, and time-based decay toward the prior.
package trust

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cpsl-research/trust-ros/internal/fusion"
)

// Updater defaults.
const (
	DefaultPriorAlpha   = 1.0
	DefaultPriorBeta    = 1.0
	DefaultTimeConstant = 30 * time.Second
)

// BetaParams are the parameters of one target's trust distribution.
type BetaParams struct {
	Alpha float64
	Beta  float64
}

// Mean returns the expected trust value.
func (p BetaParams) Mean() float64 {
	return distuv.Beta{Alpha: p.Alpha, Beta: p.Beta}.Mean()
}

// Variance returns the spread of the trust distribution.
func (p BetaParams) Variance() float64 {
	return distuv.Beta{Alpha: p.Alpha, Beta: p.Beta}.Variance()
}

// UpdaterConfig tunes a TrustUpdater. Zero values select defaults.
type UpdaterConfig struct {
	// PriorAlpha and PriorBeta parameterise the prior every target starts
	// from and decays back toward. The defaults give the uniform prior.
	PriorAlpha float64
	PriorBeta  float64

	// TimeConstant controls decay: over one time constant without
	// evidence, a target's parameters move a factor 1/e of the way back
	// to the prior.
	TimeConstant time.Duration
}

type targetState struct {
	params BetaParams
}

// TrustUpdater holds Beta trust state for a set of targets and applies
// propagation and pseudo-measurement updates. It is not safe for
// concurrent use; the orchestrator's single-flight discipline serialises
// all calls.
type TrustUpdater struct {
	prior BetaParams
	tau   time.Duration

	targets    map[string]*targetState
	lastUpdate time.Time
}

// NewTrustUpdater creates an updater with the given config.
func NewTrustUpdater(cfg UpdaterConfig) *TrustUpdater {
	if cfg.PriorAlpha <= 0 {
		cfg.PriorAlpha = DefaultPriorAlpha
	}
	if cfg.PriorBeta <= 0 {
		cfg.PriorBeta = DefaultPriorBeta
	}
	if cfg.TimeConstant <= 0 {
		cfg.TimeConstant = DefaultTimeConstant
	}
	return &TrustUpdater{
		prior:   BetaParams{Alpha: cfg.PriorAlpha, Beta: cfg.PriorBeta},
		tau:     cfg.TimeConstant,
		targets: make(map[string]*targetState),
	}
}

// Reset discards all target state.
func (u *TrustUpdater) Reset() {
	u.targets = make(map[string]*targetState)
	u.lastUpdate = time.Time{}
}

// Ensure creates a target at the prior if it does not exist yet.
func (u *TrustUpdater) Ensure(targetID string) {
	if _, ok := u.targets[targetID]; !ok {
		u.targets[targetID] = &targetState{params: u.prior}
	}
}

// Prune removes every target not in keep.
func (u *TrustUpdater) Prune(keep map[string]bool) int {
	removed := 0
	for id := range u.targets {
		if !keep[id] {
			delete(u.targets, id)
			removed++
		}
	}
	return removed
}

// Propagate decays every target's parameters toward the prior according
// to the time elapsed since the previous propagation. The first call only
// establishes the reference time. Calls with t at or before the reference
// time are no-ops; rejecting regressions is the scheduler's job.
func (u *TrustUpdater) Propagate(t time.Time) {
	if u.lastUpdate.IsZero() {
		u.lastUpdate = t
		return
	}
	dt := t.Sub(u.lastUpdate)
	if dt <= 0 {
		return
	}
	u.lastUpdate = t

	// Exponential decay toward the prior: after one time constant the
	// accumulated evidence has shrunk by a factor of e.
	w := math.Exp(-dt.Seconds() / u.tau.Seconds())
	for _, st := range u.targets {
		st.params.Alpha = u.prior.Alpha + (st.params.Alpha-u.prior.Alpha)*w
		st.params.Beta = u.prior.Beta + (st.params.Beta-u.prior.Beta)*w
	}
}

// ApplyPsm folds one pseudo-measurement into its target's distribution.
// The target is created at the prior if needed. A supporting observation
// (value near 1) raises alpha; a refuting one (value near 0) raises beta,
// both scaled by confidence.
func (u *TrustUpdater) ApplyPsm(p fusion.Psm) {
	u.Ensure(p.TargetID)
	st := u.targets[p.TargetID]
	st.params.Alpha += p.Value * p.Confidence
	st.params.Beta += (1 - p.Value) * p.Confidence
}

// Mean returns the expected trust for a target, or the prior mean for an
// unknown target.
func (u *TrustUpdater) Mean(targetID string) float64 {
	if st, ok := u.targets[targetID]; ok {
		return st.params.Mean()
	}
	return u.prior.Mean()
}

// Len returns the number of tracked targets.
func (u *TrustUpdater) Len() int {
	return len(u.targets)
}

// Snapshot returns the current estimates for all targets, sorted by
// target ID for deterministic output.
func (u *TrustUpdater) Snapshot() []fusion.TrustEstimate {
	out := make([]fusion.TrustEstimate, 0, len(u.targets))
	for id, st := range u.targets {
		out = append(out, fusion.TrustEstimate{
			TargetID: id,
			Alpha:    st.params.Alpha,
			Beta:     st.params.Beta,
			Mean:     st.params.Mean(),
			Variance: st.params.Variance(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out
}
