// Package strategy trades generation cost against required quality under a
// session budget. The cost ledger is an explicit value threaded through
// every call, never package state, so concurrent works cannot corrupt it.
package strategy

import (
	"fmt"
	"log/slog"
	"sync"

	serrors "github.com/vampirenirmal/serialist/pkg/serial/errors"
)

// AlertTier restricts which strategies remain selectable as the budget burns.
type AlertTier string

const (
	TierNormal    AlertTier = "normal"
	TierWarning   AlertTier = "warning"
	TierCritical  AlertTier = "critical"
	TierEmergency AlertTier = "emergency"
)

// Tier utilization boundaries.
const (
	warningUtilization   = 0.70
	criticalUtilization  = 0.90
	emergencyUtilization = 0.97
)

// Ledger is the session cost record. It is a value: Charge returns a new
// ledger, callers thread it forward.
type Ledger struct {
	Budget float64 `json:"budget"`
	Spent  float64 `json:"spent"`
}

func NewLedger(budget float64) Ledger {
	return Ledger{Budget: budget}
}

func (l Ledger) Remaining() float64 {
	if l.Spent >= l.Budget {
		return 0
	}
	return l.Budget - l.Spent
}

func (l Ledger) Utilization() float64 {
	if l.Budget <= 0 {
		return 1
	}
	return l.Spent / l.Budget
}

func (l Ledger) Tier() AlertTier {
	u := l.Utilization()
	switch {
	case u >= emergencyUtilization:
		return TierEmergency
	case u >= criticalUtilization:
		return TierCritical
	case u >= warningUtilization:
		return TierWarning
	default:
		return TierNormal
	}
}

// Charge records an observed cost and returns the updated ledger.
func (l Ledger) Charge(cost float64) Ledger {
	l.Spent += cost
	return l
}

// Strategy is one named effort tier: a cost envelope plus the minimum
// quality it is expected to deliver.
type Strategy struct {
	Name          string
	MaxTokens     int
	EstimatedCost float64
	QualityFloor  float64
	Temperature   float64
}

// The ordered strategy set, cheapest first.
const (
	StrategyEfficiency     = "efficiency"
	StrategyBalanced       = "balanced"
	StrategyHighInvestment = "high_investment"
	StrategyEmergency      = "emergency"
)

func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: StrategyEfficiency, MaxTokens: 2500, EstimatedCost: 1.0, QualityFloor: 7.0, Temperature: 0.7},
		{Name: StrategyBalanced, MaxTokens: 4000, EstimatedCost: 2.0, QualityFloor: 7.5, Temperature: 0.8},
		{Name: StrategyHighInvestment, MaxTokens: 6500, EstimatedCost: 4.0, QualityFloor: 8.0, Temperature: 0.9},
		{Name: StrategyEmergency, MaxTokens: 8000, EstimatedCost: 6.0, QualityFloor: 8.5, Temperature: 0.9},
	}
}

// Signals drive the selection: all in [0,1].
type Signals struct {
	DropoutRisk    float64
	PlotImportance float64
	Urgency        float64
}

// Selector picks an effort tier under the ledger's alert tier. Observed
// outcomes feed an exponentially-weighted quality-per-cost estimate that
// biases future picks.
type Selector struct {
	strategies []Strategy
	logger     *slog.Logger

	mu         sync.Mutex
	efficiency map[string]float64 // EWMA of quality per cost unit
}

const ewmaAlpha = 0.3

func NewSelector(strategies []Strategy, logger *slog.Logger) *Selector {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Selector{
		strategies: strategies,
		logger:     logger.With("component", "strategy_selector"),
		efficiency: make(map[string]float64),
	}
}

// Select returns the strategy for the next generation attempt. It fails with
// ErrBudgetExhausted when not even the cheapest strategy is affordable.
func (s *Selector) Select(signals Signals, ledger Ledger) (Strategy, error) {
	candidates := s.candidates(signals, ledger)
	if len(candidates) == 0 {
		return Strategy{}, fmt.Errorf("%w: %.2f of %.2f spent, no affordable strategy",
			serrors.ErrBudgetExhausted, ledger.Spent, ledger.Budget)
	}

	best := candidates[0]
	bestScore := s.fitScore(best, signals)
	for _, c := range candidates[1:] {
		if score := s.fitScore(c, signals); score > bestScore {
			best, bestScore = c, score
		}
	}

	s.logger.Info("selected strategy",
		"strategy", best.Name,
		"tier", ledger.Tier(),
		"utilization", fmt.Sprintf("%.0f%%", ledger.Utilization()*100),
		"dropout_risk", signals.DropoutRisk,
		"plot_importance", signals.PlotImportance)
	return best, nil
}

// candidates applies the tier restrictions and the emergency gate.
func (s *Selector) candidates(signals Signals, ledger Ledger) []Strategy {
	tier := ledger.Tier()
	maxCost := maxEstimatedCost(s.strategies)

	var out []Strategy
	for _, st := range s.strategies {
		if st.EstimatedCost > ledger.Remaining() {
			continue
		}
		// Emergency effort is reserved for genuine dropout risk.
		if st.Name == StrategyEmergency && signals.DropoutRisk < 0.7 {
			continue
		}
		switch tier {
		case TierWarning:
			if st.Name == StrategyEmergency && signals.DropoutRisk < 0.9 {
				continue
			}
		case TierCritical:
			// The highest-cost tiers are off the table past critical.
			if st.EstimatedCost >= maxCost || st.Name == StrategyHighInvestment {
				continue
			}
		case TierEmergency:
			// Only the cheapest strategy survives at the ceiling.
			if st.Name != cheapest(s.strategies).Name {
				continue
			}
		}
		out = append(out, st)
	}
	return out
}

// fitScore ranks a candidate for the given signals. Higher investment wins
// when the chapter matters; the efficiency EWMA nudges toward tiers that
// have historically delivered quality per cost unit.
func (s *Selector) fitScore(st Strategy, signals Signals) float64 {
	need := 0.5*signals.PlotImportance + 0.3*signals.DropoutRisk + 0.2*signals.Urgency
	investment := st.EstimatedCost / 6.0

	// Penalize mismatch in both directions: overspending on filler is as
	// wrong as starving a pivotal chapter.
	fit := 1.0 - abs(need-investment)

	s.mu.Lock()
	ewma, ok := s.efficiency[st.Name]
	s.mu.Unlock()
	if ok {
		fit += 0.1 * ewma
	}
	return fit
}

// Observe feeds an actual outcome back: the charged ledger is returned and
// the strategy's quality-per-cost EWMA is updated.
func (s *Selector) Observe(ledger Ledger, st Strategy, actualCost, achievedQuality float64) Ledger {
	if actualCost > 0 {
		perCost := achievedQuality / actualCost
		s.mu.Lock()
		if prev, ok := s.efficiency[st.Name]; ok {
			s.efficiency[st.Name] = ewmaAlpha*perCost + (1-ewmaAlpha)*prev
		} else {
			s.efficiency[st.Name] = perCost
		}
		s.mu.Unlock()
	}

	charged := ledger.Charge(actualCost)
	s.logger.Debug("recorded strategy outcome",
		"strategy", st.Name,
		"cost", actualCost,
		"quality", achievedQuality,
		"spent", charged.Spent,
		"tier", charged.Tier())
	return charged
}

func maxEstimatedCost(strategies []Strategy) float64 {
	max := 0.0
	for _, st := range strategies {
		if st.EstimatedCost > max {
			max = st.EstimatedCost
		}
	}
	return max
}

func cheapest(strategies []Strategy) Strategy {
	best := strategies[0]
	for _, st := range strategies[1:] {
		if st.EstimatedCost < best.EstimatedCost {
			best = st
		}
	}
	return best
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
