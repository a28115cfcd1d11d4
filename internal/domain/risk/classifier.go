package risk

import (
	"math"
	"strconv"

	"github.com/google/uuid"

	"github.com/labreview/labreview/pkg/labmodels"
)

// DefaultRapidChangeThreshold is the relative change at which an in-range
// value moving toward a bound is escalated.
const DefaultRapidChangeThreshold = 0.25

// minTrendPoints is the history needed before a worsening trend escalates
// an out-of-range value to high.
const minTrendPoints = 3

var flagNamespace = uuid.MustParse("0b7d5c9a-2f4e-4c1b-8a63-9e1d7f3a5b20")

// Rationale templates. They never embed input text.
const (
	RationaleCritical         = "The reading was marked as critical when it was extracted and needs clinician review."
	RationaleWorseningTrend   = "The value is outside its reference range and has moved further away from it over recent readings."
	RationaleOutOfRange       = "The value is outside its reference range."
	RationaleRapidChange      = "The value is within its reference range but is changing quickly toward a range limit."
	RationaleNoConcern        = "The value is within its reference range with no concerning trend."
	RationaleInsufficientData = "There is not enough information to compare this value with a reference range."
)

// Input is everything the classifier looks at for one parameter.
type Input struct {
	Parameter *labmodels.NormalizedParameter
	Critical  bool
	Mismatch  labmodels.Mismatch
	// Trend is nil when there was not enough history.
	Trend *labmodels.Trend
}

type rule struct {
	id    int
	level labmodels.RiskLevel
	match func(c *Classifier, in Input) bool
}

// rules are evaluated in order; the first match wins. The last rule always
// matches.
var rules = []rule{
	{1, labmodels.RiskCritical, func(_ *Classifier, in Input) bool {
		return in.Critical
	}},
	{2, labmodels.RiskHigh, func(_ *Classifier, in Input) bool {
		return in.Mismatch.Status.OutOfRange() && movingAway(in) && len(in.Trend.DataPoints) >= minTrendPoints
	}},
	{3, labmodels.RiskModerate, func(_ *Classifier, in Input) bool {
		return in.Mismatch.Status.OutOfRange()
	}},
	{4, labmodels.RiskModerate, func(c *Classifier, in Input) bool {
		return in.Mismatch.Status == labmodels.MismatchInRange && movingToward(in) &&
			math.Abs(in.Trend.RelativeChange) >= c.rapidChange
	}},
	{5, labmodels.RiskLow, func(*Classifier, Input) bool { return true }},
}

// Classifier applies the risk rule table.
type Classifier struct {
	rapidChange float64
}

func NewClassifier(rapidChangeThreshold float64) *Classifier {
	if rapidChangeThreshold <= 0 {
		rapidChangeThreshold = DefaultRapidChangeThreshold
	}
	return &Classifier{rapidChange: rapidChangeThreshold}
}

// Classify returns the RiskFlag for in. High and critical flags always
// require human approval.
func (c *Classifier) Classify(in Input) labmodels.RiskFlag {
	var matched rule
	for _, r := range rules {
		if r.match(c, in) {
			matched = r
			break
		}
	}

	mismatch := in.Mismatch
	flag := labmodels.RiskFlag{
		RiskLevel:             matched.level,
		Rule:                  matched.id,
		Rationale:             rationale(matched.id, in.Mismatch.Status),
		ContributingMismatch:  &mismatch,
		ContributingTrend:     in.Trend,
		RequiresHumanApproval: matched.level.Escalated(),
	}
	if p := in.Parameter; p != nil {
		flag.NormalizedParameterID = p.ID
		flag.UserID = p.UserID
		flag.CanonicalName = p.CanonicalName
	}
	flag.ID = FlagID(flag)
	return flag
}

func rationale(ruleID int, status labmodels.MismatchStatus) string {
	switch ruleID {
	case 1:
		return RationaleCritical
	case 2:
		return RationaleWorseningTrend
	case 3:
		return RationaleOutOfRange
	case 4:
		return RationaleRapidChange
	}
	if status == labmodels.MismatchIndeterminate {
		return RationaleInsufficientData
	}
	return RationaleNoConcern
}

// FlagID derives the flag ID from the parameter and the rule that fired, so
// re-running a parameter yields the same flag.
func FlagID(f labmodels.RiskFlag) uuid.UUID {
	return uuid.NewSHA1(flagNamespace, []byte(f.NormalizedParameterID.String()+"|"+string(f.RiskLevel)+"|"+strconv.Itoa(f.Rule)))
}

func movingAway(in Input) bool {
	if in.Trend == nil {
		return false
	}
	switch in.Mismatch.Status {
	case labmodels.MismatchHigh:
		return in.Trend.Direction == labmodels.DirectionIncreasing
	case labmodels.MismatchLow:
		return in.Trend.Direction == labmodels.DirectionDecreasing
	}
	return false
}

// movingToward reports whether an in-range value trends toward its nearest
// bound. A value at the midpoint is near both.
func movingToward(in Input) bool {
	if in.Trend == nil || in.Mismatch.ReferenceRange == nil {
		return false
	}
	rng := in.Mismatch.ReferenceRange
	toMin := in.Mismatch.Value - rng.Min
	toMax := rng.Max - in.Mismatch.Value
	switch in.Trend.Direction {
	case labmodels.DirectionIncreasing:
		return toMax <= toMin
	case labmodels.DirectionDecreasing:
		return toMin <= toMax
	}
	return false
}
