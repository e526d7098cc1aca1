package nodes

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
)

type conditionExecutor struct{}

func (conditionExecutor) Execute(ctx context.Context, in Input) Outcome {
	ok := Evaluate(
		domain.ConditionType(domain.ConfigString(in.Config, "conditionType")),
		domain.ConfigString(in.Config, "checkValue"),
		domain.ConfigString(in.Config, "conditionValue"),
	)
	port := domain.PortFalse
	if ok {
		port = domain.PortTrue
	}
	return Outcome{Output: strconv.FormatBool(ok), Port: port}
}

// Evaluate applies a condition to value. It never fails: malformed
// patterns, non-numeric operands and unknown types all evaluate to false.
func Evaluate(t domain.ConditionType, value, against string) bool {
	switch t {
	case domain.CondContains:
		return strings.Contains(value, against)
	case domain.CondNotContains:
		return !strings.Contains(value, against)
	case domain.CondEquals:
		return value == against
	case domain.CondNotEquals:
		return value != against
	case domain.CondRegex:
		re, err := regexp.Compile(against)
		if err != nil {
			return false
		}
		return re.MatchString(value)
	case domain.CondGreaterThan, domain.CondLessThan:
		a, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return false
		}
		b, err := strconv.ParseFloat(strings.TrimSpace(against), 64)
		if err != nil {
			return false
		}
		if t == domain.CondGreaterThan {
			return a > b
		}
		return a < b
	case domain.CondIsEmpty:
		return strings.TrimSpace(value) == ""
	case domain.CondIsNotEmpty:
		return strings.TrimSpace(value) != ""
	}
	return false
}
