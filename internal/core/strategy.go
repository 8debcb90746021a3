package core

import (
	"context"
	"strings"

	"github.com/campuslabs/socratic-tutor/internal/llm"
	"go.uber.org/zap"
)

type Intent string

const (
	IntentConceptual     Intent = "conceptual_understanding"
	IntentProblemSolving Intent = "problem_solving"
	IntentClarification  Intent = "clarification"
	IntentVerification   Intent = "verification"

	// IntentOutOfScope is reported on refusals; the classifier never returns it.
	IntentOutOfScope Intent = "out_of_scope"
)

// ParseIntent maps classifier output to an Intent.
func ParseIntent(s string) (Intent, bool) {
	switch Intent(s) {
	case IntentConceptual, IntentProblemSolving, IntentClarification, IntentVerification:
		return Intent(s), true
	}
	return "", false
}

type Strategy string

const (
	StrategyGuidedDiscovery      Strategy = "guided_discovery"
	StrategyProblemDecomposition Strategy = "problem_decomposition"
	StrategyProbingQuestions     Strategy = "probing_questions"
	StrategyContextualHints      Strategy = "contextual_hints"

	StrategyBoundaryEnforcement Strategy = "boundary_enforcement"
)

// SelectStrategy maps an intent to a teaching strategy. A clarification from
// a student at or above masteryThreshold gets probing questions instead of hints.
func SelectStrategy(intent Intent, mastery, masteryThreshold float64) Strategy {
	switch intent {
	case IntentProblemSolving:
		return StrategyProblemDecomposition
	case IntentVerification:
		return StrategyProbingQuestions
	case IntentClarification:
		if mastery >= masteryThreshold {
			return StrategyProbingQuestions
		}
		return StrategyContextualHints
	default:
		return StrategyGuidedDiscovery
	}
}

// IntentClassifier asks the generation service for a single intent label.
type IntentClassifier struct {
	generator llm.Generator
	logger    *zap.Logger
}

func NewIntentClassifier(generator llm.Generator, logger *zap.Logger) *IntentClassifier {
	return &IntentClassifier{generator: generator, logger: logger}
}

// Classify never fails: any error or unknown label yields IntentConceptual.
func (c *IntentClassifier) Classify(ctx context.Context, query string) Intent {
	raw, err := c.generator.Generate(ctx, classifyPrompt(query), llm.GenerateOptions{
		Temperature:     0.1,
		MaxOutputTokens: 32,
	})
	if err != nil {
		c.logger.Warn("Intent classification failed, using default", zap.Error(err))
		return IntentConceptual
	}

	label := strings.ToLower(strings.TrimSpace(raw))
	label = strings.NewReplacer(`"`, "", "'", "", "`", "").Replace(label)
	label = strings.TrimSpace(strings.TrimSuffix(label, "."))

	intent, ok := ParseIntent(label)
	if !ok {
		c.logger.Debug("Unrecognised intent label", zap.String("label", label))
		return IntentConceptual
	}
	return intent
}
