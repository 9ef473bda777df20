// Package classify scores inbound calls against a tenant's ordered spam
// rule set and assigns the session's priority tier. The classifier is
// deliberately fail-open: a malformed rule set must never block traffic, so
// any configuration error downgrades the whole set to a no-op and the call
// proceeds at normal priority.
package classify

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/voicecore/voicecore/internal/call"
	"github.com/voicecore/voicecore/internal/database/models"
)

// Rule types.
const (
	RuleKeyword    = "keyword"
	RulePattern    = "pattern"
	RuleNumberList = "number_list"
)

// Rule actions. Block rejects the call outright, flag marks it spam tier
// without rejecting, challenge keeps normal priority but is recorded, and
// vip promotes the caller ahead of the normal queue.
const (
	ActionBlock     = "block"
	ActionFlag      = "flag"
	ActionChallenge = "challenge"
	ActionVIP       = "vip"
)

// flagThreshold is the score at or above which a call is flagged spam tier
// even when no single flag/block rule won outright.
const flagThreshold = 70

// Input is the per-call data matched against the rule set. CallerNumber is
// transient: it is matched in memory and never stored or logged; only the
// fingerprint persists.
type Input struct {
	CallerNumber string
	CallerName   string
	CallerHash   string
}

// Result is the classification outcome.
type Result struct {
	Score  int    // 0-100
	Action string // winning action, or "" when no rule matched
	Tier   call.Tier
	RuleID int64  // id of the winning rule, 0 if none
	Reason string // reason code for the audit trail
}

// Classifier evaluates tenant rule sets.
type Classifier struct {
	logger *slog.Logger
}

// New creates a classifier.
func New(logger *slog.Logger) *Classifier {
	return &Classifier{logger: logger.With("subsystem", "classifier")}
}

// compiledRule is a validated rule ready for matching.
type compiledRule struct {
	rule    models.SpamRule
	re      *regexp.Regexp // for RulePattern
	entries []string       // for RuleNumberList
}

// Classify scores the input against the ordered rule set. When multiple
// rules match, the action with the highest configured weight wins; equal
// weights resolve in rule declaration order (first wins). This is the
// documented, deterministic behavior operators rely on when authoring rules.
func (c *Classifier) Classify(in Input, rules []models.SpamRule) Result {
	compiled, err := compileRules(rules)
	if err != nil {
		// Fail open: availability beats filtering.
		c.logger.Warn("malformed spam rule set, failing open",
			"caller_hash", in.CallerHash,
			"error", err,
		)
		return Result{Tier: call.TierNormal, Reason: "malformed-rules"}
	}

	score := 0
	var winner *compiledRule
	for i := range compiled {
		cr := &compiled[i]
		if !cr.matches(in) {
			continue
		}
		score += cr.rule.Weight
		// Strictly greater keeps the earliest rule on ties.
		if winner == nil || cr.rule.Weight > winner.rule.Weight {
			winner = cr
		}
	}
	if score > 100 {
		score = 100
	}

	if winner == nil {
		return Result{Score: score, Tier: call.TierNormal, Reason: "no-rule-matched"}
	}

	res := Result{
		Score:  score,
		Action: winner.rule.Action,
		RuleID: winner.rule.ID,
		Reason: fmt.Sprintf("rule-%d-%s", winner.rule.ID, winner.rule.Action),
	}
	switch winner.rule.Action {
	case ActionBlock, ActionFlag:
		res.Tier = call.TierSpam
	case ActionVIP:
		res.Tier = call.TierVIP
	default:
		res.Tier = call.TierNormal
	}

	// A pile of weak matches is still suspicious even if no flag rule won.
	if res.Tier == call.TierNormal && score >= flagThreshold {
		res.Tier = call.TierSpam
		res.Reason = fmt.Sprintf("score-%d-over-threshold", score)
	}

	return res
}

// compileRules validates the whole rule set. Any invalid rule poisons the
// set: the caller falls back to fail-open classification.
func compileRules(rules []models.SpamRule) ([]compiledRule, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := compiledRule{rule: r}

		switch r.Action {
		case ActionBlock, ActionFlag, ActionChallenge, ActionVIP:
		default:
			return nil, fmt.Errorf("rule %d: unknown action %q", r.ID, r.Action)
		}
		if r.Weight < 0 {
			return nil, fmt.Errorf("rule %d: negative weight %d", r.ID, r.Weight)
		}

		switch r.RuleType {
		case RuleKeyword:
			if strings.TrimSpace(r.Pattern) == "" {
				return nil, fmt.Errorf("rule %d: empty keyword", r.ID)
			}
		case RulePattern:
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %d: invalid pattern: %w", r.ID, err)
			}
			cr.re = re
		case RuleNumberList:
			for _, entry := range strings.Split(r.Pattern, ",") {
				entry = strings.TrimSpace(entry)
				if entry != "" {
					cr.entries = append(cr.entries, entry)
				}
			}
			if len(cr.entries) == 0 {
				return nil, fmt.Errorf("rule %d: empty number list", r.ID)
			}
		default:
			return nil, fmt.Errorf("rule %d: unknown rule type %q", r.ID, r.RuleType)
		}

		compiled = append(compiled, cr)
	}
	return compiled, nil
}

// matches reports whether the input matches this rule.
func (cr *compiledRule) matches(in Input) bool {
	switch cr.rule.RuleType {
	case RuleKeyword:
		return strings.Contains(strings.ToLower(in.CallerName), strings.ToLower(cr.rule.Pattern))
	case RulePattern:
		return cr.re.MatchString(in.CallerNumber)
	case RuleNumberList:
		for _, entry := range cr.entries {
			// Entries may be raw numbers or pre-computed fingerprints.
			if entry == in.CallerNumber || strings.EqualFold(entry, in.CallerHash) {
				return true
			}
		}
	}
	return false
}
