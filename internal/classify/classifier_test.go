package classify

import (
	"io"
	"log/slog"
	"testing"

	"github.com/voicecore/voicecore/internal/call"
	"github.com/voicecore/voicecore/internal/database/models"
)

func testClassifier() *Classifier {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClassifyNoRules(t *testing.T) {
	c := testClassifier()
	res := c.Classify(Input{CallerNumber: "+15550100"}, nil)
	if res.Tier != call.TierNormal {
		t.Errorf("tier = %s, want normal", res.Tier)
	}
	if res.Score != 0 {
		t.Errorf("score = %d, want 0", res.Score)
	}
}

func TestClassifyActions(t *testing.T) {
	tests := []struct {
		name       string
		rules      []models.SpamRule
		in         Input
		wantTier   call.Tier
		wantAction string
	}{
		{
			name: "block_by_number_list",
			rules: []models.SpamRule{
				{ID: 1, RuleType: RuleNumberList, Pattern: "+15550199,+15550198", Action: ActionBlock, Weight: 90},
			},
			in:         Input{CallerNumber: "+15550199"},
			wantTier:   call.TierSpam,
			wantAction: ActionBlock,
		},
		{
			name: "flag_by_keyword",
			rules: []models.SpamRule{
				{ID: 2, RuleType: RuleKeyword, Pattern: "telemarketer", Action: ActionFlag, Weight: 50},
			},
			in:         Input{CallerName: "Telemarketer Inc"},
			wantTier:   call.TierSpam,
			wantAction: ActionFlag,
		},
		{
			name: "vip_by_pattern",
			rules: []models.SpamRule{
				{ID: 3, RuleType: RulePattern, Pattern: `^\+1555020\d$`, Action: ActionVIP, Weight: 10},
			},
			in:         Input{CallerNumber: "+15550201"},
			wantTier:   call.TierVIP,
			wantAction: ActionVIP,
		},
		{
			name: "challenge_keeps_normal_tier",
			rules: []models.SpamRule{
				{ID: 4, RuleType: RulePattern, Pattern: `^\+1800`, Action: ActionChallenge, Weight: 20},
			},
			in:         Input{CallerNumber: "+18005550100"},
			wantTier:   call.TierNormal,
			wantAction: ActionChallenge,
		},
		{
			name: "no_match",
			rules: []models.SpamRule{
				{ID: 5, RuleType: RuleKeyword, Pattern: "survey", Action: ActionBlock, Weight: 80},
			},
			in:         Input{CallerNumber: "+15550100", CallerName: "Alex"},
			wantTier:   call.TierNormal,
			wantAction: "",
		},
	}

	c := testClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(tt.in, tt.rules)
			if res.Tier != tt.wantTier {
				t.Errorf("tier = %s, want %s", res.Tier, tt.wantTier)
			}
			if res.Action != tt.wantAction {
				t.Errorf("action = %q, want %q", res.Action, tt.wantAction)
			}
		})
	}
}

func TestClassifyHighestWeightWins(t *testing.T) {
	c := testClassifier()
	rules := []models.SpamRule{
		{ID: 1, RuleType: RuleKeyword, Pattern: "sales", Action: ActionFlag, Weight: 30},
		{ID: 2, RuleType: RulePattern, Pattern: `^\+1555`, Action: ActionVIP, Weight: 60},
	}
	res := c.Classify(Input{CallerNumber: "+15550100", CallerName: "Sales Team"}, rules)
	if res.RuleID != 2 {
		t.Errorf("winning rule = %d, want 2", res.RuleID)
	}
	if res.Tier != call.TierVIP {
		t.Errorf("tier = %s, want vip", res.Tier)
	}
	if res.Score != 90 {
		t.Errorf("score = %d, want 90", res.Score)
	}
}

func TestClassifyTieKeepsEarlierRule(t *testing.T) {
	c := testClassifier()
	rules := []models.SpamRule{
		{ID: 1, RuleType: RuleKeyword, Pattern: "sales", Action: ActionFlag, Weight: 40},
		{ID: 2, RuleType: RulePattern, Pattern: `^\+1555`, Action: ActionVIP, Weight: 40},
	}
	res := c.Classify(Input{CallerNumber: "+15550100", CallerName: "Sales Team"}, rules)
	if res.RuleID != 1 {
		t.Errorf("winning rule = %d, want 1 (first declared wins ties)", res.RuleID)
	}
}

func TestClassifyScoreCapAndThreshold(t *testing.T) {
	c := testClassifier()

	// Many weak challenge matches push the score past the flag threshold.
	rules := []models.SpamRule{
		{ID: 1, RuleType: RulePattern, Pattern: `^\+1`, Action: ActionChallenge, Weight: 40},
		{ID: 2, RuleType: RulePattern, Pattern: `555`, Action: ActionChallenge, Weight: 40},
	}
	res := c.Classify(Input{CallerNumber: "+15550100"}, rules)
	if res.Score != 80 {
		t.Errorf("score = %d, want 80", res.Score)
	}
	if res.Tier != call.TierSpam {
		t.Errorf("tier = %s, want spam (score over threshold)", res.Tier)
	}

	// Score is capped at 100.
	rules = append(rules, models.SpamRule{ID: 3, RuleType: RulePattern, Pattern: `0100$`, Action: ActionChallenge, Weight: 40})
	res = c.Classify(Input{CallerNumber: "+15550100"}, rules)
	if res.Score != 100 {
		t.Errorf("score = %d, want 100 (capped)", res.Score)
	}
}

func TestClassifyMalformedRulesFailOpen(t *testing.T) {
	c := testClassifier()

	tests := []struct {
		name  string
		rules []models.SpamRule
	}{
		{
			name: "invalid_regexp",
			rules: []models.SpamRule{
				{ID: 1, RuleType: RulePattern, Pattern: "([", Action: ActionBlock, Weight: 90},
			},
		},
		{
			name: "unknown_action",
			rules: []models.SpamRule{
				{ID: 1, RuleType: RuleKeyword, Pattern: "spam", Action: "quarantine", Weight: 50},
			},
		},
		{
			name: "unknown_rule_type",
			rules: []models.SpamRule{
				{ID: 1, RuleType: "soundex", Pattern: "spam", Action: ActionBlock, Weight: 50},
			},
		},
		{
			name: "one_bad_rule_poisons_valid_ones",
			rules: []models.SpamRule{
				{ID: 1, RuleType: RuleNumberList, Pattern: "+15550100", Action: ActionBlock, Weight: 90},
				{ID: 2, RuleType: RulePattern, Pattern: "([", Action: ActionFlag, Weight: 50},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// The input matches the valid block rule, but the set is
			// malformed: the call must still proceed at normal priority.
			res := c.Classify(Input{CallerNumber: "+15550100"}, tt.rules)
			if res.Tier != call.TierNormal {
				t.Errorf("tier = %s, want normal (fail open)", res.Tier)
			}
			if res.Action != "" {
				t.Errorf("action = %q, want none", res.Action)
			}
			if res.Reason != "malformed-rules" {
				t.Errorf("reason = %q, want malformed-rules", res.Reason)
			}
		})
	}
}

func TestNumberListMatchesFingerprint(t *testing.T) {
	c := testClassifier()
	rules := []models.SpamRule{
		{ID: 1, RuleType: RuleNumberList, Pattern: "deadbeefcafe", Action: ActionVIP, Weight: 10},
	}
	res := c.Classify(Input{CallerNumber: "+15550100", CallerHash: "DEADBEEFCAFE"}, rules)
	if res.Tier != call.TierVIP {
		t.Errorf("tier = %s, want vip (fingerprint entry should match case-insensitively)", res.Tier)
	}
}
