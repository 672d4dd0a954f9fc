package rules

// Match selects the rule applying to the expense. Among candidates the
// highest amount threshold wins; a remaining tie is broken by the most
// recent creation timestamp.
func Match(normalizedAmount float64, category string, ruleSet []ApprovalRule) (ApprovalRule, error) {
	var best ApprovalRule
	found := false
	for _, rule := range ruleSet {
		if !rule.AppliesTo(normalizedAmount, category) {
			continue
		}
		if !found {
			best = rule
			found = true
			continue
		}
		if rule.Conditions.AmountThreshold > best.Conditions.AmountThreshold {
			best = rule
			continue
		}
		if rule.Conditions.AmountThreshold == best.Conditions.AmountThreshold && rule.CreatedAt.After(best.CreatedAt) {
			best = rule
		}
	}
	if !found {
		return ApprovalRule{}, ErrNoMatchingRule
	}
	return best, nil
}
