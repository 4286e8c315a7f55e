// Package safety rewrites risky claims out of generated advice. Rules run
// in a fixed order; every match is recorded, then the text is rewritten, so
// later rules see the already-rewritten content.
package safety

import "regexp"

// Severity classifies an issue. Critical findings additionally flag the
// whole response for interception.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Issue is one matched rule occurrence.
type Issue struct {
	RuleName    string   `json:"rule_name"`
	MatchedText string   `json:"matched_text"`
	Replacement string   `json:"replacement"`
	Severity    Severity `json:"severity"`
}

// CheckResult is the rewrite outcome for one piece of content.
type CheckResult struct {
	ModifiedContent string  `json:"modified_content"`
	Issues          []Issue `json:"issues"`
	HasCritical     bool    `json:"has_critical"`
}

type rule struct {
	name        string
	pattern     *regexp.Regexp
	replacement string
	severity    Severity
}

var rules = []rule{
	{
		name:        "guarantee_win",
		pattern:     regexp.MustCompile(`(?i)(保证.*胜诉|肯定.*赢)`),
		replacement: "无法保证案件结果",
		severity:    SeverityCritical,
	},
	{
		name:        "fake_lawyer_identity",
		pattern:     regexp.MustCompile(`(?i)(我是律师|本律师|根据律师意见)`),
		replacement: "本回答由AI生成",
		severity:    SeverityCritical,
	},
	{
		name:        "absolute_certainty",
		pattern:     regexp.MustCompile(`(?i)(绝对没问题|肯定没事|一定行)`),
		replacement: "存在不确定性",
		severity:    SeverityWarning,
	},
	{
		name:        "must_win",
		pattern:     regexp.MustCompile(`(?i)(包赢|必赢|必胜|一定.*赢)`),
		replacement: "结果不确定",
		severity:    SeverityCritical,
	},
	{
		name:        "crime_judgement",
		pattern:     regexp.MustCompile(`(?i)(你构成.*罪|你.*坐牢|你.*犯罪)`),
		replacement: "建议咨询专业律师",
		severity:    SeverityCritical,
	},
	{
		name:        "legal_effect",
		pattern:     regexp.MustCompile(`(?i)(具有法律效力|法律上有效)`),
		replacement: "需执业律师确认效力",
		severity:    SeverityWarning,
	},
}

// Check scans content against every rule and returns the rewritten text
// with all findings.
func Check(content string) CheckResult {
	modified := content
	issues := []Issue{}
	hasCritical := false

	for _, r := range rules {
		matches := r.pattern.FindAllString(modified, -1)
		for _, m := range matches {
			issues = append(issues, Issue{
				RuleName:    r.name,
				MatchedText: m,
				Replacement: r.replacement,
				Severity:    r.severity,
			})
			if r.severity == SeverityCritical {
				hasCritical = true
			}
		}
		if len(matches) > 0 {
			modified = r.pattern.ReplaceAllString(modified, r.replacement)
		}
	}

	return CheckResult{
		ModifiedContent: modified,
		Issues:          issues,
		HasCritical:     hasCritical,
	}
}
