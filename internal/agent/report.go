package agent

import "fmt"

// Phase names carried in agent_phase events.
const (
	phasePlanning  = "planning"
	phaseDrafting  = "drafting"
	phaseReviewing = "reviewing"
)

// Disclaimer closes every generated report.
const Disclaimer = `【免责声明】
1. 本报告由AI生成，仅供参考，不构成法律意见或律师建议
2. 案件具体情况可能影响法律适用，建议咨询执业律师
3. 法规可能存在时效性，请以最新颁布版本为准
4. 本报告不保证准确性、完整性或适用性`

// laborProcessPath is the fixed action sequence recommended for labor
// arbitration disputes.
const laborProcessPath = `1. 先把证据按时间线整理：合同/考勤/工资流水/沟通记录尽量对应到具体日期。
2. 准备并提交仲裁申请：写清诉求、金额和事实经过，向有管辖权的仲裁委递交。
3. 参加调解或开庭：围绕劳动关系、欠薪事实、金额计算这三点陈述，并按要求补充材料。`

// BuildReport assembles the five-section consultation report and appends
// the disclaimer.
func BuildReport(factsSummary, legalAnalysis, processPath, riskNotice string) string {
	return fmt.Sprintf(
		"【先说结论】\n从您目前提供的信息看，这类争议通常可以先走劳动仲裁路径；建议尽快把证据按时间线整理好，再按步骤推进。\n\n【事实摘要】\n我先把您提供的信息整理如下：\n%s\n\n【法律分析】\n%s\n\n【办事路径】\n建议按“先准备、再提交、再跟进”的顺序推进：\n%s\n\n【风险提示】\n%s\n\n%s",
		factsSummary, legalAnalysis, processPath, riskNotice, Disclaimer,
	)
}
