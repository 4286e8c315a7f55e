package tools

// IntakeQuestion is one step of the structured fact interview.
type IntakeQuestion struct {
	ID       int    `json:"id"`
	Text     string `json:"text"`
	Required bool   `json:"required"`
}

var laborIntake = []IntakeQuestion{
	{ID: 1, Text: "先确认一下，您主要工作地在什么地区（省/市）？不同地区处理口径会有差异。", Required: true},
	{ID: 2, Text: "您大概什么时候入职的？有没有签劳动合同（电子版也算）？", Required: true},
	{ID: 3, Text: "您主要做什么工作？月工资大约多少（税前税后都可以）？", Required: true},
	{ID: 4, Text: "被拖欠工资大概持续多久、总额大约多少？不确定可以先给估算。", Required: false},
	{ID: 5, Text: "您最希望达成的结果是什么？比如补发工资、经济补偿、出具离职证明等。", Required: true},
	{ID: 6, Text: "目前手里有哪些材料？例如合同、考勤、工资流水、聊天记录、录音等。", Required: false},
}

// IntakeQuestions returns the interview catalog for a scenario. Scenarios
// without a catalog run without an interview.
func IntakeQuestions(scenario string) []IntakeQuestion {
	if scenario == "labor" {
		return laborIntake
	}
	return nil
}
