package pipeline

import (
	"fmt"
	"strings"
)

// Answer is a single survey answer record.
type Answer struct {
	PageID    string
	FieldName string
	Value     any
}

// FormatSurveyAnswers renders answers grouped by page for LLM consumption.
// Page order follows first appearance; fields keep their recorded order.
func FormatSurveyAnswers(answers []Answer) string {
	if len(answers) == 0 {
		return "No survey responses recorded."
	}

	pageOrder := []string{}
	pages := map[string][]Answer{}
	for _, a := range answers {
		page := a.PageID
		if page == "" {
			page = "unknown"
		}
		if _, seen := pages[page]; !seen {
			pageOrder = append(pageOrder, page)
		}
		pages[page] = append(pages[page], a)
	}

	var sb strings.Builder
	sb.WriteString("Survey Responses:")
	for _, page := range pageOrder {
		sb.WriteString("\n\n" + page + ":")
		for _, a := range pages[page] {
			sb.WriteString(fmt.Sprintf("\n  - %s: %s", a.FieldName, formatValue(a.Value)))
		}
	}
	return sb.String()
}

// CreateContext builds the full template variable context for a session:
// the formatted transcript under "survey_responses", individual answers as
// answers.<page>.<field>, and optional user/session metadata maps.
func CreateContext(answers []Answer, user, session map[string]any) map[string]any {
	grouped := map[string]any{}
	for _, a := range answers {
		page := a.PageID
		if page == "" {
			page = "unknown"
		}
		fields, _ := grouped[page].(map[string]any)
		if fields == nil {
			fields = map[string]any{}
			grouped[page] = fields
		}
		fields[a.FieldName] = a.Value
	}

	ctx := map[string]any{
		"survey_responses": FormatSurveyAnswers(answers),
		"answers":          grouped,
	}
	if len(user) > 0 {
		ctx["user"] = user
	}
	if len(session) > 0 {
		ctx["session"] = session
	}
	return ctx
}

// ContextFromRun builds the template context from a survey run's answers and
// run metadata (exposed to templates as session.*).
func ContextFromRun(answers []Answer, runMetadata map[string]any) map[string]any {
	return CreateContext(answers, nil, runMetadata)
}
