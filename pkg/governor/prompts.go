package governor

import (
	"fmt"
	"strings"

	"github.com/codeready-toolchain/governor/pkg/models"
)

// workTypeInstructions is the task section of each work type's session
// prompt. The prompt tells the agent what the session is for; project
// conventions and tool access come from the worker side.
var workTypeInstructions = map[models.WorkType]string{
	models.WorkTypeResearch:               "Investigate this issue and rewrite its description so it can be planned: add a summary, acceptance criteria and a technical approach.",
	models.WorkTypeBacklogCreation:        "Decompose this issue into independently deliverable backlog items, each with its own acceptance criteria.",
	models.WorkTypeDevelopment:            "Implement this issue. Stay within the scope of the description and open a merge request when done.",
	models.WorkTypeInflight:               "Resume the in-progress work on this issue and drive it to a reviewable state.",
	models.WorkTypeQA:                     "Verify the finished work against the issue description. Report pass or fail with evidence.",
	models.WorkTypeAcceptance:             "Evaluate the delivered work against the acceptance criteria and accept or reject it.",
	models.WorkTypeRefinement:             "Rework this rejected issue: address the rejection reasons and return it to a plannable state.",
	models.WorkTypeCoordination:           "Coordinate this parent issue's children through development. Do not implement child issues directly.",
	models.WorkTypeQACoordination:         "Verify this parent issue by checking the verification state of its children.",
	models.WorkTypeAcceptanceCoordination: "Evaluate this parent issue's acceptance through the acceptance state of its children.",
}

// promptFor composes the session prompt for one dispatch. trigger is the
// policy reason behind top-of-funnel work; hint carries operator comment
// text when a comment caused the evaluation.
func promptFor(issue *models.Issue, w models.WorkType, trigger, hint string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Issue %s: %s\n", issue.Identifier, issue.Title)
	fmt.Fprintf(&b, "Status: %s\n", issue.Status)
	if issue.ProjectName != "" {
		fmt.Fprintf(&b, "Project: %s\n", issue.ProjectName)
	}
	b.WriteString("\n")
	b.WriteString(workTypeInstructions[w])
	b.WriteString("\n")
	if desc := strings.TrimSpace(issue.Description); desc != "" {
		b.WriteString("\nDescription:\n")
		b.WriteString(desc)
		b.WriteString("\n")
	}
	if trigger != "" {
		fmt.Fprintf(&b, "\nTrigger: %s\n", trigger)
	}
	if hint != "" {
		fmt.Fprintf(&b, "\nOperator note:\n%s\n", strings.TrimSpace(hint))
	}
	return b.String()
}
