package findings

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cuongbtq/site-audit/internal/domain"
)

// MaxIssues is the number of issues kept from a response
const MaxIssues = 20

const (
	defaultSummary    = "Audit completed. Automated analysis was unavailable, so only a baseline review is included."
	defaultScore      = 70
	defaultIssueTitle = "Manual review recommended"
)

// DefaultFindings is returned whenever inference or parsing fails
func DefaultFindings() domain.Findings {
	score := defaultScore
	recommendation := "Review the captured desktop and mobile screenshots by hand."
	return domain.Findings{
		Summary: defaultSummary,
		Score:   &score,
		Issues: []domain.Issue{
			{
				Title:          defaultIssueTitle,
				Description:    "Automated analysis could not be completed for this page.",
				Severity:       domain.SeverityMedium,
				Category:       "General",
				Recommendation: &recommendation,
			},
		},
	}
}

type rawFindings struct {
	Summary string     `json:"summary"`
	Score   *float64   `json:"score"`
	Issues  []rawIssue `json:"issues"`
}

type rawIssue struct {
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Severity       string  `json:"severity"`
	Category       string  `json:"category"`
	Recommendation *string `json:"recommendation"`
}

// Parse extracts and validates findings from raw model output
func Parse(text string) (domain.Findings, error) {
	object, err := ExtractJSONObject(text)
	if err != nil {
		return domain.Findings{}, err
	}

	var raw rawFindings
	if err := json.Unmarshal([]byte(object), &raw); err != nil {
		return domain.Findings{}, fmt.Errorf("failed to decode findings: %w", err)
	}

	return validate(raw)
}

func validate(raw rawFindings) (domain.Findings, error) {
	summary := strings.TrimSpace(raw.Summary)
	if summary == "" {
		return domain.Findings{}, errors.New("summary is empty")
	}

	out := domain.Findings{Summary: summary, Issues: []domain.Issue{}}

	if raw.Score != nil {
		s := *raw.Score
		if s < 0 || s > 100 || s != float64(int(s)) {
			return domain.Findings{}, fmt.Errorf("score %v is not an integer in [0,100]", s)
		}
		score := int(s)
		out.Score = &score
	}

	for i, issue := range raw.Issues {
		if len(out.Issues) == MaxIssues {
			break
		}

		severity := domain.Severity(strings.ToLower(strings.TrimSpace(issue.Severity)))
		switch severity {
		case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh:
		default:
			return domain.Findings{}, fmt.Errorf("issue %d: unknown severity %q", i, issue.Severity)
		}

		title := strings.TrimSpace(issue.Title)
		description := strings.TrimSpace(issue.Description)
		category := strings.TrimSpace(issue.Category)
		if title == "" || description == "" || category == "" {
			return domain.Findings{}, fmt.Errorf("issue %d: title, description and category are required", i)
		}

		var recommendation *string
		if issue.Recommendation != nil {
			if r := strings.TrimSpace(*issue.Recommendation); r != "" {
				recommendation = &r
			}
		}

		out.Issues = append(out.Issues, domain.Issue{
			Title:          title,
			Description:    description,
			Severity:       severity,
			Category:       category,
			Recommendation: recommendation,
		})
	}

	return out, nil
}
