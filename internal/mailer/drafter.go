package mailer

import (
	"context"
	"fmt"

	"github.com/mkarev/realtor-outreach/internal/domain"
)

// DraftContext names what an email is about. The drafter receives references
// only; the engine never validates or inspects the resulting prose.
type DraftContext struct {
	Client    domain.Client
	Milestone *domain.Milestone
	Match     *domain.Match
	Listing   *domain.Listing
}

// Draft is a rendered subject and body.
type Draft struct {
	Subject string
	Body    string
}

// Drafter produces email content for a milestone or match context. The AI
// drafting collaborator implements this in production; TemplateDrafter is
// the plain fallback.
type Drafter interface {
	Draft(ctx context.Context, dc DraftContext) (Draft, error)
}

// TemplateDrafter fills fixed text templates. It exists so the engine runs
// end to end without the external drafting service.
type TemplateDrafter struct{}

func (TemplateDrafter) Draft(_ context.Context, dc DraftContext) (Draft, error) {
	switch {
	case dc.Milestone != nil:
		return draftMilestone(dc.Client, *dc.Milestone), nil
	case dc.Match != nil && dc.Listing != nil:
		return Draft{
			Subject: fmt.Sprintf("A home that fits what you're looking for, %s", dc.Client.Name),
			Body: fmt.Sprintf("Hi %s,\n\nI came across %s in %s and thought of you. Listed at $%d.\n\nWant to take a look?",
				dc.Client.Name, dc.Listing.Title, dc.Listing.Neighborhood, dc.Listing.Price),
		}, nil
	default:
		return Draft{}, fmt.Errorf("draft: context names neither a milestone nor a match")
	}
}

func draftMilestone(c domain.Client, m domain.Milestone) Draft {
	if m.Message != "" {
		return Draft{
			Subject: fmt.Sprintf("Thinking of you, %s", c.Name),
			Body:    fmt.Sprintf("Hi %s,\n\n%s", c.Name, m.Message),
		}
	}
	switch m.Type {
	case domain.MilestoneBirthday:
		return Draft{
			Subject: fmt.Sprintf("Happy birthday, %s!", c.Name),
			Body:    fmt.Sprintf("Hi %s,\n\nWishing you a wonderful birthday!", c.Name),
		}
	case domain.MilestoneHomeAnniversary, domain.MilestoneClosingAnniversary:
		return Draft{
			Subject: fmt.Sprintf("Happy home anniversary, %s!", c.Name),
			Body:    fmt.Sprintf("Hi %s,\n\nCan you believe another year has gone by in your home?", c.Name),
		}
	default:
		return Draft{
			Subject: fmt.Sprintf("Thinking of you, %s", c.Name),
			Body:    fmt.Sprintf("Hi %s,\n\nJust wanted to reach out and say hello.", c.Name),
		}
	}
}
