package artifacts

import (
	"context"
	"fmt"
	"time"

	"hearing-processor/pkg/models"
)

// Event is a hearing to be placed on the calendar.
type Event struct {
	SessionID   string        `json:"sessionId"`
	CaseID      string        `json:"caseId"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Start       time.Time     `json:"start"`
	Duration    time.Duration `json:"-"`
	Attendees   []string      `json:"attendees"`
}

// Scheduler creates calendar events and returns their identifiers.
type Scheduler interface {
	Schedule(ctx context.Context, event Event) (string, error)
}

const defaultHearingLength = time.Hour

// NextHearingEvent builds the event for a judgment's next hearing date.
func NextHearingEvent(sessionID, caseID string, participants []models.Participant, next time.Time) Event {
	attendees := make([]string, 0, len(participants))
	for _, p := range participants {
		attendees = append(attendees, p.ID)
	}
	return Event{
		SessionID:   sessionID,
		CaseID:      caseID,
		Title:       fmt.Sprintf("Further hearing: %s", caseID),
		Description: fmt.Sprintf("Listed by session %s", sessionID),
		Start:       next,
		Duration:    defaultHearingLength,
		Attendees:   attendees,
	}
}

func calendarError(err error) error {
	return &models.ArtifactGenerationError{Stage: models.StageCalendarIntegration, Err: err}
}
