package speakers

import "hearing-processor/pkg/models"

// Assigner attributes transcript segments to hearing participants.
type Assigner interface {
	AssignSpeakers(segments []models.Segment, participants []models.Participant) []models.Segment
}

// RoundRobin hands segments to participants in the order they were listed.
// It is positional only and does not look at the audio.
type RoundRobin struct{}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (RoundRobin) AssignSpeakers(segments []models.Segment, participants []models.Participant) []models.Segment {
	known := usable(participants)
	out := make([]models.Segment, len(segments))
	for i, seg := range segments {
		p := models.UnknownParticipant
		if len(known) > 0 {
			p = known[i%len(known)]
		}
		seg.SpeakerID = p.ID
		seg.SpeakerRole = p.Role
		out[i] = seg
	}
	return out
}

// usable drops entries without an id. Roles are kept as supplied; only a
// missing role becomes unknown.
func usable(participants []models.Participant) []models.Participant {
	out := make([]models.Participant, 0, len(participants))
	for _, p := range participants {
		if p.ID == "" {
			continue
		}
		if p.Role == "" {
			p.Role = models.RoleUnknown
		}
		out = append(out, p)
	}
	return out
}
