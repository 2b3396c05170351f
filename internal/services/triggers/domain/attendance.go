package domain

import "github.com/louisbranch/revents/internal/services/triggers/feedlog"

// AttendanceAction is the direction of an attendance change.
type AttendanceAction string

const (
	Joined AttendanceAction = "joined"
	Left   AttendanceAction = "left"
)

// FeedCode maps an action to its feed entry code.
func (a AttendanceAction) FeedCode() feedlog.Code {
	if a == Left {
		return feedlog.CodeLeftEvent
	}
	return feedlog.CodeJoinedEvent
}

// AttendanceDelta is one attendee joining or leaving an event.
type AttendanceDelta struct {
	Subject Attendee
	Action  AttendanceAction
}

// DiffAttendees returns the set difference of two attendee lists by id:
// joiners in after order, then leavers in before order. Reordering alone
// yields no deltas. Attendees without an id are ignored.
func DiffAttendees(before, after []Attendee) []AttendanceDelta {
	beforeIDs := attendeeIDs(before)
	afterIDs := attendeeIDs(after)

	var deltas []AttendanceDelta
	seen := make(map[string]struct{}, len(after))
	for _, attendee := range after {
		if attendee.ID == "" {
			continue
		}
		if _, dup := seen[attendee.ID]; dup {
			continue
		}
		seen[attendee.ID] = struct{}{}
		if _, ok := beforeIDs[attendee.ID]; !ok {
			deltas = append(deltas, AttendanceDelta{Subject: attendee, Action: Joined})
		}
	}
	seen = make(map[string]struct{}, len(before))
	for _, attendee := range before {
		if attendee.ID == "" {
			continue
		}
		if _, dup := seen[attendee.ID]; dup {
			continue
		}
		seen[attendee.ID] = struct{}{}
		if _, ok := afterIDs[attendee.ID]; !ok {
			deltas = append(deltas, AttendanceDelta{Subject: attendee, Action: Left})
		}
	}
	return deltas
}

// PrimaryDelta reports the single delta implied by a change in list size:
// the first joiner when the list grew, the first leaver when it shrank, and
// nothing when the sizes are equal.
func PrimaryDelta(before, after []Attendee) (AttendanceDelta, bool) {
	want := Joined
	switch {
	case len(after) > len(before):
	case len(after) < len(before):
		want = Left
	default:
		return AttendanceDelta{}, false
	}
	for _, delta := range DiffAttendees(before, after) {
		if delta.Action == want {
			return delta, true
		}
	}
	return AttendanceDelta{}, false
}

func attendeeIDs(attendees []Attendee) map[string]struct{} {
	ids := make(map[string]struct{}, len(attendees))
	for _, attendee := range attendees {
		if attendee.ID != "" {
			ids[attendee.ID] = struct{}{}
		}
	}
	return ids
}
