package social

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/louisbranch/revents/internal/services/triggers/docstore"
	"github.com/louisbranch/revents/internal/services/triggers/domain"
)

const maxTitleLength = 120

// EventInput holds the host-supplied event fields.
type EventInput struct {
	Title       string
	Date        time.Time
	Category    string
	Description string
	City        string
	Venue       string
}

// CreateEvent creates an event with the host as its first attendee.
func (s *Service) CreateEvent(ctx context.Context, hostUID string, in EventInput) (domain.Event, error) {
	in, err := normalizeEventInput(in)
	if err != nil {
		return domain.Event{}, err
	}
	host, err := s.GetUserProfile(ctx, hostUID)
	if err != nil {
		return domain.Event{}, fmt.Errorf("read host %s: %w", hostUID, err)
	}
	eventID, err := s.newID()
	if err != nil {
		return domain.Event{}, err
	}

	event := domain.Event{
		ID:           eventID,
		Title:        in.Title,
		Date:         in.Date,
		Category:     in.Category,
		Description:  in.Description,
		City:         in.City,
		Venue:        in.Venue,
		HostUID:      host.UID,
		HostedBy:     host.DisplayName,
		HostPhotoURL: host.PhotoURL,
		Attendees:    []domain.Attendee{attendeeOf(host)},
		AttendeeIDs:  []string{host.UID},
	}
	data, err := docstore.DataOf(event)
	if err != nil {
		return domain.Event{}, err
	}
	if err := s.store.Batch().Create(domain.EventPath(eventID), data).Commit(ctx); err != nil {
		return domain.Event{}, fmt.Errorf("create event: %w", err)
	}
	return event, nil
}

// UpdateEvent replaces the host-supplied fields of an event. Attendees, host
// and cancellation are left alone.
func (s *Service) UpdateEvent(ctx context.Context, eventID string, in EventInput) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("event id is required")
	}
	in, err := normalizeEventInput(in)
	if err != nil {
		return err
	}
	err = s.store.Batch().
		Update(domain.EventPath(eventID), map[string]any{
			"title":       in.Title,
			"date":        in.Date,
			"category":    in.Category,
			"description": in.Description,
			"city":        in.City,
			"venue":       in.Venue,
		}).
		Commit(ctx)
	if err != nil {
		return fmt.Errorf("update event %s: %w", eventID, err)
	}
	return nil
}

func normalizeEventInput(in EventInput) (EventInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return EventInput{}, fmt.Errorf("event title is required")
	}
	if utf8.RuneCountInString(in.Title) > maxTitleLength {
		return EventInput{}, fmt.Errorf("event title must be at most %d characters", maxTitleLength)
	}
	if in.Date.IsZero() {
		return EventInput{}, fmt.Errorf("event date is required")
	}
	in.Date = in.Date.UTC()
	in.Category = strings.TrimSpace(in.Category)
	in.Description = strings.TrimSpace(in.Description)
	in.City = strings.TrimSpace(in.City)
	in.Venue = strings.TrimSpace(in.Venue)
	return in, nil
}

// GetEvent reads an event.
func (s *Service) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return domain.Event{}, fmt.Errorf("event id is required")
	}
	snap, err := s.store.Get(ctx, domain.EventPath(eventID))
	if err != nil {
		return domain.Event{}, err
	}
	var event domain.Event
	if err := snap.DataTo(&event); err != nil {
		return domain.Event{}, err
	}
	return event, nil
}

// JoinEvent adds uid to the attendee list. Joining twice is a no-op.
func (s *Service) JoinEvent(ctx context.Context, eventID, uid string) error {
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.IsCancelled {
		return ErrEventCancelled
	}
	if _, ok := findAttendee(event, uid); ok {
		return nil
	}
	user, err := s.GetUserProfile(ctx, uid)
	if err != nil {
		return fmt.Errorf("read attendee %s: %w", uid, err)
	}
	err = s.store.Batch().
		Update(domain.EventPath(event.ID), map[string]any{
			"attendees":   docstore.ArrayUnion(attendeeOf(user)),
			"attendeeIds": docstore.ArrayUnion(user.UID),
		}).
		Commit(ctx)
	if err != nil {
		return fmt.Errorf("join event %s: %w", event.ID, err)
	}
	return nil
}

// LeaveEvent removes uid from the attendee list. Leaving an event one does
// not attend is a no-op.
func (s *Service) LeaveEvent(ctx context.Context, eventID, uid string) error {
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	uid = strings.TrimSpace(uid)
	if uid == event.HostUID {
		return ErrHostCannotLeave
	}
	attendee, ok := findAttendee(event, uid)
	if !ok {
		return nil
	}
	err = s.store.Batch().
		Update(domain.EventPath(event.ID), map[string]any{
			"attendees":   docstore.ArrayRemove(attendee),
			"attendeeIds": docstore.ArrayRemove(uid),
		}).
		Commit(ctx)
	if err != nil {
		return fmt.Errorf("leave event %s: %w", event.ID, err)
	}
	return nil
}

// CancelEventToggle flips the event's cancellation flag and returns the new value.
func (s *Service) CancelEventToggle(ctx context.Context, eventID string) (bool, error) {
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return false, err
	}
	cancelled := !event.IsCancelled
	err = s.store.Batch().
		Update(domain.EventPath(event.ID), map[string]any{"isCancelled": cancelled}).
		Commit(ctx)
	if err != nil {
		return false, fmt.Errorf("toggle event %s: %w", event.ID, err)
	}
	return cancelled, nil
}

// DeleteEvent removes an event.
func (s *Service) DeleteEvent(ctx context.Context, eventID string) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("event id is required")
	}
	err := s.store.Batch().Delete(domain.EventPath(eventID), docstore.Exists).Commit(ctx)
	if errors.Is(err, docstore.ErrPreconditionFailed) {
		return fmt.Errorf("delete event %s: %w", eventID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	return nil
}

func attendeeOf(user domain.User) domain.Attendee {
	return domain.Attendee{ID: user.UID, DisplayName: user.DisplayName, PhotoURL: user.PhotoURL}
}

func findAttendee(event domain.Event, uid string) (domain.Attendee, bool) {
	uid = strings.TrimSpace(uid)
	for _, attendee := range event.Attendees {
		if attendee.ID == uid {
			return attendee, true
		}
	}
	return domain.Attendee{}, false
}
