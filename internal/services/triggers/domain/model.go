// Package domain holds the social graph and event models and the trigger
// handlers that keep their derived state consistent.
package domain

import (
	"time"

	"github.com/louisbranch/revents/internal/services/triggers/docstore"
)

// Collection names.
const (
	UsersCollection  = "users"
	EventsCollection = "events"

	followingRoot = "following"
	userFollowing = "userFollowing"
	userFollowers = "userFollowers"
)

// Trigger path patterns.
const (
	FollowEdgePattern = "following/{followerUid}/userFollowing/{followeeUid}"
	EventPattern      = "events/{eventId}"
)

// User is a profile document under users/{uid}.
type User struct {
	UID            string    `json:"uid"`
	DisplayName    string    `json:"displayName"`
	PhotoURL       string    `json:"photoURL"`
	Email          string    `json:"email,omitempty"`
	FollowerCount  int64     `json:"followerCount"`
	FollowingCount int64     `json:"followingCount"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Summary is the point-in-time copy of a user stored on a follow edge.
type Summary struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
}

// SummaryOf copies the display fields of u.
func SummaryOf(u User) Summary {
	return Summary{UID: u.UID, DisplayName: u.DisplayName, PhotoURL: u.PhotoURL}
}

// Attendee is one entry of an event's attendee list.
type Attendee struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
}

// Event is an event document under events/{eventId}.
type Event struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Date         time.Time  `json:"date"`
	Category     string     `json:"category,omitempty"`
	Description  string     `json:"description,omitempty"`
	City         string     `json:"city,omitempty"`
	Venue        string     `json:"venue,omitempty"`
	HostUID      string     `json:"hostUid"`
	HostedBy     string     `json:"hostedBy"`
	HostPhotoURL string     `json:"hostPhotoURL"`
	Attendees    []Attendee `json:"attendees"`
	AttendeeIDs  []string   `json:"attendeeIds"`
	IsCancelled  bool       `json:"isCancelled"`
}

// UserPath locates a user profile.
func UserPath(uid string) string {
	return docstore.Join(UsersCollection, uid)
}

// EventPath locates an event.
func EventPath(eventID string) string {
	return docstore.Join(EventsCollection, eventID)
}

// FollowingCollection is the forward index of the users uid follows.
func FollowingCollection(uid string) string {
	return docstore.Join(followingRoot, uid, userFollowing)
}

// FollowersCollection is the reverse index of the users following uid.
func FollowersCollection(uid string) string {
	return docstore.Join(followingRoot, uid, userFollowers)
}

// FollowingPath is the forward edge written by the follower.
func FollowingPath(followerUID, followeeUID string) string {
	return docstore.Join(FollowingCollection(followerUID), followeeUID)
}

// FollowerPath is the reverse edge maintained by the follow graph handler.
func FollowerPath(followeeUID, followerUID string) string {
	return docstore.Join(FollowersCollection(followeeUID), followerUID)
}
