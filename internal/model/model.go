// Package model defines the core domain types for the signup sheet system.
package model

import "time"

// Event represents a signup sheet created by an organizer.
type Event struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Date      time.Time `json:"date"`
	Capacity  int       `json:"capacity"`
	CreatedAt time.Time `json:"createdAt"`
	// Version counts committed signup changes. Snapshots with a lower
	// version than one already seen are stale.
	Version uint64 `json:"version"`
}

// Signup represents one name on an event's signup sheet.
type Signup struct {
	ID        string    `json:"-"`
	EventID   string    `json:"-"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// EventDetail is an event merged with its signups in creation order.
type EventDetail struct {
	Event   Event
	Signups []Signup
}

// EventSummary is the listing view of an event; it carries no signup detail.
type EventSummary struct {
	Event
	SignupCount int `json:"signupCount"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Title    string `json:"title"`
	Date     string `json:"date"`
	Capacity int    `json:"capacity"`
}

// SignupRequest is the payload for adding or removing a name.
type SignupRequest struct {
	Name string `json:"name"`
}

// EventResponse is the JSON view of an event with its computed partition.
type EventResponse struct {
	Event
	Signups    []Signup `json:"signups"`
	Confirmed  []Signup `json:"confirmed"`
	Waitlisted []Signup `json:"waitlisted"`
	IsFull     bool     `json:"isFull"`
	Viewers    int      `json:"viewers"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
