package models

import (
	"time"

	"github.com/google/uuid"
)

type EndMethod string

const (
	EndMethodNormal         EndMethod = "Normal"
	EndMethodForced         EndMethod = "Forced"
	EndMethodTimeout        EndMethod = "Timeout"
	EndMethodAdministrative EndMethod = "Administrative"
)

func (m EndMethod) Valid() bool {
	switch m {
	case EndMethodNormal, EndMethodForced, EndMethodTimeout, EndMethodAdministrative:
		return true
	}
	return false
}

type Session struct {
	ID            uuid.UUID  `json:"id" example:"a1b2c3d4-e5f6-7890-1234-567890abcdef"`
	UserID        int64      `json:"userId" example:"7"`
	ComputerID    int64      `json:"computerId" example:"3"`
	StartTime     time.Time  `json:"startDateTime"`
	EndTime       *time.Time `json:"endDateTime,omitempty"`
	IsActive      bool       `json:"isActive"`
	EndMethod     *EndMethod `json:"endMethod,omitempty" swaggertype:"string" enums:"Normal,Forced,Timeout,Administrative"`
	LastHeartbeat time.Time  `json:"lastHeartbeat"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// SessionDetails is a session joined with the names of its user and computer.
type SessionDetails struct {
	Session
	UserName     string
	ComputerName string
}

// SessionDescriptor is the wire shape of a session.
type SessionDescriptor struct {
	ID              uuid.UUID  `json:"id"`
	UserID          int64      `json:"userId"`
	UserName        string     `json:"userName,omitempty"`
	ComputerID      int64      `json:"computerId"`
	ComputerName    string     `json:"computerName,omitempty"`
	StartDateTime   time.Time  `json:"startDateTime"`
	EndDateTime     *time.Time `json:"endDateTime,omitempty"`
	IsActive        bool       `json:"isActive"`
	EndMethod       *EndMethod `json:"endMethod,omitempty" swaggertype:"string" enums:"Normal,Forced,Timeout,Administrative"`
	LastHeartbeat   *time.Time `json:"lastHeartbeat,omitempty"`
	DurationMinutes *int64     `json:"durationMinutes,omitempty"`
}

// Describe renders d as a descriptor. The duration runs to the end time of an
// ended session and to now for an active one; otherwise it is absent.
func Describe(d SessionDetails, now time.Time) SessionDescriptor {
	desc := SessionDescriptor{
		ID:            d.ID,
		UserID:        d.UserID,
		UserName:      d.UserName,
		ComputerID:    d.ComputerID,
		ComputerName:  d.ComputerName,
		StartDateTime: d.StartTime,
		EndDateTime:   d.EndTime,
		IsActive:      d.IsActive,
		EndMethod:     d.EndMethod,
	}
	if !d.LastHeartbeat.IsZero() {
		hb := d.LastHeartbeat
		desc.LastHeartbeat = &hb
	}

	var minutes int64
	switch {
	case d.EndTime != nil:
		minutes = int64(d.EndTime.Sub(d.StartTime) / time.Minute)
	case d.IsActive:
		minutes = int64(now.Sub(d.StartTime) / time.Minute)
	default:
		return desc
	}
	if minutes < 0 {
		minutes = 0
	}
	desc.DurationMinutes = &minutes
	return desc
}
