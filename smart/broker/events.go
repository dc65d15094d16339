package broker

import (
	"time"

	"github.com/SanteonNL/orca/smarthost/events"
	"github.com/SanteonNL/orca/smarthost/messaging"
)

var (
	RequestEntity  = messaging.Entity{Name: "smart-requests"}
	ResponseEntity = messaging.Entity{Name: "smart-responses"}
)

// Entities returns the messaging entities the SMART message broker sends to and receives from.
func Entities() []messaging.Entity {
	return []messaging.Entity{RequestEntity, ResponseEntity}
}

var _ events.Type = SmartRequest{}
var _ events.Expiring = SmartRequest{}

// SmartRequest is published when a SMART app sends a request, to be handled by the message handler for its type.
type SmartRequest struct {
	DesktopID   string  `json:"desktopId"`
	ContainerID string  `json:"containerId"`
	Request     Message `json:"request"`
	// TTL overrides DefaultTimeToLive for the published message.
	TTL time.Duration `json:"-"`
}

func (s SmartRequest) Entity() messaging.Entity {
	return RequestEntity
}

func (s SmartRequest) Instance() events.Type {
	return &SmartRequest{}
}

// TimeToLive makes the message broker discard requests nobody picked up before the app stopped waiting for them.
func (s SmartRequest) TimeToLive() time.Duration {
	return timeToLiveOrDefault(s.TTL)
}

var _ events.Type = SmartResponse{}
var _ events.Expiring = SmartResponse{}

// SmartResponse is published by a message handler to answer a SmartRequest.
type SmartResponse struct {
	DesktopID string  `json:"desktopId"`
	Response  Message `json:"response"`
	// TTL overrides DefaultTimeToLive for the published message.
	TTL time.Duration `json:"-"`
}

func (s SmartResponse) Entity() messaging.Entity {
	return ResponseEntity
}

func (s SmartResponse) Instance() events.Type {
	return &SmartResponse{}
}

func (s SmartResponse) TimeToLive() time.Duration {
	return timeToLiveOrDefault(s.TTL)
}

func timeToLiveOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTimeToLive
	}
	return ttl
}
