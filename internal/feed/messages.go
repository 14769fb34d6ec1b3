package feed

import (
	"github.com/iambrandonn/bmoffice/internal/engine"
	"github.com/iambrandonn/bmoffice/internal/office"
)

// Message types sent by the hub
const (
	TypeHello    = "hello"
	TypeEvent    = "event"
	TypeSelected = "selected"
	TypeError    = "error"
)

// Message types accepted from clients
const (
	TypeSelectCompany = "select_company"
	TypeSelectActor   = "select_actor"
)

// Hello is the first message on every connection
type Hello struct {
	Type         string              `json:"type"`
	CompanyID    string              `json:"company_id,omitempty"`
	Connectivity engine.Connectivity `json:"connectivity"`
	Selected     string              `json:"selected,omitempty"`
	Actors       []office.Actor      `json:"actors"`
}

// EventMessage carries one engine event
type EventMessage struct {
	Type  string       `json:"type"`
	Event engine.Event `json:"event"`
}

// SelectedMessage confirms an actor selection
type SelectedMessage struct {
	Type    string `json:"type"`
	ActorID string `json:"actor_id"`
}

// ErrorMessage reports a rejected client request
type ErrorMessage struct {
	Type    string `json:"type"`
	Request string `json:"request"`
	Error   string `json:"error"`
}

// ClientMessage is a request from a client
type ClientMessage struct {
	Type      string `json:"type"`
	CompanyID string `json:"company_id,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`
}
