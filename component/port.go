package component

import (
	"fmt"

	"github.com/c360/mediacompose/media"
)

// Direction for data flow
type Direction string

// Direction constants for port data flow
const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Port describes one stream endpoint of a component.
type Port struct {
	Name        string           `json:"name"`
	Direction   Direction        `json:"direction"`
	Kind        media.StreamKind `json:"kind"`
	Subject     string           `json:"subject,omitempty"`
	Required    bool             `json:"required"`
	Description string           `json:"description"`
}

func (p Port) String() string {
	if p.Subject != "" {
		return fmt.Sprintf("%s %s (%s) on %s", p.Direction, p.Name, p.Kind, p.Subject)
	}
	return fmt.Sprintf("%s %s (%s)", p.Direction, p.Name, p.Kind)
}
