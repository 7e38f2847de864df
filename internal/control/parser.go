// Package control decodes control messages sent by the remote viewer.
// The channel is fed by an untrusted peer, so every decoding failure is a
// ParseError that callers log and drop.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

type Kind string

const (
	KindPointer Kind = "pointer"
	KindGesture Kind = "gesture"
)

type Phase string

const (
	PhaseDown Phase = "down"
	PhaseMove Phase = "move"
	PhaseUp   Phase = "up"
)

type GestureType string

const (
	GestureTap       GestureType = "tap"
	GestureDoubleTap GestureType = "doubleTap"
	GestureLongPress GestureType = "longPress"
	GestureSwipe     GestureType = "swipe"
	GesturePinch     GestureType = "pinch"
)

// Event is one decoded control message. Fields not meaningful for the
// event's kind are zero.
type Event struct {
	Kind Kind

	// Pointer events.
	PointerID int
	Phase     Phase

	// Gesture events.
	Gesture GestureType

	X, Y       float64
	EndX, EndY float64
	Scale      float64
}

func (e Event) String() string {
	if e.Kind == KindPointer {
		return fmt.Sprintf("pointer %d %s (%g,%g)", e.PointerID, e.Phase, e.X, e.Y)
	}
	return fmt.Sprintf("gesture %s (%g,%g)", e.Gesture, e.X, e.Y)
}

var (
	ErrMalformed    = errors.New("malformed message")
	ErrUnknownKind  = errors.New("unknown message kind")
	ErrMissingField = errors.New("missing required field")
	ErrInvalidValue = errors.New("invalid field value")
)

// ParseError wraps one of the Err* reasons with the offending message.
type ParseError struct {
	Reason error
	Detail string
	Raw    []byte
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return "control: " + e.Reason.Error()
	}
	return fmt.Sprintf("control: %v: %s", e.Reason, e.Detail)
}

func (e *ParseError) Unwrap() error { return e.Reason }

const maxRawInError = 256

func parseErr(raw []byte, reason error, format string, args ...any) *ParseError {
	if len(raw) > maxRawInError {
		raw = raw[:maxRawInError]
	}
	return &ParseError{Reason: reason, Detail: fmt.Sprintf(format, args...), Raw: append([]byte(nil), raw...)}
}

// wireMessage is the union of every accepted message shape.
//
//	{"type":"touchEvent","x":..,"y":..,"action":"down"|"move"|"up"}
//	{"touchType":"tap"|"doubleTap"|"longPress","x":..,"y":..}
//	{"touchType":"swipe","x":..,"y":..,"endX":..,"endY":..}
//	{"touchType":"pinch","scale":..}
type wireMessage struct {
	Type      *string  `json:"type"`
	TouchType *string  `json:"touchType"`
	Action    *string  `json:"action"`
	PointerID *float64 `json:"pointerId"`
	X         *float64 `json:"x"`
	Y         *float64 `json:"y"`
	EndX      *float64 `json:"endX"`
	EndY      *float64 `json:"endY"`
	Scale     *float64 `json:"scale"`
}

// Parse decodes one raw control message.
func Parse(raw []byte) (Event, error) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{}, parseErr(raw, ErrMalformed, "%v", err)
	}

	switch {
	case msg.TouchType != nil:
		return parseGesture(raw, &msg)
	case msg.Type != nil && *msg.Type == "touchEvent":
		return parsePointer(raw, &msg)
	case msg.Type != nil:
		return Event{}, parseErr(raw, ErrUnknownKind, "type %q", *msg.Type)
	}
	return Event{}, parseErr(raw, ErrUnknownKind, "neither type nor touchType present")
}

func parsePointer(raw []byte, msg *wireMessage) (Event, error) {
	if msg.Action == nil {
		return Event{}, parseErr(raw, ErrMissingField, "action")
	}
	ev := Event{Kind: KindPointer, Phase: Phase(*msg.Action)}
	switch ev.Phase {
	case PhaseDown, PhaseMove, PhaseUp:
	default:
		return Event{}, parseErr(raw, ErrUnknownKind, "action %q", *msg.Action)
	}

	var err error
	if ev.X, ev.Y, err = requirePoint(raw, msg.X, msg.Y, "x", "y"); err != nil {
		return Event{}, err
	}
	if msg.PointerID != nil {
		id := *msg.PointerID
		if id < 0 || id != math.Trunc(id) || id > math.MaxInt32 {
			return Event{}, parseErr(raw, ErrInvalidValue, "pointerId %g", id)
		}
		ev.PointerID = int(id)
	}
	return ev, nil
}

func parseGesture(raw []byte, msg *wireMessage) (Event, error) {
	ev := Event{Kind: KindGesture, Gesture: GestureType(*msg.TouchType)}

	var err error
	switch ev.Gesture {
	case GestureTap, GestureDoubleTap, GestureLongPress:
		ev.X, ev.Y, err = requirePoint(raw, msg.X, msg.Y, "x", "y")
	case GestureSwipe:
		if ev.X, ev.Y, err = requirePoint(raw, msg.X, msg.Y, "x", "y"); err == nil {
			ev.EndX, ev.EndY, err = requirePoint(raw, msg.EndX, msg.EndY, "endX", "endY")
		}
	case GesturePinch:
		if msg.Scale == nil {
			return Event{}, parseErr(raw, ErrMissingField, "scale")
		}
		ev.Scale = *msg.Scale
		if !(ev.Scale > 0) || math.IsInf(ev.Scale, 0) {
			return Event{}, parseErr(raw, ErrInvalidValue, "scale %g", ev.Scale)
		}
		// The pinch centre is optional.
		if msg.X != nil && msg.Y != nil {
			ev.X, ev.Y = *msg.X, *msg.Y
		}
	default:
		return Event{}, parseErr(raw, ErrUnknownKind, "touchType %q", *msg.TouchType)
	}
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}

func requirePoint(raw []byte, x, y *float64, xName, yName string) (float64, float64, error) {
	if x == nil {
		return 0, 0, parseErr(raw, ErrMissingField, "%s", xName)
	}
	if y == nil {
		return 0, 0, parseErr(raw, ErrMissingField, "%s", yName)
	}
	return *x, *y, nil
}
