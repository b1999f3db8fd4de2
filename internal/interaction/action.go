// Package interaction defines the structured identifiers behind message
// affordances and the gate that decides who may trigger them.
package interaction

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the affordance a click triggers.
type Kind string

const (
	// KindDelete removes the rendered response.
	KindDelete Kind = "d"
	// KindWiden rerenders the response at full page width.
	KindWiden Kind = "w"
)

// Action is one clickable affordance. The owner is baked into the
// identifier when the affordance is attached, so authorization needs no
// lookup and survives cache eviction.
type Action struct {
	Kind  Kind
	Owner int64
}

// Encode serializes an action for callback data. The result stays well
// under Telegram's 64-byte callback_data limit.
func (a Action) Encode() string {
	return string(a.Kind) + ":" + strconv.FormatInt(a.Owner, 10)
}

// ParseAction decodes callback data produced by Encode. Unknown or
// malformed data yields an error; clicks on such data are ignored.
func ParseAction(data string) (Action, error) {
	kind, owner, ok := strings.Cut(data, ":")
	if !ok {
		return Action{}, fmt.Errorf("malformed action %q", data)
	}
	switch Kind(kind) {
	case KindDelete, KindWiden:
	default:
		return Action{}, fmt.Errorf("unknown action kind %q", kind)
	}
	id, err := strconv.ParseInt(owner, 10, 64)
	if err != nil {
		return Action{}, fmt.Errorf("malformed action owner %q: %w", owner, err)
	}
	return Action{Kind: Kind(kind), Owner: id}, nil
}

// ErrNotOwner is returned when someone other than the submitting user
// triggers an affordance.
var ErrNotOwner = errors.New("not the owner of this message")

// ErrUnknownCorrelation is returned when an affordance refers to state the
// correlation cache no longer holds, typically after a restart or sweep.
var ErrUnknownCorrelation = errors.New("interaction no longer remembered")

// Gate authorizes affordance clicks.
type Gate struct{}

func NewGate() *Gate {
	return &Gate{}
}

// Authorize permits an action only for the user it was attached for.
func (g *Gate) Authorize(actor int64, action Action) error {
	if actor != action.Owner {
		return ErrNotOwner
	}
	return nil
}
