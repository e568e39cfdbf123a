package conn

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrInvalidTarget = errors.New("invalid connection target")

type Phase string

const (
	PhaseLobby   Phase = "lobby"
	PhaseSession Phase = "session"
)

// Target addresses one room-scoped channel. The participant identity is part
// of the address; joining is implicit in connecting.
type Target struct {
	Base        string
	Phase       Phase
	Room        string
	Participant string
}

// Validate reports configuration errors before any network attempt.
func (t Target) Validate() error {
	u, err := url.Parse(t.Base)
	if err != nil {
		return fmt.Errorf("%w: base %q: %v", ErrInvalidTarget, t.Base, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: base %q must use ws or wss", ErrInvalidTarget, t.Base)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: base %q has no host", ErrInvalidTarget, t.Base)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("%w: base %q must not carry a query or fragment", ErrInvalidTarget, t.Base)
	}
	if t.Phase != PhaseLobby && t.Phase != PhaseSession {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidTarget, t.Phase)
	}
	if strings.TrimSpace(t.Room) == "" {
		return fmt.Errorf("%w: empty room", ErrInvalidTarget)
	}
	if strings.TrimSpace(t.Participant) == "" {
		return fmt.Errorf("%w: empty participant", ErrInvalidTarget)
	}
	return nil
}

// URL renders {base}/{phase}/{room}?participant={name}. Call Validate first.
func (t Target) URL() string {
	base := strings.TrimRight(t.Base, "/")
	q := url.Values{"participant": {t.Participant}}
	return fmt.Sprintf("%s/%s/%s?%s", base, t.Phase, url.PathEscape(t.Room), q.Encode())
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s as %s", t.Phase, t.Room, t.Participant)
}
