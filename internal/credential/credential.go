package credential

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Mode selects which processor environment a credential authenticates against.
type Mode string

const (
	ModeSandbox Mode = "SANDBOX"
	ModeLive    Mode = "LIVE"
)

// ParseMode maps a free-form environment label onto a Mode. Only a
// case-insensitive "LIVE" selects the live environment.
func ParseMode(value string) Mode {
	if strings.EqualFold(strings.TrimSpace(value), string(ModeLive)) {
		return ModeLive
	}
	return ModeSandbox
}

// Credential is verified processor access for one principal. The zero value
// is not usable; construct with New.
type Credential struct {
	clientID     string
	clientSecret string
	mode         Mode
	createdAt    time.Time
}

// New builds a credential stamped with the current time.
func New(clientID, clientSecret string, mode Mode) Credential {
	return NewAt(clientID, clientSecret, mode, time.Now())
}

// NewAt builds a credential with an explicit creation time.
func NewAt(clientID, clientSecret string, mode Mode, createdAt time.Time) Credential {
	if mode != ModeLive {
		mode = ModeSandbox
	}
	return Credential{
		clientID:     clientID,
		clientSecret: clientSecret,
		mode:         mode,
		createdAt:    createdAt,
	}
}

func (c Credential) ClientID() string     { return c.clientID }
func (c Credential) ClientSecret() string { return c.clientSecret }
func (c Credential) Mode() Mode           { return c.mode }
func (c Credential) CreatedAt() time.Time { return c.createdAt }

// String renders the credential without its secret.
func (c Credential) String() string {
	return fmt.Sprintf("credential(client_id=%s mode=%s)", maskClientID(c.clientID), c.mode)
}

// MarshalZerologObject lets credentials be attached to log events without
// leaking the secret.
func (c Credential) MarshalZerologObject(e *zerolog.Event) {
	e.Str("client_id", maskClientID(c.clientID)).
		Str("mode", string(c.mode)).
		Time("created_at", c.createdAt)
}

func maskClientID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) <= 8 {
		return strings.Repeat("*", len(id))
	}
	return id[:4] + "..." + id[len(id)-4:]
}
