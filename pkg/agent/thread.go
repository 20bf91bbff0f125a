package agent

import (
	"fmt"
	"strings"
	"time"
)

// ThreadIdentity names the conversation a message belongs to.
// Persistent threads are keyed by channel and chat so everyone in a
// group chat shares one history.
type ThreadIdentity struct {
	Channel string
	ChatID  string
}

func (id ThreadIdentity) Validate() error {
	if strings.TrimSpace(id.Channel) == "" {
		return fmt.Errorf("missing channel")
	}
	if strings.TrimSpace(id.ChatID) == "" {
		return fmt.Errorf("missing chat id")
	}
	return nil
}

func (id ThreadIdentity) ThreadID() string {
	return strings.ToLower(strings.TrimSpace(id.Channel)) + ":" + strings.TrimSpace(id.ChatID)
}

func resolveThreadID(explicit, channel, chatID string) (string, error) {
	explicit = strings.TrimSpace(explicit)
	if explicit != "" {
		return explicit, nil
	}
	identity := ThreadIdentity{Channel: channel, ChatID: chatID}
	if err := identity.Validate(); err != nil {
		return "", fmt.Errorf("resolve thread identity: %w", err)
	}
	return identity.ThreadID(), nil
}

// EphemeralThreadID builds a dated thread id for a system-generated
// run. The date suffix is what the pruner keys retention on.
func EphemeralThreadID(prefix string, day time.Time) string {
	return prefix + day.Format("2006-01-02")
}
