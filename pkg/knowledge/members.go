package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const membersFile = "members.json"

// Members maps a lowercase display name to a chat-platform identity.
type Members map[string]string

// LoadMembers reads the member registry; a missing file is an empty
// registry.
func (l *Library) LoadMembers() (Members, error) {
	data, err := os.ReadFile(filepath.Join(l.dir, membersFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Members{}, nil
		}
		return nil, fmt.Errorf("knowledge: load members: %w", err)
	}
	var members Members
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, fmt.Errorf("knowledge: parse members: %w", err)
	}
	if members == nil {
		members = Members{}
	}
	return members, nil
}

func (l *Library) saveMembers(members Members) error {
	data, err := json.MarshalIndent(members, "", "  ")
	if err != nil {
		return err
	}
	release, err := l.locks.acquire(membersFile)
	if err != nil {
		return err
	}
	defer release()

	tmp := filepath.Join(l.dir, "."+membersFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("knowledge: save members: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(l.dir, membersFile)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("knowledge: save members: %w", err)
	}
	return nil
}

// RegisterMember upserts a name to chat identity mapping.
func (l *Library) RegisterMember(name, chatID string) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return fmt.Errorf("member name is required")
	}
	members, err := l.LoadMembers()
	if err != nil {
		return err
	}
	members[key] = chatID
	return l.saveMembers(members)
}

// UnregisterMember removes a name; unknown names are reported.
func (l *Library) UnregisterMember(name string) error {
	key := strings.ToLower(strings.TrimSpace(name))
	members, err := l.LoadMembers()
	if err != nil {
		return err
	}
	if _, ok := members[key]; !ok {
		return fmt.Errorf("%q is not registered", name)
	}
	delete(members, key)
	return l.saveMembers(members)
}

// MemberNameByChatID reverse-looks-up a registered name.
func (l *Library) MemberNameByChatID(chatID string) (string, bool) {
	members, err := l.LoadMembers()
	if err != nil {
		return "", false
	}
	for name, id := range members {
		if id == chatID {
			return name, true
		}
	}
	return "", false
}

// MemberNames returns registered names, sorted.
func (l *Library) MemberNames() []string {
	members, err := l.LoadMembers()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
