package telegram

import (
	"slices"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"omnigate/internal/domain"
)

// directory remembers the users and group chats seen in updates. The Bot
// API cannot list either, so FetchContacts and FetchGroups read from here.
type directory struct {
	mu    sync.Mutex
	users map[string]domain.ContactInfo
	chats map[string]domain.GroupInfo
	// members tracks senders per group chat.
	members map[string]map[string]bool
}

func newDirectory() *directory {
	return &directory{
		users:   make(map[string]domain.ContactInfo),
		chats:   make(map[string]domain.GroupInfo),
		members: make(map[string]map[string]bool),
	}
}

func (d *directory) observe(m *tgbotapi.Message) {
	if m == nil || m.Chat == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var userID string
	if u := m.From; u != nil {
		userID = strconv.FormatInt(u.ID, 10)
		d.users[userID] = domain.ContactInfo{ID: userID, Name: userName(u), DisplayName: u.UserName, IsBot: u.IsBot}
	}
	if m.Chat.IsPrivate() {
		return
	}
	id := chatID(m.Chat)
	d.chats[id] = domain.GroupInfo{ID: id, Name: firstNonEmpty(m.Chat.Title, m.Chat.UserName)}
	if userID != "" {
		if d.members[id] == nil {
			d.members[id] = make(map[string]bool)
		}
		d.members[id][userID] = true
	}
}

func (d *directory) contacts() []domain.ContactInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.ContactInfo, 0, len(d.users))
	for _, c := range d.users {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.ContactInfo) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func (d *directory) groups() []domain.GroupInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.GroupInfo, 0, len(d.chats))
	for id, g := range d.chats {
		for member := range d.members[id] {
			g.Participants = append(g.Participants, member)
		}
		slices.Sort(g.Participants)
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b domain.GroupInfo) int { return strings.Compare(a.ID, b.ID) })
	return out
}
