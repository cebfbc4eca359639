package telegram

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
)

var messageLinkPattern = regexp.MustCompile(`^https?://t\.me/(?:c/(\d+)|([a-zA-Z0-9_]{5,}))/(\d+)$`)

// MessageLink builds the t.me link of a message. Chats without a public
// username get the private /c/ form.
func MessageLink(chat telego.Chat, messageID int) string {
	if chat.Username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", chat.Username, messageID)
	}
	internal := strconv.FormatInt(chat.ID, 10)
	internal = strings.TrimPrefix(internal, "-")
	if chat.ID < 0 && len(internal) > 3 {
		internal = strings.TrimPrefix(internal, "100")
	}
	return fmt.Sprintf("https://t.me/c/%s/%d", internal, messageID)
}

// ParseMessageLink is the inverse of MessageLink.
func ParseMessageLink(link string) (telego.ChatID, int, error) {
	m := messageLinkPattern.FindStringSubmatch(strings.TrimSpace(link))
	if m == nil {
		return telego.ChatID{}, 0, fmt.Errorf("not a message link: %q", link)
	}
	msgID, err := strconv.Atoi(m[3])
	if err != nil || msgID <= 0 {
		return telego.ChatID{}, 0, fmt.Errorf("bad message id in %q", link)
	}
	if m[1] != "" {
		id, err := strconv.ParseInt("-100"+m[1], 10, 64)
		if err != nil {
			return telego.ChatID{}, 0, fmt.Errorf("bad chat id in %q", link)
		}
		return telego.ChatID{ID: id}, msgID, nil
	}
	return telego.ChatID{Username: "@" + m[2]}, msgID, nil
}
