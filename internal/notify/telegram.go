package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TelegramClient resolves handles and delivers messages through the
// Telegram Bot API. Resolution scans the bot's recent updates: someone
// appears there only after messaging the bot, which is why Link asks
// users to start a conversation first.
type TelegramClient struct {
	apiBase string
	token   string
	client  *http.Client
}

func NewTelegramClient(apiBase, token string) *TelegramClient {
	return &TelegramClient{
		apiBase: strings.TrimRight(apiBase, "/"),
		token:   token,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type telegramUpdates struct {
	OK     bool `json:"ok"`
	Result []struct {
		Message struct {
			From struct {
				Username string `json:"username"`
			} `json:"from"`
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	} `json:"result"`
}

func (t *TelegramClient) Resolve(ctx context.Context, handle string) (int64, error) {
	url := fmt.Sprintf("%s/bot%s/getUpdates", t.apiBase, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("error fetching updates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status)
	}

	var data telegramUpdates
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return 0, fmt.Errorf("error decoding updates: %w", err)
	}

	// Latest update wins if the same user messaged more than once.
	var chatID int64
	found := false
	for _, u := range data.Result {
		if strings.ToLower(u.Message.From.Username) == handle {
			chatID = u.Message.Chat.ID
			found = true
		}
	}
	if !found {
		return 0, fmt.Errorf("%w: no conversation from @%s", ErrNotFound, handle)
	}

	return chatID, nil
}

func (t *TelegramClient) Send(ctx context.Context, chatID int64, text string) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("error encoding message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status)
	}

	return nil
}
