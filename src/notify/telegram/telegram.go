package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

var client = &http.Client{Timeout: 10 * time.Second}

// SendMessage 调用 Bot API 发送文本消息
// withNotification 为 false 时静默推送
func SendMessage(botToken, chatID, text string, withNotification bool) error {
	if botToken == "" || chatID == "" {
		return fmt.Errorf("telegram bot token or chat id is empty")
	}

	payload, err := json.Marshal(map[string]interface{}{
		"chat_id":              chatID,
		"text":                 text,
		"disable_notification": !withNotification,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", botToken)
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram api returned status %d", resp.StatusCode)
	}
	return nil
}
