package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Telegram — тонкая привязка Transport к Bot API.
// Каналы тикетов реализованы темами (forum topics) супергруппы сотрудников.
type Telegram struct {
	token        string
	staffGroupID string // супергруппа с включёнными темами
	httpClient   *http.Client
}

// NewTelegram создаёт транспорт поверх Bot API
func NewTelegram(token, staffGroupID string) *Telegram {
	return &Telegram{
		token:        token,
		staffGroupID: staffGroupID,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (t *Telegram) call(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	endpoint := "https://api.telegram.org/bot" + t.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("telegram %s: разбор ответа: %w", method, err)
	}
	if !out.OK {
		// Тема удалена или заархивирована — сообщаем вызывающему о потере канала
		desc := strings.ToLower(out.Description)
		if strings.Contains(desc, "thread not found") || strings.Contains(desc, "topic_deleted") || strings.Contains(desc, "topic_closed") {
			return nil, ErrChannelNotFound
		}
		return nil, fmt.Errorf("telegram %s: %s", method, out.Description)
	}
	return out.Result, nil
}

// SendMessage доставляет текст в чат клиента или в тему группы сотрудников
func (t *Telegram) SendMessage(ctx context.Context, target, text string) (string, error) {
	params := url.Values{}
	if topicID, ok := strings.CutPrefix(target, "channel:"); ok {
		params.Set("chat_id", t.staffGroupID)
		params.Set("message_thread_id", topicID)
	} else {
		params.Set("chat_id", target)
	}
	params.Set("text", text)

	raw, err := t.call(ctx, "sendMessage", params)
	if err != nil {
		return "", err
	}
	var result struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("sendMessage: разбор результата: %w", err)
	}
	return strconv.FormatInt(result.MessageID, 10), nil
}

// CreateChannel создаёт тему в супергруппе сотрудников
func (t *Telegram) CreateChannel(ctx context.Context, title string) (string, error) {
	params := url.Values{}
	params.Set("chat_id", t.staffGroupID)
	params.Set("name", title)

	raw, err := t.call(ctx, "createForumTopic", params)
	if err != nil {
		return "", err
	}
	var result struct {
		MessageThreadID int64 `json:"message_thread_id"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("createForumTopic: разбор результата: %w", err)
	}
	return strconv.FormatInt(result.MessageThreadID, 10), nil
}

// GetChannelMembers возвращает ID администраторов группы сотрудников.
// Темы наследуют участников супергруппы, отдельного списка у них нет.
func (t *Telegram) GetChannelMembers(ctx context.Context, channelID string) ([]string, error) {
	params := url.Values{}
	params.Set("chat_id", t.staffGroupID)

	raw, err := t.call(ctx, "getChatAdministrators", params)
	if err != nil {
		return nil, err
	}
	var result []struct {
		User struct {
			ID int64 `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("getChatAdministrators: разбор результата: %w", err)
	}
	members := make([]string, 0, len(result))
	for _, m := range result {
		members = append(members, strconv.FormatInt(m.User.ID, 10))
	}
	return members, nil
}

// CloseChannel закрывает тему тикета
func (t *Telegram) CloseChannel(ctx context.Context, channelID string) error {
	params := url.Values{}
	params.Set("chat_id", t.staffGroupID)
	params.Set("message_thread_id", channelID)

	_, err := t.call(ctx, "closeForumTopic", params)
	return err
}
