package transport

import (
	"context"
	"errors"
)

// ErrChannelNotFound сигнализирует, что канал сотрудников больше не существует
// (удалён извне). Relay Engine по этой ошибке прозрачно перепривязывает тикет.
var ErrChannelNotFound = errors.New("канал не найден")

// Transport — абстракция чат-транспорта. Сам транспорт — внешний
// коллаборатор: подсистема маршрутизации знает только эти четыре операции.
type Transport interface {
	// SendMessage доставляет текст по адресу target и возвращает ID
	// сообщения в транспорте. target — ID чата клиента или адрес канала
	// из ChannelTarget.
	SendMessage(ctx context.Context, target, text string) (externalID string, err error)

	// CreateChannel создаёт канал на стороне сотрудников и возвращает его ID
	CreateChannel(ctx context.Context, title string) (channelID string, err error)

	// GetChannelMembers возвращает ID участников канала
	GetChannelMembers(ctx context.Context, channelID string) ([]string, error)

	// CloseChannel закрывает (архивирует) канал
	CloseChannel(ctx context.Context, channelID string) error
}

// ChannelTarget превращает ID канала в адрес доставки для SendMessage
func ChannelTarget(channelID string) string {
	return "channel:" + channelID
}
