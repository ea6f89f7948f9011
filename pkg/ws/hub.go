package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType WebSocket 消息类型
const (
	MsgTypeMeterUpdate   = "meter_update"   // 电表最新状态变更
	MsgTypeVehicleUpdate = "vehicle_update" // 车辆最新状态变更
	MsgTypeError         = "error"          // 错误消息
)

const sendBuffer = 256

// Message WebSocket 消息结构
type Message struct {
	Type     string      `json:"type"`
	DeviceID string      `json:"deviceId"`
	Data     interface{} `json:"data"`
}

// update 待分发的消息，deviceID 用于按订阅过滤
type update struct {
	deviceID string
	payload  []byte
}

// Client WebSocket 客户端，deviceID 为空时接收全部设备的更新
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	deviceID string
	send     chan []byte
}

// wants 客户端是否订阅了该设备
func (c *Client) wants(deviceID string) bool {
	return c.deviceID == "" || c.deviceID == deviceID
}

// Hub 最新状态推送中心
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]struct{}
	updates    chan update
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub 创建 Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]struct{}),
		updates:    make(chan update, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run 分发循环，ctx 取消后关闭所有客户端
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client subscribed",
				zap.String("device_id", client.deviceID),
				zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client unsubscribed", zap.Int("total_clients", total))

		case u := <-h.updates:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(u.deviceID) {
					continue
				}
				select {
				case client.send <- u.payload:
				default:
					h.logger.Warn("Dropping slow websocket client", zap.String("device_id", client.deviceID))
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop 调用方持有写锁
func (h *Hub) drop(client *Client) {
	close(client.send)
	delete(h.clients, client)
}

// Publish 推送某设备的状态更新，队列满时丢弃
func (h *Hub) Publish(msgType, deviceID string, data interface{}) {
	payload, err := json.Marshal(Message{Type: msgType, DeviceID: deviceID, Data: data})
	if err != nil {
		h.logger.Error("Failed to marshal websocket message",
			zap.String("type", msgType),
			zap.String("device_id", deviceID),
			zap.Error(err))
		return
	}

	select {
	case h.updates <- update{deviceID: deviceID, payload: payload}:
	default:
		h.logger.Warn("WebSocket update queue full, dropping message",
			zap.String("type", msgType),
			zap.String("device_id", deviceID))
	}
}

// ClientCount 当前订阅数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewClient 创建客户端，deviceID 为空表示订阅全部设备
func NewClient(hub *Hub, conn *websocket.Conn, deviceID string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		deviceID: deviceID,
		send:     make(chan []byte, sendBuffer),
	}
}

// Register 注册客户端，Hub 已停止时直接关闭连接
func (c *Client) Register() {
	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		c.conn.Close()
	}
}

// Unregister 注销客户端
func (c *Client) Unregister() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// ReadPump 丢弃客户端消息，读失败时注销
func (c *Client) ReadPump() {
	defer func() {
		c.Unregister()
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// WritePump 发送消息直到 send 被关闭
func (c *Client) WritePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}
