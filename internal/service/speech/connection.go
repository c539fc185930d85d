package speech

import (
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// ConnectionOptions 浏览器播放通道的超时配置
type ConnectionOptions struct {
	ReadTimeout  time.Duration // 读取超时时间，收到 pong 后顺延
	WriteTimeout time.Duration // 单次写入超时时间
	PingInterval time.Duration // Ping间隔
}

// DefaultConnectionOptions 默认连接选项
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Client 包装一个浏览器 WebSocket 连接，实现 Sink。写操作串行化。
type Client struct {
	conn    *websocket.Conn
	options ConnectionOptions
	mu      sync.Mutex
}

// NewClient 创建播放通道客户端
func NewClient(conn *websocket.Conn, options ConnectionOptions) *Client {
	return &Client{conn: conn, options: options}
}

// Send 以 JSON 文本帧下发播放指令
func (c *Client) Send(cmd Command) error {
	data, err := sonic.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return c.write(websocket.TextMessage, data)
}

// SendJSON 下发任意 JSON 消息（连接确认等）
func (c *Client) SendJSON(payload any) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.write(websocket.TextMessage, data)
}

// Ping 发送心跳
func (c *Client) Ping() error {
	return c.write(websocket.PingMessage, nil)
}

// Close 关闭底层连接
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// ConnectionManager 按会话跟踪浏览器播放连接，关闭服务时统一断开
type ConnectionManager struct {
	connections map[string]*Client
	mu          sync.RWMutex
}

// NewConnectionManager 创建连接管理器
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*Client),
	}
}

// AddConnection 添加连接，已存在的旧连接会被关闭
func (cm *ConnectionManager) AddConnection(sessionID string, client *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if old, exists := cm.connections[sessionID]; exists && old != client {
		old.Close()
	}
	cm.connections[sessionID] = client
}

// RemoveConnection 移除并关闭连接；client 已被替换时不做处理
func (cm *ConnectionManager) RemoveConnection(sessionID string, client *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if current, exists := cm.connections[sessionID]; exists && current == client {
		current.Close()
		delete(cm.connections, sessionID)
	}
}

// Count 当前连接数
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// CloseAll 关闭所有连接
func (cm *ConnectionManager) CloseAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for sessionID, client := range cm.connections {
		client.Close()
		delete(cm.connections, sessionID)
	}
}
