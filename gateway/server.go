package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/smallnest/tracker/config"
	"github.com/smallnest/tracker/internal/logger"
	"github.com/smallnest/tracker/tracker"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server HTTP 网关服务器，REST 与 JSON-RPC over WebSocket 共用一个端口
type Server struct {
	config        *config.GatewayConfig
	svc           *tracker.Service
	files         *tracker.FileStore
	server        *http.Server
	handler       *Handler
	mu            sync.RWMutex
	running       bool
	addr          string
	connections   map[string]*Connection
	connectionsMu sync.RWMutex
}

// NewServer 创建网关服务器
func NewServer(cfg *config.GatewayConfig, svc *tracker.Service, files *tracker.FileStore) *Server {
	return &Server{
		config:      cfg,
		svc:         svc,
		files:       files,
		handler:     NewHandler(svc),
		connections: make(map[string]*Connection),
	}
}

// Handler 构建路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("/health", s.handleHealth)

	s.registerREST(mux)

	if ws := s.config.WebSocket; ws.Enabled {
		mux.HandleFunc(ws.Path, s.handleWebSocket)
	}

	return mux
}

// Start 启动服务器，监听成功后返回
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.addr = ln.Addr().String()
	s.running = true
	s.mu.Unlock()

	go func() {
		logger.Info("HTTP gateway server started",
			zap.String("addr", ln.Addr().String()),
			zap.Bool("websocket", s.config.WebSocket.Enabled),
		)

		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP gateway server error", zap.Error(err))
		}
	}()

	// 监听上下文取消
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Addr returns the bound listen address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Stop 停止服务器
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	// 关闭所有 WebSocket 连接
	s.closeAllConnections()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.server.Shutdown(ctx); err != nil {
			logger.Error("Failed to shutdown HTTP gateway server", zap.Error(err))
			return err
		}
	}

	logger.Info("Gateway server stopped")
	return nil
}

// IsRunning 检查是否运行中
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// closeAllConnections 关闭所有 WebSocket 连接
func (s *Server) closeAllConnections() {
	s.connectionsMu.Lock()
	defer s.connectionsMu.Unlock()

	for id, conn := range s.connections {
		conn.Close()
		delete(s.connections, id)
	}
}

// addConnection 添加连接
func (s *Server) addConnection(conn *Connection) {
	s.connectionsMu.Lock()
	defer s.connectionsMu.Unlock()
	s.connections[conn.ID] = conn
}

// removeConnection 移除连接
func (s *Server) removeConnection(id string) {
	s.connectionsMu.Lock()
	defer s.connectionsMu.Unlock()
	delete(s.connections, id)
}

// ConnectionCount 当前 WebSocket 连接数
func (s *Server) ConnectionCount() int {
	s.connectionsMu.RLock()
	defer s.connectionsMu.RUnlock()
	return len(s.connections)
}

// handleHealth 健康检查处理器
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// handleWebSocket WebSocket 连接处理器
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// 升级到 WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}

	connection := NewConnection(conn, s.config.WebSocket)
	s.addConnection(connection)

	logger.Info("WebSocket connection established",
		zap.String("session_id", connection.ID),
		zap.String("remote_addr", r.RemoteAddr),
	)

	// 发送欢迎消息
	welcome := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "connected",
		"params": map[string]interface{}{
			"session_id": connection.ID,
			"version":    ProtocolVersion,
		},
	}
	if err := connection.SendJSON(welcome); err != nil {
		logger.Warn("Failed to send welcome message", zap.Error(err))
	}

	// 启动心跳
	go connection.heartbeat()

	// 处理消息
	go s.handleWebSocketMessages(connection)
}

// handleWebSocketMessages 处理 WebSocket 消息
func (s *Server) handleWebSocketMessages(conn *Connection) {
	log := logger.With(zap.String("session_id", conn.ID))
	defer func() {
		conn.Close()
		s.removeConnection(conn.ID)
		log.Info("WebSocket connection closed")
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		// 只处理文本消息
		if messageType != websocket.TextMessage {
			continue
		}

		// 解析请求
		req, err := ParseRequest(data)
		if err != nil {
			log.Debug("Failed to parse WebSocket message", zap.Error(err))
			code, msg := ErrorParseError, "Parse error"
			if _, ok := err.(*InvalidRequestError); ok {
				code, msg = ErrorInvalidRequest, err.Error()
			}
			conn.SendResponse(NewErrorResponse("", code, msg))
			continue
		}

		log.Debug("WebSocket request", zap.String("method", req.Method))

		resp := s.handler.HandleRequest(context.Background(), conn.ID, req)

		// 通知不需要响应
		if req.ID == "" {
			continue
		}
		if err := conn.SendResponse(resp); err != nil {
			log.Error("Failed to send WebSocket response", zap.Error(err))
		}
	}
}

// Connection WebSocket 连接
type Connection struct {
	*websocket.Conn
	ID           string
	pingInterval time.Duration
	pongTimeout  time.Duration
	mu           sync.Mutex
	done         chan struct{}
	closeOnce    sync.Once
}

// NewConnection 创建连接
func NewConnection(ws *websocket.Conn, cfg config.WebSocketConfig) *Connection {
	c := &Connection{
		Conn:         ws,
		ID:           uuid.New().String(),
		pingInterval: cfg.PingInterval,
		pongTimeout:  cfg.PongTimeout,
		done:         make(chan struct{}),
	}
	if cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(cfg.MaxMessageSize)
	}
	if c.pongTimeout > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
		})
	}
	return c
}

// SendJSON 发送 JSON 消息
func (c *Connection) SendJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.WriteJSON(v)
}

// SendResponse 发送 JSON-RPC 响应
func (c *Connection) SendResponse(resp *JSONRPCResponse) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	return c.SendMessage(websocket.TextMessage, data)
}

// SendMessage 发送消息
func (c *Connection) SendMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.WriteMessage(messageType, data)
}

// heartbeat 心跳，连接关闭后退出
func (c *Connection) heartbeat() {
	if c.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Close 关闭连接
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		defer c.mu.Unlock()

		// 发送关闭帧
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))

		err = c.Conn.Close()
	})
	return err
}

