// Package responder 提供一次性的本地 HTTP 服务：绑定系统分配端口，
// 对任意请求返回同一份固定页面，超时或显式停止后释放端口。
package responder

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"webclip/internal/logger"
)

// DefaultExpiry 会话默认存活时长
const DefaultExpiry = 300 * time.Second

// ErrBindFailed 无法绑定监听端口
var ErrBindFailed = errors.New("responder: bind failed")

const readBufferSize = 64 * 1024

// Config 配置选项
type Config struct {
	Host   string
	Expiry time.Duration
	Logger logger.Logger
}

// Responder 同一时刻最多只有一个活动会话
type Responder struct {
	mu     sync.Mutex
	host   string
	expiry time.Duration
	log    logger.Logger
	sess   *session
}

type session struct {
	ln       net.Listener
	port     uint16
	response []byte
	timer    *time.Timer
	deadline time.Time
}

// New 创建 Responder
func New(cfg Config) *Responder {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultExpiry
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Responder{host: cfg.Host, expiry: cfg.Expiry, log: cfg.Logger}
}

// Start 启动新会话并返回端口；已有会话会先被停止
func (r *Responder) Start(payload []byte) (uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopLocked()

	ln, err := net.Listen("tcp", net.JoinHostPort(r.host, "0"))
	if err != nil {
		r.log.Err(err, "本地服务绑定端口失败", "host", r.host)
		return 0, fmt.Errorf("%w: %v", ErrBindFailed, err)
	}
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		_ = ln.Close()
		return 0, fmt.Errorf("%w: unexpected listener address %s", ErrBindFailed, ln.Addr())
	}

	s := &session{
		ln:       ln,
		port:     uint16(addr.Port),
		response: buildResponse(payload),
		deadline: time.Now().Add(r.expiry),
	}
	s.timer = time.AfterFunc(r.expiry, func() { r.expire(s) })
	r.sess = s

	go r.acceptLoop(s)

	r.log.Info("本地服务已启动", "port", s.port, "bytes", len(payload), "expiry", r.expiry.String())
	return s.port, nil
}

// Stop 停止当前会话，无会话时为空操作
func (r *Responder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

// Port 当前会话端口
func (r *Responder) Port() (uint16, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return 0, false
	}
	return r.sess.port, true
}

// Active 是否存在活动会话
func (r *Responder) Active() bool {
	_, ok := r.Port()
	return ok
}

// Deadline 当前会话的过期时间
func (r *Responder) Deadline() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return time.Time{}, false
	}
	return r.sess.deadline, true
}

// URL 返回可交给系统浏览器的地址
func URL(port uint16) string {
	return "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))) + "/"
}

func (r *Responder) stopLocked() {
	s := r.sess
	if s == nil {
		return
	}
	r.sess = nil
	s.timer.Stop()
	if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		r.log.Warn("关闭监听失败", "port", s.port, "error", err)
	}
	r.log.Info("本地服务已停止", "port", s.port)
}

// expire 只停止触发计时器的那个会话
func (r *Responder) expire(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess != s {
		return
	}
	r.log.Info("本地服务到期自动停止", "port", s.port)
	r.stopLocked()
}

func (r *Responder) acceptLoop(s *session) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.log.Debug("接受连接失败", "port", s.port, "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		go r.serve(conn, s.response)
	}
}

// serve 读取至少一个字节后写出固定响应并关闭连接，连接级错误一律丢弃
func (r *Responder) serve(conn net.Conn, response []byte) {
	defer conn.Close()

	buf := make([]byte, readBufferSize)
	n, err := conn.Read(buf)
	if n == 0 {
		r.log.Debug("客户端未发送数据即断开", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	if _, err := conn.Write(response); err != nil {
		r.log.Debug("写出响应失败", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
}

func buildResponse(payload []byte) []byte {
	header := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"Content-Length: " + strconv.Itoa(len(payload)) + "\r\n" +
		"Cache-Control: no-cache\r\n" +
		"Connection: close\r\n\r\n"
	out := make([]byte, 0, len(header)+len(payload))
	out = append(out, header...)
	return append(out, payload...)
}
