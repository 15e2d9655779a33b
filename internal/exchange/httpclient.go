// Package exchange предоставляет площадки исполнения фьючерсных ордеров
// и адаптер, через который торговое ядро открывает и закрывает позиции.
package exchange

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTPClientConfig содержит настройки HTTP клиента для REST API бирж
type HTTPClientConfig struct {
	ConnectTimeout        time.Duration // установка TCP соединения
	ResponseHeaderTimeout time.Duration // ожидание заголовков ответа
	TotalTimeout          time.Duration // вся операция целиком

	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	TLSHandshakeTimeout time.Duration
	KeepAliveInterval   time.Duration
}

// DefaultHTTPClientConfig возвращает конфигурацию по умолчанию
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout:        5 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		TotalTimeout:          30 * time.Second,

		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout: 5 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// HTTPClient - http.Client с пулом соединений под ордерные запросы
type HTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

var (
	globalClient     *HTTPClient
	globalClientMu   sync.Mutex
	globalClientOnce sync.Once
)

// ConfigureGlobalHTTPClient задает параметры общего клиента.
// Должен вызываться до создания первой площадки.
func ConfigureGlobalHTTPClient(config HTTPClientConfig) {
	globalClientMu.Lock()
	defer globalClientMu.Unlock()
	globalClientOnce.Do(func() {
		globalClient = NewHTTPClient(config)
	})
}

// GetGlobalHTTPClient возвращает общий клиент, создавая его с настройками по умолчанию
func GetGlobalHTTPClient() *HTTPClient {
	ConfigureGlobalHTTPClient(DefaultHTTPClientConfig())
	return globalClient
}

// NewHTTPClient создаёт новый HTTP клиент с заданной конфигурацией
func NewHTTPClient(config HTTPClientConfig) *HTTPClient {
	def := DefaultHTTPClientConfig()
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = def.ConnectTimeout
	}
	if config.TotalTimeout <= 0 {
		config.TotalTimeout = def.TotalTimeout
	}
	if config.ResponseHeaderTimeout <= 0 {
		config.ResponseHeaderTimeout = def.ResponseHeaderTimeout
	}

	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: config.KeepAliveInterval,
	}

	transport := &http.Transport{
		// дедлайн контекста короче таймаута соединения - используем его
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if deadline, ok := ctx.Deadline(); ok {
				if timeout := time.Until(deadline); timeout < config.ConnectTimeout {
					d := &net.Dialer{Timeout: timeout, KeepAlive: config.KeepAliveInterval}
					return d.DialContext(ctx, network, addr)
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},

		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		MaxConnsPerHost:     config.MaxConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,

		TLSHandshakeTimeout: config.TLSHandshakeTimeout,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},

		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
	}

	return &HTTPClient{
		client: &http.Client{Transport: transport, Timeout: config.TotalTimeout},
		config: config,
	}
}

// Do выполняет HTTP запрос
func (hc *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	return hc.client.Do(req)
}

// GetClient возвращает базовый http.Client
func (hc *HTTPClient) GetClient() *http.Client {
	return hc.client
}

// Close закрывает idle соединения при graceful shutdown
func (hc *HTTPClient) Close() {
	if transport, ok := hc.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

// CloseGlobalClient закрывает общий HTTP клиент
func CloseGlobalClient() {
	globalClientMu.Lock()
	defer globalClientMu.Unlock()
	if globalClient != nil {
		globalClient.Close()
	}
}
