// Package feed принимает алерты upstream-фида по WebSocket и передает их движку.
package feed

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"confluencebot/internal/bot"
	"confluencebot/internal/exchange"
	"confluencebot/internal/models"
	"confluencebot/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AlertSubmitter - получатель алертов (движок)
type AlertSubmitter interface {
	SubmitAlert(ctx context.Context, alert models.Alert) (bot.IngestResult, error)
}

// Config - параметры подключения к фиду
type Config struct {
	URL            string
	Token          string
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	ReconnectDelay time.Duration
	MaxDelay       time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		PingInterval:   15 * time.Second,
		ReadTimeout:    60 * time.Second,
		ReconnectDelay: time.Second,
		MaxDelay:       30 * time.Second,
	}
}

// Управляющие сообщения протокола фида
type controlMessage struct {
	Op      string `json:"op"`
	Token   string `json:"token,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// frame - кадр фида: одиночный алерт или служебное сообщение с op
type frame struct {
	Op string `json:"op"`
	models.Alert
}

// Stats - счетчики источника
type Stats struct {
	Frames       int64 `json:"frames"`
	Alerts       int64 `json:"alerts"`
	Accepted     int64 `json:"accepted"`
	Duplicates   int64 `json:"duplicates"`
	Expired      int64 `json:"expired"`
	Invalid      int64 `json:"invalid"`
	DecodeErrors int64 `json:"decode_errors"`
	SubmitErrors int64 `json:"submit_errors"`
}

// WSSource держит подключение к фиду через WSReconnectManager.
// Порядок и повторы алертов не гарантируются: дедупликацию делает журнал движка.
type WSSource struct {
	cfg       Config
	submitter AlertSubmitter
	log       *utils.Logger

	mu  sync.Mutex
	mgr *exchange.WSReconnectManager
	ctx context.Context

	stats Stats
}

// NewWSSource создает источник алертов
func NewWSSource(cfg Config, submitter AlertSubmitter, logger *utils.Logger) *WSSource {
	def := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &WSSource{
		cfg:       cfg,
		submitter: submitter,
		log:       logger.WithComponent("feed"),
	}
}

// Run подключается к фиду и держит соединение до отмены ctx.
// Первое подключение повторяется с backoff, дальше переподключением
// занимается WSReconnectManager.
func (s *WSSource) Run(ctx context.Context) error {
	if s.cfg.URL == "" {
		return errors.New("feed url is empty")
	}

	mgr := exchange.NewWSReconnectManager("alert-feed", s.cfg.URL, exchange.WSReconnectConfig{
		InitialDelay:   s.cfg.ReconnectDelay,
		MaxDelay:       s.cfg.MaxDelay,
		MaxRetries:     0,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   s.cfg.PingInterval,
		PongTimeout:    s.cfg.ReadTimeout,
	}, s.log)

	if s.cfg.Token != "" {
		token := s.cfg.Token
		mgr.SetAuthFunc(func(conn *websocket.Conn) error {
			return conn.WriteJSON(controlMessage{Op: "auth", Token: token})
		})
	}
	mgr.AddSubscription("alerts", controlMessage{Op: "subscribe", Channel: "alerts"})
	mgr.SetOnMessage(func(data []byte) { s.HandleFrame(ctx, data) })
	mgr.SetOnDisconnect(func(err error) {
		s.log.Warn("alert feed disconnected", zap.Error(err))
	})

	s.mu.Lock()
	s.mgr = mgr
	s.ctx = ctx
	s.mu.Unlock()

	delay := s.cfg.ReconnectDelay
	for {
		err := mgr.Connect()
		if err == nil {
			break
		}
		s.log.Warn("alert feed connect failed", zap.Error(err), utils.Duration("retry_in", delay))
		select {
		case <-ctx.Done():
			return mgr.Close()
		case <-time.After(delay):
		}
		if delay *= 2; delay > s.cfg.MaxDelay {
			delay = s.cfg.MaxDelay
		}
	}

	s.log.Info("alert feed connected", zap.String("url", s.cfg.URL))
	<-ctx.Done()
	return mgr.Close()
}

// Connected - есть ли живое соединение
func (s *WSSource) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mgr != nil && s.mgr.IsConnected()
}

// HandleFrame разбирает кадр (объект или массив алертов) и передает алерты движку
func (s *WSSource) HandleFrame(ctx context.Context, data []byte) {
	atomic.AddInt64(&s.stats.Frames, 1)

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return
	}

	var frames []frame
	if data[0] == '[' {
		if err := json.Unmarshal(data, &frames); err != nil {
			s.decodeError(err, data)
			return
		}
	} else {
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.decodeError(err, data)
			return
		}
		frames = []frame{f}
	}

	for _, f := range frames {
		if f.Op != "" {
			// pong, подтверждения подписки и авторизации
			s.log.Debug("feed control message", zap.String("op", f.Op))
			continue
		}
		s.submit(ctx, f.Alert)
	}
}

func (s *WSSource) submit(ctx context.Context, alert models.Alert) {
	atomic.AddInt64(&s.stats.Alerts, 1)

	res, err := s.submitter.SubmitAlert(ctx, alert)
	if err != nil {
		atomic.AddInt64(&s.stats.SubmitErrors, 1)
		s.log.Error("alert submit failed", utils.AlertID(alert.ID), utils.Err(err))
		return
	}

	switch res.Status {
	case bot.IngestAccepted:
		atomic.AddInt64(&s.stats.Accepted, 1)
	case bot.IngestDuplicate:
		atomic.AddInt64(&s.stats.Duplicates, 1)
	case bot.IngestExpired:
		atomic.AddInt64(&s.stats.Expired, 1)
	case bot.IngestInvalid:
		atomic.AddInt64(&s.stats.Invalid, 1)
		s.log.Warn("invalid alert dropped", utils.AlertID(alert.ID), utils.Reason(res.Reason))
	}
}

func (s *WSSource) decodeError(err error, data []byte) {
	atomic.AddInt64(&s.stats.DecodeErrors, 1)
	if len(data) > 256 {
		data = data[:256]
	}
	s.log.Warn("undecodable feed frame", zap.Error(err), zap.ByteString("frame", data))
}

// Stats возвращает снимок счетчиков
func (s *WSSource) Stats() Stats {
	return Stats{
		Frames:       atomic.LoadInt64(&s.stats.Frames),
		Alerts:       atomic.LoadInt64(&s.stats.Alerts),
		Accepted:     atomic.LoadInt64(&s.stats.Accepted),
		Duplicates:   atomic.LoadInt64(&s.stats.Duplicates),
		Expired:      atomic.LoadInt64(&s.stats.Expired),
		Invalid:      atomic.LoadInt64(&s.stats.Invalid),
		DecodeErrors: atomic.LoadInt64(&s.stats.DecodeErrors),
		SubmitErrors: atomic.LoadInt64(&s.stats.SubmitErrors),
	}
}
