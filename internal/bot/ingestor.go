package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"confluencebot/internal/models"
	"confluencebot/pkg/utils"
)

// DefaultStaleAge - алерт старше этого возраста считается повтором после рестарта
const DefaultStaleAge = 15 * time.Minute

// IngestStatus - результат приема алерта
type IngestStatus string

const (
	IngestAccepted  IngestStatus = "accepted"
	IngestDuplicate IngestStatus = "duplicate"
	IngestExpired   IngestStatus = "expired"
	IngestInvalid   IngestStatus = "invalid"
)

// ErrInvalidAlert - алерт не прошел валидацию
var ErrInvalidAlert = errors.New("invalid alert")

// IngestResult - типизированный результат Ingest.
// Candidate заполнен, только если прием алерта замкнул пару.
type IngestResult struct {
	Status    IngestStatus
	Alert     models.Alert
	Candidate *models.TradeCandidate
	Reason    string // причина для Invalid
}

// IngestorConfig - параметры приема алертов
type IngestorConfig struct {
	StaleAge time.Duration

	// QuoteAsset дописывается к символам без котировки: "BTC" -> "BTCUSDT"
	QuoteAsset string
}

// Ingestor нормализует, дедуплицирует и передает алерты в матчер.
// Вызывается из одного диспетчера алертов.
type Ingestor struct {
	cfg     IngestorConfig
	ledger  *Ledger
	matcher *Matcher
	clock   Clock
	log     *utils.Logger
}

// NewIngestor создает приемник алертов
func NewIngestor(cfg IngestorConfig, ledger *Ledger, matcher *Matcher, clock Clock, logger *utils.Logger) *Ingestor {
	if cfg.StaleAge <= 0 {
		cfg.StaleAge = DefaultStaleAge
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = utils.L()
	}
	return &Ingestor{
		cfg:     cfg,
		ledger:  ledger,
		matcher: matcher,
		clock:   clock,
		log:     logger.WithComponent("ingestor"),
	}
}

// Ingest принимает алерт.
//
// Ошибка возвращается только при сбое записи в журнал: такой алерт не
// принят и может быть доставлен повторно. Невалидные, повторные и
// устаревшие алерты - нормальный исход без ошибки.
func (in *Ingestor) Ingest(ctx context.Context, alert models.Alert) (IngestResult, error) {
	alert = in.normalize(alert)
	res := IngestResult{Alert: alert}

	if err := in.validate(alert); err != nil {
		res.Status = IngestInvalid
		res.Reason = err.Error()
		in.log.Warn("alert dropped", utils.AlertID(alert.ID), utils.Symbol(alert.Symbol), utils.Reason(res.Reason))
		RecordAlert(string(alert.Type), string(IngestInvalid))
		return res, nil
	}

	if in.ledger.Contains(alert.ID) {
		res.Status = IngestDuplicate
		in.log.Debug("duplicate alert", utils.AlertID(alert.ID))
		RecordAlert(string(alert.Type), string(IngestDuplicate))
		return res, nil
	}

	now := in.clock()
	if age := now.Sub(alert.Timestamp); age > in.cfg.StaleAge {
		res.Status = IngestExpired
		in.log.Info("expired alert", utils.AlertID(alert.ID), utils.Duration("age", age))
		RecordAlert(string(alert.Type), string(IngestExpired))
		return res, nil
	}

	if err := in.ledger.Append(ctx, alert.ID, now); err != nil {
		in.log.Error("ledger append failed", utils.AlertID(alert.ID), utils.Err(err))
		return res, err
	}

	res.Status = IngestAccepted
	RecordAlert(string(alert.Type), string(IngestAccepted))
	res.Candidate = in.matcher.Observe(alert, now)
	return res, nil
}

func (in *Ingestor) normalize(a models.Alert) models.Alert {
	a.ID = strings.TrimSpace(a.ID)
	a.Type = models.AlertType(strings.ToUpper(strings.TrimSpace(string(a.Type))))
	a.Symbol = utils.NormalizeSymbolWithQuote(a.Symbol, in.cfg.QuoteAsset)
	return a
}

func (in *Ingestor) validate(a models.Alert) error {
	if a.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidAlert)
	}
	if !a.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAlert, a.Type)
	}
	if err := utils.ValidateSymbol(a.Symbol); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAlert, err)
	}
	if a.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalidAlert)
	}
	return nil
}
