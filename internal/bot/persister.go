package bot

import (
	"context"
	"sync"
	"time"

	"confluencebot/internal/models"
	"confluencebot/pkg/retry"
	"confluencebot/pkg/utils"
)

// RiskPersister асинхронно сохраняет снимки гейта.
//
// Снимки схлопываются: пишется только последний, поэтому частые мутации
// гейта не создают очередь запросов к БД.
type RiskPersister struct {
	store RiskStateStore
	log   *utils.Logger

	mu      sync.Mutex
	latest  *models.RiskState
	lastSeq uint64 // номер последнего принятого снимка
	signal  chan struct{}
	done    chan struct{}
	retries retry.Config
}

// NewRiskPersister создает сохранитель снимков
func NewRiskPersister(store RiskStateStore, logger *utils.Logger) *RiskPersister {
	if logger == nil {
		logger = utils.L()
	}
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = 3
	return &RiskPersister{
		store:   store,
		log:     logger.WithComponent("risk_persister"),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		retries: cfg,
	}
}

// Submit принимает снимок; используется как RiskGate.OnChange.
// Снимок с номером не новее уже принятого отбрасывается: колбэки гейта
// выполняются без мьютекса и могут прийти не по порядку.
// Нулевой номер означает снимок без нумерации и принимается всегда.
func (p *RiskPersister) Submit(st models.RiskState) {
	p.mu.Lock()
	if st.Seq != 0 && st.Seq <= p.lastSeq {
		p.mu.Unlock()
		p.log.Debug("stale risk snapshot dropped",
			utils.Uint64("seq", st.Seq), utils.Uint64("last_seq", p.lastSeq))
		return
	}
	if st.Seq != 0 {
		p.lastSeq = st.Seq
	}
	p.latest = &st
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// Run пишет снимки до отмены ctx, затем сохраняет последний
func (p *RiskPersister) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			p.flush(fctx)
			cancel()
			return
		case <-p.signal:
			p.flush(ctx)
		}
	}
}

// Done закрывается после финальной записи
func (p *RiskPersister) Done() <-chan struct{} {
	return p.done
}

func (p *RiskPersister) flush(ctx context.Context) {
	p.mu.Lock()
	st := p.latest
	p.latest = nil
	p.mu.Unlock()
	if st == nil {
		return
	}

	err := retry.Do(ctx, func(ctx context.Context) error {
		return p.store.SaveRiskState(ctx, *st)
	}, p.retries)
	if err != nil {
		p.log.Error("save risk state failed", utils.Err(err))
		// вернуть снимок, если новее еще не пришел: его допишет следующий flush
		p.mu.Lock()
		if p.latest == nil {
			p.latest = st
		}
		p.mu.Unlock()
	}
}
