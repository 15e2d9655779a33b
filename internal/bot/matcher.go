package bot

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"confluencebot/internal/models"
	"confluencebot/pkg/utils"
)

// MatcherConfig - параметры поиска конфлюенции
type MatcherConfig struct {
	Window      time.Duration
	MinScore    float64
	Weights     ScoreWeights
	Intensities map[models.AlertType]float64
	Freshness   FreshnessFunc

	// MaxBuffered - предел буфера на символ, старые алерты вытесняются
	MaxBuffered int
}

// DefaultMatcherConfig возвращает конфигурацию по умолчанию
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		Window:      300 * time.Second,
		MinScore:    0.6,
		Weights:     DefaultScoreWeights(),
		Intensities: DefaultIntensities(),
		Freshness:   LinearFreshness(time.Hour, 4*time.Hour),
		MaxBuffered: 64,
	}
}

type bufferedAlert struct {
	alert models.Alert
	seq   uint64 // порядок поступления, для разрешения равенства
}

// Matcher ищет пары hype + flow по символу внутри окна.
//
// После выпуска кандидата буфер символа очищается, а символ помечается
// pending до Release: новые алерты копятся, но не спариваются.
type Matcher struct {
	cfg MatcherConfig
	log *utils.Logger

	mu      sync.Mutex
	buffers map[string][]bufferedAlert
	pending map[string]string // symbol -> candidate ID
	seq     uint64
}

// NewMatcher создает матчер
func NewMatcher(cfg MatcherConfig, logger *utils.Logger) *Matcher {
	def := DefaultMatcherConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Weights.Sum() == 0 {
		cfg.Weights = def.Weights
	}
	if cfg.Intensities == nil {
		cfg.Intensities = def.Intensities
	}
	if cfg.Freshness == nil {
		cfg.Freshness = def.Freshness
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = def.MaxBuffered
	}
	if logger == nil {
		logger = utils.L()
	}
	return &Matcher{
		cfg:     cfg,
		log:     logger.WithComponent("matcher"),
		buffers: make(map[string][]bufferedAlert),
		pending: make(map[string]string),
	}
}

// Observe добавляет алерт и возвращает кандидата, если нашлась пара
// с оценкой не ниже порога
func (m *Matcher) Observe(alert models.Alert, now time.Time) *models.TradeCandidate {
	m.mu.Lock()
	defer m.mu.Unlock()

	sym := alert.Symbol
	buf := m.evictLocked(sym, now)

	if _, busy := m.pending[sym]; busy {
		m.bufferLocked(sym, buf, alert, now)
		return nil
	}

	partner, ok := m.bestPartner(buf, alert)
	if !ok {
		m.bufferLocked(sym, buf, alert, now)
		return nil
	}

	cand := m.buildCandidate(alert, partner, now)
	if cand.Score < m.cfg.MinScore {
		m.log.Info("candidate below threshold",
			utils.Symbol(sym), utils.Score(cand.Score),
			utils.Float64("proximity", cand.Components.Proximity),
			utils.Float64("freshness", cand.Components.Freshness))
		RecordCandidate(sym, "below_threshold")
		m.bufferLocked(sym, buf, alert, now)
		return nil
	}

	delete(m.buffers, sym)
	m.pending[sym] = cand.ID
	RecordCandidate(sym, "emitted")

	m.log.Info("candidate emitted",
		utils.Symbol(sym), utils.CandidateID(cand.ID),
		utils.Side(cand.Side), utils.Score(cand.Score))
	return cand
}

// evictLocked удаляет из буфера алерты старше окна
func (m *Matcher) evictLocked(sym string, now time.Time) []bufferedAlert {
	buf := m.buffers[sym]
	kept := buf[:0]
	for _, b := range buf {
		if now.Sub(b.alert.Timestamp) <= m.cfg.Window {
			kept = append(kept, b)
		}
	}
	if len(kept) == 0 {
		delete(m.buffers, sym)
		return nil
	}
	m.buffers[sym] = kept
	return kept
}

// bufferLocked вставляет алерт с сохранением порядка по времени.
// Алерт, уже вышедший из окна, не буферизуется.
func (m *Matcher) bufferLocked(sym string, buf []bufferedAlert, alert models.Alert, now time.Time) {
	if now.Sub(alert.Timestamp) > m.cfg.Window {
		return
	}
	m.seq++
	b := bufferedAlert{alert: alert, seq: m.seq}

	i := sort.Search(len(buf), func(i int) bool {
		return buf[i].alert.Timestamp.After(alert.Timestamp)
	})
	buf = append(buf, bufferedAlert{})
	copy(buf[i+1:], buf[i:])
	buf[i] = b

	if len(buf) > m.cfg.MaxBuffered {
		buf = buf[len(buf)-m.cfg.MaxBuffered:]
	}
	m.buffers[sym] = buf
}

// bestPartner выбирает комплементарный алерт с максимальной близостью.
// При равном зазоре побеждает последний поступивший.
func (m *Matcher) bestPartner(buf []bufferedAlert, alert models.Alert) (bufferedAlert, bool) {
	var (
		best    bufferedAlert
		bestGap time.Duration
		found   bool
	)
	for _, b := range buf {
		if b.alert.ID == alert.ID || !alert.Type.Complements(b.alert.Type) {
			continue
		}
		gap := absDuration(alert.Timestamp.Sub(b.alert.Timestamp))
		if gap > m.cfg.Window {
			continue
		}
		if !found || gap < bestGap || (gap == bestGap && b.seq > best.seq) {
			best, bestGap, found = b, gap, true
		}
	}
	return best, found
}

func (m *Matcher) buildCandidate(incoming models.Alert, partner bufferedAlert, now time.Time) *models.TradeCandidate {
	primary, secondary := incoming, partner.alert
	if primary.Type.Role() != models.RoleHype {
		primary, secondary = secondary, primary
	}

	latest := primary.Timestamp
	if secondary.Timestamp.After(latest) {
		latest = secondary.Timestamp
	}
	age := now.Sub(latest)
	if age < 0 {
		age = 0
	}

	comp := models.ScoreComponents{
		Proximity: Proximity(secondary.Timestamp.Sub(primary.Timestamp), m.cfg.Window),
		Intensity: m.cfg.Intensities[primary.Type],
		Freshness: m.cfg.Freshness(age),
	}

	return &models.TradeCandidate{
		ID:             uuid.NewString(),
		Symbol:         incoming.Symbol,
		Side:           secondary.Type.Bias(),
		PrimaryAlert:   primary,
		SecondaryAlert: secondary,
		Score:          m.cfg.Weights.Score(comp),
		Components:     comp,
		CreatedAt:      now,
	}
}

// Release снимает отметку pending после завершения одобрения и входа
func (m *Matcher) Release(symbol string) {
	m.mu.Lock()
	delete(m.pending, symbol)
	m.mu.Unlock()
}

// Pending - есть ли у символа кандидат в работе
func (m *Matcher) Pending(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[symbol]
	return ok
}

// Snapshot возвращает размер буфера по символам
func (m *Matcher) Snapshot() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.buffers))
	for sym, buf := range m.buffers {
		out[sym] = len(buf)
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
