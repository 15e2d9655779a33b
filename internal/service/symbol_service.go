package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"confluencebot/internal/models"
	"confluencebot/internal/repository"
	"confluencebot/pkg/utils"
)

// Ошибки реестра символов
var (
	ErrSymbolEmpty    = errors.New("symbol cannot be empty")
	ErrSymbolNotFound = errors.New("symbol not found")
)

// SymbolGate - часть риск-гейта, которой управляет реестр
type SymbolGate interface {
	SetExclusions(symbols []string)
	SetCategory(symbol, category string)
}

// UpsertSymbolRequest - запрос оператора на изменение записи реестра
type UpsertSymbolRequest struct {
	Symbol   string `json:"symbol"`
	Category string `json:"category"`
	Excluded bool   `json:"excluded"`
	Reason   string `json:"reason"`
}

// SymbolService - реестр символов оператора.
//
// Категория определяет лимит экспозиции категории в гейте,
// исключенный символ гейт отклоняет с причиной excluded.
// Начальные записи из торгового конфига применяются, только если
// оператор еще не менял символ: запись в БД важнее.
type SymbolService struct {
	repo     SymbolRepositoryInterface
	gate     SymbolGate
	quote    string
	log      *utils.Logger
	mu       sync.Mutex
	defaults map[string]string // symbol -> категория из конфига
}

// NewSymbolService создает новый экземпляр SymbolService
func NewSymbolService(repo SymbolRepositoryInterface, gate SymbolGate, quoteAsset string, logger *utils.Logger) *SymbolService {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &SymbolService{
		repo:     repo,
		gate:     gate,
		quote:    quoteAsset,
		log:      logger.WithComponent("symbols"),
		defaults: make(map[string]string),
	}
}

// Load засевает реестр записями из конфига и применяет его к гейту
func (s *SymbolService) Load(ctx context.Context, seeds []models.SymbolEntry) error {
	existing, err := s.repo.GetAll(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, e := range existing {
		known[e.Symbol] = true
	}

	s.mu.Lock()
	for _, seed := range seeds {
		symbol := utils.NormalizeSymbolWithQuote(seed.Symbol, s.quote)
		if symbol == "" {
			continue
		}
		s.defaults[symbol] = strings.ToLower(seed.Category)
		if known[symbol] {
			continue
		}
		entry := &models.SymbolEntry{
			Symbol:   symbol,
			Category: seed.Category,
			Excluded: seed.Excluded,
			Reason:   seed.Reason,
		}
		if err := s.repo.Upsert(ctx, entry); err != nil {
			s.mu.Unlock()
			return err
		}
		existing = append(existing, entry)
	}
	s.mu.Unlock()

	for _, e := range existing {
		s.gate.SetCategory(e.Symbol, e.Category)
	}
	if err := s.refreshExclusions(ctx); err != nil {
		return err
	}

	s.log.Info("symbol registry loaded", zap.Int("entries", len(existing)))
	return nil
}

// List возвращает весь реестр
func (s *SymbolService) List(ctx context.Context) ([]*models.SymbolEntry, error) {
	entries, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*models.SymbolEntry{}
	}
	return entries, nil
}

// Upsert сохраняет запись и сразу применяет ее к гейту
func (s *SymbolService) Upsert(ctx context.Context, req UpsertSymbolRequest) (*models.SymbolEntry, error) {
	symbol := utils.NormalizeSymbolWithQuote(strings.TrimSpace(req.Symbol), s.quote)
	if symbol == "" {
		return nil, ErrSymbolEmpty
	}

	entry := &models.SymbolEntry{
		Symbol:   symbol,
		Category: strings.TrimSpace(req.Category),
		Excluded: req.Excluded,
		Reason:   strings.TrimSpace(req.Reason),
	}
	if err := s.repo.Upsert(ctx, entry); err != nil {
		return nil, err
	}

	s.gate.SetCategory(entry.Symbol, entry.Category)
	if err := s.refreshExclusions(ctx); err != nil {
		return nil, err
	}

	s.log.Info("symbol registry updated",
		utils.Symbol(entry.Symbol),
		zap.String("category", entry.Category),
		zap.Bool("excluded", entry.Excluded))
	return entry, nil
}

// Remove удаляет запись; категория возвращается к значению из конфига
func (s *SymbolService) Remove(ctx context.Context, symbol string) error {
	symbol = utils.NormalizeSymbolWithQuote(strings.TrimSpace(symbol), s.quote)
	if symbol == "" {
		return ErrSymbolEmpty
	}

	if err := s.repo.Delete(ctx, symbol); err != nil {
		if errors.Is(err, repository.ErrSymbolNotFound) {
			return ErrSymbolNotFound
		}
		return err
	}

	s.mu.Lock()
	category := s.defaults[symbol]
	s.mu.Unlock()
	s.gate.SetCategory(symbol, category)
	return s.refreshExclusions(ctx)
}

func (s *SymbolService) refreshExclusions(ctx context.Context) error {
	excluded, err := s.repo.Excluded(ctx)
	if err != nil {
		return err
	}
	s.gate.SetExclusions(excluded)
	return nil
}
