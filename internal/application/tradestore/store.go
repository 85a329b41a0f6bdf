// Package tradestore indexa trades en memoria por wallet y por mercado.
//
// Estrategia de concurrencia: los escritores se serializan con un mutex y
// hacen append sobre slices ordenados por wallet y por mercado. Snapshot
// congela el índice la primera vez que se pide tras un Add y lo publica con un
// atomic.Pointer; las lecturas siguientes no toman locks. Un snapshot nunca ve
// un índice a medio actualizar ni trades añadidos después.
package tradestore

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

// Rejection es un trade descartado durante la ingesta.
type Rejection struct {
	TradeID string
	Wallet  string
	Err     error
}

// IngestReport resume el resultado de un Add.
type IngestReport struct {
	Accepted int
	Rejected []Rejection
	Wallets  []string // wallets con trades nuevos, ordenadas
	Markets  []string // mercados con trades nuevos, ordenados
}

// Store es el índice de trades. El valor cero no es usable, usar New.
type Store struct {
	mu       sync.Mutex // protege ids e idx
	ids      map[string]struct{}
	idx      *index
	current  atomic.Pointer[Snapshot] // nil si hubo un Add desde el último freeze
	rejected atomic.Int64
}

// New crea un Store vacío.
func New() *Store {
	return &Store{ids: make(map[string]struct{}), idx: newIndex()}
}

// Snapshot devuelve la vista actual del índice. Es inmutable: un Add posterior
// no la modifica.
func (s *Store) Snapshot() *Snapshot {
	if snap := s.current.Load(); snap != nil {
		return snap
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap := s.current.Load(); snap != nil {
		return snap
	}
	snap := s.idx.freeze()
	s.current.Store(snap)
	return snap
}

// Add valida e indexa los trades. Los inválidos o duplicados se descartan con
// un warning y el resto del batch se procesa igual.
func (s *Store) Add(trades []domain.Trade) IngestReport {
	var report IngestReport
	if len(trades) == 0 {
		return report
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byWallet := make(map[string][]domain.Trade)
	byMarket := make(map[string][]domain.Trade)
	for _, raw := range trades {
		t := raw.Normalized()
		if err := t.Validate(); err != nil {
			report.Rejected = append(report.Rejected, Rejection{TradeID: t.ID, Wallet: t.Wallet, Err: err})
			continue
		}
		if _, dup := s.ids[t.ID]; dup {
			report.Rejected = append(report.Rejected, Rejection{
				TradeID: t.ID,
				Wallet:  t.Wallet,
				Err:     fmt.Errorf("%w: %s", domain.ErrDuplicateTrade, t.ID),
			})
			continue
		}
		s.ids[t.ID] = struct{}{}
		byWallet[t.Wallet] = append(byWallet[t.Wallet], t)
		byMarket[t.MarketID] = append(byMarket[t.MarketID], t)
		report.Accepted++
	}

	for _, r := range report.Rejected {
		slog.Warn("trade rejected",
			"trade_id", r.TradeID,
			"wallet", r.Wallet,
			"err", r.Err,
		)
	}
	s.rejected.Add(int64(len(report.Rejected)))

	if report.Accepted == 0 {
		return report
	}

	s.idx.add(byWallet, byMarket)
	s.current.Store(nil)

	report.Wallets = sortedKeys(byWallet)
	report.Markets = sortedKeys(byMarket)

	slog.Debug("trades indexed",
		"accepted", report.Accepted,
		"rejected", len(report.Rejected),
		"wallets", len(report.Wallets),
		"revision", s.idx.revision,
	)
	return report
}

// Stats devuelve los contadores del snapshot actual.
func (s *Store) Stats() domain.StoreStats {
	s.mu.Lock()
	st := domain.StoreStats{
		Trades:   s.idx.trades,
		Wallets:  len(s.idx.byWallet),
		Markets:  len(s.idx.byMarket),
		Revision: s.idx.revision,
	}
	s.mu.Unlock()
	st.Rejected = s.rejected.Load()
	return st
}

// TradesForWallet es un atajo sobre el snapshot actual.
func (s *Store) TradesForWallet(wallet string, w domain.Window) []domain.Trade {
	return s.Snapshot().TradesForWallet(wallet, w)
}

// TradesForMarket es un atajo sobre el snapshot actual.
func (s *Store) TradesForMarket(marketID string, w domain.Window) []domain.Trade {
	return s.Snapshot().TradesForMarket(marketID, w)
}

func sortedKeys(m map[string][]domain.Trade) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
