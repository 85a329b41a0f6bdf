package tradestore

import (
	"sort"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

// Snapshot es una vista inmutable del índice. Los slices devueltos son
// compartidos y de solo lectura: no modificarlos.
type Snapshot struct {
	byWallet      map[string][]domain.Trade // ordenados por (timestamp, id)
	byMarket      map[string][]domain.Trade
	walletMarkets map[string][]string // wallet → mercados en orden de aparición
	walletRev     map[string]uint64
	revision      uint64
	trades        int
}

// index es el estado mutable del Store, protegido por Store.mu.
//
// Los slices crecen solo por append. Un Snapshot guarda cada slice recortado a
// [:len:len], así que un append en orden escribe más allá de lo que el
// snapshot puede ver y no hace falta copiar. Solo un trade que llega
// desordenado obliga a copiar el slice de su wallet o mercado.
type index struct {
	byWallet      map[string][]domain.Trade
	byMarket      map[string][]domain.Trade
	walletMarkets map[string][]string
	marketSeen    map[string]map[string]struct{}
	walletRev     map[string]uint64
	revision      uint64
	trades        int
}

func newIndex() *index {
	return &index{
		byWallet:      map[string][]domain.Trade{},
		byMarket:      map[string][]domain.Trade{},
		walletMarkets: map[string][]string{},
		marketSeen:    map[string]map[string]struct{}{},
		walletRev:     map[string]uint64{},
	}
}

// add incorpora un batch ya validado. Coste proporcional al batch salvo los
// slices que reciben trades desordenados.
func (x *index) add(byWallet, byMarket map[string][]domain.Trade) {
	x.revision++
	for wallet, added := range byWallet {
		x.byWallet[wallet] = appendSorted(x.byWallet[wallet], added)
		x.walletRev[wallet]++
		x.trades += len(added)

		seen := x.marketSeen[wallet]
		if seen == nil {
			seen = make(map[string]struct{})
			x.marketSeen[wallet] = seen
		}
		for _, t := range added {
			if _, ok := seen[t.MarketID]; ok {
				continue
			}
			seen[t.MarketID] = struct{}{}
			x.walletMarkets[wallet] = append(x.walletMarkets[wallet], t.MarketID)
		}
	}
	for market, added := range byMarket {
		x.byMarket[market] = appendSorted(x.byMarket[market], added)
	}
}

// freeze publica el estado actual como Snapshot. Copia solo los headers de
// los slices, no los trades.
func (x *index) freeze() *Snapshot {
	snap := &Snapshot{
		byWallet:      make(map[string][]domain.Trade, len(x.byWallet)),
		byMarket:      make(map[string][]domain.Trade, len(x.byMarket)),
		walletMarkets: make(map[string][]string, len(x.walletMarkets)),
		walletRev:     make(map[string]uint64, len(x.walletRev)),
		revision:      x.revision,
		trades:        x.trades,
	}
	for k, v := range x.byWallet {
		snap.byWallet[k] = v[:len(v):len(v)]
	}
	for k, v := range x.byMarket {
		snap.byMarket[k] = v[:len(v):len(v)]
	}
	for k, v := range x.walletMarkets {
		snap.walletMarkets[k] = v[:len(v):len(v)]
	}
	for k, v := range x.walletRev {
		snap.walletRev[k] = v
	}
	return snap
}

// appendSorted añade added (en cualquier orden) a existing, ya ordenado. Si
// todo added va detrás del último trade, reutiliza el backing array.
func appendSorted(existing, added []domain.Trade) []domain.Trade {
	sort.Slice(added, func(i, j int) bool { return less(added[i], added[j]) })
	if len(existing) == 0 || !less(added[0], existing[len(existing)-1]) {
		return append(existing, added...)
	}
	return merge(existing, added)
}

// merge devuelve un slice nuevo con existing y added (ambos ordenados), ordenado.
func merge(existing, added []domain.Trade) []domain.Trade {
	out := make([]domain.Trade, 0, len(existing)+len(added))
	i, j := 0, 0
	for i < len(existing) && j < len(added) {
		if less(added[j], existing[i]) {
			out = append(out, added[j])
			j++
		} else {
			out = append(out, existing[i])
			i++
		}
	}
	out = append(out, existing[i:]...)
	out = append(out, added[j:]...)
	return out
}

func less(a, b domain.Trade) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}

// Revision es el contador global de escrituras. Cambia con cada Add que acepta trades.
func (s *Snapshot) Revision() uint64 { return s.revision }

// TradesForWallet devuelve los trades de la wallet dentro de la ventana,
// ordenados por timestamp. Slice vacío si no hay ninguno.
func (s *Snapshot) TradesForWallet(wallet string, w domain.Window) []domain.Trade {
	return rangeOf(s.byWallet[domain.NormalizeWallet(wallet)], w)
}

// TradesForMarket devuelve los trades del mercado dentro de la ventana.
func (s *Snapshot) TradesForMarket(marketID string, w domain.Window) []domain.Trade {
	return rangeOf(s.byMarket[marketID], w)
}

// MarketsForWallet devuelve los mercados operados por la wallet en la ventana, ordenados.
func (s *Snapshot) MarketsForWallet(wallet string, w domain.Window) []string {
	wallet = domain.NormalizeWallet(wallet)
	if w.IsAllTime() {
		markets := make([]string, len(s.walletMarkets[wallet]))
		copy(markets, s.walletMarkets[wallet])
		sort.Strings(markets)
		return markets
	}
	seen := make(map[string]struct{})
	for _, t := range s.TradesForWallet(wallet, w) {
		seen[t.MarketID] = struct{}{}
	}
	markets := make([]string, 0, len(seen))
	for m := range seen {
		markets = append(markets, m)
	}
	sort.Strings(markets)
	return markets
}

// WalletsForMarket devuelve las wallets que operaron el mercado en la ventana, ordenadas.
func (s *Snapshot) WalletsForMarket(marketID string, w domain.Window) []string {
	seen := make(map[string]struct{})
	for _, t := range s.TradesForMarket(marketID, w) {
		seen[t.Wallet] = struct{}{}
	}
	wallets := make([]string, 0, len(seen))
	for wl := range seen {
		wallets = append(wallets, wl)
	}
	sort.Strings(wallets)
	return wallets
}

// Counterparts devuelve las wallets (distintas de wallet) que comparten al
// menos un mercado con ella dentro de la ventana.
func (s *Snapshot) Counterparts(wallet string, w domain.Window) []string {
	wallet = domain.NormalizeWallet(wallet)
	seen := make(map[string]struct{})
	for _, m := range s.MarketsForWallet(wallet, w) {
		for _, other := range s.WalletsForMarket(m, w) {
			if other != wallet {
				seen[other] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for o := range seen {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}

// Wallets devuelve todas las wallets conocidas, ordenadas.
func (s *Snapshot) Wallets() []string {
	return sortedKeys(s.byWallet)
}

// HasWallet devuelve true si la wallet tiene al menos un trade.
func (s *Snapshot) HasWallet(wallet string) bool {
	_, ok := s.byWallet[domain.NormalizeWallet(wallet)]
	return ok
}

// Fingerprint resume los trades de la wallet en la ventana.
func (s *Snapshot) Fingerprint(wallet string, w domain.Window) domain.Fingerprint {
	wallet = domain.NormalizeWallet(wallet)
	trades := s.TradesForWallet(wallet, w)
	fp := domain.Fingerprint{Count: len(trades), Revision: s.walletRev[wallet]}
	if len(trades) > 0 {
		fp.Latest = trades[len(trades)-1].Timestamp.UnixNano()
	}
	return fp
}

// Stats devuelve los contadores del snapshot.
func (s *Snapshot) Stats() domain.StoreStats {
	return domain.StoreStats{
		Trades:   s.trades,
		Wallets:  len(s.byWallet),
		Markets:  len(s.byMarket),
		Revision: s.revision,
	}
}

// rangeOf hace búsqueda binaria de [Start, End] sobre un slice ordenado.
func rangeOf(trades []domain.Trade, w domain.Window) []domain.Trade {
	if len(trades) == 0 {
		return []domain.Trade{}
	}
	lo, hi := 0, len(trades)
	if !w.Start.IsZero() {
		lo = sort.Search(len(trades), func(i int) bool {
			return !trades[i].Timestamp.Before(w.Start)
		})
	}
	if !w.End.IsZero() {
		hi = sort.Search(len(trades), func(i int) bool {
			return trades[i].Timestamp.After(w.End)
		})
	}
	if lo >= hi {
		return []domain.Trade{}
	}
	return trades[lo:hi:hi]
}
