package storage

// sqlite.go: histórico de trades y de grupos detectados.
//
// Estrategia:
//   - `trades`: una fila por trade (id PK). INSERT OR IGNORE, así re-descargar
//     el historial de una wallet no duplica nada.
//   - `coordination_groups`: UNA fila por conjunto de miembros (UPSERT). Guarda
//     el último score y riesgo, y el pico histórico.
//   - Cache en memoria: evita writes si el grupo no cambió (> 5% en score o
//     cambio de nivel de riesgo).
//   - Prune automático al arrancar: grupos no vistos en 30d.
//
// Los timestamps se guardan como unix nanos (INTEGER) para que el rango de
// LoadTrades sea exacto.

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/polywatch/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
    id        TEXT PRIMARY KEY,
    wallet    TEXT    NOT NULL,
    market_id TEXT    NOT NULL,
    side      TEXT    NOT NULL,
    size_usd  REAL    NOT NULL,
    price     REAL    NOT NULL DEFAULT 0,
    ts        INTEGER NOT NULL,
    outcome   TEXT    NOT NULL DEFAULT 'PENDING'
);

-- Una fila por conjunto de miembros, sin duplicados
CREATE TABLE IF NOT EXISTS coordination_groups (
    member_key   TEXT PRIMARY KEY,
    group_id     TEXT    NOT NULL,
    member_count INTEGER NOT NULL,
    score        REAL    NOT NULL DEFAULT 0,
    risk_level   TEXT    NOT NULL,
    flags        TEXT    NOT NULL DEFAULT '-',
    edge_count   INTEGER NOT NULL DEFAULT 0,
    first_seen   INTEGER NOT NULL,
    last_seen    INTEGER NOT NULL,
    peak_score   REAL    NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_trades_ts     ON trades(ts);
CREATE INDEX IF NOT EXISTS idx_trades_wallet ON trades(wallet, ts);
CREATE INDEX IF NOT EXISTS idx_groups_last   ON coordination_groups(last_seen DESC);
CREATE INDEX IF NOT EXISTS idx_groups_score  ON coordination_groups(score DESC);
`

const (
	retentionGroups = 30 * 24 * time.Hour
	scoreChangePct  = 0.05 // 5% de cambio en score → reescribir
)

// cachedState es el último estado guardado de un grupo.
type cachedState struct {
	risk  domain.RiskLevel
	score float64
}

// SQLiteStorage implementa ports.Storage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db    *sql.DB
	cache map[string]cachedState // member_key → estado guardado
	mu    sync.Mutex
	now   func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema, limpia datos antiguos y precarga la cache.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{
		db:    db,
		cache: make(map[string]cachedState),
		now:   func() time.Time { return time.Now().UTC() },
	}
	s.pruneOld(context.Background())
	s.warmCache(context.Background())
	return s, nil
}

// SaveTrades inserta los trades en una transacción. Los IDs ya guardados se ignoran.
func (s *SQLiteStorage) SaveTrades(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveTrades: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO trades
			(id, wallet, market_id, side, size_usd, price, ts, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("storage.SaveTrades: prepare: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		t = t.Normalized()
		if _, err := stmt.ExecContext(ctx,
			t.ID,
			t.Wallet,
			t.MarketID,
			string(t.Side),
			t.SizeUSD,
			t.Price,
			t.Timestamp.UnixNano(),
			string(t.Outcome),
		); err != nil {
			return fmt.Errorf("storage.SaveTrades: insert %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveTrades: commit: %w", err)
	}
	return nil
}

// LoadTrades devuelve los trades con timestamp en [from, to], ordenados por
// timestamp. Un extremo en cero no limita.
func (s *SQLiteStorage) LoadTrades(ctx context.Context, from, to time.Time) ([]domain.Trade, error) {
	lo, hi := nanoRange(from, to)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wallet, market_id, side, size_usd, price, ts, outcome
		FROM trades
		WHERE ts BETWEEN ? AND ?
		ORDER BY ts, id
	`, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadTrades: query: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side, outcome string
		var ts int64
		if err := rows.Scan(&t.ID, &t.Wallet, &t.MarketID, &side, &t.SizeUSD, &t.Price, &ts, &outcome); err != nil {
			return nil, fmt.Errorf("storage.LoadTrades: scan row: %w", err)
		}
		t.Side = domain.Side(side)
		t.Outcome = domain.Outcome(outcome)
		t.Timestamp = time.Unix(0, ts).UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SaveGroups hace upsert de los grupos que cambiaron respecto a la última
// escritura (usando caché en memoria).
func (s *SQLiteStorage) SaveGroups(ctx context.Context, groups []domain.Group) error {
	toWrite := s.filterChanged(groups)
	if len(toWrite) == 0 {
		return nil
	}

	now := s.now().UnixNano()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveGroups: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO coordination_groups
			(member_key, group_id, member_count, score, risk_level, flags,
			 edge_count, first_seen, last_seen, peak_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(member_key) DO UPDATE SET
			group_id   = excluded.group_id,
			score      = excluded.score,
			risk_level = excluded.risk_level,
			flags      = excluded.flags,
			edge_count = excluded.edge_count,
			last_seen  = excluded.last_seen,
			peak_score = MAX(peak_score, excluded.score)
	`)
	if err != nil {
		return fmt.Errorf("storage.SaveGroups: prepare: %w", err)
	}
	defer stmt.Close()

	for _, g := range toWrite {
		if _, err := stmt.ExecContext(ctx,
			g.Key(),
			g.ID,
			g.MemberCount(),
			g.CoordinationScore,
			g.RiskLevel.String(),
			g.Flags.String(),
			len(g.Edges),
			now, // first_seen: ignorado en ON CONFLICT
			now,
			g.CoordinationScore,
		); err != nil {
			return fmt.Errorf("storage.SaveGroups: upsert %s: %w", g.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveGroups: commit: %w", err)
	}
	return nil
}

// GetGroups devuelve los grupos cuyo last_seen está en el rango dado.
// Ordenados por score desc. Edges no se persisten. Un extremo en cero no limita.
func (s *SQLiteStorage) GetGroups(ctx context.Context, from, to time.Time) ([]domain.Group, error) {
	lo, hi := nanoRange(from, to)
	rows, err := s.db.QueryContext(ctx, `
		SELECT member_key, group_id, score, risk_level, flags, last_seen
		FROM coordination_groups
		WHERE last_seen BETWEEN ? AND ?
		ORDER BY score DESC, member_key
	`, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("storage.GetGroups: query: %w", err)
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		var g domain.Group
		var key, risk, flags string
		var lastSeen int64
		if err := rows.Scan(&key, &g.ID, &g.CoordinationScore, &risk, &flags, &lastSeen); err != nil {
			return nil, fmt.Errorf("storage.GetGroups: scan row: %w", err)
		}
		g.Members = strings.Split(key, "|")
		g.RiskLevel = domain.ParseRiskLevel(risk)
		g.Flags, err = domain.ParseFlagSet(flags)
		if err != nil {
			return nil, fmt.Errorf("storage.GetGroups: %s: %w", key, err)
		}
		g.DetectedAt = time.Unix(0, lastSeen).UTC()
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

// filterChanged devuelve los grupos que cambiaron respecto al estado en caché,
// y actualiza la caché con el nuevo estado.
func (s *SQLiteStorage) filterChanged(groups []domain.Group) []domain.Group {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toWrite []domain.Group
	for _, g := range groups {
		key := g.Key()
		if prev, ok := s.cache[key]; ok {
			unchanged := prev.risk == g.RiskLevel &&
				relChange(prev.score, g.CoordinationScore) < scoreChangePct
			if unchanged {
				continue
			}
		}
		toWrite = append(toWrite, g)
		s.cache[key] = cachedState{risk: g.RiskLevel, score: g.CoordinationScore}
	}
	return toWrite
}

// pruneOld elimina grupos que no se han vuelto a ver.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := s.now().Add(-retentionGroups).UnixNano()
	s.db.ExecContext(ctx, `DELETE FROM coordination_groups WHERE last_seen < ?`, cutoff)
}

// warmCache precarga la caché desde la DB al arrancar, evitando escrituras
// redundantes en la primera ejecución tras un reinicio.
func (s *SQLiteStorage) warmCache(ctx context.Context) {
	rows, err := s.db.QueryContext(ctx, `SELECT member_key, risk_level, score FROM coordination_groups`)
	if err != nil {
		return
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var key, risk string
		var score float64
		if rows.Scan(&key, &risk, &score) == nil {
			s.cache[key] = cachedState{risk: domain.ParseRiskLevel(risk), score: score}
		}
	}
}

// relChange devuelve el cambio relativo entre dos valores (0.0 – ∞).
func nanoRange(from, to time.Time) (lo, hi int64) {
	lo, hi = math.MinInt64, math.MaxInt64
	if !from.IsZero() {
		lo = from.UnixNano()
	}
	if !to.IsZero() {
		hi = to.UnixNano()
	}
	return lo, hi
}

func relChange(old, new float64) float64 {
	if old == 0 {
		return 1.0 // forzar escritura si antes era 0
	}
	return math.Abs(new-old) / math.Abs(old)
}
