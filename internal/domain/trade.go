package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Side es la dirección de un trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid devuelve true si el side es BUY o SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite devuelve el lado contrario.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Outcome es el resultado de un trade una vez resuelto el mercado.
type Outcome string

const (
	OutcomeWin     Outcome = "WIN"
	OutcomeLoss    Outcome = "LOSS"
	OutcomePending Outcome = "PENDING"
)

// Resolved devuelve true si el trade ya tiene resultado (WIN o LOSS).
func (o Outcome) Resolved() bool {
	return o == OutcomeWin || o == OutcomeLoss
}

func (o Outcome) valid() bool {
	return o == "" || o == OutcomePending || o.Resolved()
}

// walletPattern es la forma mínima aceptada: 0x + 40 hex en minúsculas.
// No se valida checksum EIP-55, eso es responsabilidad del ingestor.
var walletPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// NormalizeWallet devuelve la dirección sin espacios y en minúsculas.
func NormalizeWallet(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ValidWallet devuelve true si la dirección (ya normalizada) tiene forma válida.
func ValidWallet(addr string) bool {
	return walletPattern.MatchString(addr)
}

// ParseWallet normaliza y valida una dirección.
func ParseWallet(addr string) (string, error) {
	w := NormalizeWallet(addr)
	if !ValidWallet(w) {
		return "", fmt.Errorf("%w: %q", ErrInvalidWallet, addr)
	}
	return w, nil
}

// Trade es un trade ejecutado por una wallet en un mercado.
// Es inmutable: una vez aceptado por el Trade Store nunca se modifica.
type Trade struct {
	ID        string
	Wallet    string  // normalizada, 0x + 40 hex
	MarketID  string  // condition_id del mercado
	Side      Side    // BUY | SELL
	SizeUSD   float64 // > 0
	Price     float64 // 0–1, 0 = desconocido
	Timestamp time.Time
	Outcome   Outcome // WIN | LOSS | PENDING (vacío = PENDING)
}

// Normalized devuelve una copia con la wallet normalizada y el outcome por defecto.
func (t Trade) Normalized() Trade {
	t.Wallet = NormalizeWallet(t.Wallet)
	t.Side = Side(strings.ToUpper(strings.TrimSpace(string(t.Side))))
	if t.Outcome == "" {
		t.Outcome = OutcomePending
	}
	return t
}

// Validate comprueba las invariantes del trade. Devuelve el primer problema encontrado.
func (t Trade) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: trade id", ErrMissingField)
	}
	if !ValidWallet(t.Wallet) {
		return fmt.Errorf("%w: %q (trade %s)", ErrInvalidWallet, t.Wallet, t.ID)
	}
	if t.MarketID == "" {
		return fmt.Errorf("%w: market id (trade %s)", ErrMissingField, t.ID)
	}
	if !t.Side.Valid() {
		return fmt.Errorf("%w: %q (trade %s)", ErrInvalidSide, t.Side, t.ID)
	}
	if !(t.SizeUSD > 0) {
		return fmt.Errorf("%w: %v (trade %s)", ErrInvalidSize, t.SizeUSD, t.ID)
	}
	if t.Price < 0 || t.Price > 1 {
		return fmt.Errorf("%w: %v (trade %s)", ErrInvalidPrice, t.Price, t.ID)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp (trade %s)", ErrMissingField, t.ID)
	}
	if !t.Outcome.valid() {
		return fmt.Errorf("%w: %q (trade %s)", ErrInvalidOutcome, t.Outcome, t.ID)
	}
	return nil
}

// Window es un rango temporal cerrado [Start, End].
// Un extremo en cero significa "sin límite" por ese lado.
type Window struct {
	Start time.Time
	End   time.Time
}

// AllTime es la ventana sin límites (todo el histórico).
var AllTime = Window{}

// LastWindow devuelve la ventana [now-d, now].
func LastWindow(now time.Time, d time.Duration) Window {
	return Window{Start: now.Add(-d), End: now}
}

// Contains devuelve true si t cae dentro de la ventana.
func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && t.After(w.End) {
		return false
	}
	return true
}

// IsAllTime devuelve true si la ventana no tiene límites.
func (w Window) IsAllTime() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

func (w Window) String() string {
	if w.IsAllTime() {
		return "all"
	}
	f := func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format(time.RFC3339)
	}
	return f(w.Start) + ".." + f(w.End)
}

// Fingerprint es un resumen barato del contenido de una wallet en una ventana.
// Count y Latest cambian al añadir trades dentro de la ventana; Revision cambia
// con cualquier trade añadido a la wallet, aunque count y latest coincidan.
type Fingerprint struct {
	Count    int
	Latest   int64 // unix nanos del trade más reciente en la ventana
	Revision uint64
}

// WinRate devuelve wins / (wins + losses) de los trades resueltos.
// ok=false si no hay ningún trade resuelto.
func WinRate(trades []Trade) (rate float64, resolved int, ok bool) {
	wins := 0
	for _, t := range trades {
		switch t.Outcome {
		case OutcomeWin:
			wins++
			resolved++
		case OutcomeLoss:
			resolved++
		}
	}
	if resolved == 0 {
		return 0, 0, false
	}
	return float64(wins) / float64(resolved), resolved, true
}
