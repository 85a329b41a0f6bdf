package polymarket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

// resolvedPrice es el precio a partir del cual un outcome se considera ganador.
const resolvedPrice = 0.99

// toDomainTrade mapea un trade crudo. La Data API expresa size en shares, así
// que el nocional en USD es size × price. ok=false si falta algún campo esencial.
func toDomainTrade(rt rawDataTrade, wallet string) (domain.Trade, bool) {
	if rt.ConditionID == "" || rt.TransactionHash == "" {
		return domain.Trade{}, false
	}
	size, _ := rt.Size.Float64()
	price, _ := rt.Price.Float64()
	ts := parseTradeTimestamp(rt.Timestamp)
	if ts.IsZero() {
		return domain.Trade{}, false
	}

	owner := wallet
	if rt.ProxyWallet != "" {
		owner = domain.NormalizeWallet(rt.ProxyWallet)
	}

	return domain.Trade{
		ID:        tradeID(rt),
		Wallet:    owner,
		MarketID:  rt.ConditionID,
		Side:      domain.Side(strings.ToUpper(rt.Side)),
		SizeUSD:   size * price,
		Price:     price,
		Timestamp: ts,
		Outcome:   domain.OutcomePending,
	}, true
}

// tradeID es estable entre descargas: una misma transacción puede llenar
// varias órdenes de la wallet, así que el hash solo no basta.
func tradeID(rt rawDataTrade) string {
	return fmt.Sprintf("%s:%s:%s:%s@%s",
		strings.ToLower(rt.TransactionHash), rt.Asset, strings.ToUpper(rt.Side), rt.Size.String(), rt.Price.String())
}

func parseTradeTimestamp(n json.Number) time.Time {
	s := n.String()
	// unix en segundos o milisegundos
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		if sec > 1e12 {
			return time.Unix(sec/1000, (sec%1000)*int64(time.Millisecond)).UTC()
		}
		return time.Unix(sec, 0).UTC()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(f)
		nsec := int64((f - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC()
	}
	// Polymarket usa varios formatos; intentamos los más comunes
	for _, layout := range []string{
		time.RFC3339Nano, time.RFC3339,
		"2006-01-02T15:04:05.000Z", "2006-01-02T15:04:05Z",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// winningOutcome devuelve la etiqueta ganadora de un mercado cerrado.
// ok=false si el mercado sigue abierto o los precios no están resueltos.
func winningOutcome(gm gammaMarket) (string, bool) {
	if !gm.Closed || gm.Outcomes == "" || gm.OutcomePrices == "" {
		return "", false
	}
	var outcomes, prices []string
	if err := json.Unmarshal([]byte(gm.Outcomes), &outcomes); err != nil {
		return "", false
	}
	if err := json.Unmarshal([]byte(gm.OutcomePrices), &prices); err != nil {
		return "", false
	}
	if len(outcomes) != len(prices) {
		return "", false
	}
	for i, p := range prices {
		if v, err := strconv.ParseFloat(p, 64); err == nil && v >= resolvedPrice {
			return outcomes[i], true
		}
	}
	return "", false
}
