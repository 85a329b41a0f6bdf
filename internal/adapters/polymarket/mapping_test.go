package polymarket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

func TestWinningOutcome(t *testing.T) {
	tests := []struct {
		name   string
		market gammaMarket
		want   string
		ok     bool
	}{
		{"yes wins", gammaMarket{Closed: true, Outcomes: `["Yes","No"]`, OutcomePrices: `["1","0"]`}, "Yes", true},
		{"no wins", gammaMarket{Closed: true, Outcomes: `["Yes","No"]`, OutcomePrices: `["0.0005","0.9995"]`}, "No", true},
		{"open market", gammaMarket{Closed: false, Outcomes: `["Yes","No"]`, OutcomePrices: `["1","0"]`}, "", false},
		{"closed but unresolved", gammaMarket{Closed: true, Outcomes: `["Yes","No"]`, OutcomePrices: `["0.5","0.5"]`}, "", false},
		{"malformed prices", gammaMarket{Closed: true, Outcomes: `["Yes","No"]`, OutcomePrices: `1,0`}, "", false},
		{"length mismatch", gammaMarket{Closed: true, Outcomes: `["Yes"]`, OutcomePrices: `["1","0"]`}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := winningOutcome(tt.market)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTradeOutcome(t *testing.T) {
	assert.Equal(t, domain.OutcomeWin, tradeOutcome(domain.SideBuy, "Yes", "Yes"))
	assert.Equal(t, domain.OutcomeWin, tradeOutcome(domain.SideBuy, "yes", "Yes"))
	assert.Equal(t, domain.OutcomeLoss, tradeOutcome(domain.SideBuy, "No", "Yes"))
	assert.Equal(t, domain.OutcomeLoss, tradeOutcome(domain.SideSell, "Yes", "Yes"))
	assert.Equal(t, domain.OutcomeWin, tradeOutcome(domain.SideSell, "No", "Yes"))
	assert.Equal(t, domain.OutcomePending, tradeOutcome(domain.SideBuy, "", "Yes"))
}

func TestParseTradeTimestamp(t *testing.T) {
	want := time.Unix(1772366400, 0).UTC()
	assert.Equal(t, want, parseTradeTimestamp(json.Number("1772366400")))
	assert.Equal(t, want, parseTradeTimestamp(json.Number("1772366400000")))
	assert.Equal(t, want.Add(500*time.Millisecond), parseTradeTimestamp(json.Number("1772366400.5")))
	assert.Equal(t, want, parseTradeTimestamp(json.Number("2026-03-01T12:00:00Z")))
	assert.True(t, parseTradeTimestamp(json.Number("garbage")).IsZero())
}

func TestToDomainTrade_SkipsIncomplete(t *testing.T) {
	_, ok := toDomainTrade(rawDataTrade{ConditionID: "0xc", Timestamp: "1"}, "0x1")
	assert.False(t, ok, "sin tx hash")

	_, ok = toDomainTrade(rawDataTrade{ConditionID: "0xc", TransactionHash: "0xt", Timestamp: "nope"}, "0x1")
	assert.False(t, ok, "timestamp inválido")
}
