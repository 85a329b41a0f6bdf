package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagSet_Basics(t *testing.T) {
	s := NewFlagSet(FlagMarketOverlap, FlagTimingCorrelation)

	assert.True(t, s.Has(FlagMarketOverlap))
	assert.True(t, s.Has(FlagTimingCorrelation))
	assert.False(t, s.Has(FlagOppositeDirections))
	assert.Equal(t, "MARKET_OVERLAP,TIMING_CORRELATION", s.String())

	u := s.Union(NewFlagSet(FlagOppositeDirections))
	assert.Len(t, u.List(), 3)
	assert.Equal(t, "-", FlagSet(0).String())
}

func TestFlag_StringIsExhaustive(t *testing.T) {
	seen := map[string]bool{}
	for _, f := range AllFlags {
		name := f.String()
		assert.NotContains(t, name, "FLAG(", "flag sin nombre: %d", f)
		assert.False(t, seen[name], "nombre duplicado %s", name)
		seen[name] = true

		parsed, ok := ParseFlag(name)
		require.True(t, ok)
		assert.Equal(t, f, parsed)
	}
}

func TestFlagSet_JSON(t *testing.T) {
	s := NewFlagSet(FlagOppositeDirections, FlagSizeSimilarity)
	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `["OPPOSITE_DIRECTIONS","SIZE_SIMILARITY"]`, string(b))

	var back FlagSet
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, s, back)

	assert.Error(t, json.Unmarshal([]byte(`["NOPE"]`), &back))

	empty, err := json.Marshal(FlagSet(0))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))
}

func TestParseFlagSet(t *testing.T) {
	s, err := ParseFlagSet("MARKET_OVERLAP,WIN_RATE_SIMILARITY")
	require.NoError(t, err)
	assert.Equal(t, NewFlagSet(FlagMarketOverlap, FlagWinRateSimilarity), s)

	s, err = ParseFlagSet("-")
	require.NoError(t, err)
	assert.True(t, s.Empty())

	_, err = ParseFlagSet("BOGUS")
	assert.Error(t, err)
}

func TestRiskLevel_Ordering(t *testing.T) {
	assert.Less(t, RiskNone, RiskLow)
	assert.Less(t, RiskLow, RiskMedium)
	assert.Less(t, RiskMedium, RiskHigh)
	assert.Less(t, RiskHigh, RiskCritical)

	for _, r := range []RiskLevel{RiskNone, RiskLow, RiskMedium, RiskHigh, RiskCritical} {
		assert.Equal(t, r, ParseRiskLevel(r.String()))
	}
}

func TestPairResult_Swapped(t *testing.T) {
	p := PairResult{WalletA: "a", WalletB: "b", TradesA: 3, TradesB: 7, MarketOverlap: 50}
	s := p.Swapped()
	assert.Equal(t, "b", s.WalletA)
	assert.Equal(t, "a", s.WalletB)
	assert.Equal(t, 7, s.TradesA)
	assert.Equal(t, 50.0, s.MarketOverlap)
	assert.True(t, s.Involves("a"))
	assert.False(t, s.Involves("c"))
}

func TestGroup_KeyAndHighestRisk(t *testing.T) {
	g1 := Group{Members: []string{"a", "b"}, RiskLevel: RiskMedium}
	g2 := Group{Members: []string{"c", "d", "e"}, RiskLevel: RiskCritical}

	assert.Equal(t, "a|b", g1.Key())
	assert.True(t, g2.HasMember("d"))
	assert.Equal(t, 3, g2.MemberCount())
	assert.Equal(t, RiskCritical, HighestRiskOf([]Group{g1, g2}))
	assert.Equal(t, RiskNone, HighestRiskOf(nil))

	res := AnalysisResult{Groups: []Group{g1, g2}}
	got, ok := res.GroupOf("e")
	require.True(t, ok)
	assert.Equal(t, g2.Key(), got.Key())
}

func TestCacheStats_HitRate(t *testing.T) {
	assert.Equal(t, 0.0, CacheStats{}.HitRate())
	assert.InDelta(t, 0.75, CacheStats{Hits: 3, Misses: 1}.HitRate(), 1e-9)
}
