package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsim/internal/config"
)

func testSeed() *int64 {
	seed := int64(12345)
	return &seed
}

func TestNew_BuildsDeterministicSettlementFromSeed(t *testing.T) {
	a := New(config.Medium(), testSeed())
	b := New(config.Medium(), testSeed())

	assert.Equal(t, a.settlementPrice, b.settlementPrice)
	assert.Equal(t, a.allDigits, b.allDigits)
	a.Close()
	b.Close()
}

func TestStartRound_RejectsOutOfRangeRound(t *testing.T) {
	s := New(config.Medium(), testSeed())
	defer s.Close()

	err := s.StartRound(0)
	assert.ErrorIs(t, err, ErrInvalidRound)

	err = s.StartRound(s.totalRounds + 1)
	assert.ErrorIs(t, err, ErrInvalidRound)
}

func TestStartRound_RejectsWhileRoundActive(t *testing.T) {
	s := New(config.Medium(), testSeed())
	defer s.Close()

	require.NoError(t, s.StartRound(1))
	err := s.StartRound(1)
	assert.ErrorIs(t, err, ErrRoundInProgress)
}

func TestFairValueAndStd_AllUnknownAtStart(t *testing.T) {
	s := New(config.Medium(), testSeed())
	defer s.Close()
	require.NoError(t, s.StartRound(1))

	snap := s.GetStateSnapshot()
	assert.InDelta(t, float64(s.totalRounds)*4.5, snap.FairValue, 1e-9)
	assert.Greater(t, snap.TheoreticalStd, 0.0)
}

func TestEndRound_RevealsOneDigitAndAdvancesVolatility(t *testing.T) {
	s := New(config.Medium(), testSeed())
	defer s.Close()
	require.NoError(t, s.StartRound(1))

	before := s.volatility
	s.EndRound()

	assert.Equal(t, RoundEnding, s.gameState)
	assert.NotNil(t, s.digits[0])
	assert.GreaterOrEqual(t, s.volatility, before)
}

func TestEndRound_CompletesGameOnFinalRound(t *testing.T) {
	s := New(config.Medium(), testSeed())
	defer s.Close()

	for r := 1; r <= s.totalRounds; r++ {
		require.NoError(t, s.StartRound(r))
		s.EndRound()
		if r < s.totalRounds {
			s.mu.Lock()
			s.timeRemaining = 0 // cut the 10s intermission short; StartRound accepts RoundEnding
			s.mu.Unlock()
		}
	}

	assert.Equal(t, GameComplete, s.gameState)
	snap := s.GetStateSnapshot()
	require.NotNil(t, snap.SettlementPrice)
	assert.Equal(t, s.settlementPrice, *snap.SettlementPrice)
}

func TestMakeMarket_RejectsCrossedOrInvalidQuote(t *testing.T) {
	s := New(config.Medium(), testSeed())
	defer s.Close()
	require.NoError(t, s.StartRound(1))

	assert.False(t, s.MakeMarket(101, 100, 1), "crossed quote")
	assert.False(t, s.MakeMarket(99, 101, 0), "non-positive quantity")
	assert.True(t, s.MakeMarket(99, 101, 1))
}

func TestAggressBuy_BlockedOutsideActiveRound(t *testing.T) {
	s := New(config.Medium(), testSeed())
	defer s.Close()

	assert.False(t, s.AggressBuy(100, 1), "no round active yet")
}

func TestCancelUserOrders_NoOrdersIsNoOp(t *testing.T) {
	s := New(config.Medium(), testSeed())
	defer s.Close()
	require.NoError(t, s.StartRound(1))

	assert.Equal(t, 0, s.CancelUserOrders())
}

func TestCancelUserOrders_RemovesAnyStillRestingAfterAQuote(t *testing.T) {
	s := New(config.Medium(), testSeed())
	defer s.Close()
	require.NoError(t, s.StartRound(1))
	require.True(t, s.MakeMarket(1, 500, 1)) // wide enough to avoid crossing bot quotes

	n := s.CancelUserOrders()
	assert.GreaterOrEqual(t, n, 0)
	assert.LessOrEqual(t, n, 2)
}

func TestTick_NoOpBeforeRoundStarts(t *testing.T) {
	s := New(config.Medium(), testSeed())
	defer s.Close()

	s.Tick()
	assert.Equal(t, int64(0), s.tickCount)
}
