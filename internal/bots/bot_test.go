package bots

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsim/internal/book"
	"marketsim/internal/config"
	"marketsim/internal/risk"
	"marketsim/internal/trader"
)

func newTestBot(kind Kind, rng *rand.Rand) *Bot {
	return newBot(Config{
		Name:                "test-bot",
		Kind:                kind,
		BaseLatency:         0.1,
		QuoteSize:           1,
		Aggression:          1.0, // always act, for deterministic assertions
		RiskAversion:        0.7,
		InventorySkew:       1.0,
		ToxicitySensitivity: 1.0,
		RefreshMinS:         0.2,
		StickinessTicks:     1,
	}, rng)
}

func TestLatencyReady_GatesUntilNextActionTime(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := newTestBot(HFTMarketMaker, rng)

	assert.True(t, b.LatencyReady(0, 1.0))
	assert.False(t, b.LatencyReady(0.01, 1.0), "should still be within the latency window")
	assert.True(t, b.LatencyReady(10.0, 1.0), "well past the window")
}

func TestShouldRefresh_PublishesFirstQuoteThenRespectsMinInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := newTestBot(HFTMarketMaker, rng)

	bid, ask := ptr(99), ptr(101)
	assert.True(t, b.shouldRefresh(0.1, bid, ask, 0), "no prior quote")

	b.state.lastBid, b.state.lastAsk, b.state.lastQuoteTime = bid, ask, 0
	assert.False(t, b.shouldRefresh(0.1, bid, ask, 0.05), "too soon, no price move")

	movedAsk := ptr(105)
	assert.True(t, b.shouldRefresh(0.1, bid, movedAsk, 0.5), "ask moved enough after min interval")
}

func TestHFTMarketMaker_WidensSpreadWithToxicity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := newTestBot(HFTMarketMaker, rng)
	ledger := trader.New("test-bot", true, 0)

	calm := b.decideHFTMarketMaker(decisionInput{
		fairValue: 100, volatility: 0.25, userToxicity: 0, positionLimit: 5, ledger: ledger, tickSize: 0.1,
	})
	toxic := b.decideHFTMarketMaker(decisionInput{
		fairValue: 100, volatility: 0.25, userToxicity: 8, positionLimit: 5, ledger: ledger, tickSize: 0.1,
	})

	require.NotNil(t, calm.Bid)
	require.NotNil(t, toxic.Bid)
	calmSpread := *calm.Ask - *calm.Bid
	toxicSpread := *toxic.Ask - *toxic.Bid
	assert.Greater(t, toxicSpread, calmSpread)
}

func TestHFTMarketMaker_NullsSideAtPositionLimit(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := newTestBot(HFTMarketMaker, rng)
	ledger := trader.New("test-bot", true, 0)
	ledger.ApplyFill(trader.Fill{Price: 100, Quantity: 5, Side: trader.BuySide, Timestamp: 0})

	d := b.decideHFTMarketMaker(decisionInput{
		fairValue: 100, volatility: 0.3, positionLimit: 5, ledger: ledger, tickSize: 0.1,
	})
	assert.Nil(t, d.Bid, "already at long position limit, must not add more bid exposure")
	assert.NotNil(t, d.Ask)
}

func TestMomentum_NoOpWithoutBestBidAsk(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := newTestBot(Momentum, rng)
	ledger := trader.New("test-bot", true, 0)
	ob := book.New(0.1, 0)

	d := b.decideMomentum(decisionInput{book: ob, ledger: ledger, fairValue: 100, positionLimit: 5, tickSize: 0.1})
	assert.Nil(t, d.Bid)
	assert.Nil(t, d.Ask)
	assert.Empty(t, d.IOCs)
}

func TestMomentum_BuysOnUptrendWithPositiveFlow(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := newTestBot(Momentum, rng)
	ledger := trader.New("test-bot", true, 0)
	ob := book.New(0.1, 0)
	ob.Add("seed-buyer", book.Buy, 99.9, 1, 0)
	ob.Add("seed-seller", book.Sell, 100.1, 1, 0)

	tape := []Print{
		{Timestamp: 1, Price: 100, Quantity: 5, TakerSide: book.Buy},
		{Timestamp: 2, Price: 100.2, Quantity: 5, TakerSide: book.Buy},
	}

	// Drive the fast/slow EMA into a clear uptrend by replaying rising mids.
	for i := 0; i < 5; i++ {
		b.decideMomentum(decisionInput{book: ob, ledger: ledger, fairValue: 100, positionLimit: 5, tickSize: 0.1, tape: tape})
		ob.CancelTrader("seed-buyer", nil)
		ob.CancelTrader("seed-seller", nil)
		bump := float64(i) * 0.5
		ob.Add("seed-buyer", book.Buy, 99.9+bump, 1, 0)
		ob.Add("seed-seller", book.Sell, 100.1+bump, 1, 0)
	}

	d := b.decideMomentum(decisionInput{book: ob, ledger: ledger, fairValue: 100, positionLimit: 5, tickSize: 0.1, tape: tape})
	require.NotEmpty(t, d.IOCs)
	assert.Equal(t, book.Buy, d.IOCs[0].Side)
}

func TestArbitrage_BuysWhenMidBelowFairValue(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := newTestBot(Arbitrage, rng)
	ledger := trader.New("test-bot", true, 0)
	ob := book.New(0.1, 0)
	ob.Add("seed-buyer", book.Buy, 94.9, 1, 0)
	ob.Add("seed-seller", book.Sell, 95.1, 1, 0)

	d := b.decideArbitrage(decisionInput{book: ob, ledger: ledger, fairValue: 100, volatility: 0.25, positionLimit: 5, tickSize: 0.1})
	require.NotEmpty(t, d.IOCs)
	assert.Equal(t, book.Buy, d.IOCs[0].Side)
}

func TestNoise_NeverExceedsPositionLimitInIntents(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	b := newTestBot(Noise, rng)
	ledger := trader.New("test-bot", true, 0)
	ledger.ApplyFill(trader.Fill{Price: 100, Quantity: 5, Side: trader.BuySide, Timestamp: 0})

	for i := 0; i < 50; i++ {
		d := b.decideNoise(decisionInput{fairValue: 100, volatility: 0.3, positionLimit: 5, ledger: ledger, tickSize: 0.1})
		for _, ioc := range d.IOCs {
			assert.Equal(t, book.Sell, ioc.Side, "long at limit, only sell IOCs are admissible")
		}
	}
}

func TestBuildRoster_ScalesByDifficulty(t *testing.T) {
	hard := rosterFor("hard")
	easy := rosterFor("easy")
	medium := rosterFor("medium")

	assert.Equal(t, rosterSpec{mm: 4, momentum: 4, arbitrage: 3, noise: 10, latencyMult: 0.9, aggression: 0.55}, hard)
	assert.Equal(t, rosterSpec{mm: 2, momentum: 2, arbitrage: 1, noise: 6, latencyMult: 1.6, aggression: 0.25}, easy)
	assert.Equal(t, rosterSpec{mm: 3, momentum: 3, arbitrage: 2, noise: 8, latencyMult: 1.2, aggression: 0.40}, medium)

	cfgs := buildRoster(hard)
	assert.Len(t, cfgs, 4+4+3+10)
}

func TestManager_New_BuildsFullRosterAndNames(t *testing.T) {
	m := New(config.Medium(), 12345)
	assert.Len(t, m.GetBotNames(), 3+3+2+8)
}

func TestUpdateQuotes_PlacesRestingQuotesForReadyBots(t *testing.T) {
	m := New(config.Medium(), 12345)
	ob := book.New(0.1, 0)

	ledgers := make(map[string]*trader.Ledger)
	for _, name := range m.GetBotNames() {
		ledgers[name] = trader.New(name, true, 0)
	}

	m.UpdateQuotes(UpdateQuotesInput{
		Book:          ob,
		Ledgers:       ledgers,
		FairValue:     100,
		Volatility:    0.3,
		Now:           0,
		PositionLimit: 5,
	})

	bid, ask := ob.BestBidAsk()
	assert.NotNil(t, bid)
	assert.NotNil(t, ask)
}

func TestUpdateQuotes_BootstrapsLiquidityAgainstAnEmptyBookWithRiskManager(t *testing.T) {
	m := New(config.Medium(), 12345)
	ob := book.New(0.1, 0)
	rm := risk.New(100, 0.10, 1000, 50, 0.50)

	ledgers := make(map[string]*trader.Ledger)
	for _, name := range m.GetBotNames() {
		ledgers[name] = trader.New(name, true, 0)
	}

	m.UpdateQuotes(UpdateQuotesInput{
		Book:          ob,
		Ledgers:       ledgers,
		FairValue:     100,
		Volatility:    0.3,
		Now:           0,
		RiskManager:   rm,
		PositionLimit: 5,
	})

	bid, ask := ob.BestBidAsk()
	assert.NotNil(t, bid, "a non-nil risk manager must not block the first quote against an empty book")
	assert.NotNil(t, ask)
}
