// Package sim implements the session-level simulation loop: round lifecycle,
// fair-value/volatility evolution, per-tick bot and matching orchestration,
// and the snapshot/event contract external consumers (UI, replay) observe.
package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"marketsim/internal/book"
	"marketsim/internal/bots"
	"marketsim/internal/config"
	"marketsim/internal/matching"
	"marketsim/internal/risk"
	"marketsim/internal/trader"
)

var (
	ErrInvalidRound    = errors.New("sim: invalid round number")
	ErrRoundInProgress = errors.New("sim: a round is already active")
	ErrGameComplete    = errors.New("sim: game is already complete")
)

const userTraderID = "YOU"

// Simulator owns one session's book, matching engine, risk manager, bot
// roster, and round lifecycle. All locking public methods take s.mu exactly
// once and delegate to an unexported body that assumes the lock is already
// held — Go's sync.Mutex isn't reentrant, so nested locking public methods
// would deadlock. Tick is the only caller most integrations need; the
// user-command methods (MakeMarket, AggressBuy, ...) call tickLocked
// themselves to mirror the original's immediate-feedback semantics.
type Simulator struct {
	mu sync.Mutex

	cfg       config.Difficulty
	gameState GameState

	book           *book.OrderBook
	matchingEngine *matching.Engine
	riskManager    *risk.Manager

	user    *trader.Ledger
	traders map[string]*trader.Ledger

	seed int64
	rng  *rand.Rand

	botManager *bots.Manager

	currentRound   int
	totalRounds    int
	timeRemaining  int
	roundStartTime float64

	allDigits       []int
	digits          []*int
	settlementPrice int

	volatility float64

	events   []MarketEvent
	tradeLog []string
	alertLog []string

	stateSubscribers []func(MarketSnapshot)
	eventSubscribers []func(MarketEvent)

	tickCount        int64
	lastLeaderboard  []LeaderboardEntry

	timerStop chan struct{}
	timerWG   sync.WaitGroup
}

const (
	eventHistoryLimit = 200
	tradeLogLimit     = 80
	alertLogLimit     = 40
)

// New builds a session for the given difficulty. A nil seed derives one
// from the current time, matching the original's fallback; callers that
// need determinism (replay, tests) should pass an explicit seed.
func New(cfg config.Difficulty, seed *int64) *Simulator {
	var resolvedSeed int64
	if seed != nil {
		resolvedSeed = *seed
	} else {
		resolvedSeed = time.Now().UnixNano() & 0x7FFFFFFF
	}

	b := book.New(0.1, cfg.QuoteLifetime)
	s := &Simulator{
		cfg:            cfg,
		gameState:      NotStarted,
		book:           b,
		matchingEngine: matching.New(b),
		riskManager:    risk.New(int64(cfg.PositionLimit), -500.0, -1000.0, int64(cfg.PositionLimit), 0.4),
		user:           trader.New(userTraderID, false, 0),
		traders:        make(map[string]*trader.Ledger),
		seed:           resolvedSeed,
		rng:            rand.New(rand.NewSource(resolvedSeed)),
		totalRounds:    cfg.TotalRounds,
		volatility:     1.0,
	}
	s.traders[userTraderID] = s.user

	s.botManager = bots.New(cfg, resolvedSeed^0xA11CE)
	for _, name := range s.botManager.GetBotNames() {
		s.traders[name] = trader.New(name, true, 0)
	}

	s.allDigits = make([]int, s.totalRounds)
	for i := range s.allDigits {
		s.allDigits[i] = s.rng.Intn(10)
	}
	s.digits = make([]*int, s.totalRounds)

	sum := 0
	for _, d := range s.allDigits {
		sum += d
	}
	s.settlementPrice = sum

	return s
}

// Seed reports the deterministic seed this session was constructed with.
func (s *Simulator) Seed() int64 { return s.seed }

func nowSeconds() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// SubscribeStateChanges registers a callback invoked with a fresh snapshot
// after every state-changing operation.
func (s *Simulator) SubscribeStateChanges(cb func(MarketSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateSubscribers = append(s.stateSubscribers, cb)
}

// SubscribeEvents registers a callback invoked with every MarketEvent.
func (s *Simulator) SubscribeEvents(cb func(MarketEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventSubscribers = append(s.eventSubscribers, cb)
}

// StartRound transitions into ROUND_ACTIVE for roundNumber and starts the
// one-second wall-clock countdown goroutine.
func (s *Simulator) StartRound(roundNumber int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startRoundLocked(roundNumber)
}

func (s *Simulator) startRoundLocked(roundNumber int) error {
	if roundNumber < 1 || roundNumber > s.totalRounds {
		return fmt.Errorf("%w: %d", ErrInvalidRound, roundNumber)
	}
	if s.gameState == RoundActive {
		return ErrRoundInProgress
	}
	if s.gameState == GameComplete {
		return ErrGameComplete
	}

	s.currentRound = roundNumber
	s.gameState = RoundActive
	s.timeRemaining = s.cfg.RoundTime
	s.roundStartTime = nowSeconds()

	s.startTimerLocked()
	s.logEventLocked(EventRoundStart, map[string]any{"round": roundNumber}, fmt.Sprintf("Round %d started", roundNumber))
	s.emitStateChangeLocked()
	return nil
}

// EndRound settles the active round, reveals that round's digit, advances
// volatility, and either starts the intermission or ends the game.
func (s *Simulator) EndRound() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endRoundLocked()
}

func (s *Simulator) endRoundLocked() {
	if s.gameState != RoundActive {
		return
	}

	for name := range s.traders {
		s.book.CancelTrader(name, nil)
	}

	fv := s.calculateFairValueLocked()
	s.lastLeaderboard = s.computeLeaderboardLocked(fv)

	s.logEventLocked(EventRoundEnd, map[string]any{"round": s.currentRound}, fmt.Sprintf("Round %d ended", s.currentRound))
	s.logEventLocked(EventLeaderboard, map[string]any{"leaderboard": s.lastLeaderboard}, "Leaderboard updated")

	if s.currentRound >= s.totalRounds {
		s.endGameLocked()
		return
	}

	idx := s.currentRound - 1
	if idx >= 0 && idx < s.totalRounds && s.digits[idx] == nil {
		revealed := s.allDigits[idx]
		s.digits[idx] = &revealed
		s.logEventLocked(EventDigitReveal, map[string]any{"digit": revealed, "index": idx},
			fmt.Sprintf("Digit %d revealed: %d", idx+1, revealed))
	}

	unknowns := s.countUnknownsLocked()
	prevVolatility := s.volatility
	spike := 1.0 + (0.05+0.02*float64(unknowns))*s.rng.Float64()
	s.volatility = math.Min(s.volatility*spike, s.cfg.VolatilityCap)
	s.maybeEmitVolatilitySpikeLocked(prevVolatility)

	s.gameState = RoundEnding
	s.timeRemaining = 10
	s.startTimerLocked()
	s.logAlertLocked("Intermission: next round starts in 10s...")
	s.emitStateChangeLocked()
}

func (s *Simulator) endGameLocked() {
	s.gameState = GameComplete

	lastIdx := s.totalRounds - 1
	if s.digits[lastIdx] == nil {
		revealed := s.allDigits[lastIdx]
		s.digits[lastIdx] = &revealed
	}

	settlement := s.settlementPrice
	s.logEventLocked(EventDigitReveal,
		map[string]any{"digit": *s.digits[lastIdx], "settlement": settlement},
		fmt.Sprintf("Final digit: %d | Settlement: %d", *s.digits[lastIdx], settlement))
	s.lastLeaderboard = s.computeLeaderboardLocked(float64(settlement))
	s.emitStateChangeLocked()
}

// Tick advances the simulation by one step: expire stale quotes, let bots
// act, match once, cancel unmatched IOC remainders, evolve volatility, and
// run risk sweeps. It is the single place matches can occur.
func (s *Simulator) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickLocked()
}

func (s *Simulator) tickLocked() {
	if s.gameState == RoundEnding {
		if s.timeRemaining <= 0 {
			s.startRoundLocked(s.currentRound + 1)
		}
		return
	}
	if s.gameState != RoundActive {
		return
	}

	s.tickCount++
	now := nowSeconds()

	s.book.Expire(now)

	fv := s.calculateFairValueLocked()

	iocIDs := s.botManager.UpdateQuotes(bots.UpdateQuotesInput{
		Book:          s.book,
		Ledgers:       s.traders,
		FairValue:     fv,
		Volatility:    s.volatility,
		UserToxicity:  s.user.AdverseSelection(),
		Now:           now,
		RiskManager:   s.riskManager,
		PositionLimit: int64(s.cfg.PositionLimit),
	})

	matches := s.matchingEngine.Match(now)
	for _, m := range matches {
		s.executeMatchLocked(m, fv)
	}

	for _, oid := range iocIDs {
		s.book.CancelByID(oid)
	}

	prevVolatility := s.volatility
	if len(matches) > 2 {
		s.volatility = math.Min(s.volatility*1.03, s.cfg.VolatilityCap)
	} else {
		s.volatility = math.Max(1.0, s.volatility*0.999)
	}
	s.maybeEmitVolatilitySpikeLocked(prevVolatility)

	for name, tr := range s.traders {
		if s.riskManager.CheckMarginCall(tr, fv, now) {
			s.book.CancelTrader(name, nil)
			msg := fmt.Sprintf("MARGIN CALL: %s liquidated", name)
			if name == userTraderID {
				s.logAlertLocked(msg)
			}
			s.logEventLocked(EventMarginCall, map[string]any{"trader": name}, msg)
		}
	}

	if s.timeRemaining <= 0 {
		s.endRoundLocked()
	}

	s.emitStateChangeLocked()
}

// MakeMarket cancels the user's resting quotes and posts a new two-sided
// quote, then ticks immediately for responsive feedback.
func (s *Simulator) MakeMarket(bid, ask float64, qty int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gameState != RoundActive {
		return false
	}
	if bid >= ask || qty <= 0 {
		return false
	}

	now := nowSeconds()
	s.book.CancelTrader(userTraderID, nil)
	if _, err := s.book.Add(userTraderID, book.Buy, bid, qty, now); err != nil {
		return false
	}
	if _, err := s.book.Add(userTraderID, book.Sell, ask, qty, now); err != nil {
		return false
	}
	s.logTradeLocked(fmt.Sprintf("YOU quoted %dx %.1f/%.1f", qty, bid, ask))
	s.tickLocked()
	return true
}

// AggressBuy places a marketable buy for the user after a pre-trade risk check.
func (s *Simulator) AggressBuy(price float64, qty int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gameState != RoundActive || qty <= 0 || price <= 0 {
		return false
	}
	ok, reason := s.riskManager.CanAddPosition(s.user, qty)
	if !ok {
		s.logAlertLocked(reason)
		return false
	}
	if _, err := s.book.Add(userTraderID, book.Buy, price, qty, nowSeconds()); err != nil {
		return false
	}
	s.logTradeLocked(fmt.Sprintf("YOU buy %d @ %.1f", qty, price))
	s.tickLocked()
	return true
}

// AggressSell places a marketable sell for the user after a pre-trade risk check.
func (s *Simulator) AggressSell(price float64, qty int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gameState != RoundActive || qty <= 0 || price <= 0 {
		return false
	}
	ok, reason := s.riskManager.CanReducePosition(s.user, qty)
	if !ok {
		s.logAlertLocked(reason)
		return false
	}
	if _, err := s.book.Add(userTraderID, book.Sell, price, qty, nowSeconds()); err != nil {
		return false
	}
	s.logTradeLocked(fmt.Sprintf("YOU sell %d @ %.1f", qty, price))
	s.tickLocked()
	return true
}

// CancelUserOrders cancels every resting order the user owns.
func (s *Simulator) CancelUserOrders() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.book.CancelTrader(userTraderID, nil)
	if n > 0 {
		s.logTradeLocked(fmt.Sprintf("Canceled %d orders", n))
	}
	return n
}

// GetStateSnapshot returns the full read-only state of the session.
func (s *Simulator) GetStateSnapshot() MarketSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Simulator) snapshotLocked() MarketSnapshot {
	fv := s.calculateFairValueLocked()
	std := s.calculateTheoreticalStdLocked()
	bid, ask := s.book.BestBidAsk()
	bids, asks := s.book.Depth(6)

	masked := make([]string, len(s.digits))
	for i, d := range s.digits {
		if d == nil {
			masked[i] = "?"
		} else {
			masked[i] = fmt.Sprintf("%d", *d)
		}
	}

	botPositions := make(map[string]int64)
	botPnLs := make(map[string]float64)
	for name, tr := range s.traders {
		if tr.IsBot {
			botPositions[name] = tr.Position()
			botPnLs[name] = tr.MarkToMarket(fv)
		}
	}

	unknowns := s.countUnknownsLocked()
	riskMetrics := s.riskManager.GetRiskMetrics(s.user, fv)
	totalMatches, totalVolume, _ := s.matchingEngine.Stats()
	bookStats := s.book.Stats()

	var settlement *int
	if s.gameState == GameComplete {
		v := s.settlementPrice
		settlement = &v
	}

	return MarketSnapshot{
		Timestamp:           nowSeconds(),
		GameState:           s.gameState,
		CurrentRound:        s.currentRound,
		TotalRounds:         s.totalRounds,
		TimeRemaining:       s.timeRemaining,
		FairValue:           fv,
		TheoreticalStd:      std,
		Volatility:          s.volatility,
		Digits:              append([]*int(nil), s.digits...),
		MaskedDigits:        masked,
		BestBid:             bid,
		BestAsk:             ask,
		Spread:              s.book.Spread(),
		MidPrice:            s.book.MidPrice(),
		Bids:                bids,
		Asks:                asks,
		UserPosition:        s.user.Position(),
		UserCash:            s.user.Cash(),
		UserFees:            s.user.FeesPaid(),
		UserPnL:             s.user.MarkToMarket(fv),
		UserVWAP:            s.user.VWAP(),
		UserToxicity:        s.user.AdverseSelection(),
		Delta:               float64(s.user.Position()),
		Gamma:               math.Abs(float64(s.user.Position())) * float64(unknowns) * 0.15,
		Vega:                float64(unknowns) * 0.5,
		Theta:               -0.01 * float64(unknowns),
		PositionUtilization: riskMetrics.PositionUtilization,
		MarginCushion:       riskMetrics.MarginCushion,
		VaR95:               riskMetrics.VaR95,
		AtRisk:              riskMetrics.AtRisk,
		RecentTrades:        append([]string(nil), s.tradeLog...),
		RecentAlerts:        append([]string(nil), s.alertLog...),
		BotPositions:        botPositions,
		BotPnLs:             botPnLs,
		Leaderboard:         append([]LeaderboardEntry(nil), s.lastLeaderboard...),
		SettlementPrice:     settlement,
		TotalVolume:         totalVolume,
		NumMatches:          totalMatches,
		BookDepth:           bookStats.ActiveBidLevels + bookStats.ActiveAskLevels,
	}
}

func (s *Simulator) calculateFairValueLocked() float64 {
	knownSum := 0
	unknowns := 0
	for _, d := range s.digits {
		if d == nil {
			unknowns++
		} else {
			knownSum += *d
		}
	}
	return float64(knownSum) + float64(unknowns)*4.5
}

func (s *Simulator) calculateTheoreticalStdLocked() float64 {
	return math.Sqrt(float64(s.countUnknownsLocked()) * 8.25)
}

func (s *Simulator) countUnknownsLocked() int {
	n := 0
	for _, d := range s.digits {
		if d == nil {
			n++
		}
	}
	return n
}

func (s *Simulator) computeLeaderboardLocked(markPrice float64) []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(s.traders))
	for name, tr := range s.traders {
		out = append(out, LeaderboardEntry{TraderID: name, PnL: tr.MarkToMarket(markPrice)})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].PnL > out[j-1].PnL; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (s *Simulator) executeMatchLocked(m matching.MatchEvent, fairValue float64) {
	buyer := s.traders[m.BuyerID]
	seller := s.traders[m.SellerID]
	if buyer == nil || seller == nil {
		log.Error().Str("buyer", m.BuyerID).Str("seller", m.SellerID).Msg("match references unknown trader")
		return
	}

	fee := s.cfg.TakerFee
	buyFee, sellFee := 0.0, 0.0
	if m.TakerID == m.BuyerID {
		buyFee = fee
	}
	if m.TakerID == m.SellerID {
		sellFee = fee
	}

	buyer.ApplyFill(trader.Fill{Price: m.Price, Quantity: m.Quantity, Side: trader.BuySide, Timestamp: m.Timestamp, Counterparty: m.SellerID, Fee: buyFee})
	seller.ApplyFill(trader.Fill{Price: m.Price, Quantity: m.Quantity, Side: trader.SellSide, Timestamp: m.Timestamp, Counterparty: m.BuyerID, Fee: sellFee})

	buyer.UpdateAdverseSelection(m.Price, fairValue, true)
	seller.UpdateAdverseSelection(m.Price, fairValue, false)

	s.logEventLocked(EventPositionChange, map[string]any{"trader": m.BuyerID, "position": buyer.Position()}, "position changed")
	s.logEventLocked(EventPositionChange, map[string]any{"trader": m.SellerID, "position": seller.Position()}, "position changed")

	takerSide := book.Sell
	if m.TakerID == m.BuyerID {
		takerSide = book.Buy
	}
	s.botManager.RecordPrint(bots.Print{Timestamp: m.Timestamp, Price: m.Price, Quantity: m.Quantity, TakerSide: takerSide})

	b := m.BuyerID
	if b == userTraderID {
		b = "YOU"
	}
	se := m.SellerID
	if se == userTraderID {
		se = "YOU"
	}
	s.logTradeLocked(fmt.Sprintf("Trade: %s bought %d @ %.1f from %s", b, m.Quantity, m.Price, se))
	s.logEventLocked(EventTradeExecuted, map[string]any{"price": m.Price, "quantity": m.Quantity}, "Trade executed")
}

func (s *Simulator) maybeEmitVolatilitySpikeLocked(previous float64) {
	if previous <= 0 {
		return
	}
	change := (s.volatility - previous) / previous
	if change > 0.02 {
		s.logEventLocked(EventVolatilitySpike,
			map[string]any{"from": previous, "to": s.volatility, "change_pct": change * 100},
			fmt.Sprintf("Volatility jumped %.1f%%", change*100))
	}
}

func (s *Simulator) startTimerLocked() {
	s.stopTimerLocked()
	stop := make(chan struct{})
	s.timerStop = stop

	s.timerWG.Add(1)
	go func() {
		defer s.timerWG.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				if s.gameState == RoundActive || s.gameState == RoundEnding {
					s.timeRemaining--
				}
				s.mu.Unlock()
			}
		}
	}()
}

func (s *Simulator) stopTimerLocked() {
	if s.timerStop != nil {
		close(s.timerStop)
		s.timerStop = nil
	}
}

// Close stops the session's background round timer. Call when the session
// is discarded to avoid leaking the ticker goroutine.
func (s *Simulator) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
}

func (s *Simulator) logTradeLocked(message string) {
	s.tradeLog = append(s.tradeLog, message)
	if len(s.tradeLog) > tradeLogLimit {
		s.tradeLog = s.tradeLog[len(s.tradeLog)-tradeLogLimit:]
	}
}

func (s *Simulator) logAlertLocked(message string) {
	s.alertLog = append(s.alertLog, message)
	if len(s.alertLog) > alertLogLimit {
		s.alertLog = s.alertLog[len(s.alertLog)-alertLogLimit:]
	}
	log.Warn().Str("session_seed", fmt.Sprintf("%d", s.seed)).Msg(message)
}

func (s *Simulator) logEventLocked(eventType EventType, data map[string]any, message string) {
	ev := MarketEvent{Timestamp: nowSeconds(), Type: eventType, Data: data, Message: message}
	s.events = append(s.events, ev)
	if len(s.events) > eventHistoryLimit {
		s.events = s.events[len(s.events)-eventHistoryLimit:]
	}
	for _, cb := range s.eventSubscribers {
		s.safeNotifyEvent(cb, ev)
	}
}

func (s *Simulator) safeNotifyEvent(cb func(MarketEvent), ev MarketEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("event subscriber panicked")
		}
	}()
	cb(ev)
}

func (s *Simulator) emitStateChangeLocked() {
	snap := s.snapshotLocked()
	for _, cb := range s.stateSubscribers {
		s.safeNotifyState(cb, snap)
	}
}

func (s *Simulator) safeNotifyState(cb func(MarketSnapshot), snap MarketSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("state subscriber panicked")
		}
	}()
	cb(snap)
}
