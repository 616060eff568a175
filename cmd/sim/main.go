// Command sim runs a headless market-making session: it starts one
// simulation at medium difficulty, drives its tick loop on a fixed cadence,
// and logs market events until the game completes (then logs the final
// leaderboard and settlement) or it receives a shutdown signal.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"marketsim/internal/config"
	"marketsim/internal/sim"
)

const tickInterval = 250 * time.Millisecond

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	session := sim.New(config.Medium(), nil)
	defer session.Close()

	session.SubscribeEvents(func(ev sim.MarketEvent) {
		log.Info().Str("type", string(ev.Type)).Msg(ev.Message)
	})

	if err := session.StartRound(1); err != nil {
		log.Fatal().Err(err).Msg("failed to start first round")
	}

	t, ctx := tomb.WithContext(ctx)
	t.Go(func() error {
		return runTickLoop(t, session)
	})

	<-ctx.Done()
	t.Kill(nil)
	if err := t.Wait(); err != nil {
		log.Error().Err(err).Msg("tick loop exited with error")
	}
}

func runTickLoop(t *tomb.Tomb, session *sim.Simulator) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			session.Tick()
			snap := session.GetStateSnapshot()
			if snap.GameState == sim.GameComplete {
				log.Info().
					Interface("leaderboard", snap.Leaderboard).
					Int("settlement", *snap.SettlementPrice).
					Msg("game complete")
				return nil
			}
		}
	}
}
