// Command syncbench drives a synctest.Session against a trivial
// deterministic counter host to exercise and smoke-test the
// rollback/resimulate/checksum-compare cycle end to end.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/maxpoletaev/rollback"
	"github.com/maxpoletaev/rollback/synctest"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "syncbench"})

func main() {
	root := &cobra.Command{
		Use:   "syncbench",
		Short: "Drive a sync-test session against a demo host",
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newBenchCmd())

	if err := root.Execute(); err != nil {
		logger.Error("exiting", "err", err)
		os.Exit(1)
	}
}

type runOpts struct {
	players       int
	inputSize     int
	checkDistance int
	frames        int
	delays        []int
	profilePath   string
	profileName   string
	seed          int64
	verbose       bool
}

func newRunCmd() *cobra.Command {
	o := &runOpts{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single sync-test session and report the first checksum mismatch, if any",
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.profilePath != "" {
				if err := applyProfile(o); err != nil {
					return err
				}
			}
			if o.verbose {
				logger.SetLevel(log.DebugLevel)
			}
			return runSession(*o)
		},
	}

	cmd.Flags().IntVar(&o.players, "players", 2, "number of players")
	cmd.Flags().IntVar(&o.inputSize, "input-size", 4, "bytes per player input")
	cmd.Flags().IntVar(&o.checkDistance, "check-distance", 7, "frames re-simulated on every rollback check")
	cmd.Flags().IntVar(&o.frames, "frames", 600, "frames to run")
	cmd.Flags().IntSliceVar(&o.delays, "delay", nil, "per-player frame delay (repeat or comma-separate, default 0 for every player)")
	cmd.Flags().StringVar(&o.profilePath, "profile-file", "", "path to a YAML file of named profiles")
	cmd.Flags().StringVar(&o.profileName, "profile", "", "profile name to load from --profile-file")
	cmd.Flags().Int64Var(&o.seed, "seed", 1, "PRNG seed for synthetic input bytes")
	cmd.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "debug-level logging")

	return cmd
}

func newBenchCmd() *cobra.Command {
	o := &runOpts{}
	var trials int

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run several trials back to back and report frames/sec",
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.profilePath != "" {
				if err := applyProfile(o); err != nil {
					return err
				}
			}

			start := time.Now()
			var totalFrames int

			for i := 0; i < trials; i++ {
				if err := runSession(*o); err != nil {
					return fmt.Errorf("trial %d: %w", i, err)
				}
				totalFrames += o.frames
			}

			elapsed := time.Since(start)
			logger.Info("bench complete",
				"trials", trials,
				"total_frames", totalFrames,
				"elapsed", elapsed,
				"frames_per_sec", float64(totalFrames)/elapsed.Seconds(),
			)

			return nil
		},
	}

	cmd.Flags().IntVar(&o.players, "players", 2, "number of players")
	cmd.Flags().IntVar(&o.inputSize, "input-size", 4, "bytes per player input")
	cmd.Flags().IntVar(&o.checkDistance, "check-distance", 7, "frames re-simulated on every rollback check")
	cmd.Flags().IntVar(&o.frames, "frames", 600, "frames per trial")
	cmd.Flags().IntSliceVar(&o.delays, "delay", nil, "per-player frame delay (repeat or comma-separate, default 0 for every player)")
	cmd.Flags().StringVar(&o.profilePath, "profile-file", "", "path to a YAML file of named profiles")
	cmd.Flags().StringVar(&o.profileName, "profile", "", "profile name to load from --profile-file")
	cmd.Flags().Int64Var(&o.seed, "seed", 1, "PRNG seed for synthetic input bytes")
	cmd.Flags().IntVar(&trials, "trials", 5, "number of back-to-back trials")

	return cmd
}

func applyProfile(o *runOpts) error {
	profiles, err := loadProfiles(o.profilePath)
	if err != nil {
		return err
	}

	p, err := findProfile(profiles, o.profileName)
	if err != nil {
		return err
	}

	o.players = p.NumPlayers
	o.inputSize = p.InputSize
	o.checkDistance = p.CheckDistance
	o.frames = p.Frames
	o.delays = p.FrameDelay

	return nil
}

func runSession(o runOpts) error {
	reg := prometheus.NewRegistry()
	sess := synctest.New(o.checkDistance, o.players, o.inputSize, reg)
	host := newCounterHost(o.players)
	rng := rand.New(rand.NewSource(o.seed))

	for p := 0; p < o.players; p++ {
		if err := sess.AddPlayer(synctest.Player{Handle: rollback.PlayerHandle(p)}); err != nil {
			return fmt.Errorf("add player %d: %w", p, err)
		}

		delay := 0
		if p < len(o.delays) {
			delay = o.delays[p]
		}
		if err := sess.SetFrameDelay(delay, rollback.PlayerHandle(p)); err != nil {
			return fmt.Errorf("set frame delay for player %d: %w", p, err)
		}
	}

	if err := sess.StartSession(); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	for f := 0; f < o.frames; f++ {
		for p := 0; p < o.players; p++ {
			bits := make([]byte, o.inputSize)
			rng.Read(bits)
			if err := sess.AddLocalInput(rollback.PlayerHandle(p), bits); err != nil {
				return fmt.Errorf("frame %d player %d: %w", f, p, err)
			}
		}

		if err := sess.AdvanceFrame(host); err != nil {
			return fmt.Errorf("frame %d: %w", f, err)
		}
	}

	logger.Debug("session finished clean", "frames", o.frames, "players", o.players)

	return nil
}
