package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/syntaxerrrr/folio/internal/particle"
)

type simulateOptions struct {
	count   int
	ticks   int
	width   float64
	height  float64
	seed    uint64
	pointer string
}

var simOpts simulateOptions

func init() {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the particle field headless and print JSON frames",
		Run: func(cmd *cobra.Command, args []string) {
			if err := simulate(cmd.OutOrStdout(), simOpts); err != nil {
				exitErr("simulate", err)
			}
		},
	}
	cmd.Flags().IntVarP(&simOpts.count, "count", "n", particle.DefaultCount, "Number of particles")
	cmd.Flags().IntVarP(&simOpts.ticks, "ticks", "t", 60, "Frames to simulate")
	cmd.Flags().Float64Var(&simOpts.width, "width", 1280, "Viewport width")
	cmd.Flags().Float64Var(&simOpts.height, "height", 800, "Viewport height")
	cmd.Flags().Uint64Var(&simOpts.seed, "seed", 1, "Random seed")
	cmd.Flags().StringVar(&simOpts.pointer, "pointer", "", "Pointer position as x,y (default: none)")

	RootCmd.AddCommand(cmd)
}

type simulatedFrame struct {
	Tick      int                 `json:"tick"`
	Particles []particle.Particle `json:"particles"`
}

// simulate writes one JSON line per tick, starting with the initial layout.
func simulate(out io.Writer, opts simulateOptions) error {
	if opts.width <= 0 || opts.height <= 0 {
		return fmt.Errorf("viewport must be positive, got %vx%v", opts.width, opts.height)
	}
	if opts.ticks < 0 {
		return fmt.Errorf("ticks cannot be negative")
	}
	ptr, err := parsePointer(opts.pointer)
	if err != nil {
		return err
	}

	vp := particle.Viewport{Width: opts.width, Height: opts.height}
	field := particle.NewField(opts.count, vp, particle.NewSeededSpawner(opts.seed))
	enc := json.NewEncoder(out)

	if err := enc.Encode(simulatedFrame{Tick: 0, Particles: field.Particles()}); err != nil {
		return err
	}
	for i := 1; i <= opts.ticks; i++ {
		if err := enc.Encode(simulatedFrame{Tick: i, Particles: field.Tick(ptr)}); err != nil {
			return err
		}
	}
	return nil
}

func parsePointer(s string) (particle.Pointer, error) {
	if s == "" {
		return particle.NoPointer, nil
	}
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return particle.NoPointer, fmt.Errorf("pointer must be x,y: %q", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return particle.NoPointer, fmt.Errorf("pointer x: %w", err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return particle.NoPointer, fmt.Errorf("pointer y: %w", err)
	}
	return particle.At(x, y), nil
}
