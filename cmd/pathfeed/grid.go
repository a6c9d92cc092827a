package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/friendsincode/pathfeed/internal/timegrid"
)

var gridFlags struct {
	start    float64
	duration float64
	dt       float64
	png      string
}

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Print the time grid a read would sample",
	Long: "Build the time grid for a path segment without contacting the planning server.\n" +
		"A negative duration samples backwards.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if gridFlags.dt <= 0 {
			return fmt.Errorf("--dt must be positive, got %g", gridFlags.dt)
		}
		grid, err := timegrid.Build(gridFlags.start, gridFlags.duration, 1/gridFlags.dt)
		if err != nil {
			return err
		}

		printGrid(cmd.OutOrStdout(), grid)

		if gridFlags.png != "" {
			if err := renderGrid(grid, gridFlags.png); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "plot written to %s\n", gridFlags.png)
		}
		return nil
	},
}

func init() {
	gridCmd.Flags().Float64Var(&gridFlags.start, "start", 0, "start time on the path, in seconds")
	gridCmd.Flags().Float64Var(&gridFlags.duration, "duration", 1, "duration to sample, in seconds")
	gridCmd.Flags().Float64Var(&gridFlags.dt, "dt", 0.001, "control period, in seconds")
	gridCmd.Flags().StringVar(&gridFlags.png, "png", "", "also render the grid to this PNG file")
}

func printGrid(w io.Writer, grid timegrid.Grid) {
	fmt.Fprintf(w, "samples:   %d\n", grid.Len())
	fmt.Fprintf(w, "first:     %.6f\n", grid.Start())
	fmt.Fprintf(w, "last:      %.6f\n", grid.End())
	fmt.Fprintf(w, "direction: %+d\n", grid.Direction())
}

// renderGrid plots sample time against sample index.
func renderGrid(grid timegrid.Grid, path string) error {
	pts := make(plotter.XYs, grid.Len())
	for i, t := range grid.Times() {
		pts[i].X = float64(i)
		pts[i].Y = t
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("time grid (%d samples)", grid.Len())
	p.X.Label.Text = "sample"
	p.Y.Label.Text = "path time (s)"
	p.Add(plotter.NewGrid())

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("plot grid: %w", err)
	}
	scatter.GlyphStyle.Radius = vg.Points(1)
	p.Add(scatter)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}
