// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// refcount_stress hammers shared storages with strong and weak handles from many goroutines, and checks
// that every storage had its resources released and was deallocated exactly once.
//
// Usage:
//
//	refcount_stress -goroutines=32 -ops=1000000 -config=track
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/refcount/pkg/core/refcount"
	"github.com/google/uuid"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagObjects    = flag.Int("objects", 64, "Number of shared storages the goroutines compete for.")
	flagGoroutines = flag.Int("goroutines", 8, "Number of concurrent goroutines.")
	flagOps        = flag.Int("ops", 100_000, "Number of random operations executed by each goroutine.")
	flagBytes      = flag.Int("bytes", 256, "Size in bytes of each storage.")
	flagSeed       = flag.Uint64("seed", 0, "Random seed. If 0, a seed is derived from the current time.")
	flagWeakRatio  = flag.Float64("weak_ratio", 0.3,
		"Fraction of the operations biased towards weak handles (locking, creating and dropping them).")
	flagProgress = flag.Bool("progress", true, "Display a progress bar.")
	flagConfig   = flag.String("config", "",
		fmt.Sprintf("Debugging options of the refcount package, overrides $%s. E.g.: \"track,fatal\".",
			refcount.REFCOUNT_DEBUG))
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *flagConfig != "" {
		if err := refcount.SetConfig(*flagConfig); err != nil {
			klog.Fatalf("Invalid -config: %v", err)
		}
	}
	if *flagObjects <= 0 || *flagGoroutines <= 0 || *flagOps <= 0 || *flagBytes < 0 {
		klog.Fatalf("-objects, -goroutines and -ops must be positive, and -bytes non-negative")
	}
	seed := *flagSeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	p := params{
		numObjects:         *flagObjects,
		numGoroutines:      *flagGoroutines,
		numOpsPerGoroutine: *flagOps,
		numBytes:           *flagBytes,
		weakRatio:          *flagWeakRatio,
		seed:               seed,
	}

	runID := uuid.NewString()
	klog.V(1).Infof("run %s: seed=%d, config=%q", runID, seed, refcount.CurrentConfig())
	var r *results
	var elapsed time.Duration
	err := exceptions.TryCatch[error](func() {
		r, elapsed = execute(p)
	})
	if err != nil {
		klog.Fatalf("Run %s (seed=%d) failed: %+v", runID, seed, err)
	}
	report(runID, p, r, elapsed)
	if err := r.check(); err != nil {
		klog.Errorf("Run %s (seed=%d) failed: %v", runID, seed, err)
		if live := refcount.LiveReport(); live != "" {
			klog.Error(live)
		}
		os.Exit(1)
	}
}

// execute the stress run, displaying the progress bar if requested.
func execute(p params) (*results, time.Duration) {
	progress := func(int) {}
	if *flagProgress {
		term := termenv.NewOutput(os.Stdout)
		term.HideCursor()
		defer term.ShowCursor()
		bar := progressbar.NewOptions(p.numGoroutines*p.numOpsPerGoroutine,
			progressbar.OptionSetDescription("stress"),
			progressbar.OptionUseANSICodes(true),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("ops"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionSetWriter(os.Stdout),
			progressbar.OptionOnCompletion(func() { fmt.Println() }),
		)
		defer func() { _ = bar.Finish() }()
		progress = func(n int) { _ = bar.Add(n) }
	}

	start := time.Now()
	r, err := newStress(p, progress).run()
	if err != nil {
		panic(err)
	}
	return r, time.Since(start)
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

// plainTableStyle alternates row styles, and uses headerRowStyle for the headers set with Table.Headers.
func plainTableStyle(row, col int) (s lipgloss.Style) {
	if row == lgtable.HeaderRow {
		return headerRowStyle
	}
	if row%2 == 0 {
		s = oddRowStyle
	} else {
		s = evenRowStyle
	}
	if col == 0 {
		return s.Align(lipgloss.Right)
	}
	return s.Align(lipgloss.Left)
}

func newPlainTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(plainTableStyle)
}

func report(runID string, p params, r *results, elapsed time.Duration) {
	totalOps := int64(p.numGoroutines) * int64(p.numOpsPerGoroutine)
	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTable()
	table.Row("run", runID)
	table.Row("seed", fmt.Sprintf("%d", p.seed))
	table.Row("config", refcount.CurrentConfig().String())
	table.Row("goroutines", humanize.Comma(int64(p.numGoroutines)))
	table.Row("operations", humanize.Comma(totalOps))
	table.Row("elapsed", elapsed.Round(time.Millisecond).String())
	if seconds := elapsed.Seconds(); seconds > 0 {
		table.Row("operations/s", humanize.Comma(int64(float64(totalOps)/seconds)))
	}
	table.Row("storages created", humanize.Comma(r.created))
	table.Row("storages deallocated", humanize.Comma(r.poolStats.Deallocations))
	table.Row("slabs allocated", fmt.Sprintf("%s (%s)", humanize.Comma(r.poolStats.Allocations),
		humanize.IBytes(uint64(r.poolStats.Allocations)*uint64(p.numBytes))))
	table.Row("successful locks", humanize.Comma(r.locked))
	table.Row("expired locks", humanize.Comma(r.expired))
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Operations"))
	table = newPlainTable()
	table.Headers("Operation", "Count", "Share")
	for ii, count := range r.opCounts {
		table.Row(opNames[ii], humanize.Comma(count), fmt.Sprintf("%.1f%%", 100*float64(count)/float64(totalOps)))
	}
	fmt.Println(table.Render())
}
