package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"

	"tsconv/internal/config"
	"tsconv/internal/convert"
	"tsconv/internal/models"
	"tsconv/internal/timefmt"
	"tsconv/internal/util"
)

func main() {
	// Application start time
	startTime := time.Now()

	// Parse command line flags
	input := flag.String("input", "", "Delimited data file to convert")
	inDate := flag.String("in-date", "mm/dd/yyyy", "Input date pattern for field 0")
	inTime := flag.String("in-time", "hh:mm", "Input time pattern for field 1")
	outDate := flag.String("out-date", "mm/dd/yyyy", "Output date pattern for field 0")
	outTime := flag.String("out-time", "hh:mm", "Output time pattern for field 1")
	workerCount := flag.Int("workers", runtime.NumCPU(), "Number of transform workers")
	suffix := flag.String("suffix", convert.DefaultSuffix, "Suffix inserted before the result file extension")
	delimiter := flag.String("delimiter", ",", "Field delimiter")
	onParseError := flag.String("on-parse-error", string(models.PolicyAbort), "Malformed row policy: abort or skip")
	verbose := flag.Bool("verbose", false, "Enable verbose output")
	diagnose := flag.Bool("diagnose", false, "Show diagnostic information")

	flag.Parse()

	// Create configuration
	cfg := &config.Config{
		InputPath:    *input,
		Suffix:       *suffix,
		Delimiter:    *delimiter,
		InDate:       *inDate,
		InTime:       *inTime,
		OutDate:      *outDate,
		OutTime:      *outTime,
		WorkerCount:  *workerCount,
		OnParseError: *onParseError,
		Verbose:      *verbose,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Error: %v", err)
	}

	inSpec, err := timefmt.Normalize(cfg.InDate, cfg.InTime)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	outSpec, err := timefmt.Normalize(cfg.OutDate, cfg.OutTime)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("Tradestation to MT data converter\n")
	if cfg.Verbose {
		fmt.Printf("Input file: %s\n", cfg.InputPath)
		fmt.Printf("Formats: %s %s -> %s %s\n", cfg.InDate, cfg.InTime, cfg.OutDate, cfg.OutTime)
		fmt.Printf("Workers: %d\n", cfg.WorkerCount)
		fmt.Printf("Parse error policy: %s\n", cfg.OnParseError)
	}

	// Enable diagnostic monitor if requested
	if *diagnose {
		stopDiagnostics := util.StartDiagnosticMonitor(startTime, 30*time.Second)
		defer close(stopDiagnostics)
		util.LogFullDiagnostics(startTime)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown: cancellation takes effect between batches
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		fmt.Printf("\nReceived signal %v, stopping after the current batch...\n", sig)
		cancel()
	}()

	events := make(chan models.Event, 64)
	job := convert.NewJob(convert.Request{
		SourcePath: cfg.InputPath,
		Suffix:     cfg.Suffix,
		Delimiter:  []rune(cfg.Delimiter)[0],
		In:         inSpec,
		Out:        outSpec,
		Workers:    cfg.WorkerCount,
		Policy:     models.ErrorPolicy(cfg.OnParseError),
		Events:     events,
	})

	// Create progress bar
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("Converting"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	// The conversion runs on its own goroutine; this one owns the
	// terminal and applies pipeline events to the bar.
	done := make(chan error, 1)
	go func() {
		done <- job.Run(ctx)
	}()

	var runErr error
	finished, terminal := false, false
	for !finished || !terminal {
		select {
		case ev := <-events:
			switch ev.Kind {
			case models.EventProgress:
				_ = bar.Set(int(ev.Percent))
			case models.EventComplete:
				_ = bar.Set(100)
				terminal = true
			case models.EventFailed:
				terminal = true
			}
		case runErr = <-done:
			finished = true
		}
	}
	fmt.Println()

	if runErr != nil {
		if *diagnose {
			util.LogFullDiagnostics(startTime)
		}
		log.Fatalf("Error: %v", runErr)
	}

	// Get final stats
	stats := job.Stats()
	elapsed := time.Since(startTime).Round(time.Millisecond)

	var rowsPerSec, mbPerSec float64
	if elapsed.Seconds() > 0 {
		rowsPerSec = float64(stats.Rows()) / elapsed.Seconds()
		mbPerSec = float64(stats.BytesRead) / elapsed.Seconds() / (1024 * 1024)
	}

	fmt.Printf("\nConversion completed in %s\n", elapsed)
	fmt.Printf("Result file: %s\n", job.ResultPath())
	fmt.Printf("Rows converted: %d (%.2f rows/sec)\n", stats.Rows(), rowsPerSec)
	if stats.RowsSkipped > 0 {
		fmt.Printf("Rows skipped: %d\n", stats.RowsSkipped)
	}
	fmt.Printf("Data processed: %.2f MB (%.2f MB/sec)\n",
		float64(stats.BytesRead)/(1024*1024), mbPerSec)
	if cfg.Verbose {
		fmt.Printf("Tuned chunk size: %d rows, batch size: %d rows (%d batches)\n",
			stats.Tuning.ChunkRows, stats.Tuning.BatchRows, stats.Batches)
	}

	// Log final diagnostics if enabled
	if *diagnose {
		util.LogFullDiagnostics(startTime)
	}
}
