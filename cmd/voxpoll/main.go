// Command voxpoll polls a voxpipe server for a recording's summary and
// prints it as JSON once it is ready.
//
// Poll by job ID or by original file name:
//
//	voxpoll -server http://localhost:8080 -id job_01h2xcejqtf2nbrexx3vqjhp41
//	voxpoll -server http://localhost:8080 -file standup.mp3
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/voxpipe/voxpipe/backoff"
	"github.com/voxpipe/voxpipe/client"
)

func main() {
	var (
		server       = flag.String("server", "http://localhost:8080", "voxpipe server base URL")
		jobID        = flag.String("id", "", "job ID to poll")
		fileName     = flag.String("file", "", "original file name to poll")
		interval     = flag.Duration("interval", 5*time.Second, "base poll interval")
		maxDelay     = flag.Duration("max-delay", time.Minute, "backoff delay ceiling")
		maxAttempts  = flag.Int("max-attempts", 60, "give up after this many polls")
		partEstimate = flag.Duration("part-estimate", 30*time.Second, "per-part time estimate for the ETA")
		quiet        = flag.Bool("quiet", false, "suppress progress output")
	)
	flag.Parse()

	if (*jobID == "") == (*fileName == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -id or -file is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := []client.Option{
		client.WithBackoff(backoff.NewExponentialWithJitter(*interval, *maxDelay)),
		client.WithMaxAttempts(*maxAttempts),
		client.WithPartEstimate(*partEstimate),
		client.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))),
	}
	if !*quiet {
		opts = append(opts, client.WithProgressFunc(printProgress))
	}

	p := client.New(*server, opts...)

	ident := client.ForJob(*jobID)
	if *fileName != "" {
		ident = client.ForFile(*fileName)
	}

	summary, err := p.Poll(ctx, ident)
	if err != nil {
		var failure *client.FailureError
		if errors.As(err, &failure) {
			fmt.Fprintf(os.Stderr, "job %s failed in stage %s: %s\n",
				failure.JobID, failure.Stage, failure.Detail)
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

// printProgress renders one status line per poll.
func printProgress(p client.Progress) {
	line := fmt.Sprintf("%-22s %5.1f%%", p.Stage, p.Percent)
	if p.TotalParts > 0 {
		line += fmt.Sprintf("  parts %d/%d", p.CompletedParts, p.TotalParts)
	}
	if p.Remaining > 0 {
		line += fmt.Sprintf("  ~%s left", p.Remaining.Round(time.Second))
	}
	fmt.Fprintln(os.Stderr, line)
}
