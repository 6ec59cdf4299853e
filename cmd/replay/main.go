// Command replay reads archived event files and prints them in order,
// optionally pacing output by the recorded inter-event gaps. Useful for
// inspecting a demo run or feeding a dashboard without a live engine.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"luna.social/internal/persistence/archive"
	"luna.social/internal/protocol"
)

func main() {
	var (
		eventsDir = flag.String("events", "./data/events", "events dir containing events-*.jsonl.zst")
		channel   = flag.String("channel", "", "only replay this channel (default: all)")
		speed     = flag.Float64("speed", 0, "pace output at recorded gaps divided by this factor (0: no pacing)")
		limit     = flag.Int("limit", 0, "stop after this many events (0: all)")
	)
	flag.Parse()

	if *channel != "" && !protocol.IsKnownChannel(*channel) {
		fmt.Fprintf(os.Stderr, "unknown channel %q\n", *channel)
		os.Exit(2)
	}

	files, err := listEventFiles(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no event files in", *eventsDir)
		os.Exit(1)
	}

	printed := 0
	var prev time.Time
	for _, path := range files {
		events, err := archive.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
			os.Exit(1)
		}
		for _, ev := range events {
			if *channel != "" && ev.Channel != *channel {
				continue
			}
			if *speed > 0 && !prev.IsZero() {
				if gap := ev.CreatedAt.Sub(prev); gap > 0 {
					time.Sleep(time.Duration(float64(gap) / *speed))
				}
			}
			prev = ev.CreatedAt

			b, err := protocol.EncodeEvent(ev)
			if err != nil {
				continue
			}
			fmt.Println(string(b))
			printed++
			if *limit > 0 && printed >= *limit {
				fmt.Fprintf(os.Stderr, "replayed %d events\n", printed)
				return
			}
		}
	}
	fmt.Fprintf(os.Stderr, "replayed %d events\n", printed)
}

func listEventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), "events-") && strings.HasSuffix(e.Name(), ".jsonl.zst") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
