// Command moqplay-status queries a running player's status API.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/zsiec/moqplay/internal/player"
	"github.com/zsiec/moqplay/internal/session"
	"github.com/zsiec/moqplay/pkg/version"
)

func main() {
	var (
		addr    string
		summary bool
		raw     bool
	)
	flag.StringVar(&addr, "addr", "http://localhost:8080", "Status API base URL")
	flag.BoolVar(&summary, "summary", false, "Show the current session summary instead of the player state")
	flag.BoolVar(&raw, "raw", false, "Print the raw JSON response")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	path := "/api/v1/player"
	if summary {
		path = "/api/v1/player/summary"
	}

	req, err := http.NewRequest(http.MethodGet, addr+path, nil)
	if err != nil {
		log.Fatalf("Invalid address: %v", err)
	}
	req.Header.Set("User-Agent", version.GetInfo().UserAgent())

	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Failed to read response: %v", err)
	}

	if raw || resp.StatusCode != http.StatusOK {
		fmt.Printf("Status: %s\n%s", resp.Status, body)
		if resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		return
	}

	if summary {
		var s session.Summary
		if err := json.Unmarshal(body, &s); err != nil {
			log.Fatalf("Failed to decode summary: %v", err)
		}
		fmt.Printf("Session:           %s\n", s.SessionID)
		fmt.Printf("Avg latency:       %.1f ms\n", s.AvgLatencyMs)
		fmt.Printf("Buffering events:  %d (avg %.1f ms)\n", s.TotalBufferingEvents, s.AvgBufferingMs)
		fmt.Printf("Received:          %.0f kbit (%.1f kbit/s)\n", s.TotalReceivedKbits, s.AvgReceivedKbps)
		fmt.Printf("Frames by class:   %v\n", s.FramesReceivedByType)
		fmt.Printf("Dropped/rendered:  %d/%d\n", s.TotalFramesDropped, s.FramesRendered)
		return
	}

	var info player.Info
	if err := json.Unmarshal(body, &info); err != nil {
		log.Fatalf("Failed to decode player info: %v", err)
	}
	fmt.Printf("Session:   %s\n", info.SessionID)
	fmt.Printf("Mode:      %s\n", info.Mode)
	fmt.Printf("Track:     %s %dx%d @%d\n", info.Track.Codec, info.Track.Width, info.Track.Height, info.Track.Timescale)
	fmt.Printf("State:     %s (rebuffering=%t)\n", info.State, info.IsRebuffering)
	fmt.Printf("Buffered:  %d frames, %.0f ms\n", info.BufferedFrames, info.BufferedMs)
	fmt.Printf("Rendered:  %d frames\n", info.FramesRendered)
}
