// Command gen-ogg writes synthetic Theora/Vorbis-shaped Ogg files into
// test/streams for exercising the demuxer and the seeker. The data packets
// carry oggutil's self-describing payloads, not compressed media.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zsiec/plogg/test/tools/oggutil"
)

type StreamConfig struct {
	Key            string  `json:"key"`
	Description    string  `json:"description"`
	Video          bool    `json:"video"`
	FPS            uint32  `json:"fps,omitempty"`
	KeyframeEvery  int     `json:"keyframeEvery,omitempty"`
	Skeleton       bool    `json:"skeleton"`
	DurationSec    float64 `json:"durationSec"`
	PacketsPerPage int     `json:"packetsPerPage"`
	PacketPadding  int     `json:"packetPadding"`
	Bytes          int     `json:"bytes"`
	DataOffset     int64   `json:"dataOffset"`
}

type Manifest struct {
	Generated string         `json:"generated"`
	Streams   []StreamConfig `json:"streams"`
}

var streams = []StreamConfig{
	{Key: "av_short", Video: true, FPS: 10, KeyframeEvery: 10, Skeleton: true, DurationSec: 10, PacketsPerPage: 1, PacketPadding: 300},
	{Key: "av_paged", Video: true, FPS: 25, KeyframeEvery: 50, DurationSec: 120, PacketsPerPage: 4, PacketPadding: 1200},
	{Key: "av_long", Video: true, FPS: 30, KeyframeEvery: 60, Skeleton: true, DurationSec: 300, PacketsPerPage: 3, PacketPadding: 500},
	{Key: "audio_only", DurationSec: 60, PacketsPerPage: 8, PacketPadding: 200},
}

func main() {
	rootDir := findProjectRoot()
	streamsDir := filepath.Join(rootDir, "test", "streams")
	if err := os.MkdirAll(streamsDir, 0755); err != nil {
		fatal("create streams dir: %v", err)
	}

	fmt.Println("=== plogg stream generator ===")
	for i := range streams {
		sc := &streams[i]
		p := oggutil.FileParams{
			Audio:          oggutil.DefaultAudio(2),
			Skeleton:       sc.Skeleton,
			SkeletonSerial: 1,
			Duration:       sc.DurationSec,
			PacketsPerPage: sc.PacketsPerPage,
			PacketPadding:  sc.PacketPadding,
		}
		kind := "audio only"
		if sc.Video {
			v := oggutil.DefaultVideo(3)
			v.FPSNum = sc.FPS
			v.KeyframeInterval = sc.KeyframeEvery
			p.Video = v
			kind = fmt.Sprintf("%d fps video, keyframe every %d", sc.FPS, sc.KeyframeEvery)
		}
		if sc.Skeleton {
			kind += ", skeleton"
		}

		f, err := oggutil.Build(p)
		if err != nil {
			fatal("build %s: %v", sc.Key, err)
		}
		out := filepath.Join(streamsDir, sc.Key+".ogg")
		if err := os.WriteFile(out, f.Data, 0644); err != nil {
			fatal("write %s: %v", out, err)
		}
		sc.Bytes = len(f.Data)
		sc.DataOffset = f.DataOffset
		sc.Description = fmt.Sprintf("%s, %.0fs, %d packets per page", kind, sc.DurationSec, sc.PacketsPerPage)
		fmt.Printf("  %s: %s (%.1f KB)\n", out, sc.Description, float64(len(f.Data))/1024)
	}

	manifestFile := filepath.Join(streamsDir, "manifest.json")
	if err := writeManifest(manifestFile); err != nil {
		fatal("write manifest: %v", err)
	}
	fmt.Printf("=== Done! %d streams generated in %s ===\n", len(streams), streamsDir)
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		fatal("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			fatal("could not find project root (no go.mod found)")
		}
		dir = parent
	}
}

func writeManifest(path string) error {
	m := Manifest{
		Generated: time.Now().UTC().Format(time.RFC3339),
		Streams:   streams,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", args...)
	os.Exit(1)
}
