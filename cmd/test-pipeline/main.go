package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fankserver/voice-align-mcp/internal/audio"
	"github.com/fankserver/voice-align-mcp/internal/feedback"
	"github.com/fankserver/voice-align-mcp/internal/jobs"
	"github.com/fankserver/voice-align-mcp/internal/pipeline"
	"github.com/fankserver/voice-align-mcp/internal/service"
	"github.com/fankserver/voice-align-mcp/pkg/align"
	"github.com/fankserver/voice-align-mcp/pkg/diarize"
	"github.com/fankserver/voice-align-mcp/pkg/emission"
	"github.com/fankserver/voice-align-mcp/pkg/transcriber"
	"github.com/sirupsen/logrus"
)

func main() {
	logrus.SetLevel(logrus.WarnLevel)

	fmt.Println("Testing Voice Align MCP Job Pipeline")
	fmt.Println("====================================")

	tmpDir, err := os.MkdirTemp("", "align-pipeline-*")
	if err != nil {
		log.Fatalf("❌ Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	// Test 1: Build the queue and event bus
	fmt.Println("\n1. Testing Queue Creation...")
	config := pipeline.DefaultQueueConfig()
	config.Retryable = service.Retryable
	queue := pipeline.NewJobQueue(config)
	queue.Start()
	fmt.Printf("✅ Job queue started with %d workers\n", queue.WorkerCount())

	eventBus := feedback.NewEventBus(100)
	var mu sync.Mutex
	seen := make(map[feedback.EventType]int)
	eventBus.SubscribeAll(func(event feedback.Event) {
		mu.Lock()
		seen[event.Type]++
		mu.Unlock()
	})
	fmt.Println("✅ Event bus subscribed")

	// Test 2: Align a synthetic emission containing an unalignable number
	fmt.Println("\n2. Testing Forced Alignment...")
	vocab := align.DefaultVocabulary()
	words := strings.Fields("meet me at 42 main street")
	em := emission.Synthesize(words, vocab, 3)
	emissionPath := filepath.Join(tmpDir, "emission.json")
	data, err := emission.Encode(em)
	if err != nil {
		log.Fatalf("❌ Failed to encode emission: %v", err)
	}
	if err := os.WriteFile(emissionPath, data, 0600); err != nil {
		log.Fatalf("❌ Failed to write emission: %v", err)
	}

	mock := &transcriber.MockTranscriber{Segments: []transcriber.Segment{
		{Start: 0, End: 1.1, Text: "meet me at", Words: []align.WordTiming{
			{Word: "meet", Start: 0.0, End: 0.4},
			{Word: "me", Start: 0.45, End: 0.6},
			{Word: "at", Start: 0.65, End: 1.1},
		}},
		{Start: 1.2, End: 2.4, Text: "forty two main street", Words: []align.WordTiming{
			{Word: "forty", Start: 1.2, End: 1.5},
			{Word: "two", Start: 1.5, End: 1.7},
			{Word: "main", Start: 1.8, End: 2.0},
			{Word: "street", Start: 2.0, End: 2.4},
		}},
	}}
	svc := service.New(vocab, align.DefaultConfig(), service.Backends{
		Emissions:   emission.FileSource{},
		Transcriber: mock,
		Diarizer: &diarize.Static{Turns: []diarize.Turn{
			{Speaker: "SPEAKER_00", Start: 0, End: 1.15},
			{Speaker: "SPEAKER_01", Start: 1.15, End: 3},
		}},
		Converter: audio.NewConverter("", tmpDir),
	})
	dispatcher := service.NewDispatcher(svc, queue, jobs.NewStore(tmpDir), eventBus)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, jobID, err := dispatcher.Align(ctx, service.AlignRequest{Words: words, EmissionPath: emissionPath})
	if err != nil {
		log.Fatalf("❌ Alignment failed: %v", err)
	}
	for i := 1; i < len(resp.Words); i++ {
		if resp.Words[i].Start < resp.Words[i-1].End {
			log.Fatalf("❌ Word %q overlaps its predecessor", resp.Words[i].Word)
		}
	}
	fmt.Printf("✅ Aligned %d words in job %s (%d repaired)\n", len(resp.Words), jobID, resp.Repaired)
	for _, w := range resp.Words {
		fmt.Printf("   %.3f-%.3f %s\n", w.Start, w.End, w.Word)
	}
	if resp.Repaired == 0 {
		log.Fatal("❌ Expected the number to be repaired")
	}

	// Test 3: Timestamps from recognizer words
	fmt.Println("\n3. Testing Transcript Matching...")
	wavPath := filepath.Join(tmpDir, "silence.wav")
	if err := audio.WriteWAV(wavPath, make([]int, 3*audio.TargetSampleRate), audio.TargetSampleRate, 1); err != nil {
		log.Fatalf("❌ Failed to write WAV: %v", err)
	}
	ts, _, err := dispatcher.Timestamps(ctx, service.TimestampsRequest{AudioPath: wavPath, OriginalText: "Meet me at 42 Main Street."})
	if err != nil {
		log.Fatalf("❌ Timestamps failed: %v", err)
	}
	fmt.Printf("✅ Matched %d words: %v\n", len(ts.Words), ts.StartTimes)

	// Test 4: Speaker assignment
	fmt.Println("\n4. Testing Speaker Assignment...")
	sp, _, err := dispatcher.Speakers(ctx, service.SpeakersRequest{AudioPath: wavPath})
	if err != nil {
		log.Fatalf("❌ Speaker assignment failed: %v", err)
	}
	for _, seg := range sp.Segments {
		fmt.Printf("✅ [%.2f-%.2f] %s: %s\n", seg.Start, seg.End, seg.Speaker, seg.Text)
	}

	// Test 5: Job store and export
	fmt.Println("\n5. Testing Job Store...")
	counts := dispatcher.Store().Counts()
	if counts[jobs.StatusCompleted] != 3 {
		log.Fatalf("❌ Expected 3 completed jobs, got %v", counts)
	}
	path, err := dispatcher.Store().Export(jobID)
	if err != nil {
		log.Fatalf("❌ Export failed: %v", err)
	}
	fmt.Printf("✅ Exported alignment job to %s\n", path)

	// Test 6: Graceful shutdown
	fmt.Println("\n6. Testing Graceful Shutdown...")
	shutdownStart := time.Now()
	queue.Stop()
	eventBus.Stop()
	shutdownDuration := time.Since(shutdownStart)

	mu.Lock()
	fmt.Printf("✅ Events: %d completed, %d repaired\n", seen[feedback.EventJobCompleted], seen[feedback.EventWordsRepaired])
	mu.Unlock()

	if shutdownDuration > 5*time.Second {
		log.Printf("⚠️  Shutdown took %v (may be slow)", shutdownDuration)
	} else {
		fmt.Printf("✅ Graceful shutdown completed in %v\n", shutdownDuration)
	}

	fmt.Println("\n🎉 All pipeline checks completed successfully!")
}
