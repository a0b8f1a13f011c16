package main

import (
	"context"
	"flag"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fankserver/voice-align-mcp/internal/audio"
	"github.com/fankserver/voice-align-mcp/internal/feedback"
	"github.com/fankserver/voice-align-mcp/internal/jobs"
	"github.com/fankserver/voice-align-mcp/internal/pipeline"
	"github.com/fankserver/voice-align-mcp/internal/service"
	"github.com/fankserver/voice-align-mcp/pkg/align"
	"github.com/fankserver/voice-align-mcp/pkg/emission"
	"github.com/sirupsen/logrus"
)

// BenchmarkResults holds benchmark results
type BenchmarkResults struct {
	TestName            string
	Duration            time.Duration
	OperationsPerSecond float64
	MemoryUsed          uint64
	GoroutineCount      int
	Details             string
}

var (
	words      = flag.Int("words", 200, "Transcript length for the single alignment benchmark")
	iterations = flag.Int("iterations", 50, "Alignments per benchmark")
	workers    = flag.Int("workers", runtime.NumCPU(), "Worker count for queue benchmarks")
)

// corpus is cycled to build transcripts of any length. The numbers exercise
// gap repair.
var corpus = strings.Fields("the quick brown fox jumps over the lazy dog while 42 ravens watch from a 1999 oak tree")

func main() {
	flag.Parse()
	logrus.SetLevel(logrus.WarnLevel)

	fmt.Println("Voice Align MCP - Performance Benchmarks")
	fmt.Println("========================================")

	results := make([]BenchmarkResults, 0)

	fmt.Println("\n1. Single Alignment Latency")
	results = append(results, benchmarkAlignment())

	fmt.Println("\n2. Trellis Scaling")
	results = append(results, benchmarkTrellisScaling())

	fmt.Println("\n3. Gap Repair")
	results = append(results, benchmarkGapRepair())

	fmt.Println("\n4. Queue Processing Performance")
	results = append(results, benchmarkQueueProcessing())

	fmt.Println("\n5. Event Bus Performance")
	results = append(results, benchmarkEventBus())

	printBenchmarkSummary(results)
}

func transcript(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = corpus[i%len(corpus)]
	}
	return out
}

func measure(fn func()) (time.Duration, uint64) {
	var memBefore, memAfter runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memBefore)

	start := time.Now()
	fn()
	duration := time.Since(start)

	runtime.GC()
	runtime.ReadMemStats(&memAfter)
	var memUsed uint64
	if memAfter.TotalAlloc > memBefore.TotalAlloc {
		memUsed = memAfter.TotalAlloc - memBefore.TotalAlloc
	}
	return duration, memUsed
}

func benchmarkAlignment() BenchmarkResults {
	vocab := align.DefaultVocabulary()
	aligner := align.NewAligner(vocab, align.DefaultConfig())
	text := transcript(*words)
	em := emission.Synthesize(text, vocab, 3)

	var repaired int
	duration, memUsed := measure(func() {
		for i := 0; i < *iterations; i++ {
			res, err := aligner.Align(align.Request{
				Words:       text,
				Emission:    em.Matrix,
				SampleCount: em.SampleCount,
				SampleRate:  em.SampleRate,
			})
			if err != nil {
				logrus.WithError(err).Fatal("Alignment failed")
			}
			repaired = res.Repaired
		}
	})

	opsPerSec := float64(*iterations) / duration.Seconds()
	fmt.Printf("  Aligned %d words (%d frames) %d times in %v\n", len(text), em.Matrix.Frames, *iterations, duration)
	fmt.Printf("  Alignments/sec: %.2f\n", opsPerSec)
	fmt.Printf("  Repaired words per run: %d\n", repaired)
	fmt.Printf("  Memory allocated: %d bytes\n", memUsed)

	return BenchmarkResults{
		TestName:            "Single Alignment",
		Duration:            duration,
		OperationsPerSecond: opsPerSec,
		MemoryUsed:          memUsed,
		GoroutineCount:      runtime.NumGoroutine(),
		Details:             fmt.Sprintf("%d words, %d frames, %d repaired", len(text), em.Matrix.Frames, repaired),
	}
}

// benchmarkTrellisScaling shows the O(T*J) cost as the transcript grows.
func benchmarkTrellisScaling() BenchmarkResults {
	vocab := align.DefaultVocabulary()
	var total time.Duration
	var totalMem uint64
	var cells int64

	for _, n := range []int{50, 100, 200, 400, 800} {
		text := transcript(n)
		em := emission.Synthesize(text, vocab, 3)
		tokens, _ := align.Tokenize(text, vocab)

		var tr *align.Trellis
		duration, memUsed := measure(func() {
			tr = align.BuildTrellis(em.Matrix, tokens, vocab.Blank())
			align.Backtrack(tr, em.Matrix, tokens, vocab.Blank())
		})
		total += duration
		totalMem += memUsed
		size := int64(em.Matrix.Frames+1) * int64(len(tokens)+1)
		cells += size

		fmt.Printf("  %4d words: %6d x %5d trellis in %v (%.1f Mcells/s)\n",
			n, em.Matrix.Frames, len(tokens), duration, float64(size)/duration.Seconds()/1e6)
	}

	return BenchmarkResults{
		TestName:            "Trellis Scaling",
		Duration:            total,
		OperationsPerSecond: float64(cells) / total.Seconds(),
		MemoryUsed:          totalMem,
		GoroutineCount:      runtime.NumGoroutine(),
		Details:             fmt.Sprintf("%d trellis cells filled and backtracked", cells),
	}
}

func benchmarkGapRepair() BenchmarkResults {
	const wordCount = 100000
	cfg := align.DefaultRepairConfig()

	base := make([]align.WordTiming, wordCount)
	for i := range base {
		start := float64(i) * 0.3
		end := start + 0.25
		if i%7 == 0 {
			// collapsed onto its neighbor, like an unrepresentable number
			end = start
		}
		base[i] = align.WordTiming{Word: corpus[i%len(corpus)], Start: start, End: end}
	}
	work := make([]align.WordTiming, wordCount)

	var repaired int
	duration, memUsed := measure(func() {
		for i := 0; i < *iterations; i++ {
			copy(work, base)
			repaired = align.RepairGaps(work, cfg)
		}
	})

	opsPerSec := float64(wordCount*(*iterations)) / duration.Seconds()
	fmt.Printf("  Repaired %d of %d words, %d times in %v\n", repaired, wordCount, *iterations, duration)
	fmt.Printf("  Words/sec: %.2f\n", opsPerSec)

	return BenchmarkResults{
		TestName:            "Gap Repair",
		Duration:            duration,
		OperationsPerSecond: opsPerSec,
		MemoryUsed:          memUsed,
		GoroutineCount:      runtime.NumGoroutine(),
		Details:             fmt.Sprintf("%d words, %d degenerate", wordCount, repaired),
	}
}

func benchmarkQueueProcessing() BenchmarkResults {
	jobCount := *iterations * 4

	config := pipeline.DefaultQueueConfig()
	config.WorkerCount = *workers
	config.QueueSize = jobCount
	config.SubmitTimeout = time.Second
	config.Retryable = service.Retryable
	queue := pipeline.NewJobQueue(config)
	queue.Start()

	vocab := align.DefaultVocabulary()
	svc := service.New(vocab, align.DefaultConfig(), service.Backends{Converter: audio.NewConverter("", "")})
	dispatcher := service.NewDispatcher(svc, queue, jobs.NewStore(""), nil)

	text := transcript(*words)
	em := emission.Synthesize(text, vocab, 3)
	rows := make([][]float64, em.Matrix.Frames)
	for t := range rows {
		rows[t] = em.Matrix.Row(t)
	}

	var failed int64
	duration, memUsed := measure(func() {
		var wg sync.WaitGroup
		for i := 0; i < jobCount; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := dispatcher.Align(context.Background(), service.AlignRequest{
					Words:       text,
					Emission:    rows,
					SampleCount: em.SampleCount,
					SampleRate:  em.SampleRate,
				})
				if err != nil {
					atomic.AddInt64(&failed, 1)
				}
			}()
		}
		wg.Wait()
	})
	queue.Stop()

	opsPerSec := float64(jobCount) / duration.Seconds()
	metrics := queue.GetMetrics()
	fmt.Printf("  Processed %d alignment jobs with %d workers in %v\n", jobCount, *workers, duration)
	fmt.Printf("  Throughput: %.2f jobs/sec\n", opsPerSec)
	fmt.Printf("  Failed: %d, average process time: %d ms\n", failed, metrics.AverageProcessTime)

	return BenchmarkResults{
		TestName:            "Queue Processing",
		Duration:            duration,
		OperationsPerSecond: opsPerSec,
		MemoryUsed:          memUsed,
		GoroutineCount:      runtime.NumGoroutine(),
		Details:             fmt.Sprintf("%d jobs, %d workers, %d failed", jobCount, *workers, failed),
	}
}

func benchmarkEventBus() BenchmarkResults {
	const events = 10000
	const subscribers = 5

	eventBus := feedback.NewEventBus(1000)

	var eventCounter int64
	for i := 0; i < subscribers; i++ {
		eventBus.Subscribe(feedback.EventJobCompleted, func(event feedback.Event) {
			atomic.AddInt64(&eventCounter, 1)
		})
	}

	duration, memUsed := measure(func() {
		for i := 0; i < events; i++ {
			eventBus.PublishJobCompleted(fmt.Sprintf("job-%d", i), feedback.JobCompletedData{Kind: "align"})
		}
		// Stop drains the buffer before returning
		eventBus.Stop()
	})

	opsPerSec := float64(events) / duration.Seconds()
	metrics := eventBus.GetMetrics()
	fmt.Printf("  Published %d events to %d subscribers in %v\n", events, subscribers, duration)
	fmt.Printf("  Events/sec: %.2f\n", opsPerSec)
	fmt.Printf("  Handler calls: %d, dropped events: %d\n", atomic.LoadInt64(&eventCounter), metrics.EventsDropped)

	return BenchmarkResults{
		TestName:            "Event Bus",
		Duration:            duration,
		OperationsPerSecond: opsPerSec,
		MemoryUsed:          memUsed,
		GoroutineCount:      runtime.NumGoroutine(),
		Details:             fmt.Sprintf("%d events, %d subscribers, %d handler calls", events, subscribers, atomic.LoadInt64(&eventCounter)),
	}
}

func printBenchmarkSummary(results []BenchmarkResults) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("BENCHMARK SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	for _, result := range results {
		fmt.Printf("\n📊 %s\n", result.TestName)
		fmt.Printf("   Duration: %v\n", result.Duration)
		if result.OperationsPerSecond > 0 {
			fmt.Printf("   Ops/sec: %.2f\n", result.OperationsPerSecond)
		}
		fmt.Printf("   Memory: %.2f MB\n", float64(result.MemoryUsed)/1024/1024)
		fmt.Printf("   Goroutines: %d\n", result.GoroutineCount)
		fmt.Printf("   Details: %s\n", result.Details)
	}

	var totalMemory uint64
	for _, result := range results {
		totalMemory += result.MemoryUsed
	}
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Printf("🧠 Total memory allocated across tests: %.2f MB\n", float64(totalMemory)/1024/1024)
	fmt.Printf("⚡ Current goroutines: %d\n", runtime.NumGoroutine())
	fmt.Println("\n✅ All benchmarks completed successfully!")
}
