// Command screenvox is a terminal demo of a spoken code review session:
// microphone in, spoken feedback out, transcript printed at the end.
//
// Usage:
//
//	screenvox -model gemini-2.0-flash-live-001 -voice Puck -template general
//
// Environment:
//
//	GEMINI_API_KEY  required, credential for the live service
//	DATABASE_URL    optional, persists the session transcript when set
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/screenvox/screenvox/internal/dotenv"
	"github.com/screenvox/screenvox/pkg/audio"
	"github.com/screenvox/screenvox/pkg/keys"
	"github.com/screenvox/screenvox/pkg/live"
	"github.com/screenvox/screenvox/pkg/live/protocol"
	"github.com/screenvox/screenvox/pkg/review"
	"github.com/screenvox/screenvox/pkg/store"
	"github.com/screenvox/screenvox/pkg/transcript"
)

const (
	defaultModel        = "gemini-2.0-flash-live-001"
	defaultSuggestModel = "gemini-2.0-flash"
	defaultVoice        = "Puck"
	defaultTemplate     = "general"
	captureRate         = 16000
	playbackRate        = 24000
)

type demoConfig struct {
	Model        string
	SuggestModel string
	Voice        string
	Template     string
	RepoURL      string
	Endpoint     string
	APIKey       string
	DatabaseURL  string
	Verbose      bool
}

func parseConfig(args []string, getenv func(string) string) (demoConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := demoConfig{}
	fs := flag.NewFlagSet("screenvox", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.Model, "model", defaultModel, "live model to review with")
	fs.StringVar(&cfg.SuggestModel, "suggest-model", defaultSuggestModel, "text model for suggestion extraction")
	fs.StringVar(&cfg.Voice, "voice", defaultVoice, "assistant voice")
	fs.StringVar(&cfg.Template, "template", defaultTemplate, "review template name")
	fs.StringVar(&cfg.RepoURL, "repo", "", "optional URL of repository content for priming")
	fs.StringVar(&cfg.Endpoint, "endpoint", live.DefaultEndpoint, "live service endpoint")
	fs.BoolVar(&cfg.Verbose, "v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return demoConfig{}, err
	}

	cfg.APIKey = strings.TrimSpace(getenv("GEMINI_API_KEY"))
	cfg.DatabaseURL = strings.TrimSpace(getenv("DATABASE_URL"))
	if cfg.APIKey == "" {
		return demoConfig{}, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if _, ok := review.Lookup(cfg.Template); !ok {
		return demoConfig{}, fmt.Errorf("unknown template %q", cfg.Template)
	}
	return cfg, nil
}

// httpFetcher retrieves repository content over plain HTTP for prompt
// construction.
type httpFetcher struct {
	client *http.Client
}

func (f *httpFetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func main() {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}

	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "screenvox:", err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(cfg, logger); err != nil {
		fmt.Fprintln(os.Stderr, "screenvox:", err)
		os.Exit(1)
	}
}

func run(cfg demoConfig, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	template, _ := review.Lookup(cfg.Template)
	var fetcher review.RepoFetcher
	if cfg.RepoURL != "" {
		fetcher = &httpFetcher{client: &http.Client{Timeout: 15 * time.Second}}
	}
	instruction, err := review.BuildInstruction(ctx, template, fetcher, cfg.RepoURL)
	if err != nil {
		return err
	}

	creds := keys.NewCachedProvider(keys.FromEnv("GEMINI_API_KEY"), keys.WithLogger(logger))

	speaker, err := audio.NewSpeaker(playbackRate)
	if err != nil {
		return err
	}
	playback := audio.NewPlaybackEngine(speaker, logger)
	defer playback.Close()

	capture := audio.NewCaptureEngine(audio.NewMicrophone, audio.CaptureConfig{
		SampleRateHz: captureRate,
		Logger:       logger,
	})

	var suggest func(string)
	if extractor, err := review.NewExtractor(ctx, cfg.APIKey, cfg.SuggestModel, logger); err != nil {
		logger.Warn("suggestion extraction disabled", "error", err)
	} else {
		suggest = extractor.Sink(ctx, func(s review.Suggestion) {
			fmt.Println("  suggestion:", s.Text)
		})
	}

	agg := transcript.New(
		transcript.WithLogger(logger),
		transcript.WithEntrySink(func(e transcript.Entry) {
			fmt.Printf("%s: %s\n", e.Speaker, e.Text)
			if e.Speaker == transcript.SpeakerAssistant && suggest != nil {
				suggest(e.Text)
			}
		}),
	)

	client := live.NewClient(
		live.WithEndpoint(cfg.Endpoint),
		live.WithCredentials(creds),
		live.WithLogger(logger),
		live.WithHeartbeatInterval(30*time.Second),
	)

	sessionCfg := live.DefaultConfig().
		WithSystemInstruction(instruction).
		WithVoice(cfg.Voice)

	started := time.Now()
	if err := client.Connect(ctx, cfg.Model, sessionCfg); err != nil {
		return err
	}
	defer client.TerminateSession()
	agg.MarkSessionStart()

	if err := capture.Start(); err != nil {
		return err
	}
	defer capture.Stop()

	// Microphone chunks stream straight into the session, tagged with the
	// negotiated device rate.
	go func() {
		for chunk := range capture.Chunks() {
			client.SendRealtimeInput(protocol.NewBlob(protocol.AudioMIMEType(capture.SampleRateHz()), chunk))
		}
	}()

	fmt.Println("screenvox: speak when ready. Commands: /t <text>, /voice <name>, /pause, /resume, q")

	go readCommands(ctx, client, capture, agg, cancel)

	done := false
	for !done {
		select {
		case <-ctx.Done():
			done = true
		case <-sigCh:
			fmt.Println("\nshutting down")
			done = true
		case ev := <-client.Events():
			switch ev := ev.(type) {
			case live.SetupCompleteEvent:
				logger.Info("session ready")
			case live.AudioEvent:
				playback.Enqueue(ev.Data)
			case live.InterruptedEvent:
				playback.Interrupt()
			case live.InputTranscriptEvent:
				agg.AddUserText(ev.Text)
			case live.OutputTranscriptEvent:
				agg.AddAssistantText(ev.Text)
			case live.ContentEvent:
				for _, part := range ev.Parts {
					if part.Text != "" {
						fmt.Println("assistant:", part.Text)
					}
				}
			case live.ReconnectingEvent:
				fmt.Println("reconnecting:", ev.Reason)
			case live.ReconnectedEvent:
				fmt.Println("session resumed")
			case live.ClosedEvent:
				fmt.Println("session closed:", ev.Reason)
				done = true
			}
		}
	}

	client.TerminateSession()
	capture.Stop()

	agg.MarkSessionEnd()
	summary := agg.Summary()
	fmt.Println("\n--- session summary ---")
	fmt.Println(summary)

	if cfg.DatabaseURL != "" {
		if err := persistSession(cfg, logger, started, summary, agg.Entries()); err != nil {
			logger.Warn("persist session", "error", err)
		}
	}
	return nil
}

func persistSession(cfg demoConfig, logger *slog.Logger, started time.Time, summary string, entries []transcript.Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	return db.SaveSession(ctx, store.SessionRecord{
		Model:   cfg.Model,
		Started: started,
		Ended:   time.Now(),
		Summary: summary,
	}, entries)
}

func readCommands(ctx context.Context, client *live.Client, capture *audio.CaptureEngine, agg *transcript.Aggregator, cancel context.CancelFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "q":
			cancel()
			return
		case line == "/pause":
			capture.Stop()
			agg.MarkInteraction("microphone paused")
			fmt.Println("microphone paused")
		case line == "/resume":
			if err := capture.Start(); err != nil {
				fmt.Println("resume failed:", err)
			}
		case strings.HasPrefix(line, "/voice "):
			voice := strings.TrimSpace(strings.TrimPrefix(line, "/voice "))
			if err := client.ChangeVoice(ctx, voice); err != nil {
				fmt.Println("voice change failed:", err)
			} else {
				agg.MarkInteraction("voice changed to " + voice)
				fmt.Println("voice changed to", voice)
			}
		case strings.HasPrefix(line, "/t "):
			if err := client.SendText(true, strings.TrimPrefix(line, "/t ")); err != nil {
				fmt.Println("send failed:", err)
			}
		case line == "":
		default:
			fmt.Println("unknown command:", line)
		}
	}
}
