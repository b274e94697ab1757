// Command fitcoach is the single binary for the fitness coaching daemon:
// the pipeline orchestrator, the REST service, and the IM bot, each
// runnable standalone or together, plus a handful of one-shot diagnostic
// actions. Mode dispatch follows the teacher pack's cmd/server launcher
// (waynenilsen-power-pro-v3): stdlib flag, one function per mode.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/carpenike/fitcoach/internal/api"
	"github.com/carpenike/fitcoach/internal/bot"
	"github.com/carpenike/fitcoach/internal/cloud"
	"github.com/carpenike/fitcoach/internal/config"
	"github.com/carpenike/fitcoach/internal/llm"
	"github.com/carpenike/fitcoach/internal/notify"
	"github.com/carpenike/fitcoach/internal/oauth"
	"github.com/carpenike/fitcoach/internal/pipeline"
	"github.com/carpenike/fitcoach/internal/plan"
	"github.com/carpenike/fitcoach/internal/store"
	"github.com/carpenike/fitcoach/internal/vocabulary"
)

func main() {
	daemon := flag.Bool("daemon", false, "run the pipeline ticker, bot, and notifiers")
	apiMode := flag.Bool("api", false, "run only the REST service")
	signalMode := flag.Bool("signal", false, "run only the bot's IM receiver and notifiers")
	login := flag.Bool("login", false, "interactively perform the OAuth1/OAuth2 login exchange and exit")
	deleteWorkouts := flag.Bool("delete-workouts", false, "delete every AI-managed (FJ-AI:) workout from the cloud and exit")
	testUpload := flag.String("test-upload", "", "POST the named JSON file to the cloud workout-create endpoint and exit")
	testFetch := flag.Int64("test-fetch", 0, "fetch the given cloud workout id and print it, then exit")
	testFetchURL := flag.String("test-fetch-url", "", "GET the given cloud API path and print the raw body, then exit")
	testRefresh := flag.Bool("test-refresh", false, "force an OAuth2 token refresh and print the result, then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("fitcoach: load config: %v", err)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("fitcoach: open store: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(); err != nil {
		log.Fatalf("fitcoach: run migrations: %v", err)
	}
	log.Printf("fitcoach: store ready: %s", cfg.DatabaseURL)

	tokens, err := oauth.New(cfg.SecretsDir, cfg.OAuthConsumerKey, cfg.OAuthConsumerSecret, cfg.OAuthExchangeURL)
	if err != nil {
		log.Fatalf("fitcoach: open token store: %v", err)
	}

	client := cloud.New(cfg.CloudBaseURL, tokens)
	agg := cloud.NewAggregator(client, st)

	resolver, err := vocabulary.New()
	if err != nil {
		log.Fatalf("fitcoach: build vocabulary resolver: %v", err)
	}

	var provider llm.Provider
	if cfg.GeminiAPIKey != "" {
		provider, err = llm.NewProviderFromConfig(cfg.GeminiAPIKey, "")
		if err != nil {
			log.Fatalf("fitcoach: configure LLM provider: %v", err)
		}
	} else {
		log.Printf("fitcoach: no GEMINI_API_KEY set; plan generation and chat are disabled")
	}

	materializer := plan.New(client, resolver)
	alerter := notify.New(cfg.MaintenanceAlertURLs)

	switch {
	case *login:
		runLogin(tokens)
		return
	case *deleteWorkouts:
		runDeleteWorkouts(client)
		return
	case *testUpload != "":
		runTestUpload(client, *testUpload)
		return
	case *testFetch != 0:
		runTestFetch(client, *testFetch)
		return
	case *testFetchURL != "":
		runTestFetchURL(client, *testFetchURL)
		return
	case *testRefresh:
		runTestRefresh(tokens)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch := &pipeline.Orchestrator{
		Aggregator:   agg,
		Store:        st,
		Resolver:     resolver,
		Provider:     provider,
		Materializer: materializer,
		ProfilesDir:  cfg.SecretsDir,
	}

	fitBot := bot.New(cfg, st, agg, resolver, provider, materializer)
	fitBot.Orchestrator = orch
	orch.Broadcaster = fitBot

	switch {
	case *apiMode:
		runAPI(ctx, cfg, st, agg, resolver, materializer, provider, orch, fitBot)
	case *signalMode:
		runSignal(ctx, fitBot)
	case *daemon:
		runDaemon(ctx, cfg, orch, fitBot, alerter)
	default:
		fmt.Fprintln(os.Stderr, "fitcoach: one of --daemon, --api, or --signal is required (or a one-shot flag); see -h")
		os.Exit(2)
	}
}

func runDaemon(ctx context.Context, cfg *config.Config, orch *pipeline.Orchestrator, fitBot *bot.Bot, alerter *notify.Alerter) {
	log.Printf("fitcoach: daemon mode: pipeline ticker (%dh) + bot + notifiers", cfg.PipelineIntervalHours)

	go runPipelineTicker(ctx, orch, cfg.PipelineIntervalHours, alerter)
	go fitBot.RunNotifiers(ctx)

	if err := fitBot.Run(ctx); err != nil && ctx.Err() == nil {
		log.Printf("fitcoach: bot receive loop exited: %v", err)
	}
}

func runSignal(ctx context.Context, fitBot *bot.Bot) {
	log.Printf("fitcoach: signal mode: bot receiver + notifiers only")
	go fitBot.RunNotifiers(ctx)
	if err := fitBot.Run(ctx); err != nil && ctx.Err() == nil {
		log.Printf("fitcoach: bot receive loop exited: %v", err)
	}
}

func runAPI(ctx context.Context, cfg *config.Config, st *store.Store, agg *cloud.Aggregator, resolver *vocabulary.Resolver, materializer *plan.Materializer, provider llm.Provider, orch *pipeline.Orchestrator, fitBot *bot.Bot) {
	srv := &api.Server{
		Store:               st,
		Aggregator:          agg,
		Resolver:            resolver,
		Materializer:        materializer,
		Provider:            provider,
		Orchestrator:        orch,
		Broadcaster:         fitBot,
		AuthToken:           cfg.APIAuthToken,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		GenerateRatePerHour: cfg.GenerateRateLimitPerHour,
		ChatRatePerMinute:   cfg.ChatRateLimitPerMinute,
		ProfilesDir:         cfg.SecretsDir,
	}

	httpServer := &http.Server{
		Addr:    cfg.APIBindAddr,
		Handler: srv.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("fitcoach: api shutdown: %v", err)
		}
	}()

	log.Printf("fitcoach: api mode: listening on %s", cfg.APIBindAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("fitcoach: api server: %v", err)
	}
}

// runPipelineTicker re-runs the orchestrator on a fixed interval,
// independent of the /generate endpoint/command. A failed run alerts the
// operator channel (not the athlete's IM channel) and keeps ticking.
func runPipelineTicker(ctx context.Context, orch *pipeline.Orchestrator, intervalHours int, alerter *notify.Alerter) {
	if intervalHours <= 0 {
		intervalHours = 6
	}
	ticker := time.NewTicker(time.Duration(intervalHours) * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := orch.Run(ctx); err != nil {
				log.Printf("fitcoach: scheduled pipeline run failed: %v", err)
				alerter.Alertf("fitcoach: scheduled pipeline run failed: %v", err)
			}
		}
	}
}

func runLogin(tokens *oauth.Store) {
	fmt.Print("Username: ")
	var username string
	fmt.Scanln(&username)
	fmt.Print("Password: ")
	var password string
	fmt.Scanln(&password)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := tokens.Login(ctx, username, password, promptMFA); err != nil {
		log.Fatalf("fitcoach: login failed: %v", err)
	}
	fmt.Println("Login succeeded; tokens saved.")
}

func promptMFA(_ context.Context) (string, error) {
	fmt.Print("MFA code: ")
	var code string
	if _, err := fmt.Scanln(&code); err != nil {
		return "", fmt.Errorf("read MFA code: %w", err)
	}
	return code, nil
}

func runDeleteWorkouts(client *cloud.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	workouts, err := client.ListWorkouts(ctx)
	if err != nil {
		log.Fatalf("fitcoach: list workouts: %v", err)
	}
	for _, w := range workouts {
		if !strings.HasPrefix(w.Name, plan.AIManagedPrefix) {
			continue
		}
		if err := client.DeleteWorkout(ctx, w.WorkoutID); err != nil {
			log.Printf("fitcoach: delete workout %d: %v", w.WorkoutID, err)
			continue
		}
		log.Printf("fitcoach: deleted workout %d (%s)", w.WorkoutID, w.Name)
	}
}

func runTestUpload(client *cloud.Client, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("fitcoach: read %s: %v", path, err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Fatalf("fitcoach: parse %s: %v", path, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	workoutID, err := client.CreateWorkout(ctx, payload)
	if err != nil {
		log.Fatalf("fitcoach: create workout: %v", err)
	}
	fmt.Printf("Created workout id %d\n", workoutID)
}

func runTestFetch(client *cloud.Client, workoutID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	body, err := client.Get(ctx, fmt.Sprintf("/workout-service/workout/%d", workoutID))
	if err != nil {
		log.Fatalf("fitcoach: fetch workout %d: %v", workoutID, err)
	}
	fmt.Println(string(body))
}

func runTestFetchURL(client *cloud.Client, path string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	body, err := client.Get(ctx, path)
	if err != nil {
		log.Fatalf("fitcoach: fetch %s: %v", path, err)
	}
	fmt.Println(string(body))
}

func runTestRefresh(tokens *oauth.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := tokens.EnsureFresh(ctx); err != nil {
		log.Fatalf("fitcoach: refresh failed: %v", err)
	}
	token := tokens.AccessToken()
	suffix := token
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	fmt.Printf("Refresh ok; access token ends in ...%s\n", suffix)
}
