package main

import (
	"bufio"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/gardenista/beanbot/pkg/agent"
	"github.com/gardenista/beanbot/pkg/bus"
	"github.com/gardenista/beanbot/pkg/channels"
	"github.com/gardenista/beanbot/pkg/checkpoint"
	"github.com/gardenista/beanbot/pkg/config"
	"github.com/gardenista/beanbot/pkg/consolidate"
	"github.com/gardenista/beanbot/pkg/cron"
	"github.com/gardenista/beanbot/pkg/health"
	"github.com/gardenista/beanbot/pkg/jobs"
	"github.com/gardenista/beanbot/pkg/knowledge"
	"github.com/gardenista/beanbot/pkg/logger"
	"github.com/gardenista/beanbot/pkg/providers"
	"github.com/gardenista/beanbot/pkg/weather"
)

//go:embed templates
var embeddedTemplates embed.FS

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "beanbot"

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Printf("  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Printf("  Go: %s\n", goVer)
	}
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".beanbot", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func validateRuntimeConfig(cfg *config.Config, requireDiscord bool) error {
	if err := providers.ValidateProviderConfig(cfg); err != nil {
		return fmt.Errorf("%w (set it in %s or the environment)", err, getConfigPath())
	}
	if requireDiscord && strings.TrimSpace(cfg.Channels.Discord.Token) == "" {
		return fmt.Errorf("channels.discord.token is required in %s or BEANBOT_CHANNELS_DISCORD_TOKEN", getConfigPath())
	}
	return nil
}

// runtime bundles everything a command needs to talk to the agent.
type agentRuntime struct {
	cfg      *config.Config
	provider providers.LLMProvider
	library  *knowledge.Library
	store    *checkpoint.Store
	bus      *bus.MessageBus
	loop     *agent.Loop
}

func buildRuntime(cfg *config.Config) (*agentRuntime, error) {
	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}

	library, err := knowledge.NewLibrary(cfg.DataDirPath())
	if err != nil {
		return nil, fmt.Errorf("open knowledge library: %w", err)
	}

	store, err := checkpoint.Open(cfg.CheckpointDBPath())
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	msgBus := bus.NewMessageBus()
	loop := agent.NewLoop(cfg, msgBus, provider, library, store)

	return &agentRuntime{
		cfg:      cfg,
		provider: provider,
		library:  library,
		store:    store,
		bus:      msgBus,
		loop:     loop,
	}, nil
}

func (rt *agentRuntime) Close() {
	if rt.store != nil {
		rt.store.Close()
	}
}

func onboard() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Print("Overwrite? (y/n): ")
		reader := bufio.NewReader(os.Stdin)
		response, readErr := reader.ReadString('\n')
		if readErr != nil {
			fmt.Println("Aborted.")
			return nil
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	if err := seedDataDir(cfg.DataDirPath()); err != nil {
		return fmt.Errorf("seed data dir: %w", err)
	}

	fmt.Printf("%s is ready!\n", appName)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add your API key to", configPath)
	fmt.Println("  2. (Gateway mode) Add your Discord bot token to channels.discord.token")
	fmt.Println("  3. Chat locally: beanbot agent -m \"What should I plant this week?\"")
	fmt.Println("  4. Run gateway: beanbot gateway")
	fmt.Println("  5. Check readiness: beanbot status")
	return nil
}

// seedDataDir copies embedded starter documents into the data dir. Files
// that already exist are left alone so re-running onboard never clobbers
// a live garden library.
func seedDataDir(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return err
	}

	return fs.WalkDir(embeddedTemplates, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel("templates", path)
		if err != nil {
			return err
		}
		targetPath := filepath.Join(dataDir, rel)

		if _, statErr := os.Stat(targetPath); statErr == nil {
			return nil
		}

		data, err := embeddedTemplates.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read embedded template %s: %w", path, err)
		}
		if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
			return err
		}
		return os.WriteFile(targetPath, data, 0644)
	})
}

func agentCmd(message, sessionKey string, debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("Debug mode enabled")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := validateRuntimeConfig(cfg, false); err != nil {
		return err
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.InfoCF("agent", "Agent initialized", map[string]any{
		"tools_count": rt.loop.Tools().Count(),
		"provider":    cfg.Agent.Provider,
	})

	if message != "" {
		response, err := rt.loop.ProcessDirect(context.Background(), message, sessionKey)
		if err != nil {
			return err
		}
		fmt.Printf("\n%s %s\n", appName, response)
		return nil
	}

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", appName)
	interactiveMode(rt.loop, sessionKey)
	return nil
}

func interactiveMode(loop *agent.Loop, sessionKey string) {
	prompt := fmt.Sprintf("%s You: ", appName)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".beanbot_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(loop, sessionKey)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		response, err := loop.ProcessDirect(context.Background(), input, sessionKey)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Printf("\n%s %s\n\n", appName, response)
	}
}

func simpleInteractiveMode(loop *agent.Loop, sessionKey string) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("%s You: ", appName)
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		response, err := loop.ProcessDirect(context.Background(), input, sessionKey)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Printf("\n%s %s\n\n", appName, response)
	}
}

func gatewayCmd(debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("Debug mode enabled")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := validateRuntimeConfig(cfg, true); err != nil {
		return err
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	fmt.Println("\nAgent status:")
	fmt.Printf("  - Tools: %d loaded\n", rt.loop.Tools().Count())
	fmt.Printf("  - Provider: %s (%s)\n", cfg.Agent.Provider, rt.provider.GetDefaultModel())

	wx := weather.New(cfg.Weather)
	if wx.Configured() {
		fmt.Println("  - Weather: configured")
	} else {
		fmt.Println("  - Weather: not configured (briefings skip the forecast)")
	}

	runner := jobs.NewRunner(cfg, rt.loop, rt.library, rt.store, wx, rt.bus)

	loc, locErr := time.LoadLocation(cfg.Agent.Timezone)
	if locErr != nil {
		loc = time.UTC
	}
	cronService := cron.NewService(loc)
	if err := runner.RegisterSchedule(cronService); err != nil {
		return fmt.Errorf("register schedule: %w", err)
	}

	channelManager, err := channels.NewManager(cfg, rt.bus)
	if err != nil {
		return fmt.Errorf("create channel manager: %w", err)
	}
	fmt.Printf("Channels enabled: %s\n", strings.Join(channelManager.GetEnabledChannels(), ", "))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cronService.Start()
	fmt.Printf("Cron service started (%d jobs)\n", len(cronService.Jobs()))

	if err := channelManager.StartAll(ctx); err != nil {
		cancel()
		cronService.Stop()
		rt.loop.Stop()
		return fmt.Errorf("start channels: %w", err)
	}

	healthServer := health.NewServer(cfg.Gateway.Host, cfg.Gateway.Port)
	healthServer.RegisterCheck("library", func() error {
		_, err := rt.library.List()
		return err
	})
	healthServer.RegisterCheck("checkpoints", func() error {
		checkCtx, checkCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer checkCancel()
		_, err := rt.store.Threads(checkCtx, "")
		return err
	})
	go func() {
		if err := healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("health", "Health server error", map[string]any{"error": err.Error()})
		}
	}()
	fmt.Printf("Health endpoints at http://%s:%d/health and /ready\n", cfg.Gateway.Host, cfg.Gateway.Port)

	go rt.loop.Run(ctx)

	go func() {
		if err := rt.library.Watch(ctx, func(name string) {
			logger.InfoCF("knowledge", "Document changed on disk", map[string]any{"document": name})
		}); err != nil {
			logger.WarnCF("knowledge", "Watcher stopped", map[string]any{"error": err.Error()})
		}
	}()

	fmt.Println("Gateway running. Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	healthServer.Stop(context.Background())
	cronService.Stop()
	rt.loop.Stop()
	channelManager.StopAll(context.Background())
	fmt.Println("Gateway stopped")
	return nil
}

func statusCmd() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	configPath := getConfigPath()

	fmt.Printf("%s Status\n", appName)
	fmt.Printf("Version: %s\n", formatVersion())
	fmt.Println()

	mark := func(ok bool) string {
		if ok {
			return "ok"
		}
		return "missing"
	}

	_, cfgErr := os.Stat(configPath)
	fmt.Printf("Config: %s (%s)\n", configPath, mark(cfgErr == nil))

	dataDir := cfg.DataDirPath()
	_, dataErr := os.Stat(dataDir)
	fmt.Printf("Data dir: %s (%s)\n", dataDir, mark(dataErr == nil))

	_, almanacErr := os.Stat(filepath.Join(dataDir, "almanac.md"))
	if almanacErr == nil {
		fmt.Println("Almanac: configured")
	} else {
		fmt.Println("Almanac: not set up yet (run onboarding, then tell the bot your location)")
	}

	dbPath := cfg.CheckpointDBPath()
	_, dbErr := os.Stat(dbPath)
	if dbErr == nil {
		fmt.Printf("Checkpoint DB: %s (ok)\n", dbPath)
	} else {
		fmt.Printf("Checkpoint DB: %s (not initialized)\n", dbPath)
	}

	providerName := providers.NormalizeProviderName(cfg.Agent.Provider)
	apiReady := strings.TrimSpace(cfg.ProviderCredentials(providerName).APIKey) != ""
	discordReady := strings.TrimSpace(cfg.Channels.Discord.Token) != ""
	weatherReady := strings.TrimSpace(cfg.Weather.APIKey) != ""

	fmt.Printf("Provider: %s (%s)\n", providerName, cfg.Agent.Model)
	fmt.Printf("API key: %s\n", setOrNot(apiReady))
	fmt.Printf("Discord token: %s\n", setOrNot(discordReady))
	fmt.Printf("Weather API key: %s\n", setOrNot(weatherReady))
	fmt.Printf("Agent ready: %s\n", setOrNot(apiReady))
	fmt.Printf("Gateway ready: %s\n", setOrNot(apiReady && discordReady))
	return nil
}

func setOrNot(set bool) string {
	if set {
		return "set"
	}
	return "not set"
}

// jobTimeout bounds one-shot job invocations from the CLI.
const jobTimeout = 5 * time.Minute

func runJobCmd(requireDiscordDelivery bool, run func(ctx context.Context, runner *jobs.Runner) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := validateRuntimeConfig(cfg, requireDiscordDelivery); err != nil {
		return err
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	// Deliver over Discord when a token is configured, otherwise echo
	// outbound traffic to the terminal.
	var channelManager *channels.Manager
	if strings.TrimSpace(cfg.Channels.Discord.Token) != "" {
		channelManager, err = channels.NewManager(cfg, rt.bus)
		if err != nil {
			return fmt.Errorf("create channel manager: %w", err)
		}
		if err := channelManager.StartAll(ctx); err != nil {
			return fmt.Errorf("start channels: %w", err)
		}
		defer channelManager.StopAll(context.Background())
	} else {
		go echoOutbound(ctx, rt.bus)
	}

	runner := jobs.NewRunner(cfg, rt.loop, rt.library, rt.store, weather.New(cfg.Weather), rt.bus)
	if err := run(ctx, runner); err != nil {
		return err
	}

	// Give the outbound dispatcher a moment to drain.
	time.Sleep(500 * time.Millisecond)
	return nil
}

func echoOutbound(ctx context.Context, msgBus *bus.MessageBus) {
	for {
		msg, ok := msgBus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		fmt.Printf("\n--- outbound (%s/%s) ---\n%s\n", msg.Channel, msg.ChatID, msg.Content)
	}
}

func consolidateLibraryCmd() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := validateRuntimeConfig(cfg, false); err != nil {
		return err
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	engine := consolidate.NewEngine(rt.provider, rt.library, cfg.Agent.Model)

	fmt.Println("Categorizing knowledge library...")
	report, err := engine.RebuildCategories(ctx, time.Now())
	if err != nil {
		return err
	}

	fmt.Printf("Categorized %d files into %d categories (%d species/topics).\n",
		report.FileCount, report.Categories.SpeciesCount(), len(report.Categories))
	fmt.Println("Wrote categories.md")

	if len(report.MergeSuggestions) == 0 {
		fmt.Println("No merge candidates found.")
		return nil
	}

	fmt.Printf("\nMerge candidates (%d):\n", len(report.MergeSuggestions))
	for _, sugg := range report.MergeSuggestions {
		fmt.Printf("  - %s: %d files -> %s\n", sugg.Species, len(sugg.Files), sugg.Target)
		fmt.Printf("      beanbot consolidate topic %q\n", strings.ToLower(sugg.Species))
	}
	return nil
}

func consolidateTopicCmd(topic string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := validateRuntimeConfig(cfg, false); err != nil {
		return err
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	engine := consolidate.NewEngine(rt.provider, rt.library, cfg.Agent.Model)
	plan, err := engine.PlanTopicMerge(topic)
	if err != nil {
		return err
	}
	if plan == nil {
		fmt.Printf("No knowledge files found for %q.\n", topic)
		return nil
	}

	fmt.Printf("Consolidating %d file(s) about %q:\n", len(plan.Files), plan.Topic)
	for _, name := range plan.Files {
		fmt.Printf("  - %s\n", name)
	}

	threadID := agent.EphemeralThreadID("consolidate_", time.Now())
	response, err := rt.loop.ProcessEphemeral(ctx, threadID, plan.Prompt)
	if err != nil {
		return err
	}
	fmt.Printf("\n%s\n", response)
	return nil
}

func consolidateTasksCmd(apply bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := validateRuntimeConfig(cfg, false); err != nil {
		return err
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	openTasks, err := rt.library.OpenTasks()
	if err != nil {
		return fmt.Errorf("read open tasks: %w", err)
	}
	if len(openTasks) < 2 {
		fmt.Println("Not enough open tasks to analyze.")
		return nil
	}

	engine := consolidate.NewEngine(rt.provider, rt.library, cfg.Agent.Model)
	groups, err := engine.AnalyzeDuplicateTasks(ctx, openTasks)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Println("No duplicate or similar tasks found.")
		return nil
	}

	decisions := make(map[int]consolidate.Decision, len(groups))
	reader := bufio.NewReader(os.Stdin)
	for i, group := range groups {
		fmt.Printf("\nGroup %d (%s): %s\n", i+1, group.Type, group.Reason)
		for _, idx := range group.Indices {
			fmt.Printf("  %d: %s\n", idx, knowledge.TaskDescription(openTasks[idx]))
		}
		if group.SuggestedMerge != "" {
			fmt.Printf("  Suggested merge: %s\n", group.SuggestedMerge)
		}

		if !apply {
			continue
		}

		fmt.Print("  Action [m]erge / [r]emove duplicates / [k]eep (default k): ")
		answer, readErr := reader.ReadString('\n')
		if readErr != nil {
			break
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "m", "merge":
			decisions[i] = consolidate.DecisionMerge
		case "r", "remove":
			decisions[i] = consolidate.DecisionRemove
		default:
			decisions[i] = consolidate.DecisionKeep
		}
	}

	if !apply {
		fmt.Printf("\n%d group(s) found. Re-run with --apply to resolve them.\n", len(groups))
		return nil
	}

	summary, err := engine.ApplyTaskDecisions(groups, openTasks, decisions, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(summary.String())
	return nil
}
