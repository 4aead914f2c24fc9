package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Terryjones1995/2kbot/internal/config"
	"github.com/Terryjones1995/2kbot/internal/stats"
	"github.com/Terryjones1995/2kbot/internal/storage"
	"github.com/Terryjones1995/2kbot/internal/sweeper"
	"github.com/Terryjones1995/2kbot/internal/verify"
	"github.com/Terryjones1995/2kbot/internal/vision"
)

// Bot represents the Discord bot instance
type Bot struct {
	config      *config.Config
	session     *discordgo.Session
	repo        *storage.Repository
	extractor   *vision.Extractor
	resolver    *verify.Resolver
	coordinator *verify.Coordinator
	notify      *notifier
	sweeper     *sweeper.Sweeper
	commands    []*discordgo.ApplicationCommand
}

// New creates a new Bot instance
func New(ctx context.Context, cfg *config.Config) (*Bot, error) {
	// Create Discord session
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Set intents; members are needed for role checks
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	// Initialize storage
	repo, err := storage.NewRepository(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Initialize the vision extractor
	visionClient, err := vision.NewClient(ctx, cfg.GeminiAPIKey, cfg.VisionModels)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vision client: %w", err)
	}
	extractor := vision.NewExtractor(visionClient)

	// Wire the verification pipeline
	thresholds := stats.Thresholds{
		MinGames:  cfg.MinGames,
		MinWinPct: cfg.MinWinPct,
	}
	reverifyWindow := time.Duration(cfg.ReverifyWindowDays) * 24 * time.Hour

	notify := newNotifier(session, repo, cfg.ArbiterUserID, cfg.AuditChannelName)
	guild := newGuildService(session)
	coordinator := verify.NewCoordinator(repo, guild, notify, reverifyWindow)
	approvals := verify.NewApprovals()
	resolver := verify.NewResolver(repo, approvals, coordinator, notify, thresholds)

	b := &Bot{
		config:      cfg,
		session:     session,
		repo:        repo,
		extractor:   extractor,
		resolver:    resolver,
		coordinator: coordinator,
		notify:      notify,
	}

	// Register command handlers
	b.registerHandlers()

	return b, nil
}

// Start opens the Discord connection and starts background tasks
func (b *Bot) Start(ctx context.Context) error {
	// Open Discord connection
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	slog.Info("Connected to Discord", "user", b.session.State.User.Username)

	// Register slash commands
	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	// Start the expiry sweeper
	b.sweeper = sweeper.New(b.repo, b.coordinator, b.notify, b.config.SweepIntervalMinutes)
	go b.sweeper.Start(ctx)

	return nil
}

// Stop gracefully shuts down the bot
func (b *Bot) Stop() error {
	// Stop the sweeper
	if b.sweeper != nil {
		b.sweeper.Stop()
	}

	// Close storage
	if b.repo != nil {
		b.repo.Close()
	}

	// Close Discord session
	if b.session != nil {
		return b.session.Close()
	}

	return nil
}

// registerHandlers sets up Discord event handlers
func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleInteraction)
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("Bot is ready", "guilds", len(r.Guilds))
	})
}

// handleInteraction routes slash commands and component clicks
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionMessageComponent:
		b.handleComponent(s, i)
		return
	case discordgo.InteractionApplicationCommand:
	default:
		return
	}

	data := i.ApplicationCommandData()
	slog.Debug("Received command", "command", data.Name, "guild", i.GuildID)

	switch data.Name {
	case "verify":
		b.handleVerify(s, i)
	case "status":
		b.handleStatus(s, i)
	case "setrole":
		b.handleSetRole(s, i)
	default:
		slog.Warn("Unknown command", "command", data.Name)
	}
}
