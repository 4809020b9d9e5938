package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/ernie/whitelist-warden/internal/domain"
	"github.com/ernie/whitelist-warden/internal/registration"
	"github.com/ernie/whitelist-warden/internal/registry"
)

const (
	// buttonTimeout keeps button handling inside the platform's
	// three second acknowledgement window
	buttonTimeout = 2 * time.Second
	adminTimeout  = 30 * time.Second

	maxListedRegistrations = 25

	msgAdminOnly    = "❌ This command can only be used by administrators."
	msgCommandError = "❌ An error occurred, check the bot logs."
)

// Service is the registration workflow the bot fronts
type Service interface {
	Handle(ctx context.Context, in domain.Interaction) registration.Response
	List(ctx context.Context) ([]domain.Registration, error)
	Revoke(ctx context.Context, target string) (*domain.Registration, error)
}

// Dispatcher runs form submissions off the event goroutine
type Dispatcher interface {
	Dispatch(in domain.Interaction, reply registration.ReplyFunc) bool
}

// Responder is the part of the discordgo session used to answer interactions
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// NewSession creates a bot session with the intents the warden uses
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds
	return s, nil
}

// Bot routes interactions to the registration workflow
type Bot struct {
	ctx        context.Context
	session    *discordgo.Session
	api        Responder
	service    Service
	dispatcher Dispatcher
	guildID    string
	log        *zap.Logger

	removeHandler func()
}

// NewBot creates a bot. Work started by interactions runs under ctx.
func NewBot(ctx context.Context, session *discordgo.Session, service Service, dispatcher Dispatcher, guildID string, log *zap.Logger) *Bot {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bot{
		ctx:        ctx,
		session:    session,
		service:    service,
		dispatcher: dispatcher,
		guildID:    guildID,
		log:        log.Named("discord"),
	}
	if session != nil {
		b.api = session
	}
	return b
}

// Open connects to the gateway and registers the slash commands
func (b *Bot) Open() error {
	b.removeHandler = b.session.AddHandler(func(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
		b.route(ic.Interaction)
	})

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening discord session: %w", err)
	}

	appID := b.session.State.User.ID
	if _, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, commands()); err != nil {
		b.log.Warn("registering slash commands", zap.Error(err))
	}

	b.log.Info("connected to discord",
		zap.String("user", b.session.State.User.Username), zap.String("guild", b.guildID))
	return nil
}

// Close disconnects from the gateway
func (b *Bot) Close() error {
	if b.removeHandler != nil {
		b.removeHandler()
	}
	return b.session.Close()
}

func (b *Bot) route(i *discordgo.Interaction) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("interaction handler panicked", zap.Any("panic", r))
		}
	}()

	if i.Type == discordgo.InteractionApplicationCommand {
		b.handleCommand(i)
		return
	}

	in, ok := toInteraction(i)
	if !ok {
		b.respond(i, ephemeral("Unsupported action."))
		return
	}

	switch in.Type {
	case domain.ButtonPress:
		ctx, cancel := context.WithTimeout(b.ctx, buttonTimeout)
		defer cancel()

		resp := b.service.Handle(ctx, in)
		if resp.OpenForm {
			b.respond(i, applyModal())
			return
		}
		b.respond(i, ephemeral(resp.Message))

	case domain.ModalSubmit:
		if !b.respond(i, deferredEphemeral()) {
			return
		}
		b.dispatcher.Dispatch(in, func(resp registration.Response) {
			b.edit(i, resp.Message)
		})
	}
}

func (b *Bot) respond(i *discordgo.Interaction, resp *discordgo.InteractionResponse) bool {
	if err := b.api.InteractionRespond(i, resp); err != nil {
		b.log.Warn("responding to interaction", zap.String("interaction", i.ID), zap.Error(err))
		return false
	}
	return true
}

func (b *Bot) edit(i *discordgo.Interaction, content string) {
	if _, err := b.api.InteractionResponseEdit(i, &discordgo.WebhookEdit{Content: &content}); err != nil {
		b.log.Warn("editing interaction response", zap.String("interaction", i.ID), zap.Error(err))
	}
}

func (b *Bot) editEmbed(i *discordgo.Interaction, embed *discordgo.MessageEmbed) {
	embeds := []*discordgo.MessageEmbed{embed}
	if _, err := b.api.InteractionResponseEdit(i, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		b.log.Warn("editing interaction response", zap.String("interaction", i.ID), zap.Error(err))
	}
}

func (b *Bot) handleCommand(i *discordgo.Interaction) {
	if !isAdmin(i) {
		b.respond(i, ephemeral(msgAdminOnly))
		return
	}
	if !b.respond(i, deferredEphemeral()) {
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, adminTimeout)
	defer cancel()

	data := i.ApplicationCommandData()
	switch data.Name {
	case cmdListWhitelist:
		b.listWhitelist(ctx, i)
	case cmdRemoveWhitelist:
		var target string
		for _, opt := range data.Options {
			if opt.Name == optTarget {
				target = opt.StringValue()
			}
		}
		b.removeWhitelist(ctx, i, target)
	default:
		b.edit(i, "Unknown command.")
	}
}

func (b *Bot) listWhitelist(ctx context.Context, i *discordgo.Interaction) {
	regs, err := b.service.List(ctx)
	if err != nil {
		b.log.Error("listing registrations", zap.Error(err))
		b.edit(i, msgCommandError)
		return
	}
	if len(regs) == 0 {
		b.edit(i, "📄 No users are currently registered.")
		return
	}
	b.editEmbed(i, registrationsEmbed(regs))
}

func (b *Bot) removeWhitelist(ctx context.Context, i *discordgo.Interaction, target string) {
	if target == "" {
		b.edit(i, "❌ A Discord ID or Minecraft username is required.")
		return
	}

	reg, err := b.service.Revoke(ctx, target)
	switch {
	case err == nil:
		b.log.Info("registration revoked by admin",
			zap.String("admin", requesterID(i)),
			zap.String("requester", reg.RequesterID),
			zap.String("name", reg.CanonicalName))
		b.edit(i, fmt.Sprintf("✅ Removed <@%s> (Minecraft ID: `%s`) from whitelist.", reg.RequesterID, reg.CanonicalName))
	case errors.Is(err, registry.ErrNotRegistered):
		b.edit(i, fmt.Sprintf("❌ `%s` is not registered.", target))
	case errors.Is(err, registration.ErrRemoveRejected):
		b.edit(i, fmt.Sprintf("❌ The server refused to remove `%s`, the registration was kept.", target))
	default:
		b.log.Error("revoking registration", zap.String("target", target), zap.Error(err))
		b.edit(i, msgCommandError)
	}
}

func registrationsEmbed(regs []domain.Registration) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       "📋 Whitelist Registrations",
		Color:       colorOnline,
		Description: fmt.Sprintf("Total registered users: %d", len(regs)),
	}
	for n, reg := range regs {
		if n == maxListedRegistrations {
			embed.Footer = &discordgo.MessageEmbedFooter{
				Text: fmt.Sprintf("... and %d more users", len(regs)-maxListedRegistrations),
			}
			break
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("%d. %s", n+1, reg.CanonicalName),
			Value: fmt.Sprintf("<@%s>\nRegistered %s", reg.RequesterID, reg.CreatedAt.UTC().Format("2006-01-02 15:04")),
		})
	}
	return embed
}
