// Package discord is the chat boundary: the status panel message, the
// application form and the operator slash commands.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/ernie/whitelist-warden/internal/collector"
	"github.com/ernie/whitelist-warden/internal/domain"
)

const (
	colorOnline  = 0x00FF00
	colorOffline = 0xFF0000

	applyButtonID = "warden:apply"
	applyFormID   = "warden:apply_form"
)

// MessageAPI is the part of the discordgo session the panel needs
type MessageAPI interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Panel posts and edits the status message in one channel
type Panel struct {
	api       MessageAPI
	channelID string
}

// NewPanel creates a panel for channelID
func NewPanel(api MessageAPI, channelID string) *Panel {
	return &Panel{api: api, channelID: channelID}
}

// PostStatus sends a new status message
func (p *Panel) PostStatus(ctx context.Context, snap domain.StatusSnapshot) (domain.PanelRef, error) {
	msg, err := p.api.ChannelMessageSendComplex(p.channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{statusEmbed(snap)},
		Components: statusComponents(snap),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return domain.PanelRef{}, fmt.Errorf("posting status message: %w", err)
	}
	return domain.PanelRef{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

// EditStatus replaces the content of an existing status message. It
// returns collector.ErrPanelGone when the message or channel was deleted.
func (p *Panel) EditStatus(ctx context.Context, ref domain.PanelRef, snap domain.StatusSnapshot) error {
	embeds := []*discordgo.MessageEmbed{statusEmbed(snap)}
	components := statusComponents(snap)

	_, err := p.api.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         ref.MessageID,
		Channel:    ref.ChannelID,
		Embeds:     &embeds,
		Components: &components,
	}, discordgo.WithContext(ctx))
	if err == nil {
		return nil
	}
	if isGone(err) {
		return fmt.Errorf("%w: %v", collector.ErrPanelGone, err)
	}
	return fmt.Errorf("editing status message: %w", err)
}

func isGone(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
			return true
		}
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}

// statusEmbed renders a snapshot as the panel embed
func statusEmbed(snap domain.StatusSnapshot) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       "🎮 Minecraft Server Status",
		Color:       colorOnline,
		Description: collector.RenderStatus(snap),
	}
	if !snap.Reachable {
		embed.Color = colorOffline
	}
	if !snap.Timestamp.IsZero() {
		embed.Timestamp = snap.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return embed
}

// statusComponents returns the apply button, greyed out while offline
func statusComponents(snap domain.StatusSnapshot) []discordgo.MessageComponent {
	button := discordgo.Button{
		Label:    "📋 Apply for Whitelist",
		Style:    discordgo.SuccessButton,
		CustomID: applyButtonID,
	}
	if !snap.Reachable {
		button.Style = discordgo.SecondaryButton
		button.Disabled = true
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{button}},
	}
}
