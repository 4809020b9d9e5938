package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/ernie/whitelist-warden/internal/domain"
)

// toInteraction converts a button press or form submit into the
// platform-neutral form. It reports false for anything else.
func toInteraction(i *discordgo.Interaction) (domain.Interaction, bool) {
	requester := requesterID(i)
	if requester == "" {
		return domain.Interaction{}, false
	}

	switch i.Type {
	case discordgo.InteractionMessageComponent:
		if i.MessageComponentData().CustomID != applyButtonID {
			return domain.Interaction{}, false
		}
		return domain.Interaction{Type: domain.ButtonPress, RequesterID: requester}, true

	case discordgo.InteractionModalSubmit:
		data := i.ModalSubmitData()
		if data.CustomID != applyFormID {
			return domain.Interaction{}, false
		}
		return domain.Interaction{
			Type:        domain.ModalSubmit,
			RequesterID: requester,
			Fields:      formValues(data.Components),
		}, true
	}
	return domain.Interaction{}, false
}

func requesterID(i *discordgo.Interaction) string {
	switch {
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.ID
	case i.User != nil:
		return i.User.ID
	default:
		return ""
	}
}

// isAdmin reports whether the invoking member holds the administrator
// permission. Direct messages never qualify.
func isAdmin(i *discordgo.Interaction) bool {
	return i.Member != nil && i.Member.Permissions&discordgo.PermissionAdministrator != 0
}

// formValues flattens submitted text inputs into custom id -> value.
// Decoded payloads carry pointers, hand-built ones may carry values.
func formValues(rows []discordgo.MessageComponent) map[string]string {
	fields := make(map[string]string)
	for _, row := range rows {
		var children []discordgo.MessageComponent
		switch r := row.(type) {
		case *discordgo.ActionsRow:
			children = r.Components
		case discordgo.ActionsRow:
			children = r.Components
		}
		for _, c := range children {
			switch in := c.(type) {
			case *discordgo.TextInput:
				fields[in.CustomID] = in.Value
			case discordgo.TextInput:
				fields[in.CustomID] = in.Value
			}
		}
	}
	return fields
}

// applyModal is the application form shown after the apply button
func applyModal() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: applyFormID,
			Title:    "Minecraft Whitelist Application",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    domain.FieldUsername,
						Label:       "Minecraft Username",
						Style:       discordgo.TextInputShort,
						Placeholder: "Enter your Minecraft username...",
						Required:    true,
						MaxLength:   16,
					},
				}},
			},
		},
	}
}

func ephemeral(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

func deferredEphemeral() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}
}
