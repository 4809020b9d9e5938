package discord

import "github.com/bwmarrin/discordgo"

const (
	cmdListWhitelist   = "list_whitelist"
	cmdRemoveWhitelist = "remove_whitelist"
	optTarget          = "target"
)

var adminPermission int64 = discordgo.PermissionAdministrator

func commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:                     cmdListWhitelist,
			Description:              "Admin command: Display current whitelist registrations",
			DefaultMemberPermissions: &adminPermission,
		},
		{
			Name:                     cmdRemoveWhitelist,
			Description:              "Admin command: Remove user from whitelist",
			DefaultMemberPermissions: &adminPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        optTarget,
					Description: "Discord ID or Minecraft username to remove",
					Required:    true,
				},
			},
		},
	}
}
