// warden - Minecraft whitelist self-registration bot
package main

import (
	"fmt"
	"os"
)

var version = "dev"

const defaultConfigPath = "/etc/warden/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "registrations":
		cmdRegistrations(os.Args[2:])
	case "rcon":
		cmdRcon(os.Args[2:])
	case "hash-password":
		cmdHashPassword(os.Args[2:])
	case "version":
		fmt.Printf("warden %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: warden <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                      Run the bot, status poller and operator API")
	fmt.Println("  status                     Show the last server status seen by a running bot")
	fmt.Println("  registrations [target]     List registrations, or find one by Discord id or name")
	fmt.Println("  rcon <command...>          Run a console command on the game server")
	fmt.Println("  hash-password              Hash an operator password for the config file")
	fmt.Println("  version                    Show version")
	fmt.Println("  help                       Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/warden/config.yml)")
	fmt.Println("  --url <url>        Base URL of the warden API (default: derived from config)")
	fmt.Println()
	fmt.Println("Environment variables override the config file, e.g. DISCORD_BOT_TOKEN,")
	fmt.Println("DISCORD_STATUS_CHANNEL_ID, MINECRAFT_RCON_HOST, MINECRAFT_RCON_PORT and")
	fmt.Println("MINECRAFT_RCON_PASSWORD.")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  warden serve --config /etc/warden/config.yml")
	fmt.Println("  warden rcon whitelist list")
	fmt.Println("  warden registrations")
}
