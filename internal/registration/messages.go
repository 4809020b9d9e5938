package registration

import "fmt"

// Replies shown to the requester. Each terminal state maps to exactly one.
const (
	msgInvalidName     = "That doesn't look like a Minecraft username. Use 3-16 letters, digits or underscores."
	msgResolverDown    = "Couldn't verify the username right now, try again later."
	msgInProgress      = "Already processing your application. Please wait."
	msgServerError     = "Server error, contact an admin."
	msgServerOffline   = "Server is offline."
	msgStoreDown       = "Registrations are temporarily unavailable, try again later."
	msgShuttingDown    = "The bot is shutting down, try again shortly."
	msgUnknownAction   = "Unsupported action."
	msgMissingUsername = "Please enter your Minecraft username."
)

func msgWhitelisted(name string) string {
	return fmt.Sprintf("You're whitelisted as %s.", name)
}

func msgAlreadyRegistered(name string) string {
	if name == "" {
		return "You are already registered."
	}
	return fmt.Sprintf("You are already registered as %s.", name)
}

func msgNoSuchPlayer(name string) string {
	return fmt.Sprintf("No such player: %s.", name)
}

func msgWhitelistedNotSaved(name string) string {
	return fmt.Sprintf("You're whitelisted as %s, but the registration could not be saved. Contact an admin.", name)
}
