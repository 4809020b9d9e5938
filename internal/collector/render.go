package collector

import (
	"fmt"
	"strings"

	"github.com/ernie/whitelist-warden/internal/domain"
)

// maxListedPlayers caps the names shown on the panel
const maxListedPlayers = 10

// RenderStatus formats a snapshot as plain text for the panel and the CLI
func RenderStatus(snap domain.StatusSnapshot) string {
	var b strings.Builder

	if !snap.Reachable {
		b.WriteString("Offline (server unreachable)")
		if !snap.Timestamp.IsZero() {
			fmt.Fprintf(&b, "\nChecked %s", snap.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))
		}
		return b.String()
	}

	b.WriteString("Online")
	switch {
	case snap.Players == nil:
		b.WriteString("\nPlayers: unknown")
	case snap.MaxPlayers > 0:
		fmt.Fprintf(&b, "\nPlayers: %d/%d", *snap.Players, snap.MaxPlayers)
	default:
		fmt.Fprintf(&b, "\nPlayers: %d", *snap.Players)
	}

	if snap.Players != nil {
		b.WriteString("\n")
		b.WriteString(RenderPlayerList(snap.Names))
	}
	if !snap.Timestamp.IsZero() {
		fmt.Fprintf(&b, "\nChecked %s", snap.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	return b.String()
}

// RenderPlayerList lists up to maxListedPlayers names, one per line
func RenderPlayerList(names []string) string {
	if len(names) == 0 {
		return "No players online"
	}

	shown := names
	if len(shown) > maxListedPlayers {
		shown = shown[:maxListedPlayers]
	}
	lines := make([]string, 0, len(shown)+1)
	for _, n := range shown {
		lines = append(lines, "• "+n)
	}
	if extra := len(names) - len(shown); extra > 0 {
		lines = append(lines, fmt.Sprintf("... and %d more", extra))
	}
	return strings.Join(lines, "\n")
}
