package gateway

import (
	"regexp"
	"strconv"
	"strings"
)

// PlayerList is the parsed answer to the "list" command.
// Online is -1 when the server answered in a format we do not recognise.
type PlayerList struct {
	Online int
	Max    int
	Names  []string
}

// Counted reports whether the player count is known
func (l PlayerList) Counted() bool {
	return l.Online >= 0
}

var (
	// vanilla: "There are 2 of a max of 20 players online: Alice, Bob"
	// paper:   "There are 2 out of maximum 20 players online."
	listPattern = regexp.MustCompile(`(?is)there are (\d+)\s*(?:/|of a max(?:imum)? of|out of maximum)\s*(\d+) players online[.:]?\s*(.*)`)

	formattingCode = regexp.MustCompile(`§.`)
)

// ParsePlayerList parses the output of the "list" command
func ParsePlayerList(out string) PlayerList {
	text := stripFormatting(out)
	m := listPattern.FindStringSubmatch(text)
	if m == nil {
		return PlayerList{Online: -1}
	}

	online, _ := strconv.Atoi(m[1])
	max, _ := strconv.Atoi(m[2])
	list := PlayerList{Online: online, Max: max}

	// Vanilla lists names after the colon; Paper puts "group: names" on following lines
	for _, line := range strings.Split(m[3], "\n") {
		if idx := strings.Index(line, ":"); idx >= 0 {
			line = line[idx+1:]
		}
		for _, name := range strings.Split(line, ",") {
			if name = strings.TrimSpace(name); name != "" {
				list.Names = append(list.Names, name)
			}
		}
	}
	return list
}

func stripFormatting(s string) string {
	return formattingCode.ReplaceAllString(s, "")
}
