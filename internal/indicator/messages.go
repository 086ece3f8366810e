package indicator

import (
	"os"
	"strings"
)

type messages struct {
	recording string
	errorText string
}

func indicatorMessagesFromEnv() messages {
	return indicatorMessages(os.Getenv("LANG"))
}

// indicatorMessages resolves notification copy for a LANG value. Unknown
// locales fall back to English.
func indicatorMessages(lang string) messages {
	switch {
	case strings.HasPrefix(strings.ToLower(strings.TrimSpace(lang)), "de"):
		return messages{
			recording: "Aufnahme läuft (Kamera + Mikrofon)",
			errorText: "Aufnahmefehler",
		}
	default:
		return messages{
			recording: "Recording camera + microphone",
			errorText: "Recording error",
		}
	}
}
