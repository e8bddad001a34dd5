package ollama

import (
	"context"
	"fmt"
	"strings"
)

// CheckReady verifies that Ollama is reachable and that every named model
// is present locally. Empty names are skipped. Models are never pulled
// automatically; the error names the `ollama pull` commands to run.
func CheckReady(ctx context.Context, c *Client, models ...string) error {
	if !c.IsRunning(ctx) {
		return fmt.Errorf("Ollama is not running at %s. Start it with: ollama serve", c.baseURL)
	}

	var missing []string
	for _, m := range models {
		if m == "" {
			continue
		}
		if !c.HasModel(ctx, m) {
			missing = append(missing, m)
		}
	}
	if len(missing) > 0 {
		cmds := make([]string, len(missing))
		for i, m := range missing {
			cmds[i] = "ollama pull " + m
		}
		return fmt.Errorf("missing Ollama models %s. Run: %s",
			strings.Join(missing, ", "), strings.Join(cmds, " && "))
	}
	return nil
}
