package filetool

import "github.com/hanibalsk/orchestrate/pkg/store"

func agentKinds(names []string) []store.AgentKind {
	if len(names) == 0 {
		return nil
	}
	out := make([]store.AgentKind, len(names))
	for i, n := range names {
		out[i] = store.AgentKind(n)
	}
	return out
}
