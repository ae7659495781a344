package memory

// PromptTemplate is a named, versioned prompt the platform ships with.
type PromptTemplate struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Purpose string `json:"purpose"`
	Text    string `json:"text"`
}

// ToolSpec describes a tool agents may call, for prompt assembly.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Usage       string `json:"usage"`
}

// Procedural is the static procedural-memory inventory: prompts and tool
// metadata compiled into the binary. It never changes at runtime.
type Procedural struct {
	Prompts []PromptTemplate `json:"prompts"`
	Tools   []ToolSpec       `json:"tools"`
}

var procedural = Procedural{
	Prompts: []PromptTemplate{
		{
			Name:    "session_replay",
			Version: "v1",
			Purpose: "rehydrate an agent from a memory card",
			Text: "You are resuming a prior session. The structured summary below " +
				"lists established facts, the user's preferences, binding constraints, " +
				"and decisions already made. Treat constraints and decisions as settled; " +
				"do not relitigate them.",
		},
		{
			Name:    "retrieval_framing",
			Version: "v1",
			Purpose: "frame retrieved context lines for the model",
			Text: "Lines tagged [L1] are the most recent turns in order. Lines tagged " +
				"[L2 score=...] were retrieved by similarity and may be stale; prefer " +
				"[L1] on conflict.",
		},
	},
	Tools: []ToolSpec{
		{
			Name:        "memory.ingest",
			Description: "store one conversation turn in tiered memory",
			Usage:       "POST /v1/ingest with namespace, session_id, role, text",
		},
		{
			Name:        "memory.query",
			Description: "retrieve assembled context for a session",
			Usage:       "POST /v1/query with namespace, session_id, query, top_k",
		},
	},
}

// ProceduralRegistry returns a copy of the inventory so callers cannot
// mutate the package-level data.
func ProceduralRegistry() Procedural {
	out := Procedural{
		Prompts: make([]PromptTemplate, len(procedural.Prompts)),
		Tools:   make([]ToolSpec, len(procedural.Tools)),
	}
	copy(out.Prompts, procedural.Prompts)
	copy(out.Tools, procedural.Tools)
	return out
}
