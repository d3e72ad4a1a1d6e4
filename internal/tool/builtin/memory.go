package builtin

import (
	"context"
	"fmt"

	"github.com/parlor-ai/parlor/internal/tool"
)

type rememberInput struct {
	Key   string `json:"key" jsonschema:"description=Short identifier for the fact, e.g. user_name."`
	Value string `json:"value" jsonschema:"description=The fact to store."`
}

// Remember stores a fact under a key in the thread's metadata so later
// turns can retrieve it.
func Remember(store MetadataStore, threadID string) *tool.Tool {
	return tool.New("remember",
		"Stores a fact about this conversation under a key for later recall.",
		func(ctx context.Context, in rememberInput) (*tool.Result, error) {
			if in.Key == "" {
				return nil, fmt.Errorf("key must not be empty")
			}
			if err := store.SetMeta(ctx, threadID, in.Key, in.Value); err != nil {
				return nil, fmt.Errorf("store fact: %w", err)
			}
			return tool.TextResult(fmt.Sprintf("remembered %q", in.Key)), nil
		})
}

type recallInput struct {
	Key string `json:"key" jsonschema:"description=The key the fact was stored under."`
}

// Recall retrieves a previously remembered fact from the thread's
// metadata.
func Recall(store MetadataStore, threadID string) *tool.Tool {
	return tool.New("recall",
		"Retrieves a fact previously stored with the remember tool.",
		func(ctx context.Context, in recallInput) (*tool.Result, error) {
			value, ok, err := store.GetMeta(ctx, threadID, in.Key)
			if err != nil {
				return nil, fmt.Errorf("load fact: %w", err)
			}
			if !ok {
				return tool.TextResult(fmt.Sprintf("nothing stored under %q", in.Key)), nil
			}
			return tool.TextResult(value), nil
		})
}
