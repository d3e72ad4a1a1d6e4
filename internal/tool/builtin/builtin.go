// Package builtin provides the tool set offered to every agent:
// clock access, web page fetching, and per-thread memory.
package builtin

import (
	"context"
	"time"

	"github.com/parlor-ai/parlor/internal/tool"
)

// MetadataStore is the per-thread key/value storage the memory tools
// write to. *thread.Store satisfies it.
type MetadataStore interface {
	GetMeta(ctx context.Context, threadID, key string) (string, bool, error)
	SetMeta(ctx context.Context, threadID, key, value string) error
}

type currentTimeInput struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name such as Asia/Taipei. Defaults to UTC."`
}

// CurrentTime reports the current wall-clock time, optionally in a
// requested timezone.
func CurrentTime(now func() time.Time) *tool.Tool {
	if now == nil {
		now = time.Now
	}
	return tool.New("current_time",
		"Returns the current date and time. Accepts an optional IANA timezone name.",
		func(ctx context.Context, in currentTimeInput) (*tool.Result, error) {
			loc := time.UTC
			if in.Timezone != "" {
				var err error
				if loc, err = time.LoadLocation(in.Timezone); err != nil {
					return nil, err
				}
			}
			return tool.TextResult(now().In(loc).Format(time.RFC1123)), nil
		})
}
