package flows

import (
	"context"
	"strings"
)

// LogFunc records an anomaly without failing the flow.
type LogFunc func(ctx context.Context, msg string, args ...any)

func blank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}

func nopLog(context.Context, string, ...any) {}
