package gdexposure

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"

	"github.com/fujiwara/ridge"
)

func isLambda() bool {
	if strings.HasPrefix(os.Getenv("AWS_EXECUTION_ENV"), "AWS_Lambda") || os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		return true
	}
	return false
}

type LambdaHandlerFunc func(context.Context, json.RawMessage) (interface{}, error)

// LambdaHandler handles both Function URL / API Gateway HTTP events and
// direct scheduled invocations. A payload that is not an HTTP request is
// treated as a scheduled scan event.
func (app *App) LambdaHandler() LambdaHandlerFunc {
	return func(ctx context.Context, event json.RawMessage) (interface{}, error) {
		r, err := ridge.NewRequest(event)
		if err != nil {
			slog.InfoContext(ctx, "handled as a scheduled scan event")
			if err := app.Scan(ctx, ScanOption{}); err != nil {
				slog.ErrorContext(ctx, "scan failed", "error", err)
				return nil, err
			}
			return map[string]interface{}{
				"Status": 200,
			}, nil
		}
		slog.InfoContext(ctx, "handled as an http event")
		w := ridge.NewResponseWriter()
		app.ServeHTTP(w, r.WithContext(ctx))
		return w.Response(), nil
	}
}
