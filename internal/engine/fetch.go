package engine

import (
	"context"
	"fmt"
	"time"

	"triage-agent/internal/errs"
	"triage-agent/internal/mailfetch"
)

func cursorKey(folder string) string { return "delta_token_" + folder }

// fetchFolder implements §4.2's delta-first strategy for a single
// watched folder: load the stored cursor, call the delta endpoint, and
// on an expired cursor clear it and fall back to a timestamp window
// query without retrying the delta path this cycle. Any other
// transient error is returned for the caller to count as a graph-side
// failure and skip this folder for the cycle.
func (e *Engine) fetchFolder(ctx context.Context, folder string, lookback time.Duration) ([]mailfetch.Message, error) {
	if err := e.mailLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	key := cursorKey(folder)
	cursor, _, err := e.store.AgentState.GetState(key)
	if err != nil {
		return nil, fmt.Errorf("read cursor for %s: %w", folder, err)
	}

	result, err := e.mail.GetDeltaMessages(ctx, folder, cursor)
	if err != nil {
		if errs.IsDeltaTokenExpired(err) {
			if clearErr := e.store.AgentState.SetState(key, ""); clearErr != nil {
				e.logger.Warn("failed to clear expired cursor", "folder", folder, "error", clearErr)
			}
			since := e.lastProcessedTimestamp()
			if since.IsZero() {
				since = time.Now().Add(-lookback)
			}
			if err := e.mailLimiter.Wait(ctx); err != nil {
				return nil, err
			}
			return e.mail.ListMessages(ctx, folder, since)
		}
		return nil, err
	}

	if err := e.store.AgentState.SetState(key, result.NewCursor); err != nil {
		e.logger.Warn("failed to persist delta cursor", "folder", folder, "error", err)
	}
	return result.Messages, nil
}

// fetchNewMessages fetches every watched folder and deduplicates by
// message id across folders (§4.2 step 5). It returns the combined
// messages and whether at least one folder fetched successfully; the
// cycle driver uses only the messages.
func (e *Engine) fetchNewMessages(ctx context.Context, folders []string, lookback time.Duration) ([]mailfetch.Message, bool) {
	seen := make(map[string]bool)
	var all []mailfetch.Message
	graphOK := false

	for _, folder := range folders {
		msgs, err := e.fetchFolder(ctx, folder, lookback)
		if err != nil {
			e.logger.Warn("folder fetch failed, skipping for this cycle", "folder", folder, "error", err)
			e.degradation.RecordGraphFailure()
			continue
		}
		e.degradation.RecordGraphSuccess()
		graphOK = true

		for _, m := range msgs {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			all = append(all, m)
		}
	}
	return all, graphOK
}

func (e *Engine) lastProcessedTimestamp() time.Time {
	v, found, err := e.store.AgentState.GetState(lastProcessedTimestampKey)
	if err != nil || !found {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
