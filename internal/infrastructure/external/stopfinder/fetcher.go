package stopfinder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/busroute-hub/stopfinder-bridge/internal/domain/schedule"
	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
	"github.com/busroute-hub/stopfinder-bridge/pkg/timeutil"
)

// ScheduleFetcher pulls the account's schedule for a forward window.
// It never retries; the coordinator owns retry policy.
type ScheduleFetcher struct {
	client *Client
}

// NewScheduleFetcher creates a fetcher on top of client.
func NewScheduleFetcher(client *Client) *ScheduleFetcher {
	return &ScheduleFetcher{client: client}
}

// FetchSchedule requests every student's trips from now through the
// configured window. Authorization rejections return an auth error so the
// caller can invalidate the session; records that fail normalization are
// dropped and listed in the result.
func (f *ScheduleFetcher) FetchSchedule(ctx context.Context, session *Session, now time.Time) (*schedule.FetchResult, error) {
	if session == nil {
		return nil, shared.NewDomainError("stopfinder", "FetchSchedule", shared.ErrAuth, "no session")
	}

	loc := f.client.config.Location
	start, end := schedule.Window(now, f.client.config.Window)

	params := url.Values{}
	params.Set("dateStart", timeutil.FormatDateIn(start, loc))
	params.Set("dateEnd", timeutil.FormatDateIn(end, loc))

	resp, err := f.client.doRequest(ctx, "FetchSchedule", http.MethodGet, "/students?"+params.Encode(), nil, session)
	if err != nil {
		return nil, err
	}
	if resp.rejected() {
		return nil, shared.NewDomainError("stopfinder", "FetchSchedule", shared.ErrAuth,
			fmt.Sprintf("session rejected (status %d)", resp.status))
	}
	if !resp.ok() {
		return nil, shared.NewDomainError("stopfinder", "FetchSchedule", shared.ErrConnectivity,
			fmt.Sprintf("unexpected status %d: %s", resp.status, resp.message()))
	}

	result, err := f.client.mapper.Normalize(resp.body)
	if err != nil {
		return nil, err
	}
	result.WindowStart = start
	result.WindowEnd = end

	for _, rejected := range result.Rejected {
		f.client.logger.Warn("schedule record dropped",
			"record", rejected.Record,
			"field", rejected.Field,
			"reason", rejected.Reason,
		)
	}
	f.client.logger.Debug("schedule fetched",
		"students", len(result.Students),
		"trips", len(result.Trips),
		"rejected", len(result.Rejected),
		"date_start", params.Get("dateStart"),
		"date_end", params.Get("dateEnd"),
	)

	return result, nil
}
