package scheduling

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// MemberDay is one agent's entry in a team lookup. Err is set instead of
// Day when that agent could not be resolved.
type MemberDay struct {
	AgentID string
	Day     Day
	Err     error
}

// TeamAvailability resolves several agents for the same date with bounded
// parallelism. One agent failing does not fail the others; the result keeps
// the order of agentIDs.
func (p *Planner) TeamAvailability(ctx context.Context, agentIDs []string, date, bookingTypeID string) ([]MemberDay, error) {
	out := make([]MemberDay, len(agentIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.teamParallelism)
	for i, agentID := range agentIDs {
		g.Go(func() error {
			day, err := p.Availability(gctx, Query{AgentID: agentID, Date: date, BookingTypeID: bookingTypeID})
			out[i] = MemberDay{AgentID: agentID, Day: day, Err: err}
			if err != nil {
				p.logger.Warn("team member availability failed", "agent_id", agentID, "err", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
