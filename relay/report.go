package relay

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/m3rciful/curatorbot/relay/notify"
	"github.com/m3rciful/curatorbot/relay/request"
)

const (
	// DefaultUsersLimit is how many submitters /users lists.
	DefaultUsersLimit = 10
	lastQuestionRunes = 50
)

// Submitter summarises one user's live requests.
type Submitter struct {
	ID           int64
	Label        string
	Username     string
	Requests     int
	LastActivity time.Time
	LastQuestion string
}

// RecentSubmitters lists users with live requests, most recently active
// first. limit <= 0 returns all of them.
func (s *Service) RecentSubmitters(ctx context.Context, limit int) ([]Submitter, error) {
	all, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{})
	var out []Submitter
	for _, r := range all {
		if _, ok := seen[r.SubmitterID]; ok {
			continue
		}
		seen[r.SubmitterID] = struct{}{}
		reqs, err := s.registry.ListBySubmitter(ctx, r.SubmitterID)
		if err != nil {
			return nil, err
		}
		if len(reqs) == 0 {
			continue
		}
		out = append(out, summarize(r.SubmitterID, reqs))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func summarize(id int64, reqs []request.Request) Submitter {
	sub := Submitter{ID: id, Requests: len(reqs)}
	for _, r := range reqs {
		if r.LastActivityAt.After(sub.LastActivity) {
			sub.LastActivity = r.LastActivityAt
		}
	}
	last := reqs[len(reqs)-1]
	sub.Label, sub.Username = last.SubmitterLabel, last.SubmitterUsername
	sub.LastQuestion = truncate(last.Text, lastQuestionRunes)
	return sub
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}

// Status is the snapshot behind /status and the status API.
type Status struct {
	request.Stats
	Queued    int
	Armed     int
	Mode      string
	StartedAt time.Time
	Uptime    time.Duration
}

// Stats collects request counts and process information.
func (s *Service) Stats(ctx context.Context) (Status, error) {
	st, err := s.registry.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	out := Status{
		Stats:     st,
		Mode:      s.opts.Mode,
		StartedAt: s.opts.StartedAt,
		Uptime:    s.clock.Now().Sub(s.opts.StartedAt),
	}
	if s.delivery != nil {
		queued, err := s.delivery.Pending(ctx)
		if err != nil {
			return Status{}, err
		}
		out.Queued = len(queued)
	}
	if s.monitor != nil {
		out.Armed = s.monitor.Pending()
	}
	return out, nil
}

// ShowUsers sends the admin the recent submitter list.
func (s *Service) ShowUsers(ctx context.Context, admin Actor) error {
	if err := s.requireAdmin(admin); err != nil {
		return err
	}
	subs, err := s.RecentSubmitters(ctx, DefaultUsersLimit)
	if err != nil {
		return err
	}
	return s.tell(ctx, admin.ID, formatSubmitters(subs, s.clock.Now()))
}

// ShowStatus sends the admin the status snapshot.
func (s *Service) ShowStatus(ctx context.Context, admin Actor) error {
	if err := s.requireAdmin(admin); err != nil {
		return err
	}
	st, err := s.Stats(ctx)
	if err != nil {
		return err
	}
	return s.tell(ctx, admin.ID, formatStatus(st))
}

func formatSubmitters(subs []Submitter, now time.Time) string {
	if len(subs) == 0 {
		return notify.TextNoSubmitters
	}
	var b strings.Builder
	b.WriteString("👥 Recent users:\n")
	for i, sub := range subs {
		name := sub.Label
		if sub.Username != "" {
			name += " @" + sub.Username
		}
		fmt.Fprintf(&b, "\n%d. %s (ID: %d), %d question(s), %s ago\n   %q\n   /direct %d",
			i+1, strings.TrimSpace(name), sub.ID, sub.Requests,
			notify.HumanDuration(now.Sub(sub.LastActivity)), sub.LastQuestion, sub.ID)
	}
	return b.String()
}

func formatStatus(st Status) string {
	var b strings.Builder
	b.WriteString("📊 Bot status\n\n")
	fmt.Fprintf(&b, "Requests: %d\n", st.Total)
	fmt.Fprintf(&b, "Active: %d\n", st.Active())
	fmt.Fprintf(&b, "Answered: %d\n", st.ByStatus[request.StatusAnswered])
	fmt.Fprintf(&b, "Timed out: %d\n", st.ByStatus[request.StatusTimeout])
	fmt.Fprintf(&b, "Unique users: %d\n", st.Submitters)
	fmt.Fprintf(&b, "Retry queue: %d\n", st.Queued)
	fmt.Fprintf(&b, "Uptime: %s\n", notify.HumanDuration(st.Uptime))
	fmt.Fprintf(&b, "Mode: %s", st.Mode)
	return b.String()
}
