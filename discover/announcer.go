package discover

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"bitlet/peer"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	ErrNoTrackers = errors.New("no usable tracker")
	// ErrTrackersExhausted ends Run after too many rounds in which every
	// tracker failed.
	ErrTrackersExhausted = errors.New("every tracker kept failing")
)

const (
	// DefaultInterval is used when a tracker does not send one.
	DefaultInterval = 30 * time.Minute
	// MinInterval bounds how often trackers are announced to, whatever they ask for.
	MinInterval = 30 * time.Second
	// RetryInterval is the wait after every tracker of a round failed.
	RetryInterval = time.Minute
	// MaxFailedRounds is how many rounds in a row may fail before Run gives up.
	MaxFailedRounds = 5
)

// Announcer cycles through a torrent's trackers, announcing periodically and
// forwarding every peer list it gets.
//
// Trackers are tried in order until one answers; the tracker that answered is
// moved to the front so it is asked first next time.
type Announcer struct {
	trackers []string
	open     func(string) (Tracker, error)
	request  Request
	stats    func() Stats
	limiter  *rate.Limiter
	log      zerolog.Logger

	retry       time.Duration
	maxFailures int

	started bool
}

type AnnouncerOption func(*Announcer)

// WithHTTPClient sets the client used for HTTP trackers.
func WithHTTPClient(client *http.Client) AnnouncerOption {
	return func(a *Announcer) {
		a.open = func(u string) (Tracker, error) { return Open(u, client) }
	}
}

// WithOpener replaces the function turning a tracker URL into a Tracker.
func WithOpener(open func(string) (Tracker, error)) AnnouncerOption {
	return func(a *Announcer) { a.open = open }
}

// WithMinInterval changes the announce rate limit.
func WithMinInterval(d time.Duration) AnnouncerOption {
	return func(a *Announcer) { a.limiter = rate.NewLimiter(rate.Every(d), 1) }
}

// WithRetry sets the wait after a failed round and how many failed rounds in a
// row end Run. A maxFailures of zero or less retries forever.
func WithRetry(wait time.Duration, maxFailures int) AnnouncerOption {
	return func(a *Announcer) {
		a.retry = wait
		a.maxFailures = maxFailures
	}
}

func WithAnnouncerLogger(log zerolog.Logger) AnnouncerOption {
	return func(a *Announcer) { a.log = log }
}

// NewAnnouncer announces req to trackers. stats is consulted before every
// announce for the current transfer counters.
func NewAnnouncer(trackers []string, req Request, stats func() Stats, opts ...AnnouncerOption) *Announcer {
	a := &Announcer{
		trackers: append([]string(nil), trackers...),
		open:     func(u string) (Tracker, error) { return Open(u, nil) },
		request:  req,
		stats:    stats,
		limiter:  rate.NewLimiter(rate.Every(MinInterval), 1),
		log:      zerolog.Nop(),

		retry:       RetryInterval,
		maxFailures: MaxFailedRounds,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run announces until ctx is done and sends every non-empty peer list to out.
// It returns early with ErrNoTrackers when no tracker URL is usable and with
// ErrTrackersExhausted once every tracker failed for too many rounds in a row.
func (a *Announcer) Run(ctx context.Context, out chan<- []peer.Peer) error {
	failures := 0
	for {
		if err := a.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}

		wait := a.retry
		res, err := a.announce(ctx)
		switch {
		case errors.Is(err, ErrNoTrackers):
			return err
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if a.maxFailures > 0 && failures >= a.maxFailures {
				a.log.Warn().Int("rounds", failures).Err(err).Msg("giving up on trackers")
				return fmt.Errorf("%w: %v", ErrTrackersExhausted, err)
			}
			a.log.Debug().Err(err).Msg("every tracker failed")
		default:
			failures = 0
			wait = res.Interval
			if wait <= 0 {
				wait = DefaultInterval
			}
			if len(res.Peers) > 0 {
				select {
				case out <- res.Peers:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// announce asks each tracker in turn and returns the first answer.
func (a *Announcer) announce(ctx context.Context) (*Response, error) {
	req := a.request
	req.Stats = a.stats()
	if !a.started {
		req.Event = EventStarted
	} else {
		req.Event = EventNone
	}

	var lastErr error = ErrNoTrackers
	usable := 0
	for i, u := range a.trackers {
		tr, err := a.open(u)
		if err != nil {
			a.log.Debug().Str("tracker", u).Err(err).Msg("skipping tracker")
			continue
		}
		usable++

		res, err := tr.Announce(ctx, req)
		if err != nil {
			a.log.Debug().Str("tracker", u).Err(err).Msg("announce failed")
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		a.log.Info().
			Str("tracker", u).
			Int("peers", len(res.Peers)).
			Int("seeders", res.Complete).
			Int("leechers", res.Incomplete).
			Msg("announced")
		a.started = true
		a.promote(i)
		return res, nil
	}
	if usable == 0 {
		return nil, ErrNoTrackers
	}
	return nil, lastErr
}

func (a *Announcer) promote(i int) {
	if i == 0 {
		return
	}
	u := a.trackers[i]
	copy(a.trackers[1:i+1], a.trackers[:i])
	a.trackers[0] = u
}
