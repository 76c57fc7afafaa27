// Package scanner handles a scanned QR string end to end: parse with cache
// and backoff fallbacks, business checks, profile lookup, the contact
// request prompt, and recovery from scan errors.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"digidex/internal/cache"
	"digidex/internal/domain"
	"digidex/internal/logging"
	"digidex/internal/netstatus"
	"digidex/internal/qrcode"
	"digidex/internal/retry"
	"digidex/internal/scanerr"
)

type Status string

const (
	StatusScanning Status = "scanning"
	StatusRetry    Status = "retry"
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
)

// Where a resolved payload came from.
const (
	SourceParse = "parse"
	SourceCache = "cache"
	SourceRetry = "retry"
)

// DefaultParseAttempts bounds the backoff parse fallback.
const DefaultParseAttempts = 3

const (
	readyMessage          = "QR code scanner ready. Point your camera at a QR code to scan."
	offlineUnsavedMessage = "You appear to be offline. Please scan again when you reconnect."
)

type ProfileLookup interface {
	GetUserProfile(ctx context.Context, id string) (*domain.Profile, error)
}

type ContactRequester interface {
	CreateContactRequest(ctx context.Context, fromID, toID string) (domain.ContactRequest, error)
}

// HistoryAppender records a resolved scan.
type HistoryAppender interface {
	AddPayload(ctx context.Context, p qrcode.Payload) error
}

// ParseRetrier runs the parse fallback; retry.WithRetry by default.
type ParseRetrier func(ctx context.Context, op func(context.Context) (*qrcode.Payload, error), opts retry.Options) (*qrcode.Payload, error)

// Deps are the collaborators of a Scanner. Cache, Network, Queue and Batch
// are optional.
type Deps struct {
	Codec     qrcode.Codec
	Cache     *cache.Cache
	Profiles  ProfileLookup
	Requests  ContactRequester
	History   HistoryAppender
	Network   netstatus.Monitor
	Queue     *retry.OfflineQueue
	Announcer Announcer
	Haptics   Haptics
	Prompter  Prompter
	Recoverer scanerr.Recoverer
	Batch     *Batch
	// Retry configures the parse fallback. MaxAttempts defaults to
	// DefaultParseAttempts.
	Retry      retry.Options
	ParseRetry ParseRetrier
	Logger     *slog.Logger
}

// Result describes how a scan ended.
type Result struct {
	Status   Status                 `json:"status"`
	Source   string                 `json:"source,omitempty"`
	Payload  *qrcode.Payload        `json:"payload,omitempty"`
	Profile  *domain.Profile        `json:"profile,omitempty"`
	Request  *domain.ContactRequest `json:"request,omitempty"`
	Batched  int                    `json:"batched,omitempty"`
	Declined bool                   `json:"declined,omitempty"`
	Queued   *retry.QueuedOperation `json:"queued,omitempty"`
	Error    *scanerr.Error         `json:"error,omitempty"`
}

// Scanner is the scan handler for one signed-in user.
type Scanner struct {
	userID string
	deps   Deps
	log    *slog.Logger

	mu     sync.Mutex
	status Status

	ready sync.Once
}

func New(userID string, deps Deps) *Scanner {
	if deps.Announcer == nil {
		deps.Announcer = LogFeedback{Logger: deps.Logger}
	}
	if deps.Haptics == nil {
		deps.Haptics = LogFeedback{Logger: deps.Logger}
	}
	if deps.Prompter == nil {
		deps.Prompter = AutoPrompter{}
	}
	if deps.Retry.MaxAttempts == 0 {
		deps.Retry.MaxAttempts = DefaultParseAttempts
	}
	if deps.ParseRetry == nil {
		deps.ParseRetry = retry.WithRetry[*qrcode.Payload]
	}
	return &Scanner{
		userID: userID,
		deps:   deps,
		log:    logging.OrNop(deps.Logger).With("component", "scanner"),
		status: StatusScanning,
	}
}

func (s *Scanner) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scanner) setStatus(ctx context.Context, st Status) {
	s.mu.Lock()
	prev := s.status
	s.status = st
	s.mu.Unlock()
	if prev != st {
		logging.FromContext(ctx, s.log).Debug("scan status", "from", prev, "to", st)
	}
}

// Batch returns the batch session, if the scanner has one.
func (s *Scanner) Batch() *Batch { return s.deps.Batch }

// HandleScan processes one scanned string. Failures are reported to the
// user through the feedback collaborators and returned as *scanerr.Error.
func (s *Scanner) HandleScan(ctx context.Context, data string) (Result, error) {
	s.ready.Do(func() { s.deps.Announcer.Announce(ctx, readyMessage) })
	ctx = logging.WithScan(logging.WithUser(ctx, s.userID), uuid.NewString())
	s.setStatus(ctx, StatusScanning)
	return s.handle(ctx, data, nil)
}

func (s *Scanner) handle(ctx context.Context, data string, prior *scanerr.Error) (Result, error) {
	res, err := s.process(ctx, data)
	if err == nil {
		return res, nil
	}
	se := scanerr.Wrap(err)
	if prior != nil && prior.RetryCount > se.RetryCount {
		se.RetryCount = prior.RetryCount
	}
	log := logging.FromContext(ctx, s.log)
	log.Info("scan failed", "code", se.Code, "retry_count", se.RetryCount, "error", err)
	s.deps.Announcer.Announce(ctx, se.AccessibilityMessage())

	if se.CanRetry() {
		s.setStatus(ctx, StatusRetry)
		if s.deps.Recoverer.Recover(ctx, se) {
			se.IncrementRetry()
			return s.handle(ctx, data, se)
		}
	}
	s.setStatus(ctx, StatusError)
	s.deps.Haptics.Trigger(ctx, HapticError)
	s.deps.Prompter.Alert(ctx, "Error", se.Message)
	res.Status = StatusError
	res.Error = se
	return res, se
}

func (s *Scanner) process(ctx context.Context, data string) (Result, error) {
	var res Result
	if s.deps.Network != nil {
		st, err := s.deps.Network.Fetch(ctx)
		if err == nil && st.Offline() {
			if s.deps.Queue == nil {
				return res, scanerr.New(scanerr.Offline, offlineUnsavedMessage)
			}
			queued, qerr := s.enqueue(ctx, data)
			if qerr != nil {
				return res, qerr
			}
			res.Queued = queued
			return res, scanerr.New(scanerr.Offline)
		}
	}

	p, source, err := s.resolve(ctx, data)
	if err != nil {
		return res, err
	}
	res.Payload, res.Source = p, source

	if b := s.deps.Batch; b != nil && b.Active() {
		res.Batched = b.Add(*p)
		s.setStatus(ctx, StatusSuccess)
		res.Status = StatusSuccess
		return res, nil
	}

	if p.Type != qrcode.TypeProfile {
		return res, scanerr.New(scanerr.UnsupportedType)
	}
	if p.ID == s.userID {
		return res, scanerr.New(scanerr.SelfScan)
	}
	s.deps.Haptics.Trigger(ctx, HapticImpact)

	profile, err := s.deps.Profiles.GetUserProfile(ctx, p.ID)
	if err != nil {
		return res, scanerr.Wrap(err)
	}
	if profile == nil {
		return res, scanerr.New(scanerr.ProfileNotFound)
	}
	res.Profile = profile

	if s.deps.History != nil {
		if err := s.deps.History.AddPayload(ctx, *p); err != nil {
			logging.FromContext(ctx, s.log).Warn("history append failed", "id", p.ID, "error", err)
		}
	}

	name := displayName(profile)
	ok, err := s.deps.Prompter.Confirm(ctx, "Add Contact", fmt.Sprintf("Would you like to send a contact request to %s?", name))
	if err != nil {
		return res, err
	}
	if !ok {
		s.setStatus(ctx, StatusScanning)
		res.Status = StatusScanning
		res.Declined = true
		return res, nil
	}
	cr, err := s.deps.Requests.CreateContactRequest(ctx, s.userID, p.ID)
	if err != nil {
		return res, scanerr.Wrap(err)
	}
	res.Request = &cr

	message := "Contact request sent to " + name
	s.setStatus(ctx, StatusSuccess)
	s.deps.Haptics.Trigger(ctx, HapticSuccess)
	s.deps.Announcer.Announce(ctx, "Success! "+message)
	s.deps.Prompter.Alert(ctx, "Success", message)
	res.Status = StatusSuccess
	return res, nil
}

// resolve turns data into a payload: direct parse, then the cache, then
// parsing again with backoff. An expired code is final.
func (s *Scanner) resolve(ctx context.Context, data string) (*qrcode.Payload, string, error) {
	p, err := s.deps.Codec.Parse(data)
	if err != nil {
		return nil, "", err
	}
	if p != nil {
		s.cache(ctx, p)
		return p, SourceParse, nil
	}

	if s.deps.Cache != nil {
		cached, err := s.deps.Cache.GetCachedQRData(ctx, qrcode.ExtractID(data))
		if err != nil {
			logging.FromContext(ctx, s.log).Warn("cache lookup failed", "error", err)
		}
		if cached != nil {
			s.setStatus(ctx, StatusRetry)
			s.deps.Announcer.Announce(ctx, "Using cached data")
			return cached, SourceCache, nil
		}
	}

	opts := s.deps.Retry
	onRetry := opts.OnRetry
	opts.OnRetry = func(attempt int, delay time.Duration) {
		s.setStatus(ctx, StatusRetry)
		s.deps.Announcer.Announce(ctx, fmt.Sprintf("Retrying scan attempt %d", attempt))
		if onRetry != nil {
			onRetry(attempt, delay)
		}
	}
	p, err = s.deps.ParseRetry(ctx, func(context.Context) (*qrcode.Payload, error) {
		p, err := s.deps.Codec.Parse(data)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, scanerr.New(scanerr.InvalidQR)
		}
		return p, nil
	}, opts)
	if err != nil {
		return nil, "", err
	}
	s.cache(ctx, p)
	return p, SourceRetry, nil
}

func (s *Scanner) cache(ctx context.Context, p *qrcode.Payload) {
	if s.deps.Cache != nil {
		s.deps.Cache.CacheQRData(ctx, *p)
	}
}

func (s *Scanner) enqueue(ctx context.Context, data string) (*retry.QueuedOperation, error) {
	op, err := retry.NewScanOperation(data, s.userID)
	if err != nil {
		return nil, err
	}
	op, err = s.deps.Queue.Enqueue(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("queue offline scan: %w", err)
	}
	return &op, nil
}

// FinishBatch ends the batch session and appends every collected payload
// to history, returning them.
func (s *Scanner) FinishBatch(ctx context.Context) ([]qrcode.Payload, error) {
	if s.deps.Batch == nil {
		return nil, errors.New("no batch session")
	}
	items := s.deps.Batch.Finish()
	if s.deps.History == nil {
		return items, nil
	}
	for _, p := range items {
		if err := s.deps.History.AddPayload(ctx, p); err != nil {
			return items, fmt.Errorf("add %s to history: %w", p.ID, err)
		}
	}
	return items, nil
}

func displayName(p *domain.Profile) string {
	switch {
	case p.DisplayName != "":
		return p.DisplayName
	case p.Email != "":
		return p.Email
	default:
		return p.ID
	}
}
