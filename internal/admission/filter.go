package admission

import (
	"context"
	"io"
	"log/slog"
)

// AccountMetrics are the public account signals the quality gate looks at.
type AccountMetrics struct {
	Followers int
	Tweets    int
	Verified  bool
}

// AccountLookup resolves a requester's account metrics.
type AccountLookup interface {
	LookupAccount(ctx context.Context, userID string) (*AccountMetrics, error)
}

// Limiter meters new requests per user. Errors deny.
type Limiter interface {
	AllowRequest(ctx context.Context, userID string) (bool, error)
}

// Policy holds the quality thresholds.
type Policy struct {
	MinFollowers    int
	MinTweets       int
	RequireVerified bool
}

// Filter combines the rate limiter and the account-quality gate.
type Filter struct {
	limiter Limiter
	lookup  AccountLookup
	policy  Policy
	logger  *slog.Logger
}

// NewFilter wires a Filter. A nil limiter disables the rate limit.
func NewFilter(limiter Limiter, lookup AccountLookup, policy Policy, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Filter{
		limiter: limiter,
		lookup:  lookup,
		policy:  policy,
		logger:  logger.With("component", "admission"),
	}
}

// Admit reports whether userID may open a new conversation. Lookup failures
// deny.
func (f *Filter) Admit(ctx context.Context, userID, username string) bool {
	log := f.logger.With("user_id", userID, "username", username)

	if f.limiter != nil {
		allowed, err := f.limiter.AllowRequest(ctx, userID)
		if err != nil {
			log.ErrorContext(ctx, "Rate limiter failed, denying requester", "reason", "rate_limit_error", "error", err)
			return false
		}
		if !allowed {
			log.InfoContext(ctx, "Requester denied", "reason", "user_rate_limited")
			return false
		}
	}

	metrics, err := f.lookup.LookupAccount(ctx, userID)
	if err != nil {
		log.ErrorContext(ctx, "Account lookup failed, denying requester", "reason", "spam_filter_error", "error", err)
		return false
	}
	if metrics == nil {
		log.WarnContext(ctx, "Account has no public metrics, denying requester", "reason", "spam_filter_no_metrics")
		return false
	}

	if metrics.Followers < f.policy.MinFollowers || metrics.Tweets < f.policy.MinTweets {
		log.InfoContext(ctx, "Requester denied", "reason", "spam_filtered",
			"followers", metrics.Followers, "tweets", metrics.Tweets,
			"min_followers", f.policy.MinFollowers, "min_tweets", f.policy.MinTweets)
		return false
	}

	if f.policy.RequireVerified && !metrics.Verified {
		log.InfoContext(ctx, "Requester denied", "reason", "spam_filtered_not_verified")
		return false
	}

	return true
}
