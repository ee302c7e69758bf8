// Package discussion serves comment threads with their authors resolved
// from the user directory.
package discussion

import (
	"context"
	"time"

	"github.com/erp/servicebus/internal/application/enrichment"
	"github.com/erp/servicebus/internal/domain/discussion"
	"github.com/erp/servicebus/internal/domain/identity"
	"go.uber.org/zap"
)

// AuthorAggregator is the enrichment aggregator for comment authors
type AuthorAggregator = enrichment.Aggregator[*discussion.Comment, string, identity.UserInfo]

// AuthorEnricherConfig configures an AuthorEnricher
type AuthorEnricherConfig struct {
	// Destination is where user-info batch requests are published
	Destination string
	// Timeout bounds the wait for the user directory's reply
	Timeout time.Duration
	// FailurePolicy selects the outcome when the directory does not answer
	FailurePolicy enrichment.FailurePolicy
}

// AuthorEnricher fills in the author and addressee of every comment, reply
// and sub-reply with one user-info round trip per call
type AuthorEnricher struct {
	aggregator *AuthorAggregator
}

// NewAuthorEnricher creates an enricher that resolves users through requester
func NewAuthorEnricher(
	cfg AuthorEnricherConfig,
	requester enrichment.RoundTripper[identity.UserInfo],
	logger *zap.Logger,
	opts ...enrichment.Option[string, identity.UserInfo],
) (*AuthorEnricher, error) {
	agg, err := enrichment.New[*discussion.Comment, string, identity.UserInfo](
		enrichment.Config{
			Name:          "comment-authors",
			Destination:   cfg.Destination,
			Timeout:       cfg.Timeout,
			FailurePolicy: cfg.FailurePolicy,
		},
		discussion.AuthorReferences,
		identity.UserInfo.Key,
		requester,
		logger,
		opts...,
	)
	if err != nil {
		return nil, err
	}
	return &AuthorEnricher{aggregator: agg}, nil
}

// Enrich resolves the users referenced by comments in place and returns
// comments. Users the directory does not know keep their placeholder.
func (e *AuthorEnricher) Enrich(ctx context.Context, comments []*discussion.Comment) ([]*discussion.Comment, error) {
	return e.aggregator.Enrich(ctx, comments)
}

// EnrichOne resolves the users referenced by a single thread
func (e *AuthorEnricher) EnrichOne(ctx context.Context, comment *discussion.Comment) (*discussion.Comment, error) {
	if comment == nil {
		return nil, nil
	}
	if _, err := e.aggregator.Enrich(ctx, []*discussion.Comment{comment}); err != nil {
		return nil, err
	}
	return comment, nil
}

// ForgetUsers drops cached user info so the next call fetches it again
func (e *AuthorEnricher) ForgetUsers(ctx context.Context, userIDs ...string) error {
	return e.aggregator.Invalidate(ctx, userIDs...)
}
