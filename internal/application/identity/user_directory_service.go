package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/erp/servicebus/internal/application/resolver"
	"github.com/erp/servicebus/internal/domain/identity"
	"github.com/erp/servicebus/internal/domain/shared"
	"github.com/erp/servicebus/internal/infrastructure/messaging"
	"go.uber.org/zap"
)

// DefaultLookupChunkSize caps the number of IDs sent to the store in one query
const DefaultLookupChunkSize = 500

// UserDirectoryService owns the user directory and answers user-info batch
// requests from other services
type UserDirectoryService struct {
	directory identity.UserDirectory
	resolver  *resolver.Resolver[string, identity.UserInfo]
	chunkSize int
	logger    *zap.Logger
}

// NewUserDirectoryService creates the service and its resolver. Replies are
// published through publisher.
func NewUserDirectoryService(
	directory identity.UserDirectory,
	publisher shared.MessagePublisher,
	cfg resolver.Config,
	logger *zap.Logger,
) *UserDirectoryService {
	if cfg.Name == "" {
		cfg.Name = "user-directory"
	}
	s := &UserDirectoryService{
		directory: directory,
		chunkSize: DefaultLookupChunkSize,
		logger:    logger,
	}
	s.resolver = resolver.New[string, identity.UserInfo](cfg, resolver.LookupFunc[string, identity.UserInfo](s.Lookup), publisher, logger)
	return s
}

// Bind subscribes the user-info resolver to its request destination
func (s *UserDirectoryService) Bind(sub shared.MessageSubscriber, store shared.IdempotencyStore, opts ...messaging.IdempotentHandlerOption) error {
	return s.resolver.Bind(sub, store, opts...)
}

// Destination returns the destination user-info requests are consumed from
func (s *UserDirectoryService) Destination() string {
	return s.resolver.Destination()
}

// Lookup returns the users behind ids. Blank and repeated IDs are ignored;
// unknown IDs are omitted from the result.
func (s *UserDirectoryService) Lookup(ctx context.Context, ids []string) ([]identity.UserInfo, error) {
	ids = normalizeIDs(ids)
	users := make([]identity.UserInfo, 0, len(ids))

	for start := 0; start < len(ids); start += s.chunkSize {
		end := min(start+s.chunkSize, len(ids))
		found, err := s.directory.FindByIDs(ctx, ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("find users: %w", err)
		}
		users = append(users, found...)
	}

	if len(users) < len(ids) {
		s.logger.Debug("some users not found in directory",
			zap.Int("requested", len(ids)),
			zap.Int("found", len(users)),
		)
	}
	return users, nil
}

// RegisterUserInput contains the fields of a directory entry
type RegisterUserInput struct {
	ID          string
	Username    string
	DisplayName string
	Avatar      string
	Email       string
}

// Register inserts or updates a directory entry
func (s *UserDirectoryService) Register(ctx context.Context, input RegisterUserInput) (identity.UserInfo, error) {
	user := identity.UserInfo{
		ID:          strings.TrimSpace(input.ID),
		Username:    strings.TrimSpace(input.Username),
		DisplayName: strings.TrimSpace(input.DisplayName),
		Avatar:      strings.TrimSpace(input.Avatar),
		Email:       strings.ToLower(strings.TrimSpace(input.Email)),
	}
	if user.ID == "" {
		return identity.UserInfo{}, shared.ErrInvalidInput.Wrap(fmt.Errorf("user id is required"))
	}
	if user.Username == "" {
		return identity.UserInfo{}, shared.ErrInvalidInput.Wrap(fmt.Errorf("username is required"))
	}
	if user.DisplayName == "" {
		user.DisplayName = user.Username
	}

	if err := s.directory.Save(ctx, user); err != nil {
		return identity.UserInfo{}, fmt.Errorf("save user %s: %w", user.ID, err)
	}
	s.logger.Info("user registered in directory", zap.String("user_id", user.ID))
	return user, nil
}

func normalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
