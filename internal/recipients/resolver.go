package recipients

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
)

// maxPages bounds the identity pages fetched for one resolution.
const maxPages = 1000

// PreferenceSource lists the usernames that opted out of a subscription type.
// An empty eventTypeID matches opt-outs for every event type.
type PreferenceSource interface {
	Unsubscribers(ctx context.Context, orgID, eventTypeID string, subscription domain.SubscriptionType) ([]string, error)
}

// Resolver turns endpoint recipient settings into addressable users.
type Resolver struct {
	lookup   IdentityLookup
	prefs    PreferenceSource
	pageSize int
	log      *zap.Logger
}

func NewResolver(lookup IdentityLookup, prefs PreferenceSource, pageSize int, log *zap.Logger) *Resolver {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Resolver{
		lookup:   lookup,
		prefs:    prefs,
		pageSize: pageSize,
		log:      log,
	}
}

// Resolve returns the active, deduplicated recipients of orgID matching the
// settings, sorted by user id. Opted-out users are removed unless the
// settings ignore preferences.
func (r *Resolver) Resolve(ctx context.Context, orgID string, settings domain.RecipientSettings) ([]domain.ResolvedRecipient, error) {
	users, err := r.fetchAll(ctx, orgID, settings)
	if err != nil {
		return nil, err
	}

	requested := lowerSet(settings.Users)

	byID := make(map[string]*domain.ResolvedRecipient, len(users))
	for i := range users {
		user := &users[i]
		if err := user.validate(); err != nil {
			return nil, &ResolutionError{OrgID: orgID, Malformed: true, Err: err}
		}
		if !user.active() {
			continue
		}
		admin := user.admin()
		if settings.OnlyAdmins && !admin {
			continue
		}
		username := user.Authentications[0].Principal
		if len(requested) > 0 {
			if _, ok := requested[strings.ToLower(username)]; !ok {
				continue
			}
		}

		if existing, ok := byID[user.ID]; ok {
			existing.Addresses = mergeAddresses(existing.Addresses, user.addresses())
			existing.Admin = existing.Admin || admin
			continue
		}
		byID[user.ID] = &domain.ResolvedRecipient{
			UserID:    user.ID,
			Username:  username,
			Addresses: user.addresses(),
			Admin:     admin,
		}
	}

	var optedOut map[string]struct{}
	if !settings.IgnorePreferences && r.prefs != nil && len(byID) > 0 {
		names, err := r.prefs.Unsubscribers(ctx, orgID, settings.EventTypeID, settings.SubscriptionType)
		if err != nil {
			return nil, &ResolutionError{OrgID: orgID, Err: fmt.Errorf("failed to load preferences: %w", err)}
		}
		optedOut = lowerSet(names)
	}

	resolved := make([]domain.ResolvedRecipient, 0, len(byID))
	for _, recipient := range byID {
		if _, ok := optedOut[strings.ToLower(recipient.Username)]; ok {
			continue
		}
		resolved = append(resolved, *recipient)
	}
	sort.Slice(resolved, func(i, j int) bool {
		return resolved[i].UserID < resolved[j].UserID
	})

	r.log.Debug("Resolved recipients",
		zap.String("org_id", orgID),
		zap.Int("fetched", len(users)),
		zap.Int("resolved", len(resolved)))

	return resolved, nil
}

// fetchAll pages through the identity service. Paging stops on a short page,
// on a full page that brings no unseen user, or after maxPages pages.
func (r *Resolver) fetchAll(ctx context.Context, orgID string, settings domain.RecipientSettings) ([]IdentityUser, error) {
	var all []IdentityUser
	seen := make(map[string]struct{})
	for pageNum, offset := 0, 0; ; pageNum, offset = pageNum+1, offset+r.pageSize {
		if pageNum == maxPages {
			return nil, &ResolutionError{
				OrgID: orgID,
				Err:   fmt.Errorf("identity lookup exceeded %d pages", maxPages),
			}
		}

		page, err := r.lookup.LookupUsers(ctx, IdentityQuery{
			OrgID:      orgID,
			Usernames:  settings.Users,
			GroupID:    settings.GroupID,
			AdminsOnly: settings.OnlyAdmins,
			Offset:     offset,
			Limit:      r.pageSize,
		})
		if err != nil {
			return nil, &ResolutionError{
				OrgID:     orgID,
				Malformed: errors.Is(err, ErrMalformedResponse),
				Err:       err,
			}
		}

		fresh := 0
		for _, user := range page {
			if _, ok := seen[user.ID]; !ok {
				seen[user.ID] = struct{}{}
				fresh++
			}
		}
		all = append(all, page...)

		if len(page) < r.pageSize {
			return all, nil
		}
		if fresh == 0 {
			r.log.Warn("Identity service repeated a page, stopping pagination",
				zap.String("org_id", orgID),
				zap.Int("offset", offset))
			return all, nil
		}
	}
}

func lowerSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = struct{}{}
	}
	return set
}

func mergeAddresses(existing, more []string) []string {
	for _, addr := range more {
		found := false
		for _, e := range existing {
			if e == addr {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, addr)
		}
	}
	return existing
}
