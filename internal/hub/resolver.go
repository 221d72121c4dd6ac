package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Tyrowin/gochat-relay/internal/store"
)

// UserSet is an unordered set of user ids.
type UserSet map[string]struct{}

// NewUserSet builds a set from ids.
func NewUserSet(ids ...string) UserSet {
	s := make(UserSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id. Empty ids are ignored.
func (s UserSet) Add(id string) {
	if id != "" {
		s[id] = struct{}{}
	}
}

// Contains reports whether id is in the set.
func (s UserSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Slice returns the ids in sorted order.
func (s UserSet) Slice() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Directory is the membership collaborator the resolver reads from.
type Directory interface {
	store.ConversationFinder
	store.GroupFinder
}

// Resolver computes recipient sets from current membership. It never caches.
type Resolver struct {
	dir Directory
}

// NewResolver returns a resolver over dir.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve returns the users who should receive an event that senderID
// triggers on targetID. targetID is tried first as a two-party conversation,
// then as a group.
func (r *Resolver) Resolve(ctx context.Context, targetID, senderID string) (UserSet, error) {
	conv, err := r.dir.FindConversationByID(ctx, targetID)
	switch {
	case err == nil:
		if !conv.HasParticipant(senderID) {
			return nil, fmt.Errorf("%w: %s in conversation %s", ErrNotAParticipant, senderID, targetID)
		}
		return NewUserSet(conv.Other(senderID)), nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("find conversation %s: %w", targetID, err)
	}

	group, err := r.dir.FindGroupByID(ctx, targetID)
	switch {
	case err == nil:
		if !group.HasMember(senderID) {
			return nil, fmt.Errorf("%w: %s in group %s", ErrNotAMember, senderID, targetID)
		}
		return membersExcept(group.MemberIDs, senderID), nil
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, targetID)
	default:
		return nil, fmt.Errorf("find group %s: %w", targetID, err)
	}
}

// GroupAudience returns the current members of groupID minus exclude,
// without checking that exclude is a member.
func (r *Resolver) GroupAudience(ctx context.Context, groupID, exclude string) (UserSet, error) {
	group, err := r.dir.FindGroupByID(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("find group %s: %w", groupID, err)
	}
	return membersExcept(group.MemberIDs, exclude), nil
}

func membersExcept(members []string, exclude string) UserSet {
	set := make(UserSet, len(members))
	for _, id := range members {
		if id != exclude {
			set.Add(id)
		}
	}
	return set
}
