package economy

import (
	"context"
	"fmt"

	"github.com/zy54321/after-school/internal/model"
)

// MemberDirectory looks members up by id. It returns nil, nil for unknown ids.
type MemberDirectory interface {
	GetMember(ctx context.Context, id int64) (*model.Member, error)
}

// RequireMember loads memberID and checks that it belongs to familyID and is
// still active.
func RequireMember(ctx context.Context, dir MemberDirectory, familyID, memberID int64) (*model.Member, error) {
	m, err := RequireFamilyMember(ctx, dir, familyID, memberID)
	if err != nil {
		return nil, err
	}
	if !m.Active {
		return nil, fmt.Errorf("%w: member %d is deactivated", ErrMemberNotAllowed, memberID)
	}
	return m, nil
}

// RequireFamilyMember is RequireMember without the active check. Refunds and
// payouts still reach deactivated members.
func RequireFamilyMember(ctx context.Context, dir MemberDirectory, familyID, memberID int64) (*model.Member, error) {
	m, err := dir.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, NotFound("member", memberID)
	}
	if m.FamilyID != familyID {
		return nil, fmt.Errorf("%w: member %d, family %d", ErrMemberNotOwned, memberID, familyID)
	}
	return m, nil
}

// RequireOwner is RequireMember plus the owner role.
func RequireOwner(ctx context.Context, dir MemberDirectory, familyID, memberID int64) (*model.Member, error) {
	m, err := RequireMember(ctx, dir, familyID, memberID)
	if err != nil {
		return nil, err
	}
	if !m.IsOwner() {
		return nil, fmt.Errorf("%w: member %d is not a family owner", ErrMemberNotAllowed, memberID)
	}
	return m, nil
}
