// Package revenue splits a redemption's revenue between the platform, the
// property's top contributor and its other contributors.
package revenue

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/leadsong/backend/internal/apperr"
)

const basisPoints = 10000

// Split is expressed in basis points and must total 10000.
type Split struct {
	PlatformBps          int64
	TopContributorBps    int64
	OtherContributorsBps int64
}

var DefaultSplit = Split{PlatformBps: 8000, TopContributorBps: 1000, OtherContributorsBps: 1000}

func (s Split) Validate() error {
	if s.PlatformBps < 0 || s.TopContributorBps < 0 || s.OtherContributorsBps < 0 {
		return fmt.Errorf("%w: negative split", apperr.ErrBadInput)
	}
	if s.PlatformBps+s.TopContributorBps+s.OtherContributorsBps != basisPoints {
		return fmt.Errorf("%w: split must total %d basis points", apperr.ErrBadInput, basisPoints)
	}
	return nil
}

// UnallocatedPolicy decides who receives a share that has no eligible recipient.
type UnallocatedPolicy string

const (
	// PolicyRetain leaves the amount unassigned and records it as unallocated.
	PolicyRetain UnallocatedPolicy = "retain"
	// PolicyPlatform folds the amount into the platform share.
	PolicyPlatform UnallocatedPolicy = "platform"
	// PolicyTopContributor gives the amount to the top contributor when there is one.
	PolicyTopContributor UnallocatedPolicy = "top_contributor"
)

func ParsePolicy(s string) (UnallocatedPolicy, error) {
	switch p := UnallocatedPolicy(s); p {
	case PolicyRetain, PolicyPlatform, PolicyTopContributor:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown unallocated policy %q", apperr.ErrBadInput, s)
}

// ContributorStat is one user's rating activity on a property within a window.
type ContributorStat struct {
	UserID       uuid.UUID
	RatingCount  int
	FirstRatedAt time.Time
}

// Allocation is an amount owed to one contributor, in cents.
type Allocation struct {
	UserID      uuid.UUID
	Amount      int64
	RatingCount int
	IsTop       bool
}

// Plan is the computed split. PlatformShare + TopContributorShare +
// OtherContributorsShare == TotalRevenue always holds; Unallocated is the
// part of those shares that no Allocation carries.
type Plan struct {
	TotalRevenue           int64
	PlatformShare          int64
	TopContributorShare    int64
	OtherContributorsShare int64
	Unallocated            int64
	TopContributor         *ContributorStat
	Allocations            []Allocation
}

// Shares splits total by fraction. The platform share is derived as the
// remainder so the three always sum to total.
func Shares(total int64, split Split) (platform, top, others int64) {
	top = total * split.TopContributorBps / basisPoints
	others = total * split.OtherContributorsBps / basisPoints
	platform = total - top - others
	return platform, top, others
}

// PickTopContributor returns the contributor with the most ratings. Ties go
// to the earliest first rating, then to the lowest user id.
func PickTopContributor(stats []ContributorStat) *ContributorStat {
	var best *ContributorStat
	for i := range stats {
		c := &stats[i]
		if c.RatingCount <= 0 {
			continue
		}
		if best == nil || ranksAbove(c, best) {
			best = c
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

func ranksAbove(a, b *ContributorStat) bool {
	if a.RatingCount != b.RatingCount {
		return a.RatingCount > b.RatingCount
	}
	if !a.FirstRatedAt.Equal(b.FirstRatedAt) {
		return a.FirstRatedAt.Before(b.FirstRatedAt)
	}
	return bytes.Compare(a.UserID[:], b.UserID[:]) < 0
}

// Allocate divides amount in proportion to rating counts, rounding each
// share down. The rounding remainder is returned, never reassigned.
// Contributors whose share rounds to zero get no allocation.
func Allocate(amount int64, stats []ContributorStat) ([]Allocation, int64) {
	var totalCount int64
	for _, c := range stats {
		if c.RatingCount > 0 {
			totalCount += int64(c.RatingCount)
		}
	}
	if amount <= 0 || totalCount == 0 {
		return nil, amount
	}
	ordered := make([]ContributorStat, len(stats))
	copy(ordered, stats)
	sort.SliceStable(ordered, func(i, j int) bool { return ranksAbove(&ordered[i], &ordered[j]) })

	var out []Allocation
	var allocated int64
	for _, c := range ordered {
		if c.RatingCount <= 0 {
			continue
		}
		share := amount * int64(c.RatingCount) / totalCount
		if share <= 0 {
			continue
		}
		allocated += share
		out = append(out, Allocation{UserID: c.UserID, Amount: share, RatingCount: c.RatingCount})
	}
	return out, amount - allocated
}

// Calculate builds the distribution plan for one redemption. recent holds
// rating activity within the top-contributor window and extended within the
// wider contributor window.
func Calculate(total int64, recent, extended []ContributorStat, split Split, policy UnallocatedPolicy) (Plan, error) {
	if total < 0 {
		return Plan{}, fmt.Errorf("%w: negative revenue %d", apperr.ErrBadInput, total)
	}
	if err := split.Validate(); err != nil {
		return Plan{}, err
	}
	if _, err := ParsePolicy(string(policy)); err != nil {
		return Plan{}, err
	}

	platform, top, others := Shares(total, split)
	plan := Plan{TotalRevenue: total, TopContributor: PickTopContributor(recent)}

	if plan.TopContributor == nil {
		// nobody rated recently: the top share has no recipient either
		switch policy {
		case PolicyPlatform:
			platform += top
			top = 0
		default:
			plan.Unallocated += top
		}
	}

	var rest []ContributorStat
	for _, c := range extended {
		if c.RatingCount <= 0 {
			continue
		}
		if plan.TopContributor != nil && c.UserID == plan.TopContributor.UserID {
			continue
		}
		rest = append(rest, c)
	}

	if len(rest) == 0 {
		switch {
		case policy == PolicyPlatform:
			platform += others
			others = 0
		case policy == PolicyTopContributor && plan.TopContributor != nil:
			top += others
			others = 0
		default:
			plan.Unallocated += others
		}
	} else {
		allocs, remainder := Allocate(others, rest)
		plan.Allocations = allocs
		plan.Unallocated += remainder
	}

	if plan.TopContributor != nil && top > 0 {
		plan.Allocations = append([]Allocation{{
			UserID:      plan.TopContributor.UserID,
			Amount:      top,
			RatingCount: plan.TopContributor.RatingCount,
			IsTop:       true,
		}}, plan.Allocations...)
	}

	plan.PlatformShare = platform
	plan.TopContributorShare = top
	plan.OtherContributorsShare = others
	return plan, nil
}

// Allocated is the sum carried by the plan's allocations.
func (p Plan) Allocated() int64 {
	var sum int64
	for _, a := range p.Allocations {
		sum += a.Amount
	}
	return sum
}
