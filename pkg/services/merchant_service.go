package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/merchant-engine/pkg/apperrors"
	"github.com/ledgerline/merchant-engine/pkg/config"
	"github.com/ledgerline/merchant-engine/pkg/logging"
	"github.com/ledgerline/merchant-engine/pkg/merchant"
	"github.com/ledgerline/merchant-engine/pkg/models"
	"github.com/ledgerline/merchant-engine/pkg/repositories"
)

// ambiguityBand is how far below the cluster threshold a near-miss may score
// and still be reported as an ambiguous candidate instead of seeding a new
// group. Two or more groups inside the band means the caller decides.
const ambiguityBand = 0.10

// ResolveOutcome is one description's result in a batch resolve. Err is a
// message rather than an error so batches serialize cleanly.
type ResolveOutcome struct {
	Description string             `json:"description"`
	Resolution  *models.Resolution `json:"resolution,omitempty"`
	Err         string             `json:"error,omitempty"`
}

// AutoGroupResult reports an auto-grouping run. Clusters is populated for dry
// runs; the counters for applied runs.
type AutoGroupResult struct {
	DryRun          bool               `json:"dry_run"`
	Clusters        []merchant.Cluster `json:"clusters,omitempty"`
	GroupsCreated   int                `json:"groups_created"`
	MappingsCreated int                `json:"mappings_created"`
	MappingsUpdated int                `json:"mappings_updated"`
	SkippedManual   int                `json:"skipped_manual"`
}

// BackfillResult reports how many historical transactions picked up a group
// link.
type BackfillResult struct {
	DescriptionsMatched int   `json:"descriptions_matched"`
	TransactionsLinked  int64 `json:"transactions_linked"`
}

// MerchantService turns raw transaction descriptions into stable merchant
// identities.
type MerchantService interface {
	// ResolveDescription maps one raw description to a merchant group,
	// creating the mapping (and a group on first sighting) as needed.
	ResolveDescription(ctx context.Context, accountID uuid.UUID, description string) (*models.Resolution, error)
	// ResolveBatch resolves descriptions independently; one failure never
	// aborts the rest.
	ResolveBatch(ctx context.Context, accountID uuid.UUID, descriptions []string) []ResolveOutcome
	// AutoGroup clusters every distinct description for the account. With
	// dryRun the proposed clusters are returned without writing anything.
	AutoGroup(ctx context.Context, accountID uuid.UUID, threshold float64, dryRun bool) (*AutoGroupResult, error)
	// Backfill stamps group links onto historical transactions whose
	// descriptions already resolve to a grouped mapping.
	Backfill(ctx context.Context, accountID uuid.UUID) (*BackfillResult, error)
	// RenameGroup changes a group's display name. Display-only: stored
	// mappings and recurrence confidence are untouched.
	RenameGroup(ctx context.Context, accountID, groupID uuid.UUID, name string) (*models.MerchantGroup, error)
	// AssignMappingGroup is a manual curation: link (or with nil, unlink) a
	// mapping to a group. The mapping stops being automatic.
	AssignMappingGroup(ctx context.Context, accountID, mappingID uuid.UUID, groupID *uuid.UUID) (*models.MerchantMapping, error)
	ListGroups(ctx context.Context, accountID uuid.UUID) ([]*models.MerchantGroup, error)
	ListMappings(ctx context.Context, accountID uuid.UUID) ([]*models.MerchantMapping, error)
}

type merchantService struct {
	groups   repositories.MerchantGroupRepository
	mappings repositories.MerchantMappingRepository
	txns     repositories.TransactionRepository
	cfg      config.EngineConfig
	logger   *zap.Logger
}

// NewMerchantService creates a new MerchantService.
func NewMerchantService(
	groups repositories.MerchantGroupRepository,
	mappings repositories.MerchantMappingRepository,
	txns repositories.TransactionRepository,
	cfg config.EngineConfig,
	logger *zap.Logger,
) MerchantService {
	return &merchantService{
		groups:   groups,
		mappings: mappings,
		txns:     txns,
		cfg:      cfg,
		logger:   logger.Named("merchant_service"),
	}
}

var _ MerchantService = (*merchantService)(nil)

func (s *merchantService) ResolveDescription(ctx context.Context, accountID uuid.UUID, description string) (*models.Resolution, error) {
	if strings.TrimSpace(description) == "" {
		return nil, apperrors.ErrEmptyDescription
	}

	canonical := merchant.Normalize(description)
	s.logger.Debug("resolving description",
		zap.String("description", logging.SanitizeDescription(description)),
		zap.String("canonical", canonical))
	if canonical == "" {
		// Nothing usable survived normalization. Unresolvable, not an error.
		return &models.Resolution{State: models.StateUnresolved}, nil
	}

	mapping := &models.MerchantMapping{
		AccountID:        accountID,
		RawPattern:       description,
		CanonicalPattern: canonical,
		IsAutomatic:      true,
		Confidence:       1.0,
	}
	if _, err := s.mappings.Upsert(ctx, mapping); err != nil {
		return nil, fmt.Errorf("failed to record sighting of %q: %w", canonical, err)
	}

	if mapping.MerchantGroupID != nil {
		group, err := s.groups.GetByID(ctx, *mapping.MerchantGroupID)
		if err != nil {
			return nil, fmt.Errorf("failed to load group for mapping: %w", err)
		}
		return &models.Resolution{
			State:      models.StateResolved,
			Group:      group,
			Mapping:    mapping,
			Confidence: mapping.Confidence,
		}, nil
	}

	return s.resolveUngrouped(ctx, accountID, canonical, mapping)
}

// resolveUngrouped places a grouped-less mapping: join the closest existing
// group above the threshold, report a near-tie as ambiguous, or mint a new
// group for a genuinely new merchant.
func (s *merchantService) resolveUngrouped(ctx context.Context, accountID uuid.UUID, canonical string, mapping *models.MerchantMapping) (*models.Resolution, error) {
	threshold := s.cfg.ClusterThreshold

	candidates, err := s.scoreGroups(ctx, accountID, canonical)
	if err != nil {
		return nil, err
	}

	if len(candidates) > 0 && candidates[0].score >= threshold {
		best := candidates[0]
		if err := s.adoptGroup(ctx, accountID, canonical, mapping, best.group.ID, best.score); err != nil {
			return nil, err
		}
		group, err := s.groups.GetByID(ctx, best.group.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load matched group: %w", err)
		}
		return &models.Resolution{
			State:      models.StateResolved,
			Group:      group,
			Mapping:    mapping,
			Confidence: best.score,
		}, nil
	}

	// Near misses: two or more groups just under the threshold is an
	// ambiguous signature. Deterministic outcome, logged, never an error.
	var near []*models.MerchantGroup
	for _, c := range candidates {
		if c.score >= threshold-ambiguityBand {
			near = append(near, c.group)
		}
	}
	if len(near) >= 2 {
		s.logger.Debug("ambiguous merchant signature",
			zap.String("canonical", canonical),
			zap.Int("candidates", len(near)),
			zap.Float64("best_score", candidates[0].score))
		return &models.Resolution{
			State:      models.StateAmbiguous,
			Candidates: near,
			Mapping:    mapping,
			Confidence: candidates[0].score,
		}, nil
	}

	// First sighting of a new merchant.
	group, created, err := s.groups.GetOrCreateByName(ctx, accountID, merchant.DisplayName(canonical))
	if err != nil {
		return nil, fmt.Errorf("failed to create group for %q: %w", canonical, err)
	}
	if err := s.adoptGroup(ctx, accountID, canonical, mapping, group.ID, 1.0); err != nil {
		return nil, err
	}
	if created {
		s.logger.Debug("created merchant group",
			zap.String("name", group.Name),
			zap.String("canonical", canonical))
	}
	return &models.Resolution{
		State:      models.StateResolved,
		Group:      group,
		Mapping:    mapping,
		Confidence: 1.0,
	}, nil
}

// scoredGroup pairs a group with its best similarity against any of its
// mapped canonical patterns.
type scoredGroup struct {
	group *models.MerchantGroup
	score float64
}

// scoreGroups scores the canonical pattern against every grouped mapping and
// returns each group's best score, highest first. Ties break by group name so
// repeated runs agree.
func (s *merchantService) scoreGroups(ctx context.Context, accountID uuid.UUID, canonical string) ([]scoredGroup, error) {
	mappings, err := s.mappings.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}

	bestByGroup := map[uuid.UUID]float64{}
	for _, m := range mappings {
		if m.MerchantGroupID == nil {
			continue
		}
		score := merchant.Similarity(canonical, m.CanonicalPattern)
		if score > bestByGroup[*m.MerchantGroupID] {
			bestByGroup[*m.MerchantGroupID] = score
		}
	}
	if len(bestByGroup) == 0 {
		return nil, nil
	}

	scored := make([]scoredGroup, 0, len(bestByGroup))
	for groupID, score := range bestByGroup {
		group, err := s.groups.GetByID(ctx, groupID)
		if err != nil {
			return nil, fmt.Errorf("failed to load candidate group: %w", err)
		}
		scored = append(scored, scoredGroup{group: group, score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].group.Name < scored[j].group.Name
	})
	return scored, nil
}

// adoptGroup links the mapping to a group through the automatic-only update
// path and mirrors the result onto the in-memory mapping.
func (s *merchantService) adoptGroup(ctx context.Context, accountID uuid.UUID, canonical string, mapping *models.MerchantMapping, groupID uuid.UUID, confidence float64) error {
	assigned, err := s.mappings.AssignGroupAutomatic(ctx, accountID, canonical, groupID, confidence)
	if err != nil {
		return fmt.Errorf("failed to assign group: %w", err)
	}
	if assigned {
		mapping.MerchantGroupID = &groupID
		mapping.Confidence = confidence
	}
	return nil
}

func (s *merchantService) ResolveBatch(ctx context.Context, accountID uuid.UUID, descriptions []string) []ResolveOutcome {
	outcomes := make([]ResolveOutcome, 0, len(descriptions))
	for _, d := range descriptions {
		res, err := s.ResolveDescription(ctx, accountID, d)
		outcome := ResolveOutcome{Description: d, Resolution: res}
		if err != nil {
			outcome.Err = err.Error()
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (s *merchantService) AutoGroup(ctx context.Context, accountID uuid.UUID, threshold float64, dryRun bool) (*AutoGroupResult, error) {
	if threshold == 0 {
		threshold = s.cfg.ClusterThreshold
	}
	// Input errors reject before any store work happens.
	if threshold <= 0 || threshold > 1 {
		return nil, apperrors.ErrInvalidThreshold
	}

	descriptions, err := s.txns.DistinctDescriptions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load distinct descriptions: %w", err)
	}

	// Aggregate raw descriptions by canonical pattern, preserving first-seen
	// order for deterministic clustering. The most frequent raw spelling is
	// remembered as the pattern's exemplar.
	type aggregate struct {
		count   int
		raw     string
		rawFreq int
	}
	byCanonical := map[string]*aggregate{}
	var order []string
	for _, dc := range descriptions {
		canonical := merchant.Normalize(dc.Description)
		if canonical == "" {
			continue
		}
		agg, ok := byCanonical[canonical]
		if !ok {
			agg = &aggregate{}
			byCanonical[canonical] = agg
			order = append(order, canonical)
		}
		agg.count += dc.Count
		if dc.Count > agg.rawFreq {
			agg.raw = dc.Description
			agg.rawFreq = dc.Count
		}
	}

	patterns := make([]merchant.PatternCount, 0, len(order))
	for _, canonical := range order {
		patterns = append(patterns, merchant.PatternCount{
			Pattern: canonical,
			Count:   byCanonical[canonical].count,
		})
	}

	clusters, err := merchant.ClusterPatterns(patterns, threshold)
	if err != nil {
		return nil, err
	}

	if dryRun {
		return &AutoGroupResult{DryRun: true, Clusters: clusters}, nil
	}

	result := &AutoGroupResult{}
	for _, cluster := range clusters {
		group, created, err := s.groups.GetOrCreateByName(ctx, accountID, cluster.DisplayName)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert group %q: %w", cluster.DisplayName, err)
		}
		if created {
			result.GroupsCreated++
		}

		for _, member := range cluster.Members {
			mapping := &models.MerchantMapping{
				AccountID:        accountID,
				RawPattern:       byCanonical[member].raw,
				CanonicalPattern: member,
				IsAutomatic:      true,
				Confidence:       cluster.Confidence,
			}
			inserted, err := s.mappings.Upsert(ctx, mapping)
			if err != nil {
				return nil, fmt.Errorf("failed to upsert mapping %q: %w", member, err)
			}

			assigned, err := s.mappings.AssignGroupAutomatic(ctx, accountID, member, group.ID, cluster.Confidence)
			if err != nil {
				return nil, fmt.Errorf("failed to assign mapping %q: %w", member, err)
			}
			switch {
			case !assigned:
				// Manually curated mapping; automatic runs never touch it.
				result.SkippedManual++
			case inserted:
				result.MappingsCreated++
			default:
				result.MappingsUpdated++
			}
		}
	}

	s.logger.Info("auto-grouping applied",
		zap.String("account_id", accountID.String()),
		zap.Int("clusters", len(clusters)),
		zap.Int("groups_created", result.GroupsCreated),
		zap.Int("mappings_created", result.MappingsCreated),
		zap.Int("mappings_updated", result.MappingsUpdated),
		zap.Int("skipped_manual", result.SkippedManual))
	return result, nil
}

func (s *merchantService) Backfill(ctx context.Context, accountID uuid.UUID) (*BackfillResult, error) {
	descriptions, err := s.txns.DistinctUnlinkedDescriptions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load unlinked descriptions: %w", err)
	}

	result := &BackfillResult{}
	for _, dc := range descriptions {
		canonical := merchant.Normalize(dc.Description)
		if canonical == "" {
			continue
		}
		mapping, err := s.mappings.GetByCanonical(ctx, accountID, canonical)
		if err != nil {
			return nil, fmt.Errorf("failed to look up mapping for %q: %w", canonical, err)
		}
		if mapping == nil || mapping.MerchantGroupID == nil {
			continue
		}
		linked, err := s.txns.LinkByDescription(ctx, accountID, dc.Description, *mapping.MerchantGroupID)
		if err != nil {
			return nil, fmt.Errorf("failed to backfill %q: %w", dc.Description, err)
		}
		result.DescriptionsMatched++
		result.TransactionsLinked += linked
	}

	s.logger.Info("backfill complete",
		zap.String("account_id", accountID.String()),
		zap.Int("descriptions_matched", result.DescriptionsMatched),
		zap.Int64("transactions_linked", result.TransactionsLinked))
	return result, nil
}

func (s *merchantService) RenameGroup(ctx context.Context, accountID, groupID uuid.UUID, name string) (*models.MerchantGroup, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("group name cannot be empty")
	}
	// Rename is display-only. Mappings key on canonical patterns and stored
	// recurrence confidence is never recomputed here.
	if err := s.groups.Rename(ctx, groupID, name); err != nil {
		return nil, err
	}
	return s.groups.GetByID(ctx, groupID)
}

func (s *merchantService) AssignMappingGroup(ctx context.Context, accountID, mappingID uuid.UUID, groupID *uuid.UUID) (*models.MerchantMapping, error) {
	if groupID != nil {
		if _, err := s.groups.GetByID(ctx, *groupID); err != nil {
			return nil, err
		}
	}
	if err := s.mappings.SetGroupManual(ctx, mappingID, groupID); err != nil {
		return nil, err
	}
	return s.mappings.GetByID(ctx, mappingID)
}

func (s *merchantService) ListGroups(ctx context.Context, accountID uuid.UUID) ([]*models.MerchantGroup, error) {
	return s.groups.GetByAccount(ctx, accountID)
}

func (s *merchantService) ListMappings(ctx context.Context, accountID uuid.UUID) ([]*models.MerchantMapping, error) {
	return s.mappings.ListByAccount(ctx, accountID)
}
