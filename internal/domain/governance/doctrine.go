package governance

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/racelock/veloengine/internal/errs"
)

// ActiveDoctrineVersion returns the currently active version, seeding
// BaselineDoctrineVersion on first call. Grounded on
// doctrine_manager.DoctrineManager.get_active_version.
func (s *Service) ActiveDoctrineVersion(ctx context.Context) (string, error) {
	v, err := s.Doctrine.ActiveVersion(ctx)
	if err != nil {
		return "", err
	}
	if v != nil {
		return v.Version, nil
	}
	if err := s.Doctrine.Initialize(ctx, BaselineDoctrineVersion,
		"V13 Constitutional Baseline - Episodic memory + read-only critics + doctrine guards"); err != nil {
		return "", err
	}
	return BaselineDoctrineVersion, nil
}

// BumpDoctrineVersion creates a new version record per semantic-versioning
// rules, deactivating the current row and activating the new one. Grounded
// on doctrine_manager.DoctrineManager.bump_version; does not apply the
// actual rule change (deferred — matches the source's own "Phase 3C" note).
func (s *Service) BumpDoctrineVersion(ctx context.Context, changeType ChangeType, description, createdBy string, rulesSnapshot map[string]any) (string, error) {
	current, err := s.ActiveDoctrineVersion(ctx)
	if err != nil {
		return "", err
	}

	newVersion, err := bumpSemVer(current, changeType)
	if err != nil {
		return "", err
	}

	if err := s.Doctrine.Deactivate(ctx, current); err != nil {
		return "", err
	}
	parent := current
	if err := s.Doctrine.Insert(ctx, DoctrineVersion{
		Version:       newVersion,
		CreatedAt:     s.now(),
		CreatedBy:     createdBy,
		Description:   description,
		RulesSnapshot: rulesSnapshot,
		ParentVersion: &parent,
		Active:        true,
	}); err != nil {
		return "", err
	}
	return newVersion, nil
}

func bumpSemVer(current string, changeType ChangeType) (string, error) {
	parts := strings.Split(current, ".")
	if len(parts) != 3 {
		return "", errs.New(errs.InvalidVersion, "malformed doctrine version", map[string]any{"version": current})
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	patch, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return "", errs.New(errs.InvalidVersion, "non-numeric doctrine version component", map[string]any{"version": current})
	}

	switch changeType {
	case ChangeMajor:
		return fmt.Sprintf("%d.0.0", major+1), nil
	case ChangeMinor:
		return fmt.Sprintf("%d.%d.0", major, minor+1), nil
	case ChangePatch:
		return fmt.Sprintf("%d.%d.%d", major, minor, patch+1), nil
	default:
		return "", errs.New(errs.InvalidVersion, "invalid change_type", map[string]any{"change_type": changeType})
	}
}

// RollbackDoctrineVersion deactivates the current version and reactivates
// target. Grounded on doctrine_manager.DoctrineManager.rollback_to_version.
func (s *Service) RollbackDoctrineVersion(ctx context.Context, target string) error {
	v, err := s.Doctrine.Get(ctx, target)
	if err != nil {
		return err
	}
	if v == nil {
		return errs.New(errs.NotFound, "doctrine version not found", map[string]any{"version": target})
	}
	active, err := s.Doctrine.ActiveVersion(ctx)
	if err != nil {
		return err
	}
	if active != nil {
		if err := s.Doctrine.Deactivate(ctx, active.Version); err != nil {
			return err
		}
	}
	return s.Doctrine.Activate(ctx, target)
}

// DoctrineVersionHistory is the getVersionHistory() API surface call.
func (s *Service) DoctrineVersionHistory(ctx context.Context, limit int) ([]DoctrineVersion, error) {
	return s.Doctrine.History(ctx, limit)
}

// DoctrineVersionDetails is the getVersionDetails() API surface call.
func (s *Service) DoctrineVersionDetails(ctx context.Context, version string) (*DoctrineVersion, error) {
	return s.Doctrine.Get(ctx, version)
}
