package container

import (
	"context"
	"regexp"
)

// derivedPattern matches <base image>-<uuid>.
var derivedPattern = regexp.MustCompile(`^clickable/\w{5}-\d\d\.\d\d-\w{5}[-\w]*-\w{8}[-\w]+$`)

// Confirm asks whether the listed images may be removed.
type Confirm func(images []string) (bool, error)

// CleanImages removes derived images whose base image was updated or
// removed, or all derived images when all is set. It returns the removed
// images.
func (m *Manager) CleanImages(ctx context.Context, bases []string, all bool, confirm Confirm) ([]string, error) {
	obsolete, err := m.ObsoleteImages(ctx, bases, all)
	if err != nil {
		return nil, err
	}
	if len(obsolete) == 0 {
		m.logger().Info("no obsolete images found")
		return nil, nil
	}
	if confirm != nil {
		ok, err := confirm(obsolete)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
	}
	if err := m.RemoveImages(ctx, obsolete); err != nil {
		return nil, err
	}
	m.logger().Info("removed images", "count", len(obsolete))
	return obsolete, nil
}
