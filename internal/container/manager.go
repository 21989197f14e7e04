package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/cochaviz/clickable/arch"
	"github.com/cochaviz/clickable/internal/clickerr"
	"github.com/cochaviz/clickable/internal/logging"
	"github.com/cochaviz/clickable/internal/project"
	"github.com/cochaviz/clickable/internal/shell"
	"github.com/cochaviz/clickable/internal/version"
)

// VersionLabel carries the version of a base image.
const VersionLabel = "image_version"

// Manager prepares execution environments.
type Manager struct {
	// Runtime is nil in container mode.
	Runtime  Runtime
	Runner   shell.Runner
	HostArch arch.Architecture
	// UID and GID are the ids commands run as inside containers.
	UID int
	GID int
	// MinimumVersion overrides version.ContainerMinimum.
	MinimumVersion int
	Logger         *slog.Logger
}

func (m *Manager) logger() *slog.Logger {
	if m != nil && m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func (m *Manager) minimumVersion() int {
	if m.MinimumVersion > 0 {
		return m.MinimumVersion
	}
	return version.ContainerMinimum
}

// Prepare returns the environment cfg's commands run in. In container mode the
// host is prepared directly; otherwise the base image is version checked and,
// when cfg needs extra packages or setup, a derived image is reused or built.
func (m *Manager) Prepare(ctx context.Context, cfg *project.Config) (*Environment, error) {
	logger := logging.Ensure(m.logger()).With("component", "container", "unit", unitName(cfg))
	env := &Environment{
		Config:   cfg,
		Runner:   m.Runner,
		UID:      m.UID,
		GID:      m.GID,
		HostArch: m.HostArch,
		Logger:   logger,
	}

	if cfg.ContainerMode {
		env.Local = true
		if err := env.setupLocal(ctx); err != nil {
			return nil, err
		}
		return env, nil
	}

	if m.Runtime == nil {
		return nil, clickerr.Env("install docker or podman", "no container runtime configured")
	}
	if cfg.DockerImage == "" {
		return nil, clickerr.Config("no container image resolved for %s", unitName(cfg))
	}
	env.Runtime = m.Runtime
	env.Image = cfg.DockerImage

	if err := m.checkVersion(ctx, cfg); err != nil {
		return nil, err
	}
	if cfg.CustomImage || !cfg.NeedsCustomImage() {
		logger.Debug("using container image", "image", env.Image)
		return env, nil
	}

	image, err := m.derive(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	env.Image = image
	logger.Debug("using container image", "image", env.Image, "base", cfg.DockerImage)
	return env, nil
}

// checkVersion refuses base images older than the supported minimum. Custom
// and not yet pulled images are not checked.
func (m *Manager) checkVersion(ctx context.Context, cfg *project.Config) error {
	if cfg.CustomImage {
		return nil
	}
	exists, err := m.Runtime.ImageExists(ctx, cfg.DockerImage)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	found := 0
	label, err := m.Runtime.Label(ctx, cfg.DockerImage, VersionLabel)
	if err == nil {
		found, err = strconv.Atoi(label)
	}
	if err != nil {
		m.logger().Warn("could not read the image version", "image", cfg.DockerImage, "error", err)
	}

	if minimum := m.minimumVersion(); found < minimum {
		return clickerr.Env(`run "clickable update-images" to update your local images`,
			"clickable requires image %s in version %d or higher (found version %d)", cfg.DockerImage, minimum, found)
	}
	return nil
}

// derive returns the derived image for cfg, building it when the cached one
// cannot be reused. A derived image that is missing right after its build is
// rebuilt once.
func (m *Manager) derive(ctx context.Context, cfg *project.Config, logger *slog.Logger) (string, error) {
	store := StoreFor(cfg.RootDir, cfg.BuildArch, cfg.Unit())
	unlock, err := store.Lock()
	if err != nil {
		return "", clickerr.CacheErr(err, "failed to lock the image cache")
	}
	defer func() {
		if err := unlock(); err != nil {
			logger.Warn("failed to release the image cache lock", "error", err)
		}
	}()

	dockerfile := NewDescriptor(cfg, m.HostArch).Dockerfile()

	record, err := store.Load()
	if err != nil {
		logger.Warn("cached image record is invalid", "error", err)
		record = nil
	}
	if record != nil {
		reusable, reason, err := m.reusable(ctx, store, record, cfg.DockerImage, dockerfile)
		if err != nil {
			return "", err
		}
		if reusable {
			logger.Debug("found cached image", "image", record.Name)
			return record.Name, nil
		}
		logger.Info("cached image cannot be reused, rebuilding", "reason", reason)
	}

	for attempt := 0; ; attempt++ {
		name, err := m.build(ctx, store, cfg.DockerImage, dockerfile, logger)
		if err != nil {
			return "", err
		}
		exists, err := m.Runtime.ImageExists(ctx, name)
		if err != nil {
			return "", err
		}
		if exists {
			return name, nil
		}
		if attempt > 0 {
			return "", clickerr.CacheErr(nil, "image %s is missing right after it was built", name)
		}
		logger.Warn("derived image is missing after build, rebuilding", "image", name)
	}
}

// reusable reports whether record still describes an image built from base
// with dockerfile. The reason is empty when it does.
func (m *Manager) reusable(ctx context.Context, store *RecordStore, record *Record, base, dockerfile string) (bool, string, error) {
	if record.BaseImage != base {
		return false, "different base image", nil
	}

	cached, err := store.Dockerfile()
	if err != nil {
		return false, "", clickerr.CacheErr(err, "failed to read the cached Dockerfile")
	}
	if strings.TrimSpace(cached) != strings.TrimSpace(dockerfile) {
		return false, "dependencies or image setup changed", nil
	}

	exists, err := m.Runtime.ImageExists(ctx, record.Name)
	if err != nil {
		return false, "", err
	}
	if !exists {
		return false, "cached image does not exist anymore", nil
	}

	basedOn, err := m.basedOn(ctx, record.Name, base)
	if err != nil {
		return false, "", err
	}
	if !basedOn {
		return false, "base image was updated", nil
	}
	return true, "", nil
}

// basedOn reports whether the newest layer of base appears in the history of
// image.
func (m *Manager) basedOn(ctx context.Context, image, base string) (bool, error) {
	baseLayers, err := m.Runtime.History(ctx, base)
	if err != nil {
		return false, err
	}
	if len(baseLayers) == 0 {
		return false, nil
	}
	layers, err := m.Runtime.History(ctx, image)
	if err != nil {
		return false, err
	}
	return slices.Contains(layers, baseLayers[0]), nil
}

// build writes a fresh record and builds it. On failure the cache directory
// is removed.
func (m *Manager) build(ctx context.Context, store *RecordStore, base, dockerfile string, logger *slog.Logger) (name string, err error) {
	name = base + "-" + uuid.NewString()
	defer func() {
		if err == nil {
			return
		}
		if removeErr := store.Remove(); removeErr != nil {
			err = errors.Join(err, fmt.Errorf("remove image cache: %w", removeErr))
		}
	}()

	if err := store.WriteDockerfile(dockerfile); err != nil {
		return "", clickerr.CacheErr(err, "failed to write the Dockerfile")
	}
	if err := store.Save(Record{Name: name, BaseImage: base}); err != nil {
		return "", clickerr.CacheErr(err, "failed to write the image record")
	}

	logger.Info("building container image", "image", name)
	if err := m.Runtime.Build(ctx, store.Dir, name); err != nil {
		return "", err
	}
	return name, nil
}

// UpdateImages pulls every known base image that exists locally.
func (m *Manager) UpdateImages(ctx context.Context, images []string) error {
	for _, image := range images {
		exists, err := m.Runtime.ImageExists(ctx, image)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		m.logger().Info("updating image", "image", image)
		if err := m.Runtime.Pull(ctx, image); err != nil {
			return err
		}
	}
	return nil
}

// ObsoleteImages returns derived images that are not based on any of the
// present base images, or every derived image when all is set.
func (m *Manager) ObsoleteImages(ctx context.Context, bases []string, all bool) ([]string, error) {
	repositories, err := m.Runtime.Images(ctx)
	if err != nil {
		return nil, err
	}
	var derived []string
	for _, repository := range repositories {
		if IsDerived(repository) && !slices.Contains(derived, repository) {
			derived = append(derived, repository)
		}
	}
	if all {
		return derived, nil
	}

	var present []string
	for _, base := range bases {
		exists, err := m.Runtime.ImageExists(ctx, base)
		if err != nil {
			return nil, err
		}
		if exists {
			present = append(present, base)
		}
	}

	var obsolete []string
	for _, image := range derived {
		current := false
		for _, base := range present {
			if !strings.HasPrefix(image, base+"-") {
				continue
			}
			if current, err = m.basedOn(ctx, image, base); err != nil {
				return nil, err
			}
			if current {
				break
			}
		}
		if !current {
			obsolete = append(obsolete, image)
		}
	}
	return obsolete, nil
}

// RemoveImages deletes images.
func (m *Manager) RemoveImages(ctx context.Context, images []string) error {
	if len(images) == 0 {
		return nil
	}
	return m.Runtime.RemoveImages(ctx, images...)
}

// IsDerived reports whether image is named like a derived image of one of the
// clickable base images.
func IsDerived(image string) bool {
	return derivedPattern.MatchString(image)
}

// CurrentUser returns the ids of the invoking user.
func CurrentUser() (int, int) {
	return os.Getuid(), os.Getgid()
}

func unitName(cfg *project.Config) string {
	if cfg.IsLibrary() {
		return cfg.Name
	}
	return "app"
}
