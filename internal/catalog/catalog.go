// Package catalog implements publish/list/get/deprecate for providers,
// modules, and stacks: spec.md §4.2's five-step publish algorithm and
// composite-key storage schema, grounded on the teacher's
// internal/services/deployment_service.go transactional gorm pattern and
// internal/repository's BaseRepository shape, generalized from a single
// deployment CRUD service to the catalog's versioned-artifact publish
// flow.
package catalog

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/infraweave-io/infraweave/internal/compiler"
	"github.com/infraweave-io/infraweave/internal/facade"
	"github.com/infraweave-io/infraweave/internal/models"
	"github.com/infraweave-io/infraweave/pkg/canonicalize"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
	"github.com/infraweave-io/infraweave/pkg/logger"
	"github.com/infraweave-io/infraweave/pkg/semver"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service implements publish/list/get/deprecate for the three catalog
// entry types, per spec.md §4.2.
type Service struct {
	db     *gorm.DB
	object facade.Object

	// AllowBetaRepublish mirrors config.CatalogAllowBetaRepublish, the
	// Open Question resolution recorded in DESIGN.md: republishing an
	// existing non-stable version is allowed only when set, and then only
	// while no deployment references it; stable versions are never
	// republished.
	AllowBetaRepublish bool
}

// New constructs a catalog Service backed by db for versioned rows and
// object for artifact storage.
func New(db *gorm.DB, object facade.Object, allowBetaRepublish bool) *Service {
	return &Service{db: db, object: object, AllowBetaRepublish: allowBetaRepublish}
}

// PublishInput carries a publish request's manifest, source archive, and
// target track, common to all three entry types.
type PublishInput struct {
	Track    models.Track
	Manifest models.ModuleManifest
	// SourceFiles maps a path under the artifact's src/ directory to its
	// file content, the producer's zip-of-Terraform-sources handed to
	// step 2 of the publish algorithm.
	SourceFiles map[string][]byte
	Variables   []models.TfVariable
	Outputs     []models.TfOutput
	Providers   []models.ProviderRequirement
	// LiveReferenceCheck reports whether any deployment currently
	// references (type, track, name, version) — consulted only when a
	// republish of an existing version is requested.
	LiveReferenceCheck func(ctx context.Context, typ models.ModuleType, track models.Track, name, version string) (bool, error)
}

// PublishProvider validates and commits a provider manifest. Providers
// carry no root-module compilation step (spec.md §4.2's "module, stack
// analogously with additional compile step" — providers are the base
// case without one).
func (s *Service) PublishProvider(ctx context.Context, in PublishInput) (*models.CatalogEntry, error) {
	return s.publish(ctx, models.ModuleTypeProvider, in, nil)
}

// PublishModule validates, compiles a root module hoisting the module's
// inputs/outputs, and commits.
func (s *Service) PublishModule(ctx context.Context, in PublishInput) (*models.CatalogEntry, error) {
	root := compiler.CompileModuleRoot(in.Variables, in.Outputs, in.Providers)
	return s.publish(ctx, models.ModuleTypeModule, in, &root)
}

// PublishStack validates, resolves each claimed module's schema from the
// catalog, compiles a merged root module wiring cross-module outputs,
// and commits.
func (s *Service) PublishStack(ctx context.Context, in PublishInput) (*models.CatalogEntry, error) {
	children := make([]compiler.ChildModule, 0, len(in.Manifest.Spec.Claims))
	providers := append([]models.ProviderRequirement(nil), in.Providers...)

	for _, claim := range in.Manifest.Spec.Claims {
		child, err := s.GetByVersion(ctx, models.ModuleTypeModule, in.Track, claim.Module, claim.Version)
		if err != nil {
			return nil, appErr.Wrap(err, appErr.KindUnresolvedDependency, "resolving claimed module "+claim.Module)
		}
		children = append(children, compiler.ChildModule{
			Claim:     claim,
			Variables: child.Variables,
			Outputs:   child.Outputs,
		})
		providers = mergeProviders(providers, child.Providers)
	}

	root := compiler.CompileStackRoot(in.Variables, in.Outputs, children, providers)
	in.Providers = providers
	return s.publish(ctx, models.ModuleTypeStack, in, &root)
}

func mergeProviders(existing []models.ProviderRequirement, add []models.ProviderRequirement) []models.ProviderRequirement {
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p.Name] = true
	}
	out := existing
	for _, p := range add {
		if seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		out = append(out, p)
	}
	return out
}

// publish implements the five-step algorithm shared by all three entry
// types. root is nil for a provider, non-nil for a module or stack.
func (s *Service) publish(ctx context.Context, typ models.ModuleType, in PublishInput, root *compiler.RootModule) (*models.CatalogEntry, error) {
	// Step 1: validate.
	if err := validateManifestShape(typ, in.Manifest); err != nil {
		return nil, err
	}
	if err := validateVariableTypes(in.Variables); err != nil {
		return nil, err
	}
	if err := validateExamples(in.Manifest.Metadata.Name, in.Variables, in.Manifest.Spec.Examples); err != nil {
		return nil, err
	}
	if !in.Track.Valid() {
		return nil, appErr.Newf(appErr.KindMalformed, "invalid track %q", in.Track)
	}
	name := in.Manifest.Metadata.Name
	version := in.Manifest.Spec.Version
	if _, err := semver.Parse(version); err != nil {
		return nil, appErr.Wrap(err, appErr.KindMalformed, "invalid version")
	}

	// Step 2: package artifact.
	zipBytes, err := packageArtifact(in.SourceFiles, root)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.KindMalformed, "packaging artifact")
	}
	digest, err := canonicalize.ArtifactDigest(in.Manifest, zipBytes)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.KindInternal, "computing artifact digest")
	}
	key := fmt.Sprintf("/%s/%s/%s/%s/src.zip", typ, in.Track, name, version)
	if err := s.object.Put(ctx, key, zipBytes); err != nil {
		return nil, appErr.Wrap(err, appErr.KindTransient, "uploading artifact")
	}

	entry := &models.CatalogEntry{
		PK:             catalogPK(typ, in.Track, name),
		SK:             version,
		Type:           typ,
		Track:          in.Track,
		Name:           name,
		Version:        version,
		ModuleName:     in.Manifest.Spec.ModuleName,
		Description:    in.Manifest.Spec.Description,
		Reference:      in.Manifest.Spec.Reference,
		ArtifactDigest: digest,
		ArtifactKey:    key,
	}
	entry.Manifest.Data = in.Manifest
	entry.Variables = in.Variables
	entry.Outputs = in.Outputs
	entry.Providers = in.Providers
	entry.Claims = in.Manifest.Spec.Claims

	// Step 4/5: transact_write, retried once on Conflict per the error
	// propagation policy's "fresh read" rule.
	var committed *models.CatalogEntry
	for attempt := 0; attempt < 2; attempt++ {
		committed, err = s.commit(ctx, typ, in, entry)
		if err == nil {
			return committed, nil
		}
		if !appErr.IsRetryable(err) {
			return nil, err
		}
	}
	return nil, err
}

func (s *Service) commit(ctx context.Context, typ models.ModuleType, in PublishInput, entry *models.CatalogEntry) (*models.CatalogEntry, error) {
	var result *models.CatalogEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.CatalogEntry
		err := tx.Where("pk = ? AND sk = ?", entry.PK, entry.SK).First(&existing).Error
		switch {
		case err == nil:
			allowed, checkErr := s.republishAllowed(ctx, typ, in, existing)
			if checkErr != nil {
				return checkErr
			}
			if !allowed {
				return appErr.Newf(appErr.KindAlreadyExists, "%s %s@%s already published on track %s", typ, in.Manifest.Metadata.Name, entry.Version, in.Track)
			}
			diff, diffErr := ComputeDiff(existing.Manifest.Data, in.Manifest)
			if diffErr == nil {
				vd := datatypes.NewJSONType(diff)
				entry.VersionDiff = &vd
			}
			entry.ID = existing.ID
			if txErr := tx.Save(entry).Error; txErr != nil {
				return appErr.Wrap(txErr, appErr.KindConflict, "committing republish")
			}
		case err == gorm.ErrRecordNotFound:
			if txErr := tx.Create(entry).Error; txErr != nil {
				return appErr.Wrap(txErr, appErr.KindConflict, "committing publish")
			}
		default:
			return appErr.Wrap(err, appErr.KindInternal, "reading existing catalog entry")
		}

		isLatest, latestErr := s.isNewHighest(tx, entry)
		if latestErr != nil {
			return latestErr
		}
		if isLatest {
			if err := s.updateLatestPointer(tx, entry); err != nil {
				return err
			}
		}
		entry.IsLatest = isLatest
		if err := tx.Model(&models.CatalogEntry{}).Where("id = ?", entry.ID).Update("is_latest", isLatest).Error; err != nil {
			return appErr.Wrap(err, appErr.KindInternal, "flagging latest entry")
		}

		result = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// republishAllowed decides whether an existing version may be
// overwritten: only on a non-stable track, only when the config flag is
// set, and only when no deployment currently lives on it.
func (s *Service) republishAllowed(ctx context.Context, typ models.ModuleType, in PublishInput, existing models.CatalogEntry) (bool, error) {
	if in.Track == models.TrackStable {
		return false, nil
	}
	if !s.AllowBetaRepublish {
		return false, nil
	}
	if in.LiveReferenceCheck == nil {
		return true, nil
	}
	live, err := in.LiveReferenceCheck(ctx, typ, in.Track, existing.Name, existing.Version)
	if err != nil {
		return false, appErr.Wrap(err, appErr.KindInternal, "checking live references")
	}
	return !live, nil
}

func (s *Service) isNewHighest(tx *gorm.DB, entry *models.CatalogEntry) (bool, error) {
	var versions []string
	if err := tx.Model(&models.CatalogEntry{}).
		Where("type = ? AND track = ? AND name = ? AND deprecated = false", entry.Type, entry.Track, entry.Name).
		Pluck("version", &versions).Error; err != nil {
		return false, appErr.Wrap(err, appErr.KindInternal, "listing versions for latest check")
	}
	found := false
	for _, v := range versions {
		if v == entry.Version {
			found = true
			break
		}
	}
	if !found {
		versions = append(versions, entry.Version)
	}
	highest, ok := semver.Highest(versions, entry.Track != models.TrackDev)
	return ok && highest == entry.Version, nil
}

func (s *Service) updateLatestPointer(tx *gorm.DB, entry *models.CatalogEntry) error {
	pk := "LATEST#" + string(entry.Type) + "#" + string(entry.Track) + "#" + entry.Name
	var ptr models.LatestPointer
	err := tx.Where("pk = ?", pk).First(&ptr).Error
	switch {
	case err == nil:
		ptr.EntryID = entry.ID
		ptr.Version = entry.Version
		if err := tx.Save(&ptr).Error; err != nil {
			return appErr.Wrap(err, appErr.KindConflict, "updating latest pointer")
		}
	case err == gorm.ErrRecordNotFound:
		ptr = models.LatestPointer{PK: pk, EntryID: entry.ID, Version: entry.Version}
		if err := tx.Create(&ptr).Error; err != nil {
			return appErr.Wrap(err, appErr.KindConflict, "creating latest pointer")
		}
	default:
		return appErr.Wrap(err, appErr.KindInternal, "reading latest pointer")
	}
	return nil
}

func catalogPK(typ models.ModuleType, track models.Track, name string) string {
	return strings.ToUpper(string(typ)) + "#" + string(track) + "#" + name
}

// List returns every published version's catalog entry for (type, name)
// across all tracks, newest first.
func (s *Service) List(ctx context.Context, typ models.ModuleType, name string) ([]models.CatalogEntry, error) {
	var out []models.CatalogEntry
	if err := s.db.WithContext(ctx).
		Where("type = ? AND name = ?", typ, name).
		Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.KindInternal, "listing catalog entries")
	}
	return out, nil
}

// GetByVersion resolves one specific version, or the track's LATEST#…
// pointer when version is empty.
func (s *Service) GetByVersion(ctx context.Context, typ models.ModuleType, track models.Track, name, version string) (*models.CatalogEntry, error) {
	if version == "" {
		return s.getLatest(ctx, typ, track, name)
	}
	var entry models.CatalogEntry
	err := s.db.WithContext(ctx).
		Where("type = ? AND track = ? AND name = ? AND version = ?", typ, track, name, version).
		First(&entry).Error
	if err == gorm.ErrRecordNotFound {
		return nil, appErr.Newf(appErr.KindNotFound, "%s %s@%s not found on track %s", typ, name, version, track)
	}
	if err != nil {
		return nil, appErr.Wrap(err, appErr.KindInternal, "get catalog entry")
	}
	if entry.Deprecated {
		logger.L().Warn("resolved deprecated catalog entry",
			zap.String("type", string(typ)), zap.String("name", name), zap.String("version", version))
	}
	return &entry, nil
}

func (s *Service) getLatest(ctx context.Context, typ models.ModuleType, track models.Track, name string) (*models.CatalogEntry, error) {
	pk := "LATEST#" + string(typ) + "#" + string(track) + "#" + name
	var ptr models.LatestPointer
	if err := s.db.WithContext(ctx).Where("pk = ?", pk).First(&ptr).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, appErr.Newf(appErr.KindNotFound, "no published version of %s %s on track %s", typ, name, track)
		}
		return nil, appErr.Wrap(err, appErr.KindInternal, "reading latest pointer")
	}
	var entry models.CatalogEntry
	if err := s.db.WithContext(ctx).Where("id = ?", ptr.EntryID).First(&entry).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.KindInternal, "resolving latest catalog entry")
	}
	return &entry, nil
}

// ListVersions returns every published version string of (type, track, name)
// sorted ascending by semver precedence.
func (s *Service) ListVersions(ctx context.Context, typ models.ModuleType, track models.Track, name string) ([]string, error) {
	var versions []string
	if err := s.db.WithContext(ctx).Model(&models.CatalogEntry{}).
		Where("type = ? AND track = ? AND name = ?", typ, track, name).
		Pluck("version", &versions).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.KindInternal, "listing versions")
	}
	sort.Strings(versions)
	return semver.Sort(versions), nil
}

// Deprecate sets the soft-deprecated flag; a deprecated version stays
// resolvable by exact version but is never returned by get_latest. If the
// deprecated version was the current LATEST#… pointer, the pointer is
// recomputed to the highest remaining non-deprecated version (or cleared
// if none remain), per §8's "get_latest returns the highest semver among
// non-deprecated rows" property.
func (s *Service) Deprecate(ctx context.Context, typ models.ModuleType, track models.Track, name, version string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CatalogEntry{}).
			Where("type = ? AND track = ? AND name = ? AND version = ?", typ, track, name, version).
			Update("deprecated", true)
		if res.Error != nil {
			return appErr.Wrap(res.Error, appErr.KindInternal, "deprecating catalog entry")
		}
		if res.RowsAffected == 0 {
			return appErr.Newf(appErr.KindNotFound, "%s %s@%s not found on track %s", typ, name, version, track)
		}

		pk := "LATEST#" + string(typ) + "#" + string(track) + "#" + name
		var ptr models.LatestPointer
		err := tx.Where("pk = ?", pk).First(&ptr).Error
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		if err != nil {
			return appErr.Wrap(err, appErr.KindInternal, "reading latest pointer")
		}
		if ptr.Version != version {
			return nil
		}
		return s.recomputeLatestPointer(tx, typ, track, name)
	})
}

// recomputeLatestPointer finds the highest non-deprecated version of
// (typ, track, name) and repoints LATEST#… at it, or removes the pointer
// entirely when no non-deprecated version remains.
func (s *Service) recomputeLatestPointer(tx *gorm.DB, typ models.ModuleType, track models.Track, name string) error {
	var versions []string
	if err := tx.Model(&models.CatalogEntry{}).
		Where("type = ? AND track = ? AND name = ? AND deprecated = false", typ, track, name).
		Pluck("version", &versions).Error; err != nil {
		return appErr.Wrap(err, appErr.KindInternal, "listing versions for latest recompute")
	}

	pk := "LATEST#" + string(typ) + "#" + string(track) + "#" + name
	highest, ok := semver.Highest(versions, track != models.TrackDev)
	if !ok {
		if err := tx.Where("pk = ?", pk).Delete(&models.LatestPointer{}).Error; err != nil {
			return appErr.Wrap(err, appErr.KindInternal, "clearing latest pointer")
		}
		if err := tx.Model(&models.CatalogEntry{}).
			Where("type = ? AND track = ? AND name = ?", typ, track, name).
			Update("is_latest", false).Error; err != nil {
			return appErr.Wrap(err, appErr.KindInternal, "clearing is_latest flags")
		}
		return nil
	}

	var newLatest models.CatalogEntry
	if err := tx.Where("type = ? AND track = ? AND name = ? AND version = ?", typ, track, name, highest).
		First(&newLatest).Error; err != nil {
		return appErr.Wrap(err, appErr.KindInternal, "reading new latest entry")
	}
	if err := s.updateLatestPointer(tx, &newLatest); err != nil {
		return err
	}
	if err := tx.Model(&models.CatalogEntry{}).
		Where("type = ? AND track = ? AND name = ?", typ, track, name).
		Update("is_latest", false).Error; err != nil {
		return appErr.Wrap(err, appErr.KindInternal, "clearing is_latest flags")
	}
	return tx.Model(&models.CatalogEntry{}).
		Where("id = ?", newLatest.ID).Update("is_latest", true).Error
}

// DownloadURL returns a presigned URL for an entry's artifact.
func (s *Service) DownloadURL(ctx context.Context, entry *models.CatalogEntry, ttlSeconds int) (string, error) {
	url, err := s.object.PresignedURL(ctx, entry.ArtifactKey, ttlSeconds)
	if err != nil {
		return "", appErr.Wrap(err, appErr.KindTransient, "presigning artifact download")
	}
	return url, nil
}

// packageArtifact builds the src.zip step 2 describes: the producer's
// source files, plus the generated root module's four files at the
// archive root when this publish is a module or stack.
func packageArtifact(sourceFiles map[string][]byte, root *compiler.RootModule) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	paths := make([]string, 0, len(sourceFiles))
	for p := range sourceFiles {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		f, err := w.Create("src/" + p)
		if err != nil {
			return nil, err
		}
		if _, err := f.Write(sourceFiles[p]); err != nil {
			return nil, err
		}
	}

	if root != nil {
		rootFiles := map[string]string{
			"main.tf":      root.MainTF,
			"variables.tf": root.VariablesTF,
			"outputs.tf":   root.OutputsTF,
			"providers.tf": root.ProvidersTF,
		}
		names := make([]string, 0, len(rootFiles))
		for name := range rootFiles {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			f, err := w.Create(name)
			if err != nil {
				return nil, err
			}
			if _, err := io.WriteString(f, rootFiles[name]); err != nil {
				return nil, err
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
