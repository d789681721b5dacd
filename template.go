package sgmailer

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lattiq/sgmailer/internal/core"
)

// subjectPlaceholder is the subject of every created version. The live
// subject reaches it through the dynamic template data.
const subjectPlaceholder = "{{subject}}"

// Outcomes of a resolution, reported on spans and logs.
const (
	syncCached         = "cached"
	syncCreated        = "created"
	syncVersionCreated = "version_created"
	syncUnchanged      = "unchanged"
	syncUpdated        = "updated"
)

// TemplateSynchronizer keeps remote dynamic templates in step with local
// template files and caches the resulting template ids.
// All methods are safe for concurrent use.
type TemplateSynchronizer struct {
	api     TemplateAPI
	cache   TemplateCache
	prefix  string
	postfix string
	group   singleflight.Group
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewTemplateSynchronizer creates a synchronizer that names remote templates
// prefix + file name + postfix.
func NewTemplateSynchronizer(api TemplateAPI, cache TemplateCache, prefix, postfix string, logger *zap.Logger) *TemplateSynchronizer {
	if cache == nil {
		cache = NewTemplateCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TemplateSynchronizer{
		api:     api,
		cache:   cache,
		prefix:  prefix,
		postfix: postfix,
		logger:  logger,
		tracer:  otel.Tracer("github.com/lattiq/sgmailer"),
	}
}

// Postfix derives the template name postfix for a prefix and API key.
func Postfix(prefix, apiKey string) string {
	return "_" + core.Fingerprint(prefix+apiKey)
}

// TemplateName returns the remote template name for a local template path.
func (s *TemplateSynchronizer) TemplateName(templatePath string) string {
	return s.prefix + filepath.Base(templatePath) + s.postfix
}

// Cache returns the cache backing the synchronizer.
func (s *TemplateSynchronizer) Cache() TemplateCache {
	return s.cache
}

type syncResult struct {
	id     string
	action string
}

// ResolveTemplateID returns the remote template id for the file at
// templatePath, creating or updating the remote template when its content
// differs from the file. A cached id is returned without reading the file
// or calling the API. Concurrent calls for the same template share one
// reconciliation, which keeps running when a caller's context ends; that
// caller alone returns the context error.
func (s *TemplateSynchronizer) ResolveTemplateID(ctx context.Context, templatePath string) (string, error) {
	name := s.TemplateName(templatePath)
	if id, ok := s.cache.Get(name); ok {
		return id, nil
	}

	ctx, span := s.tracer.Start(ctx, "sgmailer.TemplateSynchronizer.ResolveTemplateID",
		trace.WithAttributes(attribute.String("sgmailer.template.name", name)),
	)
	defer span.End()

	// The flight outlives any single caller; each caller only stops waiting
	// when its own context is done.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(name, func() (interface{}, error) {
		if id, ok := s.cache.Get(name); ok {
			return syncResult{id: id, action: syncCached}, nil
		}
		return s.sync(flightCtx, templatePath, name)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		err := ctx.Err()
		span.RecordError(err)
		span.SetStatus(codes.Error, "template resolution abandoned")
		return "", err
	case res = <-ch:
	}

	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "template resolution failed")
		return "", res.Err
	}

	result := res.Val.(syncResult)
	span.SetAttributes(
		attribute.String("sgmailer.template.id", result.id),
		attribute.String("sgmailer.template.action", result.action),
		attribute.Bool("sgmailer.template.shared", res.Shared),
	)
	span.SetStatus(codes.Ok, "template resolved")

	return result.id, nil
}

// sync reconciles the remote template called name with the file at templatePath.
func (s *TemplateSynchronizer) sync(ctx context.Context, templatePath, name string) (syncResult, error) {
	content, err := os.ReadFile(templatePath)
	if err != nil {
		return syncResult{}, &TemplateFileError{Path: templatePath, Cause: err}
	}
	html := string(content)
	versionName := core.Fingerprint(html)

	templates, err := s.api.ListTemplates(ctx)
	if err != nil {
		return syncResult{}, err
	}

	var result syncResult
	existing := findTemplate(templates, name)

	switch {
	case existing == nil:
		created, err := s.api.CreateTemplate(ctx, name)
		if err != nil {
			return syncResult{}, err
		}
		if _, err := s.api.CreateVersion(ctx, created.ID, newVersion(versionName, html)); err != nil {
			return syncResult{}, err
		}
		result = syncResult{id: created.ID, action: syncCreated}

	case existing.LatestVersion() == nil:
		if _, err := s.api.CreateVersion(ctx, existing.ID, newVersion(versionName, html)); err != nil {
			return syncResult{}, err
		}
		result = syncResult{id: existing.ID, action: syncVersionCreated}

	case existing.LatestVersion().Name == versionName:
		result = syncResult{id: existing.ID, action: syncUnchanged}

	default:
		latest := existing.LatestVersion()
		update := core.VersionInput{Name: versionName, HTMLContent: html}
		if _, err := s.api.UpdateVersion(ctx, existing.ID, latest.ID, update); err != nil {
			return syncResult{}, err
		}
		result = syncResult{id: existing.ID, action: syncUpdated}
	}

	s.cache.Set(name, result.id)

	s.logger.Debug("template resolved",
		zap.String("template_name", name),
		zap.String("template_id", result.id),
		zap.String("version_name", versionName),
		zap.String("action", result.action),
	)

	return result, nil
}

// DeleteTemplate removes the remote template backing templatePath and drops
// its cache entry. It is a no-op when no such remote template exists.
func (s *TemplateSynchronizer) DeleteTemplate(ctx context.Context, templatePath string) error {
	name := s.TemplateName(templatePath)

	ctx, span := s.tracer.Start(ctx, "sgmailer.TemplateSynchronizer.DeleteTemplate",
		trace.WithAttributes(attribute.String("sgmailer.template.name", name)),
	)
	defer span.End()

	templates, err := s.api.ListTemplates(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list templates failed")
		return err
	}

	s.cache.Delete(name)

	existing := findTemplate(templates, name)
	if existing == nil {
		span.SetStatus(codes.Ok, "template not found")
		return nil
	}

	if err := s.api.DeleteTemplate(ctx, existing.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete template failed")
		return err
	}

	s.logger.Debug("template deleted",
		zap.String("template_name", name),
		zap.String("template_id", existing.ID),
	)
	span.SetStatus(codes.Ok, "template deleted")
	return nil
}

// PurgeTemplates deletes every remote template named with this
// synchronizer's prefix and postfix, and returns how many were deleted.
func (s *TemplateSynchronizer) PurgeTemplates(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "sgmailer.TemplateSynchronizer.PurgeTemplates")
	defer span.End()

	templates, err := s.api.ListTemplates(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list templates failed")
		return 0, err
	}

	deleted := 0
	for _, t := range templates {
		if !s.owns(t.Name) {
			continue
		}
		if err := s.api.DeleteTemplate(ctx, t.ID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "delete template failed")
			return deleted, err
		}
		s.cache.Delete(t.Name)
		deleted++
	}

	span.SetAttributes(attribute.Int("sgmailer.templates.deleted", deleted))
	span.SetStatus(codes.Ok, "templates purged")
	s.logger.Debug("templates purged", zap.Int("deleted", deleted))

	return deleted, nil
}

// owns reports whether a remote template name was derived by this synchronizer.
func (s *TemplateSynchronizer) owns(name string) bool {
	return len(name) > len(s.prefix)+len(s.postfix) &&
		strings.HasPrefix(name, s.prefix) &&
		strings.HasSuffix(name, s.postfix)
}

// findTemplate returns the template whose name equals name exactly.
func findTemplate(templates []Template, name string) *Template {
	for i := range templates {
		if templates[i].Name == name {
			return &templates[i]
		}
	}
	return nil
}

// newVersion returns the body of a freshly created, active version.
func newVersion(versionName, html string) core.VersionInput {
	active := 1
	return core.VersionInput{
		Name:        versionName,
		HTMLContent: html,
		Active:      &active,
		Subject:     subjectPlaceholder,
	}
}
