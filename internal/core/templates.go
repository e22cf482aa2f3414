package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/ledgermigrate/internal/record"
	"github.com/JonMunkholm/ledgermigrate/internal/schema"
)

// TemplateMatchThreshold is the minimum header overlap for MatchTemplates.
const TemplateMatchThreshold = 0.5

// MappingTemplate is a named, reusable set of field mappings for files with
// a known header layout.
type MappingTemplate struct {
	ID               string         `json:"id,omitempty"`
	Name             string         `json:"name" validate:"required,max=200"`
	SourceFormat     SourceFormat   `json:"sourceFormat,omitempty"`
	TargetCollection string         `json:"targetCollection" validate:"required,collection_name"`
	Headers          []string       `json:"headers"`
	Mappings         []FieldMapping `json:"mappings" validate:"required,min=1,dive"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// TemplateMatch is a template scored against a header list.
type TemplateMatch struct {
	Template   MappingTemplate `json:"template"`
	MatchScore float64         `json:"matchScore"`
}

// CreateTemplate stores a new template. Names are unique per target
// collection.
func (s *Service) CreateTemplate(ctx context.Context, t MappingTemplate) (*MappingTemplate, error) {
	t.Name = strings.TrimSpace(t.Name)
	if err := s.checkRequest(t); err != nil {
		return nil, err
	}

	existing, err := s.ListTemplates(ctx, t.TargetCollection)
	if err != nil {
		return nil, err
	}
	for _, e := range existing {
		if strings.EqualFold(e.Name, t.Name) {
			return nil, invalidf("template '%s' already exists for %s", t.Name, t.TargetCollection)
		}
	}

	now := s.now()
	t.ID = ""
	t.CreatedAt, t.UpdatedAt = now, now
	for i := range t.Mappings {
		t.Mappings[i].ID = ""
		t.Mappings[i].BatchID = ""
		t.Mappings[i].Position = i
	}

	c, err := s.collection(ctx, TemplateCollection)
	if err != nil {
		return nil, err
	}
	rec, err := toRecord(t)
	if err != nil {
		return nil, err
	}
	delete(rec, record.IDField)
	stored, err := c.Insert(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	t.ID = stored.ID()
	return &t, nil
}

// GetTemplate retrieves a template by id.
func (s *Service) GetTemplate(ctx context.Context, id string) (*MappingTemplate, error) {
	c, err := s.collection(ctx, TemplateCollection)
	if err != nil {
		return nil, err
	}
	rec, err := c.Get(ctx, id)
	if err != nil {
		if record.IsNotFound(err) {
			return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	var t MappingTemplate
	if err := fromRecord(rec, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTemplates returns the templates for a collection ordered by name. An
// empty collection lists every template.
func (s *Service) ListTemplates(ctx context.Context, targetCollection string) ([]MappingTemplate, error) {
	c, err := s.collection(ctx, TemplateCollection)
	if err != nil {
		return nil, err
	}
	var q record.Query
	if targetCollection != "" {
		q = q.Where("targetCollection", record.OpEq, targetCollection)
	}
	recs, err := c.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	templates := make([]MappingTemplate, 0, len(recs))
	for _, rec := range recs {
		var t MappingTemplate
		if err := fromRecord(rec, &t); err != nil {
			s.logger.Warn("skipping unreadable template", "id", rec.ID(), "error", err)
			continue
		}
		templates = append(templates, t)
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })
	return templates, nil
}

// DeleteTemplate removes a template.
func (s *Service) DeleteTemplate(ctx context.Context, id string) error {
	c, err := s.collection(ctx, TemplateCollection)
	if err != nil {
		return err
	}
	if err := c.Remove(ctx, id); err != nil {
		if record.IsNotFound(err) {
			return fmt.Errorf("template %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("delete template: %w", err)
	}
	return nil
}

// MatchTemplates finds templates whose headers overlap headers by at least
// TemplateMatchThreshold, best first.
func (s *Service) MatchTemplates(ctx context.Context, targetCollection string, headers []string) ([]TemplateMatch, error) {
	templates, err := s.ListTemplates(ctx, targetCollection)
	if err != nil {
		return nil, err
	}

	var matches []TemplateMatch
	for _, t := range templates {
		score := matchTemplateHeaders(headers, t.Headers)
		if score >= TemplateMatchThreshold {
			matches = append(matches, TemplateMatch{Template: t, MatchScore: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].MatchScore > matches[j].MatchScore
	})
	return matches, nil
}

// ApplyTemplate saves the template's mappings on a batch, keeping only
// those whose source field is among the batch headers.
func (s *Service) ApplyTemplate(ctx context.Context, batchID, templateID string) ([]FieldMapping, error) {
	t, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	b, err := s.loadBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(b.Headers))
	for _, h := range b.Headers {
		present[h] = true
	}
	var mappings []FieldMapping
	for _, m := range t.Mappings {
		if len(b.Headers) == 0 || present[m.SourceField] {
			mappings = append(mappings, m)
		}
	}
	return s.SaveMappings(ctx, batchID, mappings)
}

// matchTemplateHeaders returns the share of template headers found in
// headers, compared after normalisation.
func matchTemplateHeaders(headers, templateHeaders []string) float64 {
	if len(templateHeaders) == 0 {
		return 0
	}
	have := make(map[string]bool, len(headers))
	for _, h := range headers {
		have[schema.Compact(h)] = true
	}
	matched := 0
	for _, h := range templateHeaders {
		if have[schema.Compact(h)] {
			matched++
		}
	}
	return float64(matched) / float64(len(templateHeaders))
}
