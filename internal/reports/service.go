package reports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/frameworks"
	"carbon-scribe/ghg-reporting/internal/inventory"
	"carbon-scribe/ghg-reporting/internal/metrics"
	"carbon-scribe/ghg-reporting/pkg/storage"
)

// draftPageSize is the largest page ListReports serves
const draftPageSize = 100

// InventorySource builds the inventory a report is generated from
type InventorySource interface {
	Inventory(ctx context.Context, companyID uuid.UUID, period emissions.Period) (*inventory.Inventory, error)
}

// Service handles report generation, versioning and archival
type Service struct {
	repo        Repository
	generator   *Generator
	inventories InventorySource
	logger      *zap.Logger

	s3     storage.S3Client
	bucket string
	prefix string
}

// NewService creates a new report service
func NewService(repo Repository, generator *Generator, inventories InventorySource, logger *zap.Logger) *Service {
	return &Service{
		repo:        repo,
		generator:   generator,
		inventories: inventories,
		logger:      logger,
	}
}

// WithArchive stores every rendered payload in the bucket under prefix
func (s *Service) WithArchive(client storage.S3Client, bucket, prefix string) *Service {
	s.s3 = client
	s.bucket = bucket
	s.prefix = prefix
	return s
}

// Frameworks lists the configured frameworks
func (s *Service) Frameworks() []*frameworks.Framework {
	return s.generator.Frameworks().List()
}

// =====================================================
// Generation
// =====================================================

// GenerateReport builds the inventory for the requested year and generates a
// new report version
func (s *Service) GenerateReport(ctx context.Context, req *GenerateReportRequest) (*GeneratedReport, error) {
	period := emissions.NewCalendarYear(req.Year)
	inv, err := s.inventories.Inventory(ctx, req.CompanyID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to build inventory: %w", err)
	}

	opts := GenerateOptions{Title: req.Title, Author: req.Author}
	if len(req.Enrichment) > 0 {
		opts.Enrichment = frameworks.Flatten(req.Enrichment)
	}
	return s.Generate(ctx, inv, frameworks.ParseFrameworkID(string(req.Framework)), req.Format, opts)
}

// Generate renders, versions, archives and persists a report. The previous
// version for the same company, framework, format and period is superseded.
func (s *Service) Generate(ctx context.Context, inv *inventory.Inventory, id frameworks.FrameworkID, format frameworks.Format, opts GenerateOptions) (*GeneratedReport, error) {
	report, err := s.generator.Generate(ctx, inv, id, format, opts)
	if err != nil {
		return nil, err
	}

	previous, err := s.repo.GetLatestReport(ctx, inv.Organization.ID, report.Metadata.Framework, format, inv.Period)
	switch {
	case err == nil:
		report.Metadata.Version = previous.Metadata.Version + 1
	case errors.Is(err, ErrReportNotFound):
		previous = nil
	default:
		return nil, fmt.Errorf("failed to look up previous report: %w", err)
	}

	if s.s3 != nil {
		key := s.storageKey(report)
		if err := s.s3.Upload(ctx, s.bucket, key, bytes.NewReader(report.Payload)); err != nil {
			return nil, fmt.Errorf("failed to archive report payload: %w", err)
		}
		report.StorageKey = key
	}

	if err := s.repo.CreateReport(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to save report: %w", err)
	}

	if previous != nil && previous.Status != ReportStatusSuperseded {
		if err := s.repo.UpdateReportStatus(ctx, previous.ID(), ReportStatusSuperseded); err != nil {
			// the new version is already committed
			s.logger.Warn("Failed to supersede previous report",
				zap.String("report_id", previous.ID().String()),
				zap.Error(err),
			)
		}
	}

	metrics.ReportsGenerated.WithLabelValues(string(report.Metadata.Framework), string(format)).Inc()
	metrics.ReportCompleteness.WithLabelValues(string(report.Metadata.Framework)).Observe(report.Completeness)

	s.logger.Info("Saved report",
		zap.String("report_id", report.ID().String()),
		zap.String("company_id", inv.Organization.ID.String()),
		zap.Int("version", report.Metadata.Version),
		zap.Float64("completeness", report.Completeness),
	)
	return report, nil
}

func (s *Service) storageKey(report *GeneratedReport) string {
	return path.Join(s.prefix, report.Metadata.CompanyID.String(), string(report.Metadata.Framework),
		report.Metadata.Period.Key(), report.FileName())
}

// RevalidateDrafts regenerates every draft report whose period overlaps the
// given period, producing a new version of each. One failing report does not
// stop the others.
func (s *Service) RevalidateDrafts(ctx context.Context, companyID uuid.UUID, period emissions.Period) (int, error) {
	drafts, err := s.listDrafts(ctx, companyID, period)
	if err != nil {
		return 0, err
	}

	inventories := make(map[string]*inventory.Inventory)
	var errs []error
	regenerated := 0
	for _, draft := range drafts {
		if err := ctx.Err(); err != nil {
			return regenerated, err
		}

		key := draft.Metadata.Period.Key()
		inv, ok := inventories[key]
		if !ok {
			inv, err = s.inventories.Inventory(ctx, companyID, draft.Metadata.Period)
			if err != nil {
				errs = append(errs, fmt.Errorf("report %s: %w", draft.ID(), err))
				continue
			}
			inventories[key] = inv
		}

		if _, err := s.Generate(ctx, inv, draft.Metadata.Framework, draft.Format, draft.Options); err != nil {
			s.logger.Error("Failed to revalidate draft report",
				zap.String("report_id", draft.ID().String()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("report %s: %w", draft.ID(), err))
			continue
		}
		regenerated++
	}

	return regenerated, errors.Join(errs...)
}

// listDrafts collects every page of drafts before any is regenerated, since
// regeneration adds and supersedes drafts
func (s *Service) listDrafts(ctx context.Context, companyID uuid.UUID, period emissions.Period) ([]*GeneratedReport, error) {
	status := ReportStatusDraft
	filters := &ReportFilters{CompanyID: &companyID, Status: &status, Period: &period, PageSize: draftPageSize}

	var drafts []*GeneratedReport
	for page := 1; ; page++ {
		filters.Page = page
		batch, total, err := s.repo.ListReports(ctx, filters)
		if err != nil {
			return nil, fmt.Errorf("failed to list draft reports: %w", err)
		}
		drafts = append(drafts, batch...)
		if len(batch) == 0 || len(drafts) >= total {
			return drafts, nil
		}
	}
}

// =====================================================
// Queries
// =====================================================

// GetReport returns a report with its payload
func (s *Service) GetReport(ctx context.Context, id uuid.UUID) (*GeneratedReport, error) {
	return s.repo.GetReport(ctx, id)
}

// ListReports returns a page of reports without payloads
func (s *Service) ListReports(ctx context.Context, filters *ReportFilters) (*ReportListResponse, error) {
	reports, total, err := s.repo.ListReports(ctx, filters)
	if err != nil {
		return nil, err
	}
	page, pageSize := pagination(filters)
	return &ReportListResponse{
		Reports:    reports,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// FinalizeReport marks a draft as the final version
func (s *Service) FinalizeReport(ctx context.Context, id uuid.UUID) (*GeneratedReport, error) {
	report, err := s.repo.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if report.Status != ReportStatusDraft {
		return nil, fmt.Errorf("only draft reports can be finalized, report is %s", report.Status)
	}
	if err := s.repo.UpdateReportStatus(ctx, id, ReportStatusFinal); err != nil {
		return nil, err
	}
	report.Status = ReportStatusFinal
	return report, nil
}

// DownloadURL returns a presigned URL for the archived payload
func (s *Service) DownloadURL(ctx context.Context, id uuid.UUID, expiration time.Duration) (string, error) {
	report, err := s.repo.GetReport(ctx, id)
	if err != nil {
		return "", err
	}
	if s.s3 == nil || report.StorageKey == "" {
		return "", fmt.Errorf("report %s has no archived payload", id)
	}
	return s.s3.GetPresignedURL(ctx, s.bucket, report.StorageKey, expiration)
}
