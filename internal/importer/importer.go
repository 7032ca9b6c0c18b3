// Package importer copies download counts from an external snapshot onto
// the stored package records.
//
// Import walks the store in Key order, one page of BatchSize records at a
// time. The number of pages is computed once from a row count taken before
// the walk starts, so records inserted while an import runs may be missed
// by that run and, on stores whose Key order shifts under deletes, a record
// may be visited twice. Both outcomes are harmless: the next run converges,
// and applying the same snapshot twice yields the same state. Batches run
// sequentially and each one is committed before the next page is read, so
// stopping between batches keeps earlier work.
package importer

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/nuget-hub/internal/metrics"
	"github.com/any-hub/nuget-hub/internal/packages"
)

// BatchSize 是每批读取与写回的记录数。
const BatchSize = 200

// Table 以小写 id、小写规范化版本为键保存下载量。
type Table map[string]map[string]int64

// Lookup 查找某个版本的下载量。
func (t Table) Lookup(id, normalizedVersion string) (int64, bool) {
	versions, ok := t[strings.ToLower(id)]
	if !ok {
		return 0, false
	}
	count, ok := versions[strings.ToLower(normalizedVersion)]
	return count, ok
}

// Set 写入一条下载量，键会被转换为小写。
func (t Table) Set(id, normalizedVersion string, count int64) {
	key := strings.ToLower(id)
	versions, ok := t[key]
	if !ok {
		versions = map[string]int64{}
		t[key] = versions
	}
	versions[strings.ToLower(normalizedVersion)] = count
}

// Source 提供下载量快照，在一次导入中只读取一次。
type Source interface {
	Fetch(ctx context.Context) (Table, error)
}

// BatchStore 是导入所需的存储能力，metadata.Store 满足该接口。
type BatchStore interface {
	Count(ctx context.Context) (int64, error)
	Page(ctx context.Context, pageIndex, pageSize int) ([]*packages.Package, error)
	ReplaceMany(ctx context.Context, pkgs []*packages.Package) error
}

// Report 汇总一次导入。
type Report struct {
	Batches int
	Updated int
}

type Importer struct {
	store   BatchStore
	source  Source
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

func New(store BatchStore, source Source, logger *logrus.Logger, m *metrics.Metrics) *Importer {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Importer{store: store, source: source, logger: logger, metrics: m}
}

// Import 执行一次完整导入。ctx 在批次之间检查，取消时已提交的批次保留。
func (im *Importer) Import(ctx context.Context) (Report, error) {
	var report Report

	table, err := im.source.Fetch(ctx)
	if err != nil {
		return report, fmt.Errorf("fetch downloads: %w", err)
	}
	total, err := im.store.Count(ctx)
	if err != nil {
		return report, fmt.Errorf("count packages: %w", err)
	}
	batches := int((total + BatchSize - 1) / BatchSize)

	im.logger.WithFields(logrus.Fields{
		"action":   "import_start",
		"packages": total,
		"batches":  batches,
	}).Info("downloads import started")

	for batch := 0; batch < batches; batch++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		updated, err := im.importBatch(ctx, table, batch)
		if err != nil {
			return report, fmt.Errorf("import batch %d: %w", batch, err)
		}
		report.Batches++
		report.Updated += updated
		im.metrics.RecordImportBatch(updated)
		im.logger.WithFields(logrus.Fields{
			"action":  "import_batch",
			"batch":   batch,
			"updated": updated,
		}).Debug("batch imported")
	}

	im.logger.WithFields(logrus.Fields{
		"action":  "import_done",
		"batches": report.Batches,
		"updated": report.Updated,
	}).Info("downloads import finished")
	return report, nil
}

func (im *Importer) importBatch(ctx context.Context, table Table, batch int) (int, error) {
	page, err := im.store.Page(ctx, batch, BatchSize)
	if err != nil {
		return 0, err
	}
	staged := make([]*packages.Package, 0, len(page))
	for _, pkg := range page {
		count, ok := table.Lookup(pkg.ID, pkg.VersionString())
		if !ok {
			continue
		}
		pkg.Downloads = count
		staged = append(staged, pkg)
	}
	if len(staged) == 0 {
		return 0, nil
	}
	if err := im.store.ReplaceMany(ctx, staged); err != nil {
		return 0, err
	}
	return len(staged), nil
}
