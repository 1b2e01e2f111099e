// Package pipeline exposes the three operations a caller drives the system
// with: Route, Extract and Evaluate. Each is idempotent with respect to
// already-processed documents and returns a structured summary; per-document
// failures accumulate in the summary, and only configuration-level problems
// surface as errors.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/invoicepipe/invoicepipe/internal/classify"
	"github.com/invoicepipe/invoicepipe/internal/common"
	"github.com/invoicepipe/invoicepipe/internal/eval"
	"github.com/invoicepipe/invoicepipe/internal/extract"
	"github.com/invoicepipe/invoicepipe/internal/joblog"
	"github.com/invoicepipe/invoicepipe/internal/llm"
	"github.com/invoicepipe/invoicepipe/internal/report"
	"github.com/invoicepipe/invoicepipe/internal/router"
	"github.com/invoicepipe/invoicepipe/internal/store"
	"github.com/invoicepipe/invoicepipe/internal/vendorschema"
)

// Failure is one document an operation could not process.
type Failure struct {
	DocumentID string `json:"document_id"`
	Kind       string `json:"kind"`
}

// ExtractSummary reports one extraction batch.
type ExtractSummary struct {
	Extracted int       `json:"extracted"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
}

// EvalSummary reports one evaluation run.
type EvalSummary struct {
	Documents       int              `json:"documents"`
	Unmatched       int              `json:"unmatched"`
	OverallAccuracy float64          `json:"overall_accuracy"`
	Artifacts       report.Artifacts `json:"artifacts"`
	Failures        []Failure        `json:"failures,omitempty"`
}

type Options struct {
	Workers    int
	DocTimeout time.Duration
	Force      bool // re-extract documents that already succeeded
}

type Service struct {
	store     store.DocumentStore
	reg       *vendorschema.Registry
	router    *router.Router
	extractor *extract.Extractor
	evaluator *eval.Evaluator
	reporter  *report.Builder
	ledger    *joblog.Ledger // optional
	opts      Options
	log       *slog.Logger
}

func NewService(st store.DocumentStore, inf llm.Inferrer, reg *vendorschema.Registry, ledger *joblog.Ledger, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.DocTimeout <= 0 {
		opts.DocTimeout = 3 * time.Minute
	}
	cls := classify.New(inf, reg, logger)
	return &Service{
		store:     st,
		reg:       reg,
		router:    router.New(st, cls, opts.Workers, logger),
		extractor: extract.New(st, inf, reg, logger),
		evaluator: eval.New(reg, logger),
		reporter:  report.NewBuilder(st, logger),
		ledger:    ledger,
		opts:      opts,
		log:       logger,
	}
}

// Setup seeds the canonical folder layout.
func (s *Service) Setup(ctx context.Context) error {
	return store.EnsureLayout(ctx, s.store)
}

// Route sweeps the input area. Re-running on an already-sorted (empty) input
// area is a no-op.
func (s *Service) Route(ctx context.Context) (router.Summary, error) {
	return s.router.Route(ctx)
}

// RouteOne routes a single document; used by watch mode.
func (s *Service) RouteOne(ctx context.Context, key string) (router.Summary, error) {
	return s.router.RouteKey(ctx, key)
}

// Extract runs extraction over every document in the sorted area, up to the
// worker limit, skipping documents that already have a persisted record
// unless forced. Cancellation stops new documents; finished records stand.
func (s *Service) Extract(ctx context.Context) (ExtractSummary, error) {
	start := time.Now()
	keys, err := s.store.List(ctx, store.PrefixSorted)
	if err != nil {
		return ExtractSummary{}, common.WrapError(err, "list sorted area")
	}
	s.log.Info("pipeline.extract.start", "documents", len(keys), "workers", s.opts.Workers)

	type outcome struct {
		skipped bool
		err     error
	}
	outcomes := make([]outcome, len(keys))
	sem := make(chan struct{}, s.opts.Workers)
	var wg sync.WaitGroup

	for i, key := range keys {
		if ctx.Err() != nil {
			outcomes[i] = outcome{err: ctx.Err()}
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, key string) {
			defer wg.Done()
			defer func() { <-sem }()
			// Re-check after the worker-slot wait: a document queued behind
			// in-flight ones must not start once the batch is cancelled.
			if err := ctx.Err(); err != nil {
				outcomes[i] = outcome{err: err}
				return
			}

			docID := store.DocumentID(key)
			if !s.opts.Force && s.alreadyExtracted(ctx, docID) {
				s.log.Info("pipeline.extract.skip", "document", docID)
				outcomes[i] = outcome{skipped: true}
				return
			}

			var jobID string
			if s.ledger != nil {
				jobID, _ = s.ledger.Start(ctx, joblog.StageExtract, docID)
			}

			docCtx, cancel := context.WithTimeout(ctx, s.opts.DocTimeout)
			_, err := s.extractor.ExtractKey(docCtx, key)
			cancel()

			if err != nil {
				s.log.Error("pipeline.extract.failed", "document", docID, "error", err)
				if s.ledger != nil && jobID != "" {
					s.ledger.FinishFailure(ctx, jobID, common.FailureKind(err))
				}
				outcomes[i] = outcome{err: err}
				return
			}
			if s.ledger != nil && jobID != "" {
				s.ledger.FinishOK(ctx, jobID)
			}
		}(i, key)
	}
	wg.Wait()

	sum := ExtractSummary{}
	for i, key := range keys {
		o := outcomes[i]
		switch {
		case o.err != nil:
			sum.Failed++
			sum.Failures = append(sum.Failures, Failure{
				DocumentID: store.DocumentID(key),
				Kind:       common.FailureKind(o.err),
			})
		case o.skipped:
			sum.Skipped++
		default:
			sum.Extracted++
		}
	}

	s.log.Info("pipeline.extract.done",
		"extracted", sum.Extracted,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return sum, nil
}

// alreadyExtracted prefers the persisted record as the durable signal; the
// ledger serves when the record is missing but a prior run logged success.
func (s *Service) alreadyExtracted(ctx context.Context, docID string) bool {
	if _, err := s.store.Read(ctx, extract.RecordKey(docID)); err == nil {
		return true
	}
	if s.ledger != nil {
		done, err := s.ledger.Done(ctx, joblog.StageExtract, docID)
		return err == nil && done
	}
	return false
}

// Evaluate loads every persisted extraction record and the ground truth,
// scores them, and persists the report artifacts.
func (s *Service) Evaluate(ctx context.Context) (EvalSummary, error) {
	start := time.Now()

	gt, err := eval.LoadGroundTruth(ctx, s.store)
	if err != nil {
		return EvalSummary{}, err
	}

	keys, err := s.store.List(ctx, store.PrefixExtracted)
	if err != nil {
		return EvalSummary{}, common.WrapError(err, "list extracted area")
	}

	var records []*extract.Record
	var failures []Failure
	for _, key := range keys {
		b, err := s.store.Read(ctx, key)
		if err != nil {
			failures = append(failures, Failure{DocumentID: store.DocumentID(key), Kind: common.FailureKind(err)})
			continue
		}
		rec, err := extract.DecodeRecord(b)
		if err != nil {
			s.log.Warn("pipeline.evaluate.bad_record", "key", key, "error", err)
			failures = append(failures, Failure{DocumentID: store.DocumentID(key), Kind: "MalformedRecord"})
			continue
		}
		records = append(records, rec)
	}

	rep := s.evaluator.Evaluate(records, gt)
	arts, err := s.reporter.Build(ctx, rep)
	if err != nil {
		return EvalSummary{}, err
	}

	sum := EvalSummary{
		Documents:       len(rep.Documents),
		Unmatched:       len(rep.Unmatched),
		OverallAccuracy: rep.Aggregate.OverallAccuracy,
		Artifacts:       arts,
		Failures:        failures,
	}
	s.log.Info("pipeline.evaluate.done",
		"documents", sum.Documents,
		"unmatched", sum.Unmatched,
		"overall_accuracy", sum.OverallAccuracy,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return sum, nil
}

// IsFatal reports whether an operation error is configuration-level.
func IsFatal(err error) bool {
	var app *common.AppError
	return errors.As(err, &app)
}
