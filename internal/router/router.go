// Package router sweeps the input area, classifies every document and
// relocates it into its vendor bucket. Failures never abort the sweep; they
// accumulate into the summary for operator follow-up.
package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/invoicepipe/invoicepipe/internal/classify"
	"github.com/invoicepipe/invoicepipe/internal/common"
	"github.com/invoicepipe/invoicepipe/internal/store"
)

// Failure is one document the sweep could not route.
type Failure struct {
	DocumentID string `json:"document_id"`
	Key        string `json:"key"`
	Kind       string `json:"kind"`
}

// Summary reports the outcome of one routing sweep.
type Summary struct {
	Routed    int            `json:"routed"`
	Unknown   int            `json:"unknown"`
	Failed    int            `json:"failed"`
	PerVendor map[string]int `json:"per_vendor,omitempty"`
	Failures  []Failure      `json:"failures,omitempty"`
}

type Router struct {
	store   store.DocumentStore
	cls     *classify.Classifier
	workers int
	log     *slog.Logger
}

func New(st store.DocumentStore, cls *classify.Classifier, workers int, logger *slog.Logger) *Router {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{store: st, cls: cls, workers: workers, log: logger}
}

type outcome struct {
	vendor string // destination vendor, "" for unknown
	err    error
}

// Route classifies and relocates every document currently in the input area.
// Documents are taken in lexicographic key order; each is moved at most once
// per sweep, and a sweep over an empty input area is a no-op. Classification
// failures leave the document in place. Cancellation stops new documents from
// starting; in-flight ones finish and their moves stand.
func (r *Router) Route(ctx context.Context) (Summary, error) {
	start := time.Now()
	keys, err := r.store.List(ctx, store.PrefixInput)
	if err != nil {
		return Summary{}, common.WrapError(err, "list input area")
	}
	r.log.Info("router.sweep.start", "documents", len(keys))

	outcomes := make([]outcome, len(keys))
	sem := make(chan struct{}, r.workers)
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
			// in-flight ones must not start once the sweep is cancelled.
			if err := ctx.Err(); err != nil {
				outcomes[i] = outcome{err: err}
				return
			}
			outcomes[i] = r.routeOne(ctx, key)
		}(i, key)
	}
	wg.Wait()

	// Reduce in input order so re-runs report identically.
	sum := Summary{PerVendor: map[string]int{}}
	for i, key := range keys {
		o := outcomes[i]
		switch {
		case o.err != nil:
			sum.Failed++
			sum.Failures = append(sum.Failures, Failure{
				DocumentID: store.DocumentID(key),
				Key:        key,
				Kind:       common.FailureKind(o.err),
			})
		case o.vendor == classify.Unknown:
			sum.Unknown++
		default:
			sum.Routed++
			sum.PerVendor[o.vendor]++
		}
	}

	r.log.Info("router.sweep.done",
		"routed", sum.Routed,
		"unknown", sum.Unknown,
		"failed", sum.Failed,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return sum, nil
}

// RouteKey routes a single input-area document; watch mode uses it as
// documents arrive.
func (r *Router) RouteKey(ctx context.Context, key string) (Summary, error) {
	sum := Summary{PerVendor: map[string]int{}}
	o := r.routeOne(ctx, key)
	switch {
	case o.err != nil:
		sum.Failed++
		sum.Failures = append(sum.Failures, Failure{
			DocumentID: store.DocumentID(key),
			Key:        key,
			Kind:       common.FailureKind(o.err),
		})
	case o.vendor == classify.Unknown:
		sum.Unknown++
	default:
		sum.Routed++
		sum.PerVendor[o.vendor]++
	}
	return sum, nil
}

func (r *Router) routeOne(ctx context.Context, key string) outcome {
	payload, err := r.store.Read(ctx, key)
	if err != nil {
		r.log.Error("router.read.failed", "document", key, "error", err)
		return outcome{err: err}
	}

	vendor, err := r.cls.Classify(ctx, key, payload)
	if err != nil {
		// Routing failure: the document stays put and is reported.
		r.log.Error("router.classify.failed", "document", key, "error", err)
		return outcome{err: err}
	}

	dest := store.PrefixUnknown
	if vendor != classify.Unknown {
		dest = store.PrefixSorted + vendor + "/"
	}
	newKey, err := r.store.Move(ctx, key, dest)
	if err != nil {
		r.log.Error("router.move.failed", "document", key, "dest", dest, "error", err)
		return outcome{err: err}
	}
	r.log.Info("router.move.ok", "from", key, "to", newKey, "vendor", vendor)
	return outcome{vendor: vendor}
}
