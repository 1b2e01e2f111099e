package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoicepipe/invoicepipe/internal/classify"
	"github.com/invoicepipe/invoicepipe/internal/common"
	"github.com/invoicepipe/invoicepipe/internal/llm/llmtest"
	"github.com/invoicepipe/invoicepipe/internal/store"
	"github.com/invoicepipe/invoicepipe/internal/vendorschema"
)

const registryYAML = `
vendors:
  - label: Acme_Corp
    aliases: ["Acme Corporation"]
    fields:
      - {name: invoice_number, type: string, required: true}
  - label: Globex
    fields:
      - {name: invoice_number, type: string, required: true}
`

func newRouter(t *testing.T, st store.DocumentStore, stub *llmtest.Stub) *Router {
	t.Helper()
	reg, err := vendorschema.Parse([]byte(registryYAML))
	require.NoError(t, err)
	return New(st, classify.New(stub, reg, nil), 2, nil)
}

func seed(t *testing.T, st store.DocumentStore, key string, payload []byte) {
	t.Helper()
	require.NoError(t, st.Write(context.Background(), key, payload))
}

func TestRouteSweep(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st, "input_invoices/a.pdf", []byte("doc a"))
	seed(t, st, "input_invoices/b.pdf", []byte("doc b"))
	seed(t, st, "input_invoices/c.pdf", []byte("doc c"))

	stub := &llmtest.Stub{Answers: map[string]string{
		"input_invoices/a.pdf": "Acme Corporation",
		"input_invoices/b.pdf": "Globex",
		"input_invoices/c.pdf": "Some Unknown Seller",
	}}
	r := newRouter(t, st, stub)

	sum, err := r.Route(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Routed)
	assert.Equal(t, 1, sum.Unknown)
	assert.Equal(t, 0, sum.Failed)
	assert.Equal(t, map[string]int{"Acme_Corp": 1, "Globex": 1}, sum.PerVendor)

	left, err := st.List(ctx, store.PrefixInput)
	require.NoError(t, err)
	assert.Empty(t, left, "routed documents must leave the input area")

	acme, err := st.List(ctx, store.PrefixSorted+"Acme_Corp/")
	require.NoError(t, err)
	assert.Equal(t, []string{"sorted_invoices/Acme_Corp/a.pdf"}, acme)

	unk, err := st.List(ctx, store.PrefixUnknown)
	require.NoError(t, err)
	assert.Equal(t, []string{"unknown/c.pdf"}, unk)
}

func TestRouteFailureLeavesDocumentInPlace(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st, "input_invoices/bad.pdf", []byte("doc"))
	seed(t, st, "input_invoices/good.pdf", []byte("doc"))

	stub := &llmtest.Stub{
		Answers: map[string]string{"input_invoices/good.pdf": "Globex"},
		Errs:    map[string]error{"input_invoices/bad.pdf": common.ErrModelUnavailable},
	}
	r := newRouter(t, st, stub)

	sum, err := r.Route(ctx)
	require.NoError(t, err, "one failed document must not abort the sweep")
	assert.Equal(t, 1, sum.Routed)
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, "bad", sum.Failures[0].DocumentID)
	assert.Equal(t, "ModelUnavailable", sum.Failures[0].Kind)

	left, err := st.List(ctx, store.PrefixInput)
	require.NoError(t, err)
	assert.Equal(t, []string{"input_invoices/bad.pdf"}, left)
}

func TestRouteSecondSweepIsNoOp(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st, "input_invoices/a.pdf", []byte("doc"))

	stub := &llmtest.Stub{Answers: map[string]string{"input_invoices/a.pdf": "Globex"}}
	r := newRouter(t, st, stub)

	_, err := r.Route(ctx)
	require.NoError(t, err)
	sum, err := r.Route(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{PerVendor: map[string]int{}}, sum)
	assert.Len(t, stub.AnswerLog, 1, "already-sorted documents are not reclassified")
}

func TestRouteCancellationStopsNewDocuments(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := store.NewMemory()
	seed(t, st, "input_invoices/a.pdf", []byte("doc"))
	seed(t, st, "input_invoices/b.pdf", []byte("doc"))

	stub := &llmtest.Stub{
		Answers: map[string]string{
			"input_invoices/a.pdf": "Globex",
			"input_invoices/b.pdf": "Globex",
		},
		Started: make(chan string),
		Gate:    make(chan struct{}),
	}
	reg, err := vendorschema.Parse([]byte(registryYAML))
	require.NoError(t, err)
	r := New(st, classify.New(stub, reg, nil), 1, nil)

	type result struct {
		sum Summary
		err error
	}
	done := make(chan result, 1)
	go func() {
		sum, rerr := r.Route(ctx)
		done <- result{sum, rerr}
	}()

	<-stub.Started // first document is in flight
	cancel()
	close(stub.Gate) // in-flight document finishes; its move stands

	res := <-done
	require.NoError(t, res.err)
	sum := res.sum
	assert.Equal(t, 1, sum.Routed)
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, "Canceled", sum.Failures[0].Kind)
	assert.Len(t, stub.AnswerLog, 1, "no new document reaches the model after cancel")

	left, err := st.List(ctx, store.PrefixInput)
	require.NoError(t, err)
	assert.Equal(t, []string{"input_invoices/b.pdf"}, left)

	moved, err := st.List(ctx, store.PrefixSorted)
	require.NoError(t, err)
	assert.Equal(t, []string{"sorted_invoices/Globex/a.pdf"}, moved)
}

func TestRouteKey(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st, "input_invoices/a.pdf", []byte("doc"))

	stub := &llmtest.Stub{Answers: map[string]string{"input_invoices/a.pdf": "Acme_Corp"}}
	r := newRouter(t, st, stub)

	sum, err := r.RouteKey(ctx, "input_invoices/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Routed)

	keys, err := st.List(ctx, store.PrefixSorted)
	require.NoError(t, err)
	assert.Equal(t, []string{"sorted_invoices/Acme_Corp/a.pdf"}, keys)
}
