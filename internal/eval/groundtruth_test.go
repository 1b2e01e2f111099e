package eval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoicepipe/invoicepipe/internal/common"
	"github.com/invoicepipe/invoicepipe/internal/store"
)

func TestLoadGroundTruth(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.Write(ctx, "ground_truth/inv-001.json",
		[]byte(`{"invoice_number": "A-100", "total_amount": 250.5, "po_number": null, "paid": true}`)))
	require.NoError(t, st.Write(ctx, "ground_truth/inv-002.json",
		[]byte(`{"invoice_number": "G-7"}`)))

	gt, err := LoadGroundTruth(ctx, st)
	require.NoError(t, err)
	require.Len(t, gt, 2)

	doc := gt["inv-001"]
	require.NotNil(t, doc)
	assert.Equal(t, "A-100", *doc["invoice_number"])
	assert.Equal(t, "250.5", *doc["total_amount"], "numbers load as their string rendering")
	assert.Equal(t, "true", *doc["paid"])
	require.Contains(t, doc, "po_number")
	assert.Nil(t, doc["po_number"], "explicit null survives loading")
}

func TestLoadGroundTruthBadFileIsFatal(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.Write(ctx, "ground_truth/broken.json", []byte("{oops")))

	_, err := LoadGroundTruth(ctx, st)
	require.Error(t, err)
	var app *common.AppError
	assert.True(t, errors.As(err, &app))
	assert.Equal(t, "CONFIG_ERROR", app.Code)
}

func TestLoadGroundTruthEmptyArea(t *testing.T) {
	gt, err := LoadGroundTruth(context.Background(), store.NewMemory())
	require.NoError(t, err)
	assert.Empty(t, gt)
}
