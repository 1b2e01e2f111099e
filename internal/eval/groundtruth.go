package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/invoicepipe/invoicepipe/internal/common"
	"github.com/invoicepipe/invoicepipe/internal/store"
)

// LoadGroundTruth reads every JSON object under ground_truth/ into a
// GroundTruth map keyed by document identity (file base name). The source is
// read-only to the pipeline; an unreadable ground truth area is fatal to the
// evaluation run.
func LoadGroundTruth(ctx context.Context, st store.DocumentStore) (GroundTruth, error) {
	keys, err := st.List(ctx, store.PrefixGroundTruth)
	if err != nil {
		return nil, common.NewAppError("CONFIG_ERROR", "list ground truth", err)
	}
	gt := make(GroundTruth, len(keys))
	for _, key := range keys {
		b, err := st.Read(ctx, key)
		if err != nil {
			return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("read ground truth %q", key), err)
		}
		var raw map[string]any
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("decode ground truth %q", key), err)
		}
		fields := make(map[string]*string, len(raw))
		for name, v := range raw {
			fields[name] = scalarPtr(v)
		}
		gt[store.DocumentID(key)] = fields
	}
	return gt, nil
}

// scalarPtr renders a decoded JSON value as a nullable string; ground truth
// files may carry numbers where extraction carries strings.
func scalarPtr(v any) *string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return &t
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		return &s
	case bool:
		s := strconv.FormatBool(t)
		return &s
	default:
		return nil
	}
}
