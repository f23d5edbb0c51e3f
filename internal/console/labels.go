package console

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/ulink/backend/internal/kvstore"
	"github.com/zhouzirui/ulink/backend/internal/model/assistant"
)

// LabelsNamespace is the key user-chosen assistant names are stored under.
const LabelsNamespace = "ulink.chat.botLabels"

// LoadLabels reads assistant display-name overrides. Unreadable data is
// treated as no overrides.
func LoadLabels(ctx context.Context, blobs kvstore.Store) (assistant.Labels, error) {
	data, err := blobs.Get(ctx, LabelsNamespace)
	if errors.Is(err, kvstore.ErrNotFound) {
		return assistant.Labels{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load assistant labels")
	}

	labels := assistant.Labels{}
	if err := json.Unmarshal(data, &labels); err != nil {
		log.Warn().Err(err).Msg("discarding unreadable assistant labels")
		return assistant.Labels{}, nil
	}
	return labels, nil
}

// SaveLabels persists assistant display-name overrides.
func SaveLabels(ctx context.Context, blobs kvstore.Store, labels assistant.Labels) error {
	if labels == nil {
		labels = assistant.Labels{}
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return errors.Wrap(err, "encode assistant labels")
	}
	return errors.Wrap(blobs.Put(ctx, LabelsNamespace, data), "save assistant labels")
}
