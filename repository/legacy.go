package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/warp/points-park/catalog"
	"github.com/warp/points-park/points"
)

// =============================================================================
// LEGACY IMPORT / EXPORT
// =============================================================================

// Keys used by the browser build before collections moved to the store.
var legacyKeys = map[string]Collection{
	"fp_users":    Users,
	"fp_actions":  Actions,
	"fp_shop":     ShopItems,
	"fp_theme_id": Theme,
}

// ImportReport lists which collections an import replaced and which keys it
// had to skip.
type ImportReport struct {
	Imported []Collection      `json:"imported"`
	Skipped  map[string]string `json:"skipped,omitempty"`
}

// ImportLegacy replaces collections from a dump of the old browser storage.
// The dump is a JSON object whose keys are either the legacy fp_* names or the
// current collection keys. Values may be the JSON itself or a string holding
// it, which is how localStorage kept them. The theme may also be a bare id.
//
// A key that cannot be decoded is skipped and reported; the rest still land.
// The import waits for its writes and fails if any of them was dropped.
func (r *Repository) ImportLegacy(ctx context.Context, src io.Reader) (ImportReport, error) {
	report := ImportReport{Skipped: map[string]string{}}

	var dump map[string]json.RawMessage
	if err := json.NewDecoder(src).Decode(&dump); err != nil {
		return report, fmt.Errorf("failed to decode dump: %w", err)
	}

	decoded := map[Collection]any{}
	for key, raw := range dump {
		c, ok := collectionForKey(key)
		if !ok {
			report.Skipped[key] = "unknown key"
			continue
		}
		v, err := decodeLegacy(c, raw)
		if err != nil {
			r.log.Warn("skipping legacy key", zap.String("key", key), zap.Error(err))
			report.Skipped[key] = err.Error()
			continue
		}
		decoded[c] = v
	}

	err := r.Mutate(ctx, func(tx *Tx) error {
		for _, c := range Collections {
			v, ok := decoded[c]
			if !ok {
				continue
			}
			switch c {
			case Users:
				tx.SetUsers(v.([]points.User))
			case Actions:
				tx.SetActions(v.([]points.PointAction))
			case ShopItems:
				tx.SetShopItems(v.([]points.ShopItem))
			case Theme:
				tx.SetThemeID(v.(string))
			}
			report.Imported = append(report.Imported, c)
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	if err := r.Flush(ctx); err != nil {
		return report, fmt.Errorf("import not persisted: %w", err)
	}

	r.log.Info("legacy dump imported",
		zap.Int("imported", len(report.Imported)),
		zap.Int("skipped", len(report.Skipped)))
	return report, nil
}

func collectionForKey(key string) (Collection, bool) {
	if c, ok := legacyKeys[key]; ok {
		return c, true
	}
	for _, c := range Collections {
		if string(c) == key {
			return c, true
		}
	}
	return "", false
}

func decodeLegacy(c Collection, raw json.RawMessage) (any, error) {
	// localStorage values are strings holding JSON.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if c == Theme && !json.Valid([]byte(s)) {
			return catalog.ResolveThemeID(s), nil
		}
		raw = json.RawMessage(s)
	}

	switch c {
	case Users:
		var v []points.User
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		for i := range v {
			if len(v[i].History) > points.HistoryLimit {
				v[i].History = v[i].History[:points.HistoryLimit]
			}
			if v[i].Points < 0 {
				v[i].Points = 0
			}
		}
		return nonNil(v), nil
	case Actions:
		var v []points.PointAction
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return nonNil(v), nil
	case ShopItems:
		var v []points.ShopItem
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return nonNil(v), nil
	case Theme:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return catalog.ResolveThemeID(v), nil
	}
	return nil, fmt.Errorf("unknown collection %q", c)
}

// Export returns every collection as one indented JSON object keyed by the
// persisted layout. ImportLegacy accepts the result.
func (r *Repository) Export() ([]byte, error) {
	snap, err := r.Snapshot()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(snap, "", "  ")
}
