package state

import (
	"encoding/json"
	"fmt"

	"arbsignals/internal/model"
)

// SchemaVersion is stamped on every stored record.
const SchemaVersion = 1

type envelope struct {
	V    int             `json:"v"`
	Data json.RawMessage `json:"data"`
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{V: SchemaVersion, Data: data})
}

// decode unwraps an envelope into out. Any failure is reported as a data
// quality error so callers drop the record instead of failing the cycle.
func decode(raw []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", model.ErrDataQuality, err)
	}
	if env.V != SchemaVersion {
		return fmt.Errorf("%w: %w: v=%d", model.ErrDataQuality, model.ErrSchemaVersion, env.V)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: %v", model.ErrDataQuality, err)
	}
	return nil
}

// validBooks drops entries that fail validation or are filed under the wrong key.
func validBooks(in map[string]model.NormalizedBook) map[string]model.NormalizedBook {
	out := make(map[string]model.NormalizedBook, len(in))
	for exchange, book := range in {
		if book.Exchange != exchange || book.Validate() != nil {
			continue
		}
		out[exchange] = book
	}
	return out
}

func validSignals(in []model.Signal) []model.Signal {
	out := make([]model.Signal, 0, len(in))
	for _, s := range in {
		if s.Validate() == nil {
			out = append(out, s)
		}
	}
	return out
}
