// Package feed ingests raw streaming payloads from the brokerage feed and
// normalizes them into canonical ticks for display consumers.
package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prabhuswaminathan/nifty-condor-bot/internal/models"
)

// SchemaHint identifies which wire shape a raw payload carries. The feed
// collaborator supplies the hint explicitly; the normalizer never guesses
// from runtime type inspection.
type SchemaHint string

const (
	// SchemaDelimited is the legacy pipe-delimited key=value form,
	// e.g. "instrument_key=NSE_INDEX|Nifty 50;ltp=24850.5;volume=1200".
	SchemaDelimited SchemaHint = "delimited"
	// SchemaRecords is the structured JSON list-of-records form.
	SchemaRecords SchemaHint = "records"
)

// NormalizationReason classifies why a payload could not be normalized.
type NormalizationReason string

const (
	// ReasonMissingField marks a payload with no usable identity or price field.
	ReasonMissingField NormalizationReason = "missing_field"
	// ReasonTypeMismatch marks a payload whose field could not be parsed as its type.
	ReasonTypeMismatch NormalizationReason = "type_mismatch"
)

// NormalizationError reports a malformed payload. Always recoverable: callers
// drop the tick and keep the stream alive.
type NormalizationError struct {
	Reason NormalizationReason
	Field  string
	Err    error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize: %s (%s): %v", e.Reason, e.Field, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// Field aliases tolerated per canonical field. Broker payloads have shipped
// all of these names at one time or another.
var (
	priceAliases  = []string{"last_price", "ltp", "lastPrice", "last_traded_price"}
	volumeAliases = []string{"volume", "vol", "volume_traded", "vtt"}
	keyAliases    = []string{"instrument_key", "instrumentKey", "instrument_token", "symbol"}
)

// Normalize converts a raw feed payload into a canonical Tick.
//
// prev supplies the last known tick for the instrument: missing numeric
// fields fall back to its values. A missing identity field is a hard error
// regardless of prev.
func Normalize(raw []byte, schema SchemaHint, prev *models.Tick) (models.Tick, error) {
	var fields map[string]string
	var err error
	switch schema {
	case SchemaDelimited:
		fields, err = parseDelimited(raw)
	case SchemaRecords:
		fields, err = parseRecords(raw)
	default:
		return models.Tick{}, &NormalizationError{
			Reason: ReasonTypeMismatch,
			Field:  "schema",
			Err:    fmt.Errorf("unknown schema hint %q", schema),
		}
	}
	if err != nil {
		return models.Tick{}, err
	}
	return buildTick(fields, prev)
}

// parseDelimited parses "k=v;k=v" (or "k=v|k=v") payloads into a field map.
// The instrument key itself may contain a pipe ("NSE_INDEX|Nifty 50"), so
// semicolon is the primary separator and pipe only splits when every segment
// still contains an equals sign.
func parseDelimited(raw []byte) (map[string]string, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return nil, &NormalizationError{
			Reason: ReasonMissingField,
			Field:  "payload",
			Err:    fmt.Errorf("empty payload"),
		}
	}
	segments := strings.Split(s, ";")
	if len(segments) == 1 && strings.Count(s, "|") > 0 {
		parts := strings.Split(s, "|")
		allPairs := true
		for _, p := range parts {
			if !strings.Contains(p, "=") {
				allPairs = false
				break
			}
		}
		if allPairs {
			segments = parts
		}
	}
	fields := make(map[string]string, len(segments))
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		k, v, ok := strings.Cut(seg, "=")
		if !ok {
			return nil, &NormalizationError{
				Reason: ReasonTypeMismatch,
				Field:  seg,
				Err:    fmt.Errorf("segment is not a key=value pair"),
			}
		}
		fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return fields, nil
}

// parseRecords parses the JSON list-of-records form. The last record wins,
// matching the feed's own snapshotting behavior, and numeric values are kept
// as their decimal string form for uniform downstream parsing.
func parseRecords(raw []byte) (map[string]string, error) {
	var records []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		// Some feed versions deliver a single bare record.
		var single map[string]json.RawMessage
		if err2 := json.Unmarshal(raw, &single); err2 != nil {
			return nil, &NormalizationError{
				Reason: ReasonTypeMismatch,
				Field:  "payload",
				Err:    fmt.Errorf("not a record list: %w", err),
			}
		}
		records = []map[string]json.RawMessage{single}
	}
	if len(records) == 0 {
		return nil, &NormalizationError{
			Reason: ReasonMissingField,
			Field:  "payload",
			Err:    fmt.Errorf("empty record list"),
		}
	}
	fields := make(map[string]string)
	for _, rec := range records {
		for k, v := range rec {
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				fields[k] = s
				continue
			}
			var n json.Number
			if err := json.Unmarshal(v, &n); err == nil {
				fields[k] = n.String()
			}
		}
	}
	return fields, nil
}

func buildTick(fields map[string]string, prev *models.Tick) (models.Tick, error) {
	tick := models.Tick{ObservedAt: time.Now().UTC()}

	key, ok := lookup(fields, keyAliases)
	if !ok || key == "" {
		return models.Tick{}, &NormalizationError{
			Reason: ReasonMissingField,
			Field:  "instrument_key",
			Err:    fmt.Errorf("identity field absent"),
		}
	}
	tick.InstrumentKey = key

	if raw, ok := lookup(fields, priceAliases); ok {
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.Tick{}, &NormalizationError{
				Reason: ReasonTypeMismatch,
				Field:  "last_price",
				Err:    err,
			}
		}
		tick.LastPrice = price
	} else if prev != nil {
		tick.LastPrice = prev.LastPrice
	} else {
		return models.Tick{}, &NormalizationError{
			Reason: ReasonMissingField,
			Field:  "last_price",
			Err:    fmt.Errorf("no price field and no prior tick"),
		}
	}

	if raw, ok := lookup(fields, volumeAliases); ok {
		vol, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || vol < 0 {
			return models.Tick{}, &NormalizationError{
				Reason: ReasonTypeMismatch,
				Field:  "volume",
				Err:    fmt.Errorf("invalid volume %q", raw),
			}
		}
		tick.Volume = vol
	} else if prev != nil {
		tick.Volume = prev.Volume
	}

	return tick, nil
}

func lookup(fields map[string]string, aliases []string) (string, bool) {
	for _, name := range aliases {
		if v, ok := fields[name]; ok {
			return v, true
		}
	}
	return "", false
}
