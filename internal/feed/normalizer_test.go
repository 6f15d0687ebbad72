package feed

import (
	"errors"
	"testing"

	"github.com/prabhuswaminathan/nifty-condor-bot/internal/models"
)

func TestNormalize_Delimited(t *testing.T) {
	raw := []byte("instrument_key=NSE_INDEX|Nifty 50;ltp=24850.55;volume=123456")
	tick, err := Normalize(raw, SchemaDelimited, nil)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if tick.InstrumentKey != "NSE_INDEX|Nifty 50" {
		t.Errorf("instrument key = %q", tick.InstrumentKey)
	}
	if tick.LastPrice != 24850.55 {
		t.Errorf("last price = %v, want 24850.55", tick.LastPrice)
	}
	if tick.Volume != 123456 {
		t.Errorf("volume = %d, want 123456", tick.Volume)
	}
	if tick.ObservedAt.IsZero() {
		t.Error("observed_at not set")
	}
}

func TestNormalize_DelimitedPipeSeparator(t *testing.T) {
	raw := []byte("symbol=NIFTY24SEPFUT|ltp=24900|vol=42")
	tick, err := Normalize(raw, SchemaDelimited, nil)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if tick.InstrumentKey != "NIFTY24SEPFUT" || tick.LastPrice != 24900 || tick.Volume != 42 {
		t.Errorf("unexpected tick: %+v", tick)
	}
}

func TestNormalize_Records(t *testing.T) {
	raw := []byte(`[{"instrument_key":"NSE_INDEX|Nifty 50","last_price":24851.2,"volume":9000}]`)
	tick, err := Normalize(raw, SchemaRecords, nil)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if tick.InstrumentKey != "NSE_INDEX|Nifty 50" || tick.LastPrice != 24851.2 || tick.Volume != 9000 {
		t.Errorf("unexpected tick: %+v", tick)
	}
}

func TestNormalize_RecordsBareObject(t *testing.T) {
	raw := []byte(`{"instrumentKey":"NSE_INDEX|Nifty 50","ltp":"24860.0"}`)
	tick, err := Normalize(raw, SchemaRecords, nil)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if tick.LastPrice != 24860.0 {
		t.Errorf("last price = %v", tick.LastPrice)
	}
}

func TestNormalize_MissingPriceUsesPrev(t *testing.T) {
	prev := &models.Tick{InstrumentKey: "NSE_INDEX|Nifty 50", LastPrice: 24800, Volume: 500}
	raw := []byte("instrument_key=NSE_INDEX|Nifty 50")
	tick, err := Normalize(raw, SchemaDelimited, prev)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if tick.LastPrice != 24800 {
		t.Errorf("last price = %v, want prev 24800", tick.LastPrice)
	}
	if tick.Volume != 500 {
		t.Errorf("volume = %d, want prev 500", tick.Volume)
	}
}

func TestNormalize_MissingPriceNoPrev(t *testing.T) {
	raw := []byte("instrument_key=NSE_INDEX|Nifty 50")
	_, err := Normalize(raw, SchemaDelimited, nil)
	var nerr *NormalizationError
	if !errors.As(err, &nerr) || nerr.Reason != ReasonMissingField {
		t.Fatalf("want MissingField error, got %v", err)
	}
}

func TestNormalize_MissingIdentityIsHardError(t *testing.T) {
	prev := &models.Tick{InstrumentKey: "NSE_INDEX|Nifty 50", LastPrice: 24800}
	raw := []byte("ltp=24900;volume=10")
	_, err := Normalize(raw, SchemaDelimited, prev)
	var nerr *NormalizationError
	if !errors.As(err, &nerr) {
		t.Fatalf("want NormalizationError, got %v", err)
	}
	if nerr.Reason != ReasonMissingField || nerr.Field != "instrument_key" {
		t.Errorf("got reason %s field %s", nerr.Reason, nerr.Field)
	}
}

func TestNormalize_TypeMismatch(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bad price", "instrument_key=X;ltp=not-a-number"},
		{"bad volume", "instrument_key=X;ltp=100;volume=minus"},
		{"negative volume", "instrument_key=X;ltp=100;volume=-5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize([]byte(tt.raw), SchemaDelimited, nil)
			var nerr *NormalizationError
			if !errors.As(err, &nerr) || nerr.Reason != ReasonTypeMismatch {
				t.Fatalf("want TypeMismatch error, got %v", err)
			}
		})
	}
}

func TestNormalize_UnknownSchema(t *testing.T) {
	_, err := Normalize([]byte("x=1"), SchemaHint("csv"), nil)
	if err == nil {
		t.Fatal("want error for unknown schema hint")
	}
}

func TestNormalize_MalformedJSON(t *testing.T) {
	_, err := Normalize([]byte("{not json"), SchemaRecords, nil)
	var nerr *NormalizationError
	if !errors.As(err, &nerr) || nerr.Reason != ReasonTypeMismatch {
		t.Fatalf("want TypeMismatch error, got %v", err)
	}
}

func TestNormalize_EmptyPayload(t *testing.T) {
	for _, schema := range []SchemaHint{SchemaDelimited, SchemaRecords} {
		if _, err := Normalize([]byte("  "), schema, nil); err == nil {
			t.Errorf("schema %s: want error for empty payload", schema)
		}
	}
}
