package candle

import (
	"errors"
	"testing"
	"time"
)

func TestParse_Success(t *testing.T) {
	ts := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)

	c, err := Parse(Raw{
		OpenTime: ts,
		Open:     "175.50",
		High:     "178.75",
		Low:      "174.25",
		Close:    "178.23",
		Volume:   "50000000",
	})
	if err != nil {
		t.Fatalf("Parse() returned unexpected error: %v", err)
	}

	if got := c.Open.String(); got != "175.5" {
		t.Errorf("Open = %s, want 175.5", got)
	}
	if got := c.Close.String(); got != "178.23" {
		t.Errorf("Close = %s, want 178.23", got)
	}
	if c.Volume != 50000000 {
		t.Errorf("Volume = %d, want 50000000", c.Volume)
	}
	if !c.OpenTime.Equal(ts) {
		t.Errorf("OpenTime = %v, want %v", c.OpenTime, ts)
	}
}

func TestParse_FractionalVolume(t *testing.T) {
	c, err := Parse(Raw{Open: "1", High: "1", Low: "1", Close: "1", Volume: "1200.75"})
	if err != nil {
		t.Fatalf("Parse() returned unexpected error: %v", err)
	}
	if c.Volume != 1200 {
		t.Errorf("Volume = %d, want 1200", c.Volume)
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name      string
		raw       Raw
		wantField string
	}{
		{"bad open", Raw{Open: "abc", High: "1", Low: "1", Close: "1"}, "open"},
		{"bad high", Raw{Open: "1", High: "", Low: "1", Close: "1"}, "high"},
		{"bad low", Raw{Open: "1", High: "1", Low: "n/a", Close: "1"}, "low"},
		{"bad close", Raw{Open: "1", High: "1", Low: "1", Close: "1,5"}, "close"},
		{"bad volume", Raw{Open: "1", High: "1", Low: "1", Close: "1", Volume: "lots"}, "volume"},
		{"empty volume", Raw{Open: "1", High: "1", Low: "1", Close: "1", Volume: ""}, "volume"},
		{"blank volume", Raw{Open: "1", High: "1", Low: "1", Close: "1", Volume: "  "}, "volume"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			if err == nil {
				t.Fatal("Parse() expected error, got nil")
			}

			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("Parse() error type = %T, want *ParseError", err)
			}
			if perr.Field != tt.wantField {
				t.Errorf("ParseError.Field = %q, want %q", perr.Field, tt.wantField)
			}
		})
	}
}

func TestNew_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	c := New(time.Date(2024, 1, 15, 19, 0, 0, 0, loc), 10, 11, 9, 10.5, 100)

	if c.OpenTime.Location() != time.UTC {
		t.Errorf("OpenTime location = %v, want UTC", c.OpenTime.Location())
	}
	if c.OpenTime.Day() != 16 {
		t.Errorf("OpenTime day = %d, want 16", c.OpenTime.Day())
	}
}

func TestTimeframe_Valid(t *testing.T) {
	for _, tf := range []Timeframe{Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe1d, Timeframe1w} {
		if !tf.Valid() {
			t.Errorf("%q.Valid() = false, want true", tf)
		}
	}
	for _, tf := range []Timeframe{"", "2h", "1D", "1mo"} {
		if tf.Valid() {
			t.Errorf("%q.Valid() = true, want false", tf)
		}
	}
}
