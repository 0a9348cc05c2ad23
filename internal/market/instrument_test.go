package market

import "testing"

func TestParseInstrument(t *testing.T) {
	cases := []struct {
		input    string
		symbol   string
		exchange string
		wantErr  bool
	}{
		{input: "rb2510.SHFE", symbol: "rb2510", exchange: "SHFE"},
		{input: " cu2509.SHFE ", symbol: "cu2509", exchange: "SHFE"},
		{input: "BTC/USDT.BINANCE", symbol: "BTC/USDT", exchange: "BINANCE"},
		{input: "rb2510", wantErr: true},
		{input: ".SHFE", wantErr: true},
		{input: "rb2510.", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tc := range cases {
		got, err := ParseInstrument(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseInstrument(%q) expected error, got %+v", tc.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseInstrument(%q) failed: %v", tc.input, err)
			continue
		}
		if got.Symbol != tc.symbol || got.Exchange != tc.exchange {
			t.Errorf("ParseInstrument(%q) = %+v", tc.input, got)
		}
	}
}

func TestInstrumentString(t *testing.T) {
	i := Instrument{Symbol: "rb2510", Exchange: "SHFE"}
	if i.String() != "rb2510.SHFE" {
		t.Fatalf("unexpected string %q", i.String())
	}
	if i.IsZero() {
		t.Fatalf("expected non-zero instrument")
	}
	if !(Instrument{}).IsZero() {
		t.Fatalf("expected zero instrument")
	}
}

func TestOrderStatusIsActive(t *testing.T) {
	active := []OrderStatus{StatusSubmitting, StatusNotTraded, StatusPartTraded}
	for _, s := range active {
		if !s.IsActive() {
			t.Errorf("expected %v active", s)
		}
	}
	final := []OrderStatus{StatusAllTraded, StatusCancelled, StatusRejected}
	for _, s := range final {
		if s.IsActive() {
			t.Errorf("expected %v final", s)
		}
	}
}

func TestDirectionOpposite(t *testing.T) {
	if DirectionLong.Opposite() != DirectionShort || DirectionShort.Opposite() != DirectionLong {
		t.Fatalf("direction opposite broken")
	}
}
