package model

import (
	"encoding/json"
	"math/big"
	"reflect"
	"testing"
)

func TestExchangeRateRecordJSONRoundTrip(t *testing.T) {
	// 2^200 + 1 does not fit any machine float exactly.
	huge := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 200), big.NewInt(1))

	original := ExchangeRateRecord{
		ChainID:        1,
		BlockNumber:    19000000,
		Pool:           "0x1111111111111111111111111111111111111111",
		Token0:         "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Token1:         "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		Reserve0:       huge.String(),
		Reserve1:       "2000000000000000000000",
		VReserve0:      "1000000000000000000000",
		VReserve1:      "2000000000000000000000",
		FeeInPrecision: "3000000000000000",
		BestSell0Buy1: &TradeQuote{
			SellAmount:   "5",
			BuyAmount:    "10",
			ExchangeRate: "2",
		},
		CollectedAt: "2024-01-01T00:00:00Z",
	}

	b, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded ExchangeRateRecord
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if !reflect.DeepEqual(original, decoded) {
		t.Fatalf("round-trip mismatch: %+v != %+v", original, decoded)
	}

	got, ok := new(big.Int).SetString(decoded.Reserve0, 10)
	if !ok || got.Cmp(huge) != 0 {
		t.Fatalf("reserve0 lost precision: %s", decoded.Reserve0)
	}
	if decoded.BestSell1Buy0 != nil {
		t.Fatalf("absent quote should stay absent")
	}
}

func TestExchangeRateRecordAmountsAreStrings(t *testing.T) {
	record := ExchangeRateRecord{
		Reserve0:      "12345678901234567890",
		BestSell1Buy0: &TradeQuote{SellAmount: "1", BuyAmount: "2", ExchangeRate: "2"},
	}

	data, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if _, ok := decoded["reserve0"].(string); !ok {
		t.Fatalf("reserve0 should be string")
	}
	quote, ok := decoded["best_sell1_buy0"].(map[string]interface{})
	if !ok {
		t.Fatalf("best_sell1_buy0 should be an object")
	}
	for _, key := range []string{"sell_amount", "buy_amount", "exchange_rate"} {
		if _, ok := quote[key].(string); !ok {
			t.Fatalf("%s should be string", key)
		}
	}
	if _, ok := decoded["best_sell0_buy1"]; ok {
		t.Fatalf("missing quote should be omitted")
	}
}
