package lending

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-lend/internal/testutil"
)

func TestMarketResolver_Resolve(t *testing.T) {
	ctx := context.Background()
	explicit := common.HexToAddress("0x00000000000000000000000000000000000000b1")

	tests := []struct {
		name      string
		known     Market
		provider  common.Address
		want      Market
		wantCalls int
		wantErr   bool
	}{
		{
			name:      "both from provider",
			provider:  testutil.MockProviderAddress,
			want:      Market{Pool: testutil.MockPoolAddress, Oracle: testutil.MockOracleAddress},
			wantCalls: 2,
		},
		{
			name:      "explicit pool kept",
			known:     Market{Pool: explicit},
			provider:  testutil.MockProviderAddress,
			want:      Market{Pool: explicit, Oracle: testutil.MockOracleAddress},
			wantCalls: 1,
		},
		{
			name:     "fully configured skips provider",
			known:    Market{Pool: explicit, Oracle: explicit},
			provider: testutil.MockProviderAddress,
			want:     Market{Pool: explicit, Oracle: explicit},
		},
		{
			name:    "missing provider",
			known:   Market{Pool: explicit},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			market := testutil.NewMockMarket()
			resolver, err := NewMarketResolver(market)
			if err != nil {
				t.Fatalf("NewMarketResolver: %v", err)
			}

			got, err := resolver.Resolve(ctx, tc.known, tc.provider)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %+v, got %+v", tc.want, got)
			}
			if calls := len(market.Calls()); calls != tc.wantCalls {
				t.Errorf("expected %d provider calls, got %d", tc.wantCalls, calls)
			}
		})
	}
}

func TestMarketResolver_ZeroAddressFromProvider(t *testing.T) {
	market := testutil.NewMockMarket()
	market.Oracle = common.Address{}

	resolver, err := NewMarketResolver(market)
	if err != nil {
		t.Fatalf("NewMarketResolver: %v", err)
	}
	if _, err := resolver.Resolve(context.Background(), Market{}, testutil.MockProviderAddress); err == nil {
		t.Fatal("expected error when the provider returns a zero oracle")
	}
}
