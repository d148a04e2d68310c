package rates

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/bookswap-backend/pkg/courier"
	"github.com/angelmondragon/bookswap-backend/pkg/types"
)

func TestBuildEndpointsAllShapes(t *testing.T) {
	door := gautengAddress("Gauteng")
	locker := types.LockerPoint("LKR-9", "pudo")

	cases := []struct {
		name                    string
		from, to                types.CollectionPoint
		wantKeys, forbiddenKeys []string
	}{
		{
			name:          "door to door",
			from:          door,
			to:            door,
			wantKeys:      []string{"collection_address", "delivery_address"},
			forbiddenKeys: []string{"collection_pickup_point_id", "delivery_pickup_point_id"},
		},
		{
			name:          "door to locker",
			from:          door,
			to:            locker,
			wantKeys:      []string{"collection_address", "delivery_pickup_point_id", "delivery_pickup_point_provider"},
			forbiddenKeys: []string{"delivery_address", "collection_pickup_point_id"},
		},
		{
			name:          "locker to door",
			from:          locker,
			to:            door,
			wantKeys:      []string{"collection_pickup_point_id", "collection_pickup_point_provider", "delivery_address"},
			forbiddenKeys: []string{"collection_address", "delivery_pickup_point_id"},
		},
		{
			name:          "locker to locker",
			from:          locker,
			to:            locker,
			wantKeys:      []string{"collection_pickup_point_id", "delivery_pickup_point_id"},
			forbiddenKeys: []string{"collection_address", "delivery_address"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := json.Marshal(courier.RatesRequest{Endpoints: BuildEndpoints(tc.from, tc.to)})
			require.NoError(t, err)
			var body map[string]any
			require.NoError(t, json.Unmarshal(raw, &body))
			for _, key := range tc.wantKeys {
				assert.Contains(t, body, key)
			}
			for _, key := range tc.forbiddenKeys {
				assert.NotContains(t, body, key)
			}
		})
	}
}

func TestCourierAddressUsesBusinessTypeForCompany(t *testing.T) {
	addr := courierAddress(types.Address{Company: "Campus Books", StreetAddress: "1 Rd", City: "Durban", Province: "kzn", PostalCode: "4001"})
	assert.Equal(t, "business", addr.Type)
	assert.Equal(t, "KZN", addr.Zone)
}
