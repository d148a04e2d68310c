package rates

import (
	"strings"

	"github.com/angelmondragon/bookswap-backend/pkg/courier"
	"github.com/angelmondragon/bookswap-backend/pkg/types"
)

// BuildEndpoints converts both collection points into the courier's side
// fields. Each side is resolved on its own: a locker side sends only the
// pickup point id and provider, a door side sends only the address.
func BuildEndpoints(collection, delivery types.CollectionPoint) courier.Endpoints {
	var out courier.Endpoints
	if locker, ok := collection.Locker(); ok {
		out.CollectionPickupPointID = locker.LocationID
		out.CollectionPickupPointProvider = locker.ProviderSlug
	} else if addr, ok := collection.Address(); ok {
		out.CollectionAddress = courierAddress(addr)
	}
	if locker, ok := delivery.Locker(); ok {
		out.DeliveryPickupPointID = locker.LocationID
		out.DeliveryPickupPointProvider = locker.ProviderSlug
	} else if addr, ok := delivery.Address(); ok {
		out.DeliveryAddress = courierAddress(addr)
	}
	return out
}

func courierAddress(addr types.Address) *courier.Address {
	addrType := "residential"
	if strings.TrimSpace(addr.Company) != "" {
		addrType = "business"
	}
	return &courier.Address{
		Type:          addrType,
		Company:       strings.TrimSpace(addr.Company),
		StreetAddress: strings.TrimSpace(addr.StreetAddress),
		LocalArea:     strings.TrimSpace(addr.LocalArea),
		City:          strings.TrimSpace(addr.City),
		Zone:          ProvinceCode(addr.Province),
		Country:       addr.CountryCode(),
		Code:          strings.TrimSpace(addr.PostalCode),
		Lat:           addr.Lat,
		Lng:           addr.Lng,
	}
}

// CourierParcel converts a parcel to the courier's numeric body.
func CourierParcel(p Parcel) courier.Parcel {
	return courier.Parcel{
		SubmittedLengthCM: p.LengthCM.InexactFloat64(),
		SubmittedWidthCM:  p.WidthCM.InexactFloat64(),
		SubmittedHeightCM: p.HeightCM.InexactFloat64(),
		SubmittedWeightKG: p.WeightKG.InexactFloat64(),
	}
}
